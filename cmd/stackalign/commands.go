package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"

	"github.com/ironsheep/stackalign/internal/calibrate"
	"github.com/ironsheep/stackalign/internal/raster"
	"github.com/ironsheep/stackalign/internal/render"
	"github.com/ironsheep/stackalign/internal/score"
	"github.com/ironsheep/stackalign/internal/segment"
	"github.com/ironsheep/stackalign/internal/server"
)

// newBatch wires a renderer pool, scorer and loop options from configuration.
func (a *app) newBatch(outDir, auditDir string) (*calibrate.Batch, error) {
	opts := render.OptionsFromConfig(a.cfg)
	pool, err := render.NewPool(a.cfg.Sessions, a.cfg.SettleDelay, func(int) (render.Renderer, error) {
		return render.NewArrayRenderer(opts)
	})
	if err != nil {
		return nil, err
	}
	scorer := score.NewScorer(opts.InkThreshold, a.log.With("score"))
	b := calibrate.NewBatch(pool, scorer, calibrate.OptionsFromConfig(a.cfg), a.log.With("calibrate"))
	b.OutputDir = outDir
	b.AuditDir = auditDir
	return b, nil
}

func newCalibrateCommand(a *app) *cobra.Command {
	var (
		input    string
		id       string
		outDir   string
		auditDir string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Calibrate every step of one problem",
		Example: `  stackalign calibrate --input "2x+4=10; -4; 2x=6; ÷2; x=3" --id demo
  stackalign calibrate --input "100x-2500=7500; +2500; 100x=10000" --audit ./audit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("out") {
				outDir = a.cfg.OutputDir
			}
			if !cmd.Flags().Changed("audit") {
				auditDir = a.cfg.AuditDir
			}
			b, err := a.newBatch(outDir, auditDir)
			if err != nil {
				return err
			}

			sess, err := b.Pool.Acquire(cmd.Context())
			if err != nil {
				return err
			}
			defer b.Pool.Release(sess)

			rec, err := b.Process(cmd.Context(), sess, calibrate.Problem{ID: id, Input: input})
			if rec == nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(rec); encErr != nil {
					return encErr
				}
			} else {
				printRecord(cmd.OutOrStdout(), rec)
			}
			if err != nil {
				return err
			}
			if outDir != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "record written to %s\n", calibrate.RecordPath(outDir, rec.ID))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "semicolon-separated sequence: equation; operation; equation; ...")
	cmd.Flags().StringVar(&id, "id", "", "problem id (generated when empty)")
	cmd.Flags().StringVar(&outDir, "out", "", "record directory (default STACKALIGN_OUTPUT_DIR, empty string disables)")
	cmd.Flags().StringVar(&auditDir, "audit", "", "audit image directory (default STACKALIGN_AUDIT_DIR)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the record as JSON")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newBatchCommand(a *app) *cobra.Command {
	var (
		outDir   string
		auditDir string
	)

	cmd := &cobra.Command{
		Use:   "batch <file>",
		Short: "Calibrate a file of problems, one per line",
		Long: `Each non-empty line holds one problem, either the step sequence alone or
"id<TAB>sequence". Lines starting with # are ignored. Problems run in
parallel across STACKALIGN_SESSIONS renderer sessions; steps within a
problem always run in order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("out") {
				outDir = a.cfg.OutputDir
			}
			if !cmd.Flags().Changed("audit") {
				auditDir = a.cfg.AuditDir
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			problems, err := parseProblems(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if len(problems) == 0 {
				return fmt.Errorf("%s: no problems found", args[0])
			}

			b, err := a.newBatch(outDir, auditDir)
			if err != nil {
				return err
			}
			records, err := b.ProcessAll(cmd.Context(), problems)
			failed := 0
			for i, rec := range records {
				if rec == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  REJECTED\n", problems[i].ID)
					failed++
					continue
				}
				printRecord(cmd.OutOrStdout(), rec)
				if !rec.Success {
					failed++
				}
			}
			for _, sess := range b.Pool.Sessions() {
				a.log.Debug("session finished", "session", sess.ID, "renders", sess.Calls())
			}
			if err != nil {
				return err
			}
			a.log.Info("batch finished", "problems", len(problems), "unsuccessful", failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "record directory (default STACKALIGN_OUTPUT_DIR)")
	cmd.Flags().StringVar(&auditDir, "audit", "", "audit image directory (default STACKALIGN_AUDIT_DIR)")
	return cmd
}

func newShowCommand(a *app) *cobra.Command {
	var (
		outDir  string
		layouts bool
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a persisted record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("out") {
				outDir = a.cfg.OutputDir
			}
			if err := calibrate.ValidateProblemID(args[0]); err != nil {
				return err
			}
			rec, err := calibrate.ReadRecord(outDir, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printRecord(out, rec)
			if layouts {
				for _, s := range rec.Steps {
					fmt.Fprintf(out, "\n%% %s\n%s\n", s.StepID, s.Layout)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "record directory (default STACKALIGN_OUTPUT_DIR)")
	cmd.Flags().BoolVar(&layouts, "layouts", false, "also print each step's final layout")
	return cmd
}

func newSegmentCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "segment <png>",
		Short: "Print the text rows and content blocks found in an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := raster.NewImageCache().Load(args[0])
			if err != nil {
				return err
			}
			mask := raster.NewInkMask(img, uint8(a.cfg.InkThreshold))
			out := cmd.OutOrStdout()

			raw := segment.FindTextRows(mask)
			fmt.Fprintf(out, "%s: %dx%d, %d bands, %d text rows\n",
				args[0], mask.Width(), mask.Height(), len(raw), len(segment.Qualifying(raw)))
			for i, r := range raw {
				if r.IsRule() {
					fmt.Fprintf(out, "  band %d  y=%d-%d  rule\n", i, r.Top, r.Bottom)
					continue
				}
				blocks, stats := segment.DetectBlocks(mask, r, mask.Width())
				fmt.Fprintf(out, "  band %d  y=%d-%d  gap threshold=%d bimodal=%v\n",
					i, r.Top, r.Bottom, stats.Threshold, stats.Bimodal)
				for _, b := range blocks {
					fmt.Fprintf(out, "    x=%d-%d  width=%d  %s\n", b.Start, b.End, b.Width, b.Type)
				}
			}
			return nil
		},
	}
}

func newRenderCommand(a *app) *cobra.Command {
	var (
		markup     string
		layoutFile string
		outPath    string
		crop       bool
	)

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render layout markup to a PNG",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if layoutFile != "" {
				data, err := os.ReadFile(layoutFile)
				if err != nil {
					return err
				}
				markup = string(data)
			}
			if markup == "" {
				return fmt.Errorf("one of --layout or --layout-file is required")
			}

			r, err := render.NewArrayRenderer(render.OptionsFromConfig(a.cfg))
			if err != nil {
				return err
			}
			img, err := r.Render(cmd.Context(), markup)
			if err != nil {
				return err
			}
			if crop {
				cropped, err := raster.CropToContent(img, uint8(a.cfg.InkThreshold), 8)
				if err != nil {
					return err
				}
				return imaging.Save(cropped, outPath)
			}
			return imaging.Save(img, outPath)
		},
	}
	cmd.Flags().StringVar(&markup, "layout", "", "layout markup")
	cmd.Flags().StringVar(&layoutFile, "layout-file", "", "file holding layout markup")
	cmd.Flags().StringVar(&outPath, "out", "layout.png", "output PNG path")
	cmd.Flags().BoolVar(&crop, "crop", false, "trim the image to its ink")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the calibration tools over MCP on stdin/stdout",
		Long: `serve speaks JSON-RPC 2.0 on stdin and stdout, one message per line.
Configure it as a stdio server in your MCP client. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.log.Info("starting MCP server", "version", Version, "build", BuildTime, "commit", GitCommit)
			srv, err := server.New(a.cfg, Version, a.log.With("server"))
			if err != nil {
				return err
			}
			return srv.Run(cmd.Context())
		},
	}
}

// printRecord writes a one-line summary per step.
func printRecord(w io.Writer, rec *calibrate.Record) {
	status := "ok"
	if !rec.Success {
		status = "FAILED"
	}
	fmt.Fprintf(w, "%s  %s  steps=%d skipped=%d\n", rec.ID, status, len(rec.Steps), len(rec.Skipped))
	for _, s := range rec.Steps {
		scoreText := "inf"
		if s.FinalScore != nil && !math.IsInf(*s.FinalScore, 0) {
			scoreText = fmt.Sprintf("%.2fpx", *s.FinalScore)
		}
		fmt.Fprintf(w, "  %s  %s %s  target=%s  %s after %d iterations, score %s\n",
			s.StepID, s.From, s.Operation, s.Target, s.State, s.Iterations, scoreText)
	}
	for _, s := range rec.Skipped {
		fmt.Fprintf(w, "  skipped step %d: %s\n", s.Index+1, s.Reason)
	}
	if rec.Truncated {
		fmt.Fprintln(w, "  input truncated after the last complete step")
	}
}
