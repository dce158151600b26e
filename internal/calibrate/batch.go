package calibrate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ironsheep/stackalign/internal/equation"
	apperrors "github.com/ironsheep/stackalign/internal/errors"
	"github.com/ironsheep/stackalign/internal/logging"
	"github.com/ironsheep/stackalign/internal/raster"
	"github.com/ironsheep/stackalign/internal/render"
)

// Problem is one step-sequence input.
type Problem struct {
	ID    string `json:"id"`
	Input string `json:"input"`
}

// StepRecord is the persisted summary of one calibrated step.
type StepRecord struct {
	Index            int             `json:"index"`
	StepID           string          `json:"stepId"`
	From             string          `json:"from"`
	To               string          `json:"to"`
	Operation        string          `json:"operation"`
	Target           equation.TermID `json:"target"`
	Layout           string          `json:"layout"`
	Iterations       int             `json:"iterations"`
	FinalScore       *float64        `json:"finalScore"`
	State            State           `json:"state"`
	StuckLoop        bool            `json:"stuckLoop"`
	NeedsVisualCheck bool            `json:"needsVisualCheck"`
	ExpectedPlateau  bool            `json:"expectedPlateau,omitempty"`
}

// Record is the persisted result of one problem.
type Record struct {
	ID        string                 `json:"id"`
	Input     string                 `json:"input"`
	Steps     []StepRecord           `json:"steps"`
	Skipped   []equation.SkippedStep `json:"skipped,omitempty"`
	Truncated bool                   `json:"truncated,omitempty"`
	Success   bool                   `json:"success"`

	Outcomes []*Outcome `json:"-"`
}

// Layouts returns the final layout of every step, in order.
func (r *Record) Layouts() []string {
	out := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		out[i] = s.Layout
	}
	return out
}

// NewStepRecord summarizes an outcome.
func NewStepRecord(step equation.Step, o *Outcome) StepRecord {
	rec := StepRecord{
		Index:            step.Index,
		StepID:           o.StepID,
		From:             step.FromText,
		To:               step.ToText,
		Operation:        step.OpText,
		Target:           o.Target.Term,
		Layout:           o.Layout,
		Iterations:       o.Iterations,
		State:            o.State,
		StuckLoop:        o.StuckLoop,
		NeedsVisualCheck: o.NeedsVisualCheck,
		ExpectedPlateau:  o.ExpectedPlateau,
	}
	// Degraded measurements report zero misalignment but measured nothing.
	if r := o.Alignment.Rank(); !math.IsInf(r, 0) {
		rec.FinalScore = &r
	}
	return rec
}

// ValidateProblemID rejects ids that cannot be used as a single file name
// under the output and audit directories.
func ValidateProblemID(id string) error {
	switch {
	case id == "":
		return apperrors.NewMalformedInputError(id, "empty problem id")
	case strings.ContainsAny(id, `/\`) || filepath.Base(id) != id:
		return apperrors.NewMalformedInputError(id, "problem id must not contain path separators")
	case strings.HasPrefix(id, "."):
		return apperrors.NewMalformedInputError(id, "problem id must not start with '.'")
	case strings.ContainsRune(id, 0):
		return apperrors.NewMalformedInputError(id, "problem id must not contain NUL")
	}
	return nil
}

// StepID names a step for logs, audit directories and records.
func StepID(problemID string, index int) string {
	return fmt.Sprintf("%s-step%02d", problemID, index+1)
}

// Batch calibrates problems across a pool of renderer sessions.
type Batch struct {
	Pool     *render.Pool
	Measurer Measurer
	Opts     Options
	// AuditDir receives per-iteration images; empty disables auditing.
	AuditDir string
	// OutputDir receives records; empty keeps them in memory only.
	OutputDir string
	Log       *logging.Logger
}

// NewBatch returns a batch over pool.
func NewBatch(pool *render.Pool, m Measurer, opts Options, log *logging.Logger) *Batch {
	if log == nil {
		log = logging.Discard()
	}
	return &Batch{Pool: pool, Measurer: m, Opts: opts, Log: log}
}

// Process calibrates every well-formed step of p on r, in order. An id that
// is not a plain file name is rejected with MALFORMED_INPUT. Malformed
// triples are skipped and listed in the record. When OutputDir is set the
// record is written there; a write failure is returned together with the
// record.
func (b *Batch) Process(ctx context.Context, r render.Renderer, p Problem) (*Record, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := ValidateProblemID(p.ID); err != nil {
		return nil, err
	}
	log := b.Log.With(p.ID)

	seq := equation.ParseSequence(p.Input)
	rec := &Record{ID: p.ID, Input: p.Input, Skipped: seq.Skipped, Truncated: seq.Truncated, Steps: []StepRecord{}}
	for _, s := range seq.Skipped {
		log.Warn("step skipped", "index", s.Index, "tokens", s.Tokens, "reason", s.Reason)
	}
	if seq.Truncated {
		log.Warn("step sequence truncated at the last well-formed triple", "steps", len(seq.Steps)+len(seq.Skipped))
	}

	loop := NewLoop(r, b.Measurer, b.Opts, b.Log)
	loop.Audit = raster.NewAuditStore(b.AuditDir)

	for _, step := range seq.Steps {
		out, err := loop.Run(ctx, StepID(p.ID, step.Index), step)
		if err != nil {
			return nil, err
		}
		rec.Outcomes = append(rec.Outcomes, out)
		rec.Steps = append(rec.Steps, NewStepRecord(step, out))
	}
	rec.Success = success(rec)
	log.Info("problem processed", "steps", len(rec.Steps), "skipped", len(rec.Skipped), "success", rec.Success)

	if b.OutputDir != "" {
		if err := WriteRecord(b.OutputDir, rec); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

// ProcessAll calibrates problems concurrently, one session per problem, and
// returns records in input order. Record write failures and rejected problem
// ids are logged and do not stop the batch; a rejected problem's record is nil.
func (b *Batch) ProcessAll(ctx context.Context, problems []Problem) ([]*Record, error) {
	records := make([]*Record, len(problems))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.Pool.Size())

	for i, p := range problems {
		g.Go(func() error {
			sess, err := b.Pool.Acquire(gctx)
			if err != nil {
				return err
			}
			defer b.Pool.Release(sess)

			rec, err := b.Process(gctx, sess, p)
			records[i] = rec
			b.Log.Debug("problem finished", "problem", p.ID, "session", sess.ID, "renders", sess.Calls())
			if err != nil {
				switch {
				case apperrors.HasCode(err, apperrors.ErrorStorageFailed):
					b.Log.Error("failed to write record", "problem", p.ID, "error", err)
					return nil
				case apperrors.HasCode(err, apperrors.ErrorMalformedInput):
					b.Log.Error("problem rejected", "problem", p.ID, "error", err)
					return nil
				}
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return records, err
	}
	return records, nil
}

func success(rec *Record) bool {
	if len(rec.Skipped) > 0 || rec.Truncated || len(rec.Steps) == 0 {
		return false
	}
	for _, s := range rec.Steps {
		if s.FinalScore == nil {
			return false
		}
	}
	return true
}

// RecordPath is where a problem's record is written.
func RecordPath(dir, id string) string {
	return filepath.Join(dir, id+".json")
}

// LayoutsPath is where a problem's layouts are written.
func LayoutsPath(dir, id string) string {
	return filepath.Join(dir, id+".layouts.txt")
}

// WriteRecord writes <dir>/<id>.json and <dir>/<id>.layouts.txt. Layouts
// span several lines, so consecutive layouts are separated by a blank line.
func WriteRecord(dir string, rec *Record) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return apperrors.NewStorageFailedError(rec.ID, dir, err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return apperrors.NewStorageFailedError(rec.ID, RecordPath(dir, rec.ID), err)
	}
	if err := os.WriteFile(RecordPath(dir, rec.ID), append(data, '\n'), 0644); err != nil {
		return apperrors.NewStorageFailedError(rec.ID, RecordPath(dir, rec.ID), err)
	}

	layouts := strings.Join(rec.Layouts(), "\n\n")
	if layouts != "" {
		layouts += "\n"
	}
	if err := os.WriteFile(LayoutsPath(dir, rec.ID), []byte(layouts), 0644); err != nil {
		return apperrors.NewStorageFailedError(rec.ID, LayoutsPath(dir, rec.ID), err)
	}
	return nil
}

// ReadRecord loads a record written by WriteRecord.
func ReadRecord(dir, id string) (*Record, error) {
	data, err := os.ReadFile(RecordPath(dir, id))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse record %s: %w", id, err)
	}
	return &rec, nil
}
