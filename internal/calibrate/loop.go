package calibrate

import (
	"context"
	"image"
	"math"

	"github.com/ironsheep/stackalign/internal/config"
	"github.com/ironsheep/stackalign/internal/equation"
	apperrors "github.com/ironsheep/stackalign/internal/errors"
	"github.com/ironsheep/stackalign/internal/layout"
	"github.com/ironsheep/stackalign/internal/logging"
	"github.com/ironsheep/stackalign/internal/raster"
	"github.com/ironsheep/stackalign/internal/render"
	"github.com/ironsheep/stackalign/internal/score"
	"github.com/ironsheep/stackalign/internal/spacing"
)

// State is the lifecycle state of a calibration loop.
type State string

const (
	StateRunning   State = "RUNNING"
	StateConverged State = "CONVERGED"
	StateStuck     State = "STUCK"
	StateExhausted State = "EXHAUSTED"
)

// Measurer scores a rendered step.
type Measurer interface {
	Measure(img image.Image, q score.Query) score.AlignmentResult
}

// MeasurerFunc adapts a function to Measurer.
type MeasurerFunc func(img image.Image, q score.Query) score.AlignmentResult

// Measure calls f.
func (f MeasurerFunc) Measure(img image.Image, q score.Query) score.AlignmentResult {
	return f(img, q)
}

// Options tunes the loop.
type Options struct {
	MaxIterations int
	// Threshold is the score, in pixels, below which the loop converges.
	Threshold float64
	// Window is the number of recent scores checked for a plateau.
	Window int
	// StableTolerance is the largest spread, in pixels, of a stable window.
	StableTolerance float64
	// StableWindows is how many consecutive stable windows mean STUCK.
	StableWindows int
	Gain          float64
}

// DefaultOptions returns the standard loop settings.
func DefaultOptions() Options {
	return Options{
		MaxIterations:   10,
		Threshold:       1,
		Window:          3,
		StableTolerance: 0.1,
		StableWindows:   2,
		Gain:            spacing.DefaultGain,
	}
}

// OptionsFromConfig applies configured limits to DefaultOptions.
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	if cfg.MaxIterations > 0 {
		o.MaxIterations = cfg.MaxIterations
	}
	if cfg.ThresholdPx > 0 {
		o.Threshold = cfg.ThresholdPx
	}
	return o
}

// Attempt is one iteration of a loop.
type Attempt struct {
	Iteration int                   `json:"iteration"`
	Layout    string                `json:"layout"`
	Spacing   spacing.State         `json:"spacing"`
	Alignment score.AlignmentResult `json:"alignment"`
	AuditPath string                `json:"auditPath,omitempty"`
}

// Outcome is the terminal result of a loop. Layout, Spacing and Alignment
// come from the best attempt, which for a converged loop is the last one.
type Outcome struct {
	StepID           string                `json:"stepId"`
	Target           equation.Target       `json:"target"`
	Layout           string                `json:"layout"`
	Spacing          spacing.State         `json:"spacing"`
	Iterations       int                   `json:"iterations"`
	Alignment        score.AlignmentResult `json:"alignment"`
	State            State                 `json:"state"`
	StuckLoop        bool                  `json:"stuckLoop"`
	NeedsVisualCheck bool                  `json:"needsVisualCheck"`
	// ExpectedPlateau marks multiplicative steps that got STUCK; their
	// centered presentation commonly levels off above the threshold.
	ExpectedPlateau bool      `json:"expectedPlateau,omitempty"`
	History         []Attempt `json:"history,omitempty"`
}

// Loop calibrates single steps. A Loop holds no per-step state and may run
// steps one after another; it must not run two steps at once unless its
// Renderer serializes calls.
type Loop struct {
	Renderer render.Renderer
	Measurer Measurer
	Audit    *raster.AuditStore
	Log      *logging.Logger
	Opts     Options
}

// NewLoop returns a loop with the given collaborators.
func NewLoop(r render.Renderer, m Measurer, opts Options, log *logging.Logger) *Loop {
	if log == nil {
		log = logging.Discard()
	}
	return &Loop{Renderer: r, Measurer: m, Opts: opts, Log: log}
}

// Run calibrates one step. Render failures and unmeasurable renders degrade
// the outcome but never fail the call; only a cancelled context does.
func (l *Loop) Run(ctx context.Context, stepID string, step equation.Step) (*Outcome, error) {
	log := l.Log.With(stepID)
	resolver := &equation.Resolver{Log: log}
	target := resolver.Resolve(step.From, step.Operation)

	state := spacing.CalculateInitialSpacing(step.From, step.To, step.Operation)
	log.Info("calibration started", "from", step.From.String(), "operation", step.Operation.Text(),
		"to", step.To.String(), "target", target.Term,
		"leftOp", state.LeftOp, "rightOp", state.RightOp, "result", state.Result)

	q := score.Query{StepID: stepID, Target: target.Term, Multiplicative: step.Operation.Multiplicative()}
	window := newScoreWindow(l.Opts.Window, l.Opts.StableTolerance)
	out := &Outcome{StepID: stepID, Target: target, State: StateRunning, NeedsVisualCheck: true}
	var best Attempt

	for iter := 1; iter <= l.Opts.MaxIterations; iter++ {
		a := Attempt{
			Iteration: iter,
			Layout:    layout.Generate(step.From, step.To, step.Operation, state, target),
			Spacing:   state,
		}

		img, err := l.Renderer.Render(ctx, a.Layout)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			log.Warn(apperrors.NewRenderFailedError(stepID, iter, err).Error())
			a.Alignment = score.Failed()
		} else {
			a.Alignment = l.Measurer.Measure(img, q)
			a.AuditPath = l.saveAudit(log, stepID, iter, img, a.Alignment.Guides)
		}

		out.Iterations = iter
		out.History = append(out.History, a)
		if iter == 1 || a.Alignment.Rank() < best.Alignment.Rank() {
			best = a
		}
		log.Debug("iteration scored", "iteration", iter, "score", a.Alignment.Score,
			"degraded", a.Alignment.Degraded, "best", best.Iteration)

		if a.Alignment.Rank() < l.Opts.Threshold {
			out.State = StateConverged
			break
		}
		if window.push(a.Alignment.Rank()) >= l.Opts.StableWindows {
			out.State = StateStuck
			break
		}
		if iter == l.Opts.MaxIterations {
			out.State = StateExhausted
			break
		}
		l.adjust(log, &state, a.Alignment)
	}

	out.Layout = best.Layout
	out.Spacing = best.Spacing
	out.Alignment = best.Alignment

	switch out.State {
	case StateConverged:
		log.Info("calibration converged", "iterations", out.Iterations, "score", out.Alignment.Score)
	case StateStuck:
		out.StuckLoop = true
		if step.Operation.Multiplicative() {
			out.ExpectedPlateau = true
			log.Info("plateau expected for multiplicative step", "operation", step.Operation.Text())
		}
		log.Warn("calibration stuck", "iterations", out.Iterations,
			"bestIteration", best.Iteration, "score", out.Alignment.Score)
	default:
		log.Warn("calibration exhausted", "iterations", out.Iterations,
			"bestIteration", best.Iteration, "score", out.Alignment.Score)
	}
	return out, nil
}

// adjust moves the spacing state against the measured error. Failed and
// degraded iterations carry no error to act on.
func (l *Loop) adjust(log *logging.Logger, state *spacing.State, r score.AlignmentResult) {
	if r.Degraded || !r.Finite() {
		log.Debug("adjustment skipped", "degraded", r.Degraded, "score", r.Score)
		return
	}
	adj := state.Adjust(r.Misalignment(), l.Opts.Gain)
	log.Debug("spacing adjusted",
		"leftOp", adj.After.LeftOp, "rightOp", adj.After.RightOp, "result", adj.After.Result,
		"leftMisalign", r.LeftMisalign, "rightMisalign", r.RightMisalign, "resultMisalign", r.ResultMisalign)
	if len(adj.Clamped) > 0 {
		log.Debug("spacing clamped", "axes", adj.Clamped)
	}
	if !adj.Moved && r.Score > 0 {
		log.Warn("no offset moved despite misalignment, likely pinned at a clamp bound",
			"score", r.Score, "clamped", adj.Clamped)
	}
}

func (l *Loop) saveAudit(log *logging.Logger, stepID string, iter int, img image.Image, guides []int) string {
	if !l.Audit.Enabled() {
		return ""
	}
	path, err := l.Audit.Save(stepID, iter, img, guides)
	if err != nil {
		log.Warn(apperrors.NewStorageFailedError(stepID, path, err).Error())
		return ""
	}
	return path
}

// scoreWindow tracks the most recent scores and counts consecutive
// iterations that ended on a stable full window.
type scoreWindow struct {
	size      int
	tolerance float64
	scores    []float64
	stable    int
}

func newScoreWindow(size int, tolerance float64) *scoreWindow {
	if size < 1 {
		size = 1
	}
	return &scoreWindow{size: size, tolerance: tolerance}
}

// push records a score and returns the current run of stable windows.
// Infinite scores are never stable.
func (w *scoreWindow) push(s float64) int {
	w.scores = append(w.scores, s)
	if len(w.scores) > w.size {
		w.scores = w.scores[1:]
	}
	if len(w.scores) == w.size && w.spread() <= w.tolerance {
		w.stable++
	} else {
		w.stable = 0
	}
	return w.stable
}

func (w *scoreWindow) spread() float64 {
	lo, hi := w.scores[0], w.scores[0]
	for _, s := range w.scores[1:] {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	return hi - lo
}
