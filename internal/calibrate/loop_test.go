package calibrate

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ironsheep/stackalign/internal/equation"
	"github.com/ironsheep/stackalign/internal/logging"
	"github.com/ironsheep/stackalign/internal/raster"
	"github.com/ironsheep/stackalign/internal/render"
	"github.com/ironsheep/stackalign/internal/score"
)

// countingRenderer returns a small inked image and records every layout.
type countingRenderer struct {
	layouts []string
	err     error
}

func (r *countingRenderer) Render(ctx context.Context, layout string) (image.Image, error) {
	r.layouts = append(r.layouts, layout)
	if r.err != nil {
		return nil, r.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(2, 2, color.Black)
	return img, nil
}

// scriptedMeasurer returns scores from a function of the call number
// (starting at 1), split evenly across the left and right axes.
func scriptedMeasurer(f func(call int) float64) (Measurer, *int) {
	calls := 0
	return MeasurerFunc(func(img image.Image, q score.Query) score.AlignmentResult {
		calls++
		s := f(calls)
		return score.Combine(s, -s, 0)
	}), &calls
}

func mustStep(t *testing.T, from, op, to string) equation.Step {
	t.Helper()
	seq := equation.ParseSequence(from + "; " + op + "; " + to)
	if len(seq.Steps) != 1 {
		t.Fatalf("expected one step, got %+v", seq)
	}
	return seq.Steps[0]
}

func run(t *testing.T, r render.Renderer, m Measurer, opts Options, step equation.Step) *Outcome {
	t.Helper()
	out, err := NewLoop(r, m, opts, logging.Discard()).Run(context.Background(), "test-step01", step)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return out
}

func TestLoop_ConvergesImmediatelyOnZeroScore(t *testing.T) {
	r := &countingRenderer{}
	m, _ := scriptedMeasurer(func(int) float64 { return 0 })
	out := run(t, r, m, DefaultOptions(), mustStep(t, "2x+4=10", "-4", "2x=6"))

	if out.State != StateConverged {
		t.Errorf("State = %s, want CONVERGED", out.State)
	}
	if out.Iterations != 1 || len(r.layouts) != 1 {
		t.Errorf("Iterations = %d, renders = %d, want 1", out.Iterations, len(r.layouts))
	}
	if !out.NeedsVisualCheck {
		t.Error("converged outcomes still need a visual check")
	}
	if out.StuckLoop {
		t.Error("converged outcome flagged stuck")
	}
	if out.Layout == "" || out.Layout != r.layouts[0] {
		t.Error("outcome layout should be the rendered layout")
	}
}

func TestLoop_ConstantScoreGetsStuck(t *testing.T) {
	for _, constant := range []float64{4.5, 3, 100} {
		r := &countingRenderer{}
		m, _ := scriptedMeasurer(func(int) float64 { return constant })
		out := run(t, r, m, DefaultOptions(), mustStep(t, "2x+4=10", "-4", "2x=6"))

		if out.State != StateStuck || !out.StuckLoop {
			t.Errorf("score %g: State = %s, stuck = %v", constant, out.State, out.StuckLoop)
		}
		if out.Iterations > 6 {
			t.Errorf("score %g: stuck only after %d iterations", constant, out.Iterations)
		}
		if out.Iterations != 4 {
			t.Errorf("score %g: expected STUCK at iteration 4, got %d", constant, out.Iterations)
		}
		if !out.NeedsVisualCheck {
			t.Error("stuck outcomes need a visual check")
		}
		if out.ExpectedPlateau {
			t.Error("additive steps are not expected plateaus")
		}
	}
}

func TestLoop_DecreasingScoreConverges(t *testing.T) {
	tests := []struct {
		name    string
		start   float64
		maxIter int
		want    int
	}{
		{"from 10 to 0", 10, 12, 11},
		{"from 9 within default budget", 9, 10, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &countingRenderer{}
			m, calls := scriptedMeasurer(func(call int) float64 {
				return math.Max(0, tt.start-float64(call-1))
			})
			opts := DefaultOptions()
			opts.MaxIterations = tt.maxIter
			out := run(t, r, m, opts, mustStep(t, "2x+4=10", "-4", "2x=6"))

			if out.State != StateConverged {
				t.Fatalf("State = %s, want CONVERGED", out.State)
			}
			if out.Iterations > opts.MaxIterations {
				t.Errorf("Iterations = %d exceeds the budget %d", out.Iterations, opts.MaxIterations)
			}
			if out.Iterations != len(r.layouts) || out.Iterations != *calls {
				t.Errorf("Iterations = %d, renders = %d, measures = %d", out.Iterations, len(r.layouts), *calls)
			}
			if out.Iterations != tt.want {
				t.Errorf("Iterations = %d, want %d", out.Iterations, tt.want)
			}
			if out.Alignment.Score != 0 {
				t.Errorf("final score = %g", out.Alignment.Score)
			}
		})
	}
}

func TestLoop_RenderFailuresExhaust(t *testing.T) {
	r := &countingRenderer{err: errors.New("renderer crashed")}
	m, calls := scriptedMeasurer(func(int) float64 { return 0 })

	var buf bytes.Buffer
	loop := NewLoop(r, m, DefaultOptions(), logging.NewLoggerTo(&buf, "test", logging.LevelDebug))
	out, err := loop.Run(context.Background(), "p-step01", mustStep(t, "2x+4=10", "-4", "2x=6"))
	if err != nil {
		t.Fatalf("render failures must not fail the loop: %v", err)
	}

	if out.State != StateExhausted {
		t.Errorf("State = %s, want EXHAUSTED", out.State)
	}
	if out.Iterations != 10 || len(r.layouts) != 10 {
		t.Errorf("Iterations = %d, renders = %d, want 10", out.Iterations, len(r.layouts))
	}
	if *calls != 0 {
		t.Errorf("failed renders should not be measured, got %d calls", *calls)
	}
	if !math.IsInf(out.Alignment.Score, 1) {
		t.Errorf("score = %g, want +Inf", out.Alignment.Score)
	}
	if !out.NeedsVisualCheck || out.Layout == "" {
		t.Errorf("exhausted outcome: %+v", out)
	}
	if !strings.Contains(buf.String(), "RENDER_FAILED") {
		t.Errorf("expected render failure diagnostics:\n%s", buf.String())
	}
}

func TestLoop_DegradedMeasurementNeverConverges(t *testing.T) {
	r := &countingRenderer{}
	m := MeasurerFunc(func(image.Image, score.Query) score.AlignmentResult { return score.Degraded(2) })
	out := run(t, r, m, DefaultOptions(), mustStep(t, "2x+4=10", "-4", "2x=6"))

	if out.State != StateExhausted {
		t.Errorf("State = %s, want EXHAUSTED", out.State)
	}
	if !out.Alignment.Degraded {
		t.Error("best attempt should carry the degraded result")
	}
	// Adjustment is skipped, so every layout is identical.
	for _, l := range r.layouts[1:] {
		if l != r.layouts[0] {
			t.Fatal("degraded iterations should not change the layout")
		}
	}
}

func TestLoop_AdjustsSpacingAgainstError(t *testing.T) {
	r := &countingRenderer{}
	m := MeasurerFunc(func(img image.Image, q score.Query) score.AlignmentResult {
		return score.Combine(-10, 0, 0)
	})
	opts := DefaultOptions()
	opts.MaxIterations = 2
	out := run(t, r, m, opts, mustStep(t, "2x+4=10", "-4", "2x=6"))

	if len(out.History) != 2 {
		t.Fatalf("history = %d", len(out.History))
	}
	before, after := out.History[0].Spacing, out.History[1].Spacing
	if math.Abs(after.LeftOp-(before.LeftOp+0.5)) > 1e-9 {
		t.Errorf("LeftOp %g -> %g, want +0.5", before.LeftOp, after.LeftOp)
	}
	if after.RightOp != before.RightOp || after.Result != before.Result {
		t.Error("axes without error should not move")
	}
	if r.layouts[0] == r.layouts[1] {
		t.Error("layout should change after adjustment")
	}
}

func TestLoop_StuckReturnsBestAttempt(t *testing.T) {
	r := &countingRenderer{}
	scores := []float64{5, 3, 3.05, 3.02, 3.01, 3.04}
	m, _ := scriptedMeasurer(func(call int) float64 { return scores[call-1] })
	out := run(t, r, m, DefaultOptions(), mustStep(t, "2x+4=10", "-4", "2x=6"))

	if out.State != StateStuck {
		t.Fatalf("State = %s, want STUCK", out.State)
	}
	if out.Iterations != 5 {
		t.Errorf("Iterations = %d, want 5", out.Iterations)
	}
	if out.Alignment.Score != 3 || out.Layout != r.layouts[1] {
		t.Errorf("expected the iteration-2 attempt, got score %g", out.Alignment.Score)
	}
}

func TestLoop_MultiplicativePlateauIsStillStuck(t *testing.T) {
	r := &countingRenderer{}
	m, _ := scriptedMeasurer(func(int) float64 { return 2 })
	out := run(t, r, m, DefaultOptions(), mustStep(t, "2x=6", "÷2", "x=3"))

	if out.State != StateStuck || !out.StuckLoop {
		t.Errorf("State = %s", out.State)
	}
	if !out.ExpectedPlateau {
		t.Error("division plateau should be annotated")
	}
	if !out.NeedsVisualCheck {
		t.Error("plateaus are not auto-accepted")
	}
}

func TestLoop_PassesQueryToMeasurer(t *testing.T) {
	var got score.Query
	m := MeasurerFunc(func(img image.Image, q score.Query) score.AlignmentResult {
		got = q
		return score.AlignmentResult{}
	})
	run(t, &countingRenderer{}, m, DefaultOptions(), mustStep(t, "15+x=42", "-15", "x=27"))

	if got.Target != equation.Term1 || got.Multiplicative || got.StepID != "test-step01" {
		t.Errorf("query = %+v", got)
	}
}

func TestLoop_WritesAuditImages(t *testing.T) {
	dir := t.TempDir()
	r := &countingRenderer{}
	m, _ := scriptedMeasurer(func(call int) float64 { return 4 - float64(call) })

	loop := NewLoop(r, m, DefaultOptions(), logging.Discard())
	loop.Audit = raster.NewAuditStore(dir)
	out, err := loop.Run(context.Background(), "p-step01", mustStep(t, "2x+4=10", "-4", "2x=6"))
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= out.Iterations; i++ {
		path := loop.Audit.Path("p-step01", i)
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing audit image %s", path)
		}
		if out.History[i-1].AuditPath != path {
			t.Errorf("history %d AuditPath = %q", i, out.History[i-1].AuditPath)
		}
	}
}

func TestLoop_AuditFailureDoesNotAffectOutcome(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	r := &countingRenderer{}
	m, _ := scriptedMeasurer(func(int) float64 { return 0 })
	loop := NewLoop(r, m, DefaultOptions(), logging.NewLoggerTo(&buf, "test", logging.LevelInfo))
	loop.Audit = raster.NewAuditStore(file)

	out, err := loop.Run(context.Background(), "p-step01", mustStep(t, "2x+4=10", "-4", "2x=6"))
	if err != nil {
		t.Fatal(err)
	}
	if out.State != StateConverged || out.Iterations != 1 {
		t.Errorf("audit failure changed the outcome: %+v", out)
	}
	if !strings.Contains(buf.String(), "STORAGE_FAILED") {
		t.Errorf("expected a storage warning:\n%s", buf.String())
	}
}

func TestLoop_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m, _ := scriptedMeasurer(func(int) float64 { return 5 })
	_, err := NewLoop(&countingRenderer{}, m, DefaultOptions(), nil).Run(ctx, "s", mustStep(t, "2x+4=10", "-4", "2x=6"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestScoreWindow(t *testing.T) {
	w := newScoreWindow(3, 0.1)
	seq := []struct {
		score float64
		want  int
	}{
		{5, 0}, {5, 0}, {5, 1}, {5.05, 2}, {7, 0}, {7, 0}, {7, 1},
		{math.Inf(1), 0}, {math.Inf(1), 0}, {math.Inf(1), 0},
	}
	for i, s := range seq {
		if got := w.push(s.score); got != s.want {
			t.Errorf("push #%d (%g) = %d, want %d", i+1, s.score, got, s.want)
		}
	}
}
