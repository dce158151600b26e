package score

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strings"
	"testing"

	"github.com/ironsheep/stackalign/internal/equation"
	"github.com/ironsheep/stackalign/internal/logging"
	"github.com/ironsheep/stackalign/internal/raster"
)

// span is an inclusive horizontal ink run.
type span [2]int

type textRow struct {
	top, bottom int
	spans       []span
}

func drawRows(rows ...textRow) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 400, 160))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	for _, r := range rows {
		for _, s := range r.spans {
			rect := image.Rect(s[0], r.top, s[1]+1, r.bottom+1)
			draw.Draw(img, rect, image.NewUniform(color.Black), image.Point{}, draw.Src)
		}
	}
	return img
}

// 2x + 4 = 10 laid out as five blocks.
var additiveEquation = textRow{10, 29, []span{{100, 125}, {150, 160}, {185, 200}, {225, 235}, {260, 285}}}

var rule = textRow{80, 80, []span{{100, 285}}}

func newTestScorer() *Scorer {
	return NewScorer(raster.DefaultInkThreshold, logging.Discard())
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMeasure_Additive(t *testing.T) {
	tests := []struct {
		name      string
		target    equation.TermID
		op        []span
		result    []span
		wantLeft  float64
		wantRight float64
		wantRes   float64
	}{
		{
			name:   "aligned under term2",
			target: equation.Term2,
			op:     []span{{180, 200}, {265, 285}},
			result: []span{{100, 125}, {225, 235}, {270, 285}},
		},
		{
			name:     "misaligned under term2",
			target:   equation.Term2,
			op:       []span{{170, 190}, {268, 288}},
			result:   []span{{100, 125}, {225, 235}, {275, 290}},
			wantLeft: -10, wantRight: 3, wantRes: 5,
		},
		{
			name:     "under term1",
			target:   equation.Term1,
			op:       []span{{105, 127}, {262, 282}},
			result:   []span{{185, 200}, {225, 235}, {270, 285}},
			wantLeft: 2, wantRight: -3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := drawRows(
				additiveEquation,
				textRow{50, 69, tt.op},
				rule,
				textRow{90, 109, tt.result},
			)
			r := newTestScorer().Measure(img, Query{StepID: "t", Target: tt.target})

			if r.Degraded {
				t.Fatal("unexpected degraded result")
			}
			if r.Rows != 3 {
				t.Errorf("Rows = %d, want 3 (the rule must be filtered)", r.Rows)
			}
			if !approx(r.LeftMisalign, tt.wantLeft) || !approx(r.RightMisalign, tt.wantRight) || !approx(r.ResultMisalign, tt.wantRes) {
				t.Errorf("misalign = (%g, %g, %g), want (%g, %g, %g)",
					r.LeftMisalign, r.RightMisalign, r.ResultMisalign, tt.wantLeft, tt.wantRight, tt.wantRes)
			}
			want := math.Max(math.Abs(tt.wantLeft), math.Max(math.Abs(tt.wantRight), math.Abs(tt.wantRes)))
			if !approx(r.Score, want) {
				t.Errorf("Score = %g, want %g", r.Score, want)
			}
			if len(r.Guides) != 2 {
				t.Errorf("expected two guides, got %v", r.Guides)
			}
		})
	}
}

func TestMeasure_Multiplicative(t *testing.T) {
	eq := textRow{10, 29, []span{{100, 130}, {200, 210}, {250, 260}}}
	underline := textRow{36, 37, []span{{90, 140}, {230, 280}}}

	aligned := drawRows(eq, underline,
		textRow{50, 69, []span{{105, 125}, {248, 262}}},
		textRow{90, 109, []span{{110, 120}, {200, 210}, {252, 258}}},
	)
	r := newTestScorer().Measure(aligned, Query{Target: equation.Term1, Multiplicative: true})
	if r.Degraded || r.Score != 0 {
		t.Errorf("aligned division: %+v", r)
	}

	shifted := drawRows(eq, underline,
		textRow{50, 69, []span{{110, 130}, {244, 258}}},
		textRow{90, 109, []span{{110, 120}, {200, 210}, {258, 264}}},
	)
	r = newTestScorer().Measure(shifted, Query{Target: equation.Term1, Multiplicative: true})
	if !approx(r.LeftMisalign, 5) || !approx(r.RightMisalign, -4) || !approx(r.ResultMisalign, 6) {
		t.Errorf("misalign = (%g, %g, %g), want (5, -4, 6)", r.LeftMisalign, r.RightMisalign, r.ResultMisalign)
	}
	if !approx(r.Score, 6) {
		t.Errorf("Score = %g, want 6", r.Score)
	}
}

func TestMeasure_MultiplicativeUsesWholeLeftSide(t *testing.T) {
	// 2x + 4 = 10 divided as a whole: the divisor centers under the union
	// of every block before '='.
	eq := additiveEquation
	op := textRow{50, 69, []span{{140, 170}, {263, 283}}}
	res := textRow{90, 109, []span{{140, 170}, {225, 235}, {263, 283}}}
	r := newTestScorer().Measure(drawRows(eq, op, res), Query{Multiplicative: true})

	if !approx(r.LeftMisalign, 5) { // (140+170)/2 - (100+200)/2
		t.Errorf("LeftMisalign = %g, want 5", r.LeftMisalign)
	}
	if !approx(r.RightMisalign, 0.5) {
		t.Errorf("RightMisalign = %g, want 0.5", r.RightMisalign)
	}
}

func TestMeasure_Degraded(t *testing.T) {
	var buf bytes.Buffer
	s := NewScorer(raster.DefaultInkThreshold, logging.NewLoggerTo(&buf, "", logging.LevelDebug))

	img := drawRows(additiveEquation, rule, textRow{90, 109, []span{{100, 125}}})
	r := s.Measure(img, Query{StepID: "p-step01", Target: equation.Term2})

	if !r.Degraded {
		t.Fatal("two text rows should be a degraded measurement")
	}
	if r.Score != 0 || r.LeftMisalign != 0 || r.RightMisalign != 0 || r.ResultMisalign != 0 {
		t.Errorf("degraded result should be zero: %+v", r)
	}
	if r.Rows != 2 {
		t.Errorf("Rows = %d, want 2", r.Rows)
	}
	if !strings.Contains(buf.String(), "MEASUREMENT_DEGRADED") || !strings.Contains(buf.String(), "step=p-step01") {
		t.Errorf("expected a degraded warning, log was:\n%s", buf.String())
	}
}

func TestMeasure_BlankImage(t *testing.T) {
	r := newTestScorer().Measure(drawRows(), Query{})
	if !r.Degraded || r.Rows != 0 {
		t.Errorf("blank image: %+v", r)
	}
}

func TestMeasure_LogsSegmentation(t *testing.T) {
	var buf bytes.Buffer
	s := NewScorer(raster.DefaultInkThreshold, logging.NewLoggerTo(&buf, "", logging.LevelDebug))
	img := drawRows(additiveEquation, textRow{50, 69, []span{{180, 200}, {265, 285}}}, textRow{90, 109, []span{{270, 285}}})
	s.Measure(img, Query{StepID: "s1", Target: equation.Term2})

	out := buf.String()
	for _, want := range []string{"row=equation", "row=operation", "row=result", "alignment measured"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q:\n%s", want, out)
		}
	}
}

func TestMeasure_SingleOperationBlock(t *testing.T) {
	img := drawRows(
		additiveEquation,
		textRow{50, 69, []span{{178, 198}}},
		textRow{90, 109, []span{{100, 125}, {225, 235}, {270, 285}}},
	)
	r := newTestScorer().Measure(img, Query{Target: equation.Term2})

	if !approx(r.LeftMisalign, -2) {
		t.Errorf("LeftMisalign = %g, want -2", r.LeftMisalign)
	}
	if r.RightMisalign != 0 {
		t.Errorf("RightMisalign = %g, want 0 for the unmatched axis", r.RightMisalign)
	}
	if !approx(r.Score, 2) {
		t.Errorf("Score = %g, want 2", r.Score)
	}
}

func TestCombineAndRank(t *testing.T) {
	r := Combine(-7, 3, 0.5)
	if r.Score != 7 {
		t.Errorf("Score = %g, want 7", r.Score)
	}
	if r.Rank() != 7 {
		t.Errorf("Rank = %g", r.Rank())
	}
	if !math.IsInf(Failed().Rank(), 1) || !math.IsInf(Degraded(1).Rank(), 1) {
		t.Error("failed and degraded results must rank last")
	}
	if Failed().Finite() {
		t.Error("Failed() should not be finite")
	}
	m := r.Misalignment()
	if m.Left != -7 || m.Right != 3 || m.Result != 0.5 {
		t.Errorf("Misalignment() = %+v", m)
	}
}

func TestAlignmentResult_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Failed())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if v, ok := decoded["score"]; !ok || v != nil {
		t.Errorf("infinite score should encode as null, got %s", data)
	}

	data, err = json.Marshal(Combine(2.5, 0, 0))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"score":2.5`) {
		t.Errorf("finite score missing: %s", data)
	}
}
