// Package score measures how far a rendered step layout is from aligned.
//
// A render is expected to show three text rows: the starting equation, the
// operation, and the result. Thin rule lines between them are ignored. The
// scorer finds reference columns in the equation row and reports, in pixels,
// how far the operation text and the result sit from them. Positive values
// mean the measured text is right of its reference.
package score

import (
	"encoding/json"
	"image"
	"math"

	"github.com/ironsheep/stackalign/internal/equation"
	apperrors "github.com/ironsheep/stackalign/internal/errors"
	"github.com/ironsheep/stackalign/internal/logging"
	"github.com/ironsheep/stackalign/internal/raster"
	"github.com/ironsheep/stackalign/internal/segment"
	"github.com/ironsheep/stackalign/internal/spacing"
)

// MinQualifyingRows is the number of text rows a measurable render needs.
const MinQualifyingRows = 3

// AlignmentResult is one iteration's measurement.
type AlignmentResult struct {
	Score          float64 `json:"score"`
	LeftMisalign   float64 `json:"leftMisalign"`
	RightMisalign  float64 `json:"rightMisalign"`
	ResultMisalign float64 `json:"resultMisalign"`
	// Degraded is set when too few rows were found to measure anything.
	// The misalignments are then zero and carry no information.
	Degraded bool `json:"degraded"`
	Rows     int  `json:"rows"`
	// Guides are the x positions of the reference columns, for audit images.
	Guides []int `json:"guides,omitempty"`
}

// Combine builds a result whose score is the largest absolute misalignment.
func Combine(left, right, result float64) AlignmentResult {
	return AlignmentResult{
		Score:          math.Max(math.Abs(left), math.Max(math.Abs(right), math.Abs(result))),
		LeftMisalign:   left,
		RightMisalign:  right,
		ResultMisalign: result,
	}
}

// Failed is the result of an iteration whose render failed.
func Failed() AlignmentResult {
	return AlignmentResult{Score: math.Inf(1)}
}

// Degraded is the zero-misalignment result reported when a render cannot be
// measured.
func Degraded(rows int) AlignmentResult {
	return AlignmentResult{Degraded: true, Rows: rows}
}

// Finite reports whether the score is a real measurement.
func (r AlignmentResult) Finite() bool {
	return !math.IsInf(r.Score, 0) && !math.IsNaN(r.Score)
}

// Rank orders attempts: lower is better. Failed and degraded measurements
// rank last.
func (r AlignmentResult) Rank() float64 {
	if r.Degraded || !r.Finite() {
		return math.Inf(1)
	}
	return r.Score
}

// Misalignment returns the per-axis error for the spacing adjustment.
func (r AlignmentResult) Misalignment() spacing.Misalignment {
	return spacing.Misalignment{Left: r.LeftMisalign, Right: r.RightMisalign, Result: r.ResultMisalign}
}

// MarshalJSON writes an infinite score as null.
func (r AlignmentResult) MarshalJSON() ([]byte, error) {
	type plain AlignmentResult
	out := struct {
		plain
		Score *float64 `json:"score"`
	}{plain: plain(r)}
	if r.Finite() {
		s := r.Score
		out.Score = &s
	}
	return json.Marshal(out)
}

// Query tells the scorer what kind of step the render shows.
type Query struct {
	StepID         string
	Target         equation.TermID
	Multiplicative bool
}

// Scorer measures rendered layouts.
type Scorer struct {
	InkThreshold uint8
	Log          *logging.Logger
}

// NewScorer returns a scorer using the given ink threshold.
func NewScorer(threshold uint8, log *logging.Logger) *Scorer {
	if log == nil {
		log = logging.Discard()
	}
	return &Scorer{InkThreshold: threshold, Log: log}
}

// Measure segments img and scores it. It never fails: an image that cannot
// be measured yields a degraded zero result and a warning.
func (s *Scorer) Measure(img image.Image, q Query) AlignmentResult {
	mask := raster.NewInkMask(img, s.InkThreshold)
	raw := segment.FindTextRows(mask)
	rows := segment.Qualifying(raw)

	s.Log.Debug("text rows found", "step", q.StepID, "bands", len(raw), "qualifying", len(rows))
	if len(rows) < MinQualifyingRows {
		s.Log.Warn(apperrors.NewMeasurementDegradedError(len(rows)).Error(), "step", q.StepID)
		return Degraded(len(rows))
	}

	eqBlocks := s.blocks(mask, rows[0], "equation", q.StepID)
	opBlocks := s.blocks(mask, rows[1], "operation", q.StepID)
	resBlocks := s.blocks(mask, rows[len(rows)-1], "result", q.StepID)
	if len(eqBlocks) == 0 || len(opBlocks) == 0 || len(resBlocks) == 0 {
		s.Log.Warn("empty reference row, measurement degraded", "step", q.StepID,
			"equation", len(eqBlocks), "operation", len(opBlocks), "result", len(resBlocks))
		return Degraded(len(rows))
	}

	var r AlignmentResult
	if q.Multiplicative {
		r = measureCenters(eqBlocks, opBlocks, resBlocks)
	} else {
		r = measureEdges(eqBlocks, opBlocks, resBlocks, q.Target)
	}
	if len(opBlocks) == 1 {
		r = singleOperationBlock(r, q.StepID, s.Log)
	}
	r.Rows = len(rows)

	s.Log.Debug("alignment measured", "step", q.StepID, "score", r.Score,
		"left", r.LeftMisalign, "right", r.RightMisalign, "result", r.ResultMisalign)
	return r
}

func (s *Scorer) blocks(mask *raster.InkMask, row segment.TextRow, name, stepID string) []segment.ContentBlock {
	blocks, stats := segment.DetectBlocks(mask, row, mask.Width())
	s.Log.Debug("row segmented", "step", stepID, "row", name, "top", row.Top, "bottom", row.Bottom,
		"blocks", len(blocks), "threshold", stats.Threshold, "bimodal", stats.Bimodal, "median", stats.Median)
	return blocks
}

// termReference picks the equation-row block for a target term. The
// equation row reads term1 [op term2] = right, so term2 is third from last.
func termReference(eq []segment.ContentBlock, target equation.TermID) segment.ContentBlock {
	if target == equation.Term2 && len(eq) >= 3 {
		return eq[len(eq)-3]
	}
	return eq[0]
}

// measureEdges scores additive steps by right edges: the last digit of the
// operation must sit under the last digit of the term it cancels.
func measureEdges(eq, op, res []segment.ContentBlock, target equation.TermID) AlignmentResult {
	ref := termReference(eq, target)
	right := eq[len(eq)-1]
	opLeft, opRight, _ := segment.SplitAtWidestGap(op)

	r := Combine(
		float64(opLeft.End-ref.End),
		float64(opRight.End-right.End),
		float64(res[len(res)-1].End-right.End),
	)
	r.Guides = []int{ref.End, right.End}
	return r
}

// measureCenters scores multiplicative steps by centers: the divisor sits
// centered under its numerator.
func measureCenters(eq, op, res []segment.ContentBlock) AlignmentResult {
	leftRef := segment.SpanOf(eq[:1])
	if len(eq) >= 3 {
		leftRef = segment.SpanOf(eq[:len(eq)-2])
	}
	right := segment.SpanOf(eq[len(eq)-1:])
	opLeft, opRight, _ := segment.SplitAtWidestGap(op)
	result := segment.SpanOf(res[len(res)-1:])

	r := Combine(
		opLeft.Center()-leftRef.Center(),
		opRight.Center()-right.Center(),
		result.Center()-right.Center(),
	)
	r.Guides = []int{int(math.Round(leftRef.Center())), int(math.Round(right.Center()))}
	return r
}

// singleOperationBlock keeps the axis whose reference is closer to the lone
// operation block and zeroes the other.
func singleOperationBlock(r AlignmentResult, stepID string, log *logging.Logger) AlignmentResult {
	kept := "left"
	left, right := r.LeftMisalign, r.RightMisalign
	if math.Abs(left) <= math.Abs(right) {
		right = 0
	} else {
		kept = "right"
		left = 0
	}
	log.Warn("operation row has a single block", "step", stepID, "kept", kept)
	out := Combine(left, right, r.ResultMisalign)
	out.Guides = r.Guides
	return out
}
