package segment

import (
	"github.com/ironsheep/stackalign/internal/raster"
)

// RowGaps returns the lengths of the ink-free runs between ink columns of a
// row, scanning columns [0, width). Leading and trailing margins are not gaps.
func RowGaps(mask *raster.InkMask, row TextRow, width int) []int {
	gaps := make([]int, 0)
	seenInk := false
	run := 0

	for x := 0; x < width; x++ {
		if mask.ColumnHasInk(x, row.Top, row.Bottom) {
			if seenInk && run > 0 {
				gaps = append(gaps, run)
			}
			seenInk = true
			run = 0
		} else if seenInk {
			run++
		}
	}
	return gaps
}

// DetectBlocks segments a row into content blocks, left to right.
//
// The first pass collects gap lengths and derives the threshold; the second
// closes the open block once an ink-free run reaches that threshold. The last
// open block closes at the row end. A blank row yields no blocks.
func DetectBlocks(mask *raster.InkMask, row TextRow, width int) ([]ContentBlock, GapStats) {
	if width > mask.Width() {
		width = mask.Width()
	}
	stats := AnalyzeGapDistribution(RowGaps(mask, row, width))

	blocks := make([]ContentBlock, 0)
	inBlock := false
	start, lastInk, run := 0, 0, 0

	for x := 0; x < width; x++ {
		if mask.ColumnHasInk(x, row.Top, row.Bottom) {
			if !inBlock {
				inBlock = true
				start = x
			}
			lastInk = x
			run = 0
			continue
		}
		if !inBlock {
			continue
		}
		run++
		if run >= stats.Threshold {
			blocks = append(blocks, newBlock(start, lastInk))
			inBlock = false
		}
	}
	if inBlock {
		blocks = append(blocks, newBlock(start, lastInk))
	}

	return blocks, stats
}

// Span is the union of consecutive blocks.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Center returns the horizontal midpoint of the span.
func (s Span) Center() float64 {
	return float64(s.Start+s.End) / 2
}

// SpanOf merges blocks into one span. blocks must be non-empty and ordered.
func SpanOf(blocks []ContentBlock) Span {
	return Span{Start: blocks[0].Start, End: blocks[len(blocks)-1].End}
}

// SplitAtWidestGap divides ordered blocks into the groups left and right of
// the widest inter-block gap. A single block is returned as both groups.
func SplitAtWidestGap(blocks []ContentBlock) (left, right Span, ok bool) {
	switch len(blocks) {
	case 0:
		return Span{}, Span{}, false
	case 1:
		s := SpanOf(blocks)
		return s, s, true
	}

	cut, widest := 1, -1
	for i := 1; i < len(blocks); i++ {
		gap := blocks[i].Start - blocks[i-1].End
		if gap > widest {
			widest = gap
			cut = i
		}
	}
	return SpanOf(blocks[:cut]), SpanOf(blocks[cut:]), true
}
