package segment

import (
	"sort"
)

const (
	// MinIntraCharGap and MinInterTermGap bound the adaptive gap threshold.
	MinIntraCharGap = 5
	MinInterTermGap = 12

	// FallbackGapThreshold is used when the gaps show no bimodal split.
	FallbackGapThreshold = 10
)

// BlockType is a coarse width classification of a content block.
type BlockType string

const (
	BlockSymbol     BlockType = "symbol"
	BlockTerm       BlockType = "term"
	BlockExpression BlockType = "expression"
)

// ContentBlock is a maximal horizontal ink span within a row.
// Start and End are inclusive pixel columns.
type ContentBlock struct {
	Start int       `json:"start"`
	End   int       `json:"end"`
	Width int       `json:"width"`
	Type  BlockType `json:"type"`
}

// Center returns the horizontal midpoint of the block.
func (b ContentBlock) Center() float64 {
	return float64(b.Start+b.End) / 2
}

// GapStats describes the ink-free runs of a row.
type GapStats struct {
	Median    int  `json:"median"`
	Q1        int  `json:"q1"`
	Q3        int  `json:"q3"`
	Bimodal   bool `json:"bimodal"`
	Threshold int  `json:"threshold"`
}

// AnalyzeGapDistribution derives the block-separating gap threshold from a
// row's gap lengths. Quartiles use nearest rank on the sorted gaps. When
// Q3 > 2*Q1 the gaps are treated as two populations and the threshold is
// 1.5*median clamped to [MinIntraCharGap, MinInterTermGap]; otherwise the
// fixed fallback applies.
func AnalyzeGapDistribution(gaps []int) GapStats {
	if len(gaps) == 0 {
		return GapStats{Threshold: FallbackGapThreshold}
	}

	sorted := make([]int, len(gaps))
	copy(sorted, gaps)
	sort.Ints(sorted)

	stats := GapStats{
		Median: nearestRank(sorted, 0.5),
		Q1:     nearestRank(sorted, 0.25),
		Q3:     nearestRank(sorted, 0.75),
	}

	if stats.Q3 > 2*stats.Q1 {
		stats.Bimodal = true
		stats.Threshold = clampInt(int(float64(stats.Median)*1.5), MinIntraCharGap, MinInterTermGap)
	} else {
		stats.Threshold = FallbackGapThreshold
	}
	return stats
}

func nearestRank(sorted []int, p float64) int {
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ClassifyBlock returns the width class of a block.
func ClassifyBlock(width int) BlockType {
	switch {
	case width < 15:
		return BlockSymbol
	case width < 30:
		return BlockTerm
	default:
		return BlockExpression
	}
}

func newBlock(start, end int) ContentBlock {
	w := end - start + 1
	return ContentBlock{Start: start, End: end, Width: w, Type: ClassifyBlock(w)}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
