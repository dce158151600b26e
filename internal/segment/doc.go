// Package segment finds text rows and content blocks in a rendered layout.
//
// Segmentation runs in two stages:
//
//  1. FindTextRows scans every image row for ink and returns the raw vertical
//     bands. Thin bands (rule lines, underlines) are kept here; consumers drop
//     them with Qualifying.
//  2. DetectBlocks scans a single band column by column. The gap that
//     separates two blocks is not a constant: it is derived from the band's
//     own distribution of ink-free runs by AnalyzeGapDistribution, so tight
//     kerning inside a number and wide spacing between terms are told apart
//     even when the renderer's spacing drifts between iterations.
//
// Block types are a coarse width heuristic (symbol, term, expression), not
// token recognition.
package segment
