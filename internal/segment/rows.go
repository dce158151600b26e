package segment

import (
	"github.com/ironsheep/stackalign/internal/raster"
)

// MinTextRowHeight is the smallest band height treated as text. Shorter
// bands are rule-line artifacts.
const MinTextRowHeight = 6

// TextRow is a vertical span of ink. Top and Bottom are inclusive.
type TextRow struct {
	Top    int `json:"top"`
	Bottom int `json:"bottom"`
}

// Height returns the number of pixel rows in the band.
func (r TextRow) Height() int {
	return r.Bottom - r.Top + 1
}

// IsRule reports whether the band is thin enough to be a rule line.
func (r TextRow) IsRule() bool {
	return r.Height() < MinTextRowHeight
}

// FindTextRows returns every maximal band of consecutive image rows that
// contain ink, top to bottom. No filtering is applied.
func FindTextRows(mask *raster.InkMask) []TextRow {
	rows := make([]TextRow, 0)
	inRow := false
	top := 0

	for y := 0; y < mask.Height(); y++ {
		hasInk := mask.RowHasInk(y)
		switch {
		case hasInk && !inRow:
			inRow = true
			top = y
		case !hasInk && inRow:
			inRow = false
			rows = append(rows, TextRow{Top: top, Bottom: y - 1})
		}
	}
	if inRow {
		rows = append(rows, TextRow{Top: top, Bottom: mask.Height() - 1})
	}

	return rows
}

// Qualifying drops rule-line bands, keeping order.
func Qualifying(rows []TextRow) []TextRow {
	out := make([]TextRow, 0, len(rows))
	for _, r := range rows {
		if !r.IsRule() {
			out = append(out, r)
		}
	}
	return out
}
