package raster

import (
	"image"
	"image/color"

	"github.com/anthonynsimon/bild/segment"
	"github.com/disintegration/imaging"
)

// DefaultInkThreshold is the luminance (0-255) below which a pixel counts as ink.
const DefaultInkThreshold uint8 = 128

// InkMask is a binarized view of an image: each pixel is either ink or paper.
type InkMask struct {
	gray   *image.Gray
	width  int
	height int
}

// NewInkMask binarizes img. Transparent areas are composited onto white first
// so they read as paper rather than black.
func NewInkMask(img image.Image, threshold uint8) *InkMask {
	bounds := img.Bounds()
	flat := imaging.New(bounds.Dx(), bounds.Dy(), color.White)
	flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)

	gray := segment.Threshold(flat, threshold)

	return &InkMask{
		gray:   gray,
		width:  bounds.Dx(),
		height: bounds.Dy(),
	}
}

// Width returns the mask width in pixels.
func (m *InkMask) Width() int { return m.width }

// Height returns the mask height in pixels.
func (m *InkMask) Height() int { return m.height }

// Ink reports whether (x, y) is ink. Out-of-range coordinates are paper.
func (m *InkMask) Ink(x, y int) bool {
	if x < 0 || y < 0 || x >= m.width || y >= m.height {
		return false
	}
	return m.gray.Pix[y*m.gray.Stride+x] == 0
}

// RowHasInk reports whether any pixel in row y is ink.
func (m *InkMask) RowHasInk(y int) bool {
	for x := 0; x < m.width; x++ {
		if m.Ink(x, y) {
			return true
		}
	}
	return false
}

// ColumnHasInk reports whether any pixel of column x between top and bottom
// (both inclusive) is ink.
func (m *InkMask) ColumnHasInk(x, top, bottom int) bool {
	for y := top; y <= bottom; y++ {
		if m.Ink(x, y) {
			return true
		}
	}
	return false
}

// InkBounds returns the smallest rectangle containing every ink pixel.
// ok is false when the mask holds no ink at all.
func (m *InkMask) InkBounds() (r image.Rectangle, ok bool) {
	minX, minY := m.width, m.height
	maxX, maxY := -1, -1
	for y := 0; y < m.height; y++ {
		row := m.gray.Pix[y*m.gray.Stride : y*m.gray.Stride+m.width]
		for x, v := range row {
			if v != 0 {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}
	if maxX < 0 {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
