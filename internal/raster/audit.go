package raster

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// DefaultGuideColor marks measured reference columns on audit images.
const DefaultGuideColor = "#FF0000"

// AuditStore persists per-iteration renders under Dir/<stepID>/iter-NN.png.
type AuditStore struct {
	Dir        string
	GuideColor string
}

// NewAuditStore returns a store rooted at dir. An empty dir disables auditing.
func NewAuditStore(dir string) *AuditStore {
	return &AuditStore{Dir: dir, GuideColor: DefaultGuideColor}
}

// Enabled reports whether the store writes anything.
func (s *AuditStore) Enabled() bool {
	return s != nil && s.Dir != ""
}

// Path returns the file an iteration is written to.
func (s *AuditStore) Path(stepID string, iteration int) string {
	return filepath.Join(s.Dir, stepID, fmt.Sprintf("iter-%02d.png", iteration))
}

// Save writes img with a vertical guide line at every x in guides and the
// iteration number stamped in the top-left corner.
func (s *AuditStore) Save(stepID string, iteration int, img image.Image, guides []int) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	path := s.Path(stepID, iteration)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return path, err
	}

	annotated := Annotate(img, guides, s.GuideColor)
	drawLabel(annotated, 2, 2, strconv.Itoa(iteration), color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 180})

	if err := imaging.Save(annotated, path); err != nil {
		return path, err
	}
	return path, nil
}

// Annotate copies img and draws full-height vertical lines at each guide x.
// Guides outside the image are skipped. An unparseable hex color falls back
// to semi-transparent red.
func Annotate(img image.Image, guides []int, guideHex string) *image.RGBA {
	bounds := img.Bounds()
	result := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(result, result.Bounds(), img, bounds.Min, draw.Src)

	var guide color.Color = color.RGBA{255, 0, 0, 128}
	if c, err := colorful.Hex(guideHex); err == nil {
		guide = c
	}

	for _, x := range guides {
		if x < 0 || x >= bounds.Dx() {
			continue
		}
		for y := 0; y < bounds.Dy(); y++ {
			result.Set(x, y, guide)
		}
	}
	return result
}

// digitGlyphs is a 3x5 pixel font for iteration numbers.
var digitGlyphs = map[rune][3 * 5]byte{
	'0': {1, 1, 1, 1, 0, 1, 1, 0, 1, 1, 0, 1, 1, 1, 1},
	'1': {0, 1, 0, 1, 1, 0, 0, 1, 0, 0, 1, 0, 1, 1, 1},
	'2': {1, 1, 1, 0, 0, 1, 1, 1, 1, 1, 0, 0, 1, 1, 1},
	'3': {1, 1, 1, 0, 0, 1, 1, 1, 1, 0, 0, 1, 1, 1, 1},
	'4': {1, 0, 1, 1, 0, 1, 1, 1, 1, 0, 0, 1, 0, 0, 1},
	'5': {1, 1, 1, 1, 0, 0, 1, 1, 1, 0, 0, 1, 1, 1, 1},
	'6': {1, 1, 1, 1, 0, 0, 1, 1, 1, 1, 0, 1, 1, 1, 1},
	'7': {1, 1, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1, 0, 0, 1},
	'8': {1, 1, 1, 1, 0, 1, 1, 1, 1, 1, 0, 1, 1, 1, 1},
	'9': {1, 1, 1, 1, 0, 1, 1, 1, 1, 0, 0, 1, 1, 1, 1},
}

// drawLabel stamps the decimal digits of text on a background box at (x, y).
// Other runes leave a blank cell.
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	bounds := img.Bounds()
	charWidth := 4
	labelWidth := len(text) * charWidth
	labelHeight := 7

	for dy := -1; dy < labelHeight; dy++ {
		for dx := -1; dx < labelWidth; dx++ {
			px, py := x+dx, y+dy
			if image.Pt(px, py).In(bounds) {
				img.Set(px, py, bg)
			}
		}
	}

	cx := x
	for _, ch := range text {
		if glyph, ok := digitGlyphs[ch]; ok {
			for i, on := range glyph {
				px, py := cx+i%3, y+i/3
				if on == 1 && image.Pt(px, py).In(bounds) {
					img.Set(px, py, fg)
				}
			}
		}
		cx += charWidth
	}
}
