package render

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/fogleman/gg"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"github.com/ironsheep/stackalign/internal/config"
	"github.com/ironsheep/stackalign/internal/raster"
)

// Geometry of the array, in em.
const (
	cellPaddingEm = 0.5
	lineHeightEm  = 1.8
	ruleGapEm     = 0.4
	underlineEm   = 0.25
	topMarginEm   = 1.0
)

// Options configures an ArrayRenderer.
type Options struct {
	// FontPath is a TTF/OTF file; empty uses the embedded Go Regular face.
	FontPath   string
	FontSize   float64
	Width      int
	Height     int
	InkColor   string
	PaperColor string
	// MarginEm is the left margin. It leaves room for leftward shifts.
	MarginEm     float64
	InkThreshold uint8
}

// DefaultOptions returns a 640x320 viewport with 24px Go Regular text.
func DefaultOptions() Options {
	return Options{
		FontSize:     24,
		Width:        640,
		Height:       320,
		InkColor:     "#000000",
		PaperColor:   "#FFFFFF",
		MarginEm:     4,
		InkThreshold: raster.DefaultInkThreshold,
	}
}

// OptionsFromConfig maps engine configuration onto renderer options.
func OptionsFromConfig(cfg *config.Config) Options {
	o := DefaultOptions()
	o.FontPath = cfg.FontPath
	if cfg.FontSize > 0 {
		o.FontSize = cfg.FontSize
	}
	if cfg.ViewportWidth > 0 && cfg.ViewportHeight > 0 {
		o.Width, o.Height = cfg.ViewportWidth, cfg.ViewportHeight
	}
	if cfg.InkColor != "" {
		o.InkColor = cfg.InkColor
	}
	if cfg.PaperColor != "" {
		o.PaperColor = cfg.PaperColor
	}
	if cfg.InkThreshold > 0 && cfg.InkThreshold < 256 {
		o.InkThreshold = uint8(cfg.InkThreshold)
	}
	return o
}

// ArrayRenderer rasterizes array markup with gg.
type ArrayRenderer struct {
	opts  Options
	ink   colorful.Color
	paper colorful.Color
	font  *opentype.Font
}

// NewArrayRenderer validates the options and loads the embedded font.
func NewArrayRenderer(opts Options) (*ArrayRenderer, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid viewport %dx%d", opts.Width, opts.Height)
	}
	if opts.FontSize <= 0 {
		return nil, fmt.Errorf("invalid font size %g", opts.FontSize)
	}
	ink, err := colorful.Hex(opts.InkColor)
	if err != nil {
		return nil, fmt.Errorf("invalid ink color: %w", err)
	}
	paper, err := colorful.Hex(opts.PaperColor)
	if err != nil {
		return nil, fmt.Errorf("invalid paper color: %w", err)
	}

	r := &ArrayRenderer{opts: opts, ink: ink, paper: paper}
	if opts.FontPath == "" {
		f, err := opentype.Parse(goregular.TTF)
		if err != nil {
			return nil, fmt.Errorf("failed to parse embedded font: %w", err)
		}
		r.font = f
	} else if err := gg.NewContext(1, 1).LoadFontFace(opts.FontPath, opts.FontSize); err != nil {
		return nil, fmt.Errorf("failed to load font %s: %w", opts.FontPath, err)
	}
	return r, nil
}

// Options returns the renderer's options.
func (r *ArrayRenderer) Options() Options {
	return r.opts
}

// Render draws layout and returns the image. Markup errors and images with
// no ink are reported as errors wrapping raster.ErrNoDrawableRegion.
func (r *ArrayRenderer) Render(ctx context.Context, layout string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := parseMarkup(layout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", raster.ErrNoDrawableRegion, err)
	}

	dc := gg.NewContext(r.opts.Width, r.opts.Height)
	dc.SetColor(r.paper)
	dc.Clear()
	if err := r.setFont(dc); err != nil {
		return nil, err
	}
	dc.SetColor(r.ink)

	p := &painter{dc: dc, em: r.opts.FontSize}
	p.drawTable(t, r.opts.MarginEm*r.opts.FontSize)

	img := dc.Image()
	if err := raster.CheckDrawable(img, r.opts.InkThreshold); err != nil {
		return nil, err
	}
	return img, nil
}

func (r *ArrayRenderer) setFont(dc *gg.Context) error {
	if r.font == nil {
		return dc.LoadFontFace(r.opts.FontPath, r.opts.FontSize)
	}
	// Faces keep glyph caches and are not safe for concurrent use, so each
	// render gets its own.
	face, err := opentype.NewFace(r.font, &opentype.FaceOptions{
		Size:    r.opts.FontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("failed to create font face: %w", err)
	}
	dc.SetFontFace(face)
	return nil
}

type painter struct {
	dc *gg.Context
	em float64
}

func (p *painter) width(nodes []node) float64 {
	w := 0.0
	for _, n := range nodes {
		switch n.kind {
		case textNode:
			tw, _ := p.dc.MeasureString(n.text)
			w += tw
		case underlineNode:
			w += p.width(n.children)
		case boxNode:
			w += n.em * p.em
		}
	}
	return w
}

// draw paints nodes from x on baseline and returns the pen position.
func (p *painter) draw(nodes []node, x, baseline float64) float64 {
	for _, n := range nodes {
		switch n.kind {
		case textNode:
			p.dc.DrawString(n.text, x, baseline)
			tw, _ := p.dc.MeasureString(n.text)
			x += tw
		case spaceNode:
			x += n.em * p.em
		case underlineNode:
			start := x
			x = p.draw(n.children, x, baseline)
			p.dc.DrawRectangle(math.Round(start), math.Round(baseline+underlineEm*p.em), math.Round(x-start), 2)
			p.dc.Fill()
		case boxNode:
			w := n.em * p.em
			p.draw(n.children, x+(w-p.width(n.children))/2, baseline)
			x += w
		}
	}
	return x
}

func (p *painter) drawTable(t *table, left float64) {
	cols := t.columns()
	pad := cellPaddingEm * p.em

	colWidths := make([]float64, cols)
	for _, row := range t.rows {
		for c, cell := range row.cells {
			colWidths[c] = math.Max(colWidths[c], p.width(cell))
		}
	}
	colX := make([]float64, cols)
	x := left
	for c, w := range colWidths {
		colX[c] = x + pad
		x += w + 2*pad
	}
	tableWidth := x - left

	y := topMarginEm * p.em
	for _, row := range t.rows {
		if row.ruleAbove {
			p.dc.DrawRectangle(math.Round(left), math.Round(y+ruleGapEm*p.em/2), math.Round(tableWidth), 1)
			p.dc.Fill()
			y += ruleGapEm * p.em
		}
		if len(row.cells) == 0 {
			if !row.ruleAbove {
				y += lineHeightEm * p.em
			}
			continue
		}

		baseline := y + p.em
		for c, cell := range row.cells {
			cw := p.width(cell)
			cx := colX[c]
			switch t.alignment(c) {
			case 'r':
				cx += colWidths[c] - cw
			case 'c':
				cx += (colWidths[c] - cw) / 2
			}
			p.draw(cell, cx, baseline)
		}
		y += lineHeightEm * p.em
	}
}
