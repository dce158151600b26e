package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ironsheep/stackalign/internal/raster"
	"github.com/ironsheep/stackalign/internal/segment"
)

const additiveLayout = `\begin{array}{rcrcr}
2x & + & 4 & = & 10 \\
 &  & \hspace{-0.800em}-4 &  & \hspace{-0.500em}-4 \\
\hline
2x &  &  & = & \hspace{0.300em}6
\end{array}`

const divisionLayout = `\begin{array}{rcrcr}
\underline{\makebox[4em]{2x}} &  &  & = & \underline{\makebox[4em]{6}} \\
\makebox[4em]{\hspace{0.100em}\div 2} &  &  &  & \makebox[4em]{\hspace{-0.100em}\div 2} \\
\makebox[4em]{x} &  &  & = & \makebox[4em]{3}
\end{array}`

func newTestRenderer(t *testing.T) *ArrayRenderer {
	t.Helper()
	r, err := NewArrayRenderer(DefaultOptions())
	if err != nil {
		t.Fatalf("NewArrayRenderer: %v", err)
	}
	return r
}

func TestParseMarkup(t *testing.T) {
	tbl, err := parseMarkup(additiveLayout)
	if err != nil {
		t.Fatalf("parseMarkup: %v", err)
	}
	if string(tbl.align) != "rcrcr" {
		t.Errorf("align = %q", tbl.align)
	}
	if len(tbl.rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(tbl.rows))
	}
	if !tbl.rows[2].ruleAbove || tbl.rows[0].ruleAbove {
		t.Error("rule should sit above the third row only")
	}
	op := tbl.rows[1].cells[2]
	if len(op) != 2 || op[0].kind != spaceNode || op[0].em != -0.8 || op[1].text != "-4" {
		t.Errorf("operation cell = %+v", op)
	}
}

func TestParseMarkup_Commands(t *testing.T) {
	tbl, err := parseMarkup(divisionLayout)
	if err != nil {
		t.Fatalf("parseMarkup: %v", err)
	}
	top := tbl.rows[0].cells[0]
	if len(top) != 1 || top[0].kind != underlineNode {
		t.Fatalf("expected underline, got %+v", top)
	}
	box := top[0].children[0]
	if box.kind != boxNode || box.em != 4 || box.children[0].text != "2x" {
		t.Errorf("box = %+v", box)
	}
	div := tbl.rows[1].cells[0][0].children
	if div[1].text != "÷2" {
		t.Errorf("\\div should map to ÷, got %q", div[1].text)
	}
}

func TestParseMarkup_Errors(t *testing.T) {
	tests := []string{
		`\begin{array}{rcr} 1 & 2`,
		`\begin{array}{rxr} 1 \end{array}`,
		`\underline{2x`,
		`2x}`,
		`\hspace{3px}x`,
		`\makebox{2x}`,
		`\frac{1}{2}`,
		`x\`,
	}
	for _, src := range tests {
		if _, err := parseMarkup(src); err == nil {
			t.Errorf("parseMarkup(%q) should fail", src)
		}
	}
}

func TestArrayRenderer_RowsAndBlocks(t *testing.T) {
	r := newTestRenderer(t)
	img, err := r.Render(context.Background(), additiveLayout)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if img.Bounds().Dx() != 640 || img.Bounds().Dy() != 320 {
		t.Errorf("unexpected viewport %v", img.Bounds())
	}

	mask := raster.NewInkMask(img, raster.DefaultInkThreshold)
	raw := segment.FindTextRows(mask)
	rows := segment.Qualifying(raw)
	if len(rows) != 3 {
		t.Fatalf("expected 3 qualifying rows, got %d (raw %v)", len(rows), raw)
	}
	if len(raw) != 4 {
		t.Errorf("expected the \\hline as a fourth raw band, got %v", raw)
	}

	blocks, _ := segment.DetectBlocks(mask, rows[0], mask.Width())
	if len(blocks) != 5 {
		t.Errorf("equation row: expected 5 blocks, got %d: %+v", len(blocks), blocks)
	}
	ops, _ := segment.DetectBlocks(mask, rows[1], mask.Width())
	if _, _, ok := segment.SplitAtWidestGap(ops); !ok || len(ops) < 2 {
		t.Errorf("operation row: expected at least 2 blocks, got %d: %+v", len(ops), ops)
	}
}

func TestArrayRenderer_UnderlinesAreThinBands(t *testing.T) {
	r := newTestRenderer(t)
	img, err := r.Render(context.Background(), divisionLayout)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	mask := raster.NewInkMask(img, raster.DefaultInkThreshold)
	raw := segment.FindTextRows(mask)
	rows := segment.Qualifying(raw)
	if len(rows) != 3 {
		t.Fatalf("expected 3 qualifying rows, got %d (raw %v)", len(rows), raw)
	}
	thin := 0
	for _, band := range raw {
		if band.IsRule() {
			thin++
		}
	}
	if thin != 1 {
		t.Errorf("expected one underline band, got %d in %v", thin, raw)
	}
}

func TestArrayRenderer_HspaceShiftsInk(t *testing.T) {
	r := newTestRenderer(t)
	layout := `\begin{array}{r} 8 \\ \hspace{-1.000em}8 \end{array}`
	img, err := r.Render(context.Background(), layout)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	mask := raster.NewInkMask(img, raster.DefaultInkThreshold)
	rows := segment.Qualifying(segment.FindTextRows(mask))
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	a, _ := segment.DetectBlocks(mask, rows[0], mask.Width())
	b, _ := segment.DetectBlocks(mask, rows[1], mask.Width())
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected one block per row, got %d and %d", len(a), len(b))
	}
	shift := b[0].End - a[0].End
	if math.Abs(float64(shift)+24) > 2 {
		t.Errorf("1em shift at 24px should move ink ~24px left, moved %d", shift)
	}
}

func TestArrayRenderer_Deterministic(t *testing.T) {
	r := newTestRenderer(t)
	a, err := r.Render(context.Background(), additiveLayout)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Render(context.Background(), additiveLayout)
	if err != nil {
		t.Fatal(err)
	}
	bounds := a.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			if a.At(x, y) != b.At(x, y) {
				t.Fatalf("pixel (%d,%d) differs between renders", x, y)
			}
		}
	}
}

func TestArrayRenderer_Failures(t *testing.T) {
	r := newTestRenderer(t)
	for _, layout := range []string{
		`\begin{array}{r}\end{array}`,
		``,
		`\underline{2x`,
	} {
		_, err := r.Render(context.Background(), layout)
		if !errors.Is(err, raster.ErrNoDrawableRegion) {
			t.Errorf("Render(%q) error = %v, want ErrNoDrawableRegion", layout, err)
		}
	}
}

func TestNewArrayRenderer_Validation(t *testing.T) {
	mutations := []func(*Options){
		func(o *Options) { o.Width = 0 },
		func(o *Options) { o.FontSize = -1 },
		func(o *Options) { o.InkColor = "black" },
		func(o *Options) { o.PaperColor = "#GGGGGG" },
		func(o *Options) { o.FontPath = "/nonexistent/font.ttf" },
	}
	for i, mutate := range mutations {
		opts := DefaultOptions()
		mutate(&opts)
		if _, err := NewArrayRenderer(opts); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func inkedImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.Black)
	return img
}

func TestSession_SerializesCalls(t *testing.T) {
	var inFlight, maxInFlight int32
	stub := RendererFunc(func(ctx context.Context, layout string) (image.Image, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return inkedImage(), nil
	})

	s := NewSession(0, stub, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Render(context.Background(), "x"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("expected serialized renders, saw %d concurrent", maxInFlight)
	}
	if s.Calls() != 8 {
		t.Errorf("Calls() = %d, want 8", s.Calls())
	}
}

func TestSession_SettleDelay(t *testing.T) {
	stub := RendererFunc(func(ctx context.Context, layout string) (image.Image, error) {
		return inkedImage(), nil
	})
	s := NewSession(0, stub, 20*time.Millisecond)

	start := time.Now()
	if _, err := s.Render(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("render returned after %v, before the settle delay", elapsed)
	}
}

func TestSession_PassesRenderError(t *testing.T) {
	boom := errors.New("boom")
	s := NewSession(0, RendererFunc(func(ctx context.Context, layout string) (image.Image, error) {
		return nil, boom
	}), 0)
	if _, err := s.Render(context.Background(), "x"); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if s.Calls() != 1 {
		t.Error("failed renders still count as calls")
	}
}

func TestPool_AcquireRelease(t *testing.T) {
	created := 0
	p, err := NewPool(2, 0, func(id int) (Renderer, error) {
		created++
		return RendererFunc(func(ctx context.Context, layout string) (image.Image, error) {
			return inkedImage(), nil
		}), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.Size() != 2 || created != 2 {
		t.Fatalf("Size() = %d, created = %d", p.Size(), created)
	}

	a, _ := p.Acquire(context.Background())
	b, _ := p.Acquire(context.Background())
	if a == b {
		t.Fatal("acquired the same session twice")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := p.Acquire(ctx); err == nil {
		t.Error("exhausted pool should block until the context expires")
	}

	p.Release(a)
	c, err := p.Acquire(context.Background())
	if err != nil || c != a {
		t.Errorf("expected the released session back, got %v %v", c, err)
	}
}

func TestNewPool_Errors(t *testing.T) {
	if _, err := NewPool(0, 0, nil); err == nil {
		t.Error("zero sessions should fail")
	}
	_, err := NewPool(1, 0, func(id int) (Renderer, error) { return nil, errors.New("no renderer") })
	if err == nil {
		t.Error("factory error should propagate")
	}
}
