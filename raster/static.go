package raster

import (
	"context"
	"image"
	"image/color"
	"image/draw"

	"github.com/wudi/pdfflatten/fault"
)

// StaticPage describes one synthetic page served by the Static backend.
type StaticPage struct {
	WidthPts  float64
	HeightPts float64
	// Fill is the uniform page color; nil means opaque white.
	Fill color.Color
	// RenderErr, when set, makes Rasterize fail for this page.
	RenderErr error
}

// Static is a backend that serves synthetic pages without parsing the
// input. It backs tests and dry runs of the pipeline.
type Static struct {
	Pages   []StaticPage
	OpenErr error
}

func (Static) Name() string  { return "static" }
func (Static) Enabled() bool { return true }

func (s Static) Open(ctx context.Context, _ Input) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if len(s.Pages) == 0 {
		return nil, fault.New(fault.KindCorrupt, "document has no pages")
	}
	return &staticDocument{pages: s.Pages}, nil
}

type staticDocument struct {
	pages []StaticPage
}

func (d *staticDocument) NumPages() int { return len(d.pages) }

func (d *staticDocument) PageSize(ctx context.Context, index int) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	if index < 0 || index >= len(d.pages) {
		return 0, 0, fault.New(fault.KindRender, "page %d out of range", index)
	}
	return d.pages[index].WidthPts, d.pages[index].HeightPts, nil
}

func (d *staticDocument) Rasterize(ctx context.Context, index int, dpi int) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 0 || index >= len(d.pages) {
		return nil, fault.New(fault.KindRender, "page %d out of range", index)
	}
	p := d.pages[index]
	if p.RenderErr != nil {
		return nil, fault.Wrap(fault.KindRender, p.RenderErr, "render page %d", index)
	}
	fill := p.Fill
	if fill == nil {
		fill = color.White
	}
	img := image.NewNRGBA(image.Rect(0, 0, PixelDim(p.WidthPts, dpi), PixelDim(p.HeightPts, dpi)))
	draw.Draw(img, img.Bounds(), image.NewUniform(fill), image.Point{}, draw.Src)
	return &Page{Image: img, DPI: dpi}, nil
}

func (d *staticDocument) Close() error { return nil }
