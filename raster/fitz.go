package raster

import (
	"context"
	"errors"

	"github.com/gen2brain/go-fitz"

	"github.com/wudi/pdfflatten/fault"
)

// Fitz is the default backend, rendering through MuPDF via go-fitz.
// It honors page rotation metadata and renders in DeviceRGB.
type Fitz struct{}

// NewFitz returns the MuPDF-backed rendering backend.
func NewFitz() Fitz { return Fitz{} }

func (Fitz) Name() string { return "mupdf" }

// Enabled reports whether the backend can render. MuPDF is linked in,
// so it is always available.
func (Fitz) Enabled() bool { return true }

func (Fitz) Open(ctx context.Context, src Input) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		doc *fitz.Document
		err error
	)
	if src.Path != "" {
		doc, err = fitz.New(src.Path)
	} else {
		doc, err = fitz.NewFromMemory(src.Data)
	}
	if err != nil {
		return nil, classifyFitzOpen(err)
	}
	return &fitzDocument{doc: doc}, nil
}

func classifyFitzOpen(err error) error {
	switch {
	case errors.Is(err, fitz.ErrNeedsPassword):
		return fault.Wrap(fault.KindEncrypted, err, "document is password protected")
	case errors.Is(err, fitz.ErrNoSuchFile):
		return fault.Wrap(fault.KindIO, err, "source not readable")
	default:
		return fault.Wrap(fault.KindCorrupt, err, "document cannot be opened")
	}
}

type fitzDocument struct {
	doc    *fitz.Document
	closed bool
}

func (d *fitzDocument) NumPages() int { return d.doc.NumPage() }

// PageSize reports page bounds in points. MuPDF's binding exposes bounds
// as an integer rectangle, so fractional sizes (A4 is 595.276x841.89 pt)
// are truncated to whole points; the deviation is under one point per axis.
func (d *fitzDocument) PageSize(ctx context.Context, index int) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	bounds, err := d.doc.Bound(index)
	if err != nil {
		return 0, 0, fault.Wrap(fault.KindRender, err, "page %d bounds", index)
	}
	return float64(bounds.Dx()), float64(bounds.Dy()), nil
}

func (d *fitzDocument) Rasterize(ctx context.Context, index int, dpi int) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := d.doc.ImageDPI(index, float64(dpi))
	if err != nil {
		return nil, fault.Wrap(fault.KindRender, err, "render page %d at %d dpi", index, dpi)
	}
	return &Page{Image: img, DPI: dpi}, nil
}

func (d *fitzDocument) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	return d.doc.Close()
}
