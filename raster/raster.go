// Package raster opens source PDFs and renders single pages to pixel
// buffers at a requested DPI. Backends wrap an actual rendering engine;
// pages are rendered one at a time so peak memory stays bounded by a
// single page regardless of document size.
package raster

import (
	"context"
	"image"
	"math"
)

// Input identifies a source PDF by file path or in-memory buffer.
// Exactly one of Path or Data should be set; Path wins when both are.
type Input struct {
	Path string
	Data []byte
}

// Name returns the filename associated with the input, if any.
func (in Input) Name() string { return in.Path }

// InMemory reports whether the input is an in-memory buffer.
func (in Input) InMemory() bool { return in.Path == "" }

// Page is an in-memory pixel buffer for one rendered page. It is created
// per page and must be discarded immediately after encoding.
type Page struct {
	Image image.Image
	DPI   int
}

// Width returns the pixel width of the raster.
func (p *Page) Width() int { return p.Image.Bounds().Dx() }

// Height returns the pixel height of the raster.
func (p *Page) Height() int { return p.Image.Bounds().Dy() }

// Document is an opened source PDF. Implementations are not required to
// be safe for concurrent use; a document belongs to one conversion job.
type Document interface {
	// NumPages returns the page count.
	NumPages() int
	// PageSize returns the physical size of page index in points
	// (1 point = 1/72 inch), with rotation applied so the reported
	// size matches how the page renders in a viewer.
	PageSize(ctx context.Context, index int) (widthPts, heightPts float64, err error)
	// Rasterize renders the single page at index to a pixel buffer.
	// The raster's pixel dimensions are round(pts * dpi / 72) on each
	// axis. Rendering failures carry fault.KindRender.
	Rasterize(ctx context.Context, index int, dpi int) (*Page, error)
	// Close releases the underlying handle. Safe to call more than once.
	Close() error
}

// Backend opens PDF documents with a specific rendering engine.
// Open failures are classified: password-protected documents carry
// fault.KindEncrypted, structurally broken ones fault.KindCorrupt.
type Backend interface {
	Name() string
	Enabled() bool
	Open(ctx context.Context, src Input) (Document, error)
}

// PixelDim converts a physical dimension in points to pixels at dpi.
func PixelDim(pts float64, dpi int) int {
	return int(math.Round(pts * float64(dpi) / 72.0))
}
