// Package encode compresses rendered pages into JPEG or PNG byte
// streams. Encoding never alters pixel dimensions; format-specific
// trade-offs (lossy vs lossless, alpha handling) live here and nowhere
// else.
package encode

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"

	"golang.org/x/image/draw"

	"github.com/wudi/pdfflatten/fault"
	"github.com/wudi/pdfflatten/raster"
)

// Format is the closed set of output image formats.
type Format int

const (
	// JPEG is lossy, quality-controlled, and carries no alpha channel.
	JPEG Format = iota
	// PNG is lossless; the quality setting is ignored and alpha is kept.
	PNG
)

func (f Format) String() string {
	switch f {
	case JPEG:
		return "JPEG"
	case PNG:
		return "PNG"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// ParseFormat maps a case-insensitive format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "JPEG", "JPG":
		return JPEG, nil
	case "PNG":
		return PNG, nil
	}
	return 0, fault.New(fault.KindUsage, "image format must be JPEG or PNG, got %q", s)
}

// Image is a compressed page image plus its declared pixel geometry.
// It is transient: consumed immediately by the assembler.
type Image struct {
	Data   []byte
	Width  int
	Height int
	Format Format
}

// Size returns the compressed byte count.
func (i *Image) Size() int { return len(i.Data) }

// Encode compresses a rendered page. JPEG quality runs 1 (smallest) to
// 100 (highest fidelity) and is ignored for PNG.
func Encode(page *raster.Page, format Format, quality int) (*Image, error) {
	if page == nil || page.Image == nil {
		return nil, fault.New(fault.KindEncode, "no raster to encode")
	}
	w, h := page.Width(), page.Height()
	if w < 1 || h < 1 {
		return nil, fault.New(fault.KindEncode, "degenerate raster %dx%d", w, h)
	}

	var buf bytes.Buffer
	switch format {
	case JPEG:
		if quality < 1 || quality > 100 {
			return nil, fault.New(fault.KindUsage, "jpeg quality %d outside [1,100]", quality)
		}
		if err := jpeg.Encode(&buf, flatten(page.Image), &jpeg.Options{Quality: quality}); err != nil {
			return nil, fault.Wrap(fault.KindEncode, err, "jpeg encode %dx%d", w, h)
		}
	case PNG:
		if err := png.Encode(&buf, page.Image); err != nil {
			return nil, fault.Wrap(fault.KindEncode, err, "png encode %dx%d", w, h)
		}
	default:
		return nil, fault.New(fault.KindEncode, "unsupported format %v", format)
	}
	return &Image{Data: buf.Bytes(), Width: w, Height: h, Format: format}, nil
}

// flatten composites src over an opaque white background, discarding any
// alpha channel. JPEG cannot represent transparency.
func flatten(src image.Image) image.Image {
	if opaque(src) {
		return src
	}
	b := src.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), src, b.Min, draw.Over)
	return flat
}

func opaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}
