// Package validate checks that a candidate input is a well-formed,
// processable PDF before conversion begins. Checks run in a fixed order
// and short-circuit on the first failure; the only side effect is a
// probe open/close through the raster backend.
package validate

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/wudi/pdfflatten/fault"
	"github.com/wudi/pdfflatten/observability"
	"github.com/wudi/pdfflatten/raster"
)

// MinSize is the smallest byte count a plausible PDF can have.
const MinSize = 100

var pdfSignature = []byte("%PDF-")

// sniffLen bounds how much of the file participates in content-type
// detection.
const sniffLen = 512

// PageInfo is the physical size of one source page in points.
type PageInfo struct {
	WidthPts  float64
	HeightPts float64
}

// Outcome is a successful validation: the document opened cleanly and
// its geometry is known.
type Outcome struct {
	PageCount int
	Pages     []PageInfo
}

// Validator verifies inputs against a raster backend probe.
type Validator struct {
	backend raster.Backend
	log     observability.Logger
}

// New constructs a Validator. A nil logger disables advisory logging.
func New(backend raster.Backend, log observability.Logger) *Validator {
	if log == nil {
		log = observability.NopLogger{}
	}
	return &Validator{backend: backend, log: log}
}

// Validate runs all checks against src. It returns a tagged *fault.Error
// on the first failed check, or an Outcome carrying page count and
// per-page sizes.
func (v *Validator) Validate(ctx context.Context, src raster.Input) (*Outcome, error) {
	head, size, err := v.readHead(src)
	if err != nil {
		return nil, err
	}
	if size < MinSize {
		return nil, fault.New(fault.KindTooSmall, "input is %d bytes, minimum is %d", size, MinSize)
	}
	if name := src.Name(); name != "" {
		if ext := strings.ToLower(filepath.Ext(name)); ext != ".pdf" {
			return nil, fault.New(fault.KindWrongExtension, "expected .pdf extension, got %q", ext)
		}
	}
	// Content-type sniff is advisory only; the signature check below is
	// authoritative.
	if ct := http.DetectContentType(head); ct != "application/pdf" {
		v.log.Warn("content type sniff did not identify a PDF",
			observability.String("content_type", ct),
			observability.String("input", src.Name()))
	}
	if !bytes.HasPrefix(head, pdfSignature) {
		return nil, fault.New(fault.KindBadHeader, "first bytes are not %q", string(pdfSignature))
	}
	return v.probe(ctx, src)
}

// probe opens the document through the backend, collects geometry, and
// closes the handle again.
func (v *Validator) probe(ctx context.Context, src raster.Input) (*Outcome, error) {
	doc, err := v.backend.Open(ctx, src)
	if err != nil {
		if fault.KindOf(err) != fault.KindUnknown {
			return nil, err
		}
		return nil, fault.Wrap(fault.KindCorrupt, err, "probe open failed")
	}
	defer doc.Close()

	n := doc.NumPages()
	if n < 1 {
		return nil, fault.New(fault.KindCorrupt, "document has no pages")
	}
	pages := make([]PageInfo, n)
	for i := 0; i < n; i++ {
		w, h, err := doc.PageSize(ctx, i)
		if err != nil {
			return nil, fault.Wrap(fault.KindCorrupt, err, "page %d has no readable size", i)
		}
		if w <= 0 || h <= 0 {
			return nil, fault.New(fault.KindCorrupt, "page %d has degenerate size %gx%g pts", i, w, h)
		}
		pages[i] = PageInfo{WidthPts: w, HeightPts: h}
	}
	return &Outcome{PageCount: n, Pages: pages}, nil
}

// readHead returns up to sniffLen leading bytes plus the total size.
func (v *Validator) readHead(src raster.Input) ([]byte, int64, error) {
	if src.InMemory() {
		head := src.Data
		if len(head) > sniffLen {
			head = head[:sniffLen]
		}
		return head, int64(len(src.Data)), nil
	}
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, 0, fault.Wrap(fault.KindIO, err, "open %s", src.Path)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, 0, fault.Wrap(fault.KindIO, err, "stat %s", src.Path)
	}
	if st.IsDir() {
		return nil, 0, fault.New(fault.KindIO, "%s is a directory", src.Path)
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, 0, fault.Wrap(fault.KindIO, err, "read %s", src.Path)
	}
	return head[:n], st.Size(), nil
}
