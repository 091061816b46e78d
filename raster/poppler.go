package raster

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/wudi/pdfflatten/fault"
)

const (
	pdftoppmExecutable = "pdftoppm" // provided by poppler-utils
	pdfinfoExecutable  = "pdfinfo"  // provided by poppler-utils
)

// Poppler renders by shelling out to the poppler-utils binaries. It is a
// fallback for environments where MuPDF cannot be linked. In-memory
// inputs are materialized under WorkDir for the lifetime of the document.
type Poppler struct {
	// WorkDir receives temporary copies of in-memory inputs.
	// Empty means the system temp directory.
	WorkDir string
}

func (Poppler) Name() string { return "poppler" }

func (Poppler) Enabled() bool {
	return commandFound(pdftoppmExecutable) && commandFound(pdfinfoExecutable)
}

func commandFound(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

var (
	pagesRe    = regexp.MustCompile(`(?m)^Pages:\s+(\d+)`)
	encryptRe  = regexp.MustCompile(`(?m)^Encrypted:\s+yes`)
	pageSizeRe = regexp.MustCompile(`(?m)^Page\s+\d+ size:\s+([0-9.]+) x ([0-9.]+) pts`)
)

func (p Poppler) Open(ctx context.Context, src Input) (Document, error) {
	if !p.Enabled() {
		return nil, fault.New(fault.KindIO, "%s or %s is missing", pdftoppmExecutable, pdfinfoExecutable)
	}
	path := src.Path
	var scratch string
	if src.InMemory() {
		dir := p.WorkDir
		if dir == "" {
			dir = os.TempDir()
		}
		scratch = filepath.Join(dir, fmt.Sprintf("poppler-%s.pdf", uuid.NewString()))
		if err := os.WriteFile(scratch, src.Data, 0o600); err != nil {
			return nil, fault.Wrap(fault.KindIO, err, "materialize in-memory input")
		}
		path = scratch
	}
	info, err := exec.CommandContext(ctx, pdfinfoExecutable, path).Output()
	if err != nil {
		removeIfSet(scratch)
		return nil, classifyPdfinfo(err)
	}
	if encryptRe.Match(info) {
		removeIfSet(scratch)
		return nil, fault.New(fault.KindEncrypted, "document is password protected")
	}
	m := pagesRe.FindSubmatch(info)
	if m == nil {
		removeIfSet(scratch)
		return nil, fault.New(fault.KindCorrupt, "pdfinfo reported no page count")
	}
	pages, err := strconv.Atoi(string(m[1]))
	if err != nil || pages < 1 {
		removeIfSet(scratch)
		return nil, fault.New(fault.KindCorrupt, "document has no pages")
	}
	return &popplerDocument{path: path, pages: pages, scratch: scratch}, nil
}

func classifyPdfinfo(err error) error {
	if ee, ok := err.(*exec.ExitError); ok {
		msg := strings.ToLower(string(ee.Stderr))
		if strings.Contains(msg, "password") || strings.Contains(msg, "encrypted") {
			return fault.Wrap(fault.KindEncrypted, err, "document is password protected")
		}
	}
	return fault.Wrap(fault.KindCorrupt, err, "document cannot be opened")
}

func removeIfSet(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}

type popplerDocument struct {
	path    string
	pages   int
	scratch string
	closed  bool
}

func (d *popplerDocument) NumPages() int { return d.pages }

func (d *popplerDocument) PageSize(ctx context.Context, index int) (float64, float64, error) {
	n := strconv.Itoa(index + 1)
	out, err := exec.CommandContext(ctx, pdfinfoExecutable, "-f", n, "-l", n, d.path).Output()
	if err != nil {
		return 0, 0, fault.Wrap(fault.KindRender, err, "page %d bounds", index)
	}
	m := pageSizeRe.FindSubmatch(out)
	if m == nil {
		return 0, 0, fault.New(fault.KindRender, "pdfinfo reported no size for page %d", index)
	}
	w, _ := strconv.ParseFloat(string(m[1]), 64)
	h, _ := strconv.ParseFloat(string(m[2]), 64)
	return w, h, nil
}

// Rasterize runs `pdftoppm -png -r <dpi> -f <n> -l <n>` for the single
// requested page and decodes the PNG written to stdout.
func (d *popplerDocument) Rasterize(ctx context.Context, index int, dpi int) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := strconv.Itoa(index + 1)
	cmd := exec.CommandContext(ctx, pdftoppmExecutable,
		"-png", "-r", strconv.Itoa(dpi), "-f", n, "-l", n, d.path)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fault.Wrap(fault.KindRender, err, "render page %d at %d dpi", index, dpi)
	}
	img, err := png.Decode(&out)
	if err != nil {
		return nil, fault.Wrap(fault.KindRender, err, "decode rendered page %d", index)
	}
	return &Page{Image: img, DPI: dpi}, nil
}

func (d *popplerDocument) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	removeIfSet(d.scratch)
	return nil
}
