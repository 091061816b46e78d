package validate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfflatten/fault"
	"github.com/wudi/pdfflatten/raster"
)

func plausiblePDF() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	buf.Write(bytes.Repeat([]byte("% padding\n"), 20))
	buf.WriteString("%%EOF\n")
	return buf.Bytes()
}

func letterBackend(pages int) raster.Static {
	specs := make([]raster.StaticPage, pages)
	for i := range specs {
		specs[i] = raster.StaticPage{WidthPts: 612, HeightPts: 792}
	}
	return raster.Static{Pages: specs}
}

func TestValidateSuccessCarriesGeometry(t *testing.T) {
	v := New(letterBackend(3), nil)
	out, err := v.Validate(context.Background(), raster.Input{Data: plausiblePDF()})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if out.PageCount != 3 || len(out.Pages) != 3 {
		t.Fatalf("page count = %d (%d sizes), want 3", out.PageCount, len(out.Pages))
	}
	for i, p := range out.Pages {
		if p.WidthPts != 612 || p.HeightPts != 792 {
			t.Fatalf("page %d size = %gx%g, want 612x792", i, p.WidthPts, p.HeightPts)
		}
	}
}

func TestValidateTooSmall(t *testing.T) {
	v := New(letterBackend(1), nil)
	for _, data := range [][]byte{nil, {}, []byte("%PDF-1.7")} {
		_, err := v.Validate(context.Background(), raster.Input{Data: data})
		if fault.KindOf(err) != fault.KindTooSmall {
			t.Fatalf("data of %d bytes: got %v, want TooSmall", len(data), err)
		}
	}
}

func TestValidateBadHeaderNeverProbes(t *testing.T) {
	probed := false
	backend := probeSpy{inner: letterBackend(1), probed: &probed}
	v := New(backend, nil)

	data := append([]byte("not a pdf at all"), bytes.Repeat([]byte("x"), 200)...)
	_, err := v.Validate(context.Background(), raster.Input{Data: data})
	if fault.KindOf(err) != fault.KindBadHeader {
		t.Fatalf("got %v, want BadHeader", err)
	}
	if probed {
		t.Fatalf("validator must not reach the backend on a bad header")
	}
}

type probeSpy struct {
	inner  raster.Backend
	probed *bool
}

func (s probeSpy) Name() string  { return s.inner.Name() }
func (s probeSpy) Enabled() bool { return s.inner.Enabled() }
func (s probeSpy) Open(ctx context.Context, src raster.Input) (raster.Document, error) {
	*s.probed = true
	return s.inner.Open(ctx, src)
}

func TestValidateWrongExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.txt")
	if err := os.WriteFile(path, plausiblePDF(), 0o600); err != nil {
		t.Fatal(err)
	}
	v := New(letterBackend(1), nil)
	_, err := v.Validate(context.Background(), raster.Input{Path: path})
	if fault.KindOf(err) != fault.KindWrongExtension {
		t.Fatalf("got %v, want WrongExtension", err)
	}
}

func TestValidatePathInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.PDF") // extension check is case-insensitive
	if err := os.WriteFile(path, plausiblePDF(), 0o600); err != nil {
		t.Fatal(err)
	}
	v := New(letterBackend(2), nil)
	out, err := v.Validate(context.Background(), raster.Input{Path: path})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if out.PageCount != 2 {
		t.Fatalf("page count = %d, want 2", out.PageCount)
	}
}

func TestValidateMissingFile(t *testing.T) {
	v := New(letterBackend(1), nil)
	_, err := v.Validate(context.Background(), raster.Input{Path: filepath.Join(t.TempDir(), "nope.pdf")})
	if fault.KindOf(err) != fault.KindIO {
		t.Fatalf("got %v, want IOError", err)
	}
}

func TestValidateEncryptedDistinctFromCorrupt(t *testing.T) {
	enc := raster.Static{OpenErr: fault.New(fault.KindEncrypted, "document is password protected")}
	v := New(enc, nil)
	_, err := v.Validate(context.Background(), raster.Input{Data: plausiblePDF()})
	if fault.KindOf(err) != fault.KindEncrypted {
		t.Fatalf("got %v, want Encrypted", err)
	}

	broken := raster.Static{} // zero pages reads as structurally broken
	v = New(broken, nil)
	_, err = v.Validate(context.Background(), raster.Input{Data: plausiblePDF()})
	if fault.KindOf(err) != fault.KindCorrupt {
		t.Fatalf("got %v, want Corrupt", err)
	}
}

func TestValidateDegeneratePageSize(t *testing.T) {
	backend := raster.Static{Pages: []raster.StaticPage{{WidthPts: 0, HeightPts: 792}}}
	v := New(backend, nil)
	_, err := v.Validate(context.Background(), raster.Input{Data: plausiblePDF()})
	if fault.KindOf(err) != fault.KindCorrupt {
		t.Fatalf("got %v, want Corrupt for degenerate page", err)
	}
}
