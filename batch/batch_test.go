package batch

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pdfflatten/convert"
	"github.com/wudi/pdfflatten/fault"
	"github.com/wudi/pdfflatten/raster"
)

func writePDF(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte{' '}, 200)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func staticLetter(n int) raster.Static {
	pages := make([]raster.StaticPage, n)
	for i := range pages {
		pages[i] = raster.StaticPage{WidthPts: 612, HeightPts: 792}
	}
	return raster.Static{Pages: pages}
}

func TestOutputName(t *testing.T) {
	cases := map[string]string{
		"/docs/report.pdf": "/docs/report_image_150dpi.pdf",
		"scan.PDF":         "scan_image_150dpi.pdf",
		"noext":            "noext_image_150dpi.pdf",
	}
	for in, want := range cases {
		if got := OutputName(in, 150); got != want {
			t.Fatalf("OutputName(%q) = %q, want %q", in, got, want)
		}
	}
	if got := OutputName("a.pdf", 300); got != "a_image_300dpi.pdf" {
		t.Fatalf("dpi not reflected in name: %q", got)
	}
}

func TestRunConvertsAll(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		writePDF(t, dir, "a.pdf"),
		writePDF(t, dir, "b.pdf"),
		writePDF(t, dir, "c.pdf"),
	}
	opts := Options{Settings: convert.DefaultSettings(), Parallelism: 2}

	results := Run(context.Background(), inputs, opts, convert.WithBackend(staticLetter(2)))
	if len(results) != len(inputs) {
		t.Fatalf("%d results for %d inputs", len(results), len(inputs))
	}
	for i, res := range results {
		if res.Input != inputs[i] {
			t.Fatalf("result %d is for %q, want %q", i, res.Input, inputs[i])
		}
		if res.Err != nil {
			t.Fatalf("input %q failed: %v", res.Input, res.Err)
		}
		if res.OutputPath != OutputName(inputs[i], 150) {
			t.Fatalf("output %q, want %q", res.OutputPath, OutputName(inputs[i], 150))
		}
		if _, err := os.Stat(res.OutputPath); err != nil {
			t.Fatalf("output missing: %v", err)
		}
	}
}

func TestRunOneFailureDoesNotStopOthers(t *testing.T) {
	dir := t.TempDir()
	good := writePDF(t, dir, "good.pdf")
	bad := filepath.Join(dir, "bad.pdf")
	if err := os.WriteFile(bad, []byte("tiny"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	opts := Options{Settings: convert.DefaultSettings()}

	results := Run(context.Background(), []string{bad, good}, opts, convert.WithBackend(staticLetter(1)))
	if fault.KindOf(results[0].Err) != fault.KindTooSmall {
		t.Fatalf("bad input: got %v, want InvalidInput:TooSmall", results[0].Err)
	}
	if results[1].Err != nil {
		t.Fatalf("good input failed: %v", results[1].Err)
	}
	if _, err := os.Stat(results[1].OutputPath); err != nil {
		t.Fatalf("good output missing: %v", err)
	}
}

func TestRunOutputDir(t *testing.T) {
	srcDir := t.TempDir()
	outDir := t.TempDir()
	input := writePDF(t, srcDir, "doc.pdf")
	opts := Options{Settings: convert.DefaultSettings(), OutputDir: outDir}

	results := Run(context.Background(), []string{input}, opts, convert.WithBackend(staticLetter(1)))
	if results[0].Err != nil {
		t.Fatalf("Run: %v", results[0].Err)
	}
	want := filepath.Join(outDir, "doc_image_150dpi.pdf")
	if results[0].OutputPath != want {
		t.Fatalf("output %q, want %q", results[0].OutputPath, want)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("output missing: %v", err)
	}
}

func TestRunBadSettings(t *testing.T) {
	opts := Options{Settings: convert.Settings{DPI: 5}}
	results := Run(context.Background(), []string{"whatever.pdf"}, opts)
	if fault.KindOf(results[0].Err) != fault.KindUsage {
		t.Fatalf("got %v, want UsageError", results[0].Err)
	}
}
