// Package assemble writes flattened output PDFs. Each page holds exactly
// one image XObject drawn full bleed over a MediaBox that matches the
// source page's point geometry. Objects stream to the underlying writer
// as pages arrive, so memory never scales with document length.
package assemble

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/wudi/pdfflatten/encode"
	"github.com/wudi/pdfflatten/fault"
)

const header = "%PDF-1.7\n%\xE2\xE3\xCF\xD3\n"

// Reserved object numbers, written during Finalize.
const (
	objCatalog = 1
	objPages   = 2
	objInfo    = 3
)

// Document accumulates pages into a PDF. Create one per output file,
// call PlacePage once per page in order, then Finalize exactly once.
type Document struct {
	out     *countingWriter
	buf     *bufio.Writer
	file    *os.File
	tmpPath string
	dstPath string

	offsets  map[int]int64
	pageRefs []int
	next     int
	done     bool
	broken   bool
}

// NewDocument starts a PDF on w. The caller owns w's lifetime.
func NewDocument(w io.Writer) (*Document, error) {
	d := &Document{
		out:     &countingWriter{w: w},
		offsets: make(map[int]int64),
		next:    objInfo + 1,
	}
	if _, err := io.WriteString(d.out, header); err != nil {
		return nil, fault.Wrap(fault.KindIO, err, "write pdf header")
	}
	return d, nil
}

// CreateFile starts a PDF destined for path. Bytes go to a uniquely
// named temporary file in the same directory; Finalize renames it into
// place so path never holds a partial document.
func CreateFile(path string) (*Document, error) {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+uuid.NewString()+".pdf.tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fault.Wrap(fault.KindIO, err, "create %s", tmp)
	}
	buf := bufio.NewWriter(f)
	d, err := NewDocument(buf)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return nil, err
	}
	d.buf = buf
	d.file = f
	d.tmpPath = tmp
	d.dstPath = path
	return d, nil
}

// PlacePage appends one page whose MediaBox is wPts x hPts points and
// whose sole content is img scaled to fill the box.
func (d *Document) PlacePage(img *encode.Image, wPts, hPts float64) error {
	if d.done {
		return fault.New(fault.KindUsage, "document already finalized")
	}
	if d.broken {
		return fault.New(fault.KindIO, "document writer previously failed")
	}
	if img == nil || len(img.Data) == 0 {
		return fault.New(fault.KindUsage, "empty page image")
	}
	if wPts <= 0 || hPts <= 0 {
		return fault.New(fault.KindUsage, "degenerate page size %gx%g pt", wPts, hPts)
	}

	var imgRef int
	var err error
	switch img.Format {
	case encode.JPEG:
		imgRef, err = d.writeJPEG(img)
	case encode.PNG:
		imgRef, err = d.writePNG(img)
	default:
		return fault.New(fault.KindUsage, "unsupported image format %v", img.Format)
	}
	if err != nil {
		d.broken = true
		return err
	}

	content := fmt.Sprintf("q\n%s 0 0 %s 0 0 cm\n/Im0 Do\nQ\n", fmtNum(wPts), fmtNum(hPts))
	contentRef := d.alloc()
	if err := d.writeStream(contentRef, fmt.Sprintf("<</Length %d>>", len(content)), []byte(content)); err != nil {
		d.broken = true
		return err
	}

	pageRef := d.alloc()
	page := fmt.Sprintf(
		"<</Type /Page /Parent %d 0 R /MediaBox [0 0 %s %s] /Resources <</XObject <</Im0 %d 0 R>>>> /Contents %d 0 R>>\n",
		objPages, fmtNum(wPts), fmtNum(hPts), imgRef, contentRef)
	if err := d.writeObject(pageRef, page); err != nil {
		d.broken = true
		return err
	}
	d.pageRefs = append(d.pageRefs, pageRef)
	return nil
}

// Finalize writes the page tree, catalog, info, cross-reference table
// and trailer, then publishes the file when one was created. It returns
// the total size of the finished document in bytes.
func (d *Document) Finalize() (int64, error) {
	if d.done {
		return 0, fault.New(fault.KindUsage, "document already finalized")
	}
	if d.broken {
		d.Discard()
		return 0, fault.New(fault.KindIO, "document writer previously failed")
	}
	if len(d.pageRefs) == 0 {
		d.Discard()
		return 0, fault.New(fault.KindUsage, "document has no pages")
	}
	d.done = true

	var kids bytes.Buffer
	for i, ref := range d.pageRefs {
		if i > 0 {
			kids.WriteByte(' ')
		}
		fmt.Fprintf(&kids, "%d 0 R", ref)
	}
	err := d.writeObject(objPages, fmt.Sprintf("<</Type /Pages /Count %d /Kids [%s]>>\n", len(d.pageRefs), kids.String()))
	if err == nil {
		err = d.writeObject(objCatalog, fmt.Sprintf("<</Type /Catalog /Pages %d 0 R>>\n", objPages))
	}
	if err == nil {
		err = d.writeObject(objInfo, "<</Producer (pdfflatten)>>\n")
	}
	if err == nil {
		err = d.writeXref()
	}
	if err != nil {
		d.cleanup()
		return 0, err
	}

	if d.buf != nil {
		if err := d.buf.Flush(); err != nil {
			d.cleanup()
			return 0, fault.Wrap(fault.KindIO, err, "flush %s", d.tmpPath)
		}
	}
	if d.file != nil {
		if err := d.file.Close(); err != nil {
			os.Remove(d.tmpPath)
			return 0, fault.Wrap(fault.KindIO, err, "close %s", d.tmpPath)
		}
		if err := os.Rename(d.tmpPath, d.dstPath); err != nil {
			os.Remove(d.tmpPath)
			return 0, fault.Wrap(fault.KindIO, err, "publish %s", d.dstPath)
		}
	}
	return d.out.n, nil
}

// Discard abandons the document and removes any temporary file. Safe to
// call after Finalize, where it is a no-op.
func (d *Document) Discard() {
	if d.done {
		return
	}
	d.done = true
	d.cleanup()
}

func (d *Document) cleanup() {
	if d.file != nil {
		d.file.Close()
		os.Remove(d.tmpPath)
		d.file = nil
	}
}

func (d *Document) alloc() int {
	n := d.next
	d.next++
	return n
}

func (d *Document) writeObject(num int, body string) error {
	d.offsets[num] = d.out.n
	if _, err := fmt.Fprintf(d.out, "%d 0 obj\n%sendobj\n", num, body); err != nil {
		return fault.Wrap(fault.KindIO, err, "write object %d", num)
	}
	return nil
}

func (d *Document) writeStream(num int, dict string, data []byte) error {
	d.offsets[num] = d.out.n
	if _, err := fmt.Fprintf(d.out, "%d 0 obj\n%s\nstream\n", num, dict); err != nil {
		return fault.Wrap(fault.KindIO, err, "write object %d", num)
	}
	if _, err := d.out.Write(data); err != nil {
		return fault.Wrap(fault.KindIO, err, "write stream %d", num)
	}
	if _, err := io.WriteString(d.out, "\nendstream\nendobj\n"); err != nil {
		return fault.Wrap(fault.KindIO, err, "write object %d", num)
	}
	return nil
}

// writeJPEG embeds the compressed bytes untouched under DCTDecode, so
// the image is never recompressed.
func (d *Document) writeJPEG(img *encode.Image) (int, error) {
	ref := d.alloc()
	dict := fmt.Sprintf(
		"<</Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /DCTDecode /Length %d>>",
		img.Width, img.Height, len(img.Data))
	return ref, d.writeStream(ref, dict, img.Data)
}

// writePNG decodes the image back to pixels and stores them as a
// flate-compressed RGB stream, with a DeviceGray soft mask when any
// pixel carries transparency. PDF has no native PNG container.
func (d *Document) writePNG(img *encode.Image) (int, error) {
	decoded, err := png.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return 0, fault.Wrap(fault.KindEncode, err, "decode png for embedding")
	}
	pixels, alpha := splitChannels(decoded)

	maskRef := 0
	if alpha != nil {
		maskRef = d.alloc()
		mz, err := deflate(alpha)
		if err != nil {
			return 0, err
		}
		dict := fmt.Sprintf(
			"<</Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceGray /BitsPerComponent 8 /Filter /FlateDecode /Length %d>>",
			img.Width, img.Height, len(mz))
		if err := d.writeStream(maskRef, dict, mz); err != nil {
			return 0, err
		}
	}

	ref := d.alloc()
	pz, err := deflate(pixels)
	if err != nil {
		return 0, err
	}
	smask := ""
	if maskRef != 0 {
		smask = fmt.Sprintf(" /SMask %d 0 R", maskRef)
	}
	dict := fmt.Sprintf(
		"<</Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB /BitsPerComponent 8 /Filter /FlateDecode%s /Length %d>>",
		img.Width, img.Height, smask, len(pz))
	return ref, d.writeStream(ref, dict, pz)
}

func (d *Document) writeXref() error {
	xrefOffset := d.out.n
	nums := make([]int, 0, len(d.offsets))
	for n := range d.offsets {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	maxNum := nums[len(nums)-1]

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= maxNum; i++ {
		if off, ok := d.offsets[i]; ok {
			fmt.Fprintf(&buf, "%010d 00000 n \n", off)
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}
	fmt.Fprintf(&buf, "trailer\n<</Size %d /Root %d 0 R /Info %d 0 R>>\nstartxref\n%d\n%%%%EOF\n",
		maxNum+1, objCatalog, objInfo, xrefOffset)
	if _, err := d.out.Write(buf.Bytes()); err != nil {
		return fault.Wrap(fault.KindIO, err, "write xref")
	}
	return nil
}

// splitChannels separates an image into packed RGB samples and, when any
// pixel is non-opaque, a parallel 8-bit alpha plane.
func splitChannels(src image.Image) (rgb, alpha []byte) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	nrgba, ok := src.(*image.NRGBA)
	if !ok || nrgba.Stride != w*4 || !b.Min.Eq(image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, w, h))
		draw.Draw(nrgba, nrgba.Bounds(), src, b.Min, draw.Src)
	}

	rgb = make([]byte, 0, w*h*3)
	alpha = make([]byte, 0, w*h)
	hasAlpha := false
	for i := 0; i < w*h; i++ {
		o := i * 4
		rgb = append(rgb, nrgba.Pix[o], nrgba.Pix[o+1], nrgba.Pix[o+2])
		a := nrgba.Pix[o+3]
		alpha = append(alpha, a)
		if a < 255 {
			hasAlpha = true
		}
	}
	if !hasAlpha {
		alpha = nil
	}
	return rgb, alpha
}

func deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fault.Wrap(fault.KindEncode, err, "compress image stream")
	}
	if err := zw.Close(); err != nil {
		return nil, fault.Wrap(fault.KindEncode, err, "compress image stream")
	}
	return buf.Bytes(), nil
}

// fmtNum renders a point dimension without an exponent, which PDF number
// syntax forbids, and without trailing zero noise.
func fmtNum(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
