// Package convert drives the full flattening pipeline: validate the
// source, rasterize each page, encode it, and assemble the output PDF.
package convert

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/wudi/pdfflatten/assemble"
	"github.com/wudi/pdfflatten/encode"
	"github.com/wudi/pdfflatten/fault"
	"github.com/wudi/pdfflatten/observability"
	"github.com/wudi/pdfflatten/raster"
	"github.com/wudi/pdfflatten/validate"
)

// State models the lifecycle of a conversion session.
type State string

const (
	StateCreated    State = "created"
	StateValidating State = "validating"
	StateConverting State = "converting"
	StateFinalizing State = "finalizing"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Lowest and highest accepted render resolutions. Below 36 DPI text is
// unreadable; above 600 DPI a letter page exceeds 25 megapixels.
const (
	MinDPI = 36
	MaxDPI = 600
)

// Settings are the caller-tunable conversion parameters.
type Settings struct {
	// DPI is the render resolution for every page.
	DPI int
	// Format selects the page image codec.
	Format encode.Format
	// JPEGQuality applies only when Format is JPEG.
	JPEGQuality int
	// Verbose enables per-page progress logging.
	Verbose bool
}

// DefaultSettings returns the standard profile: 150 DPI JPEG at quality 85.
func DefaultSettings() Settings {
	return Settings{DPI: 150, Format: encode.JPEG, JPEGQuality: 85}
}

// Validate rejects parameter combinations before any file is touched.
func (s Settings) Validate() error {
	if s.DPI < MinDPI || s.DPI > MaxDPI {
		return fault.New(fault.KindUsage, "dpi %d outside [%d,%d]", s.DPI, MinDPI, MaxDPI)
	}
	if s.Format != encode.JPEG && s.Format != encode.PNG {
		return fault.New(fault.KindUsage, "unsupported format %v", s.Format)
	}
	if s.Format == encode.JPEG && (s.JPEGQuality < 1 || s.JPEGQuality > 100) {
		return fault.New(fault.KindUsage, "jpeg quality %d outside [1,100]", s.JPEGQuality)
	}
	return nil
}

// Progress is invoked after each page is written, with the number of
// pages finished so far and the total page count.
type Progress func(done, total int)

// Option customizes a Session.
type Option func(*Session)

// WithLogger attaches a structured logger.
func WithLogger(log observability.Logger) Option {
	return func(s *Session) {
		if log != nil {
			s.log = log
		}
	}
}

// WithTracer attaches a tracer that spans each pipeline stage.
func WithTracer(tr observability.Tracer) Option {
	return func(s *Session) {
		if tr != nil {
			s.tracer = tr
		}
	}
}

// WithProgress registers a per-page completion callback.
func WithProgress(p Progress) Option {
	return func(s *Session) { s.progress = p }
}

// WithBackend overrides the default rasterizer.
func WithBackend(b raster.Backend) Option {
	return func(s *Session) {
		if b != nil {
			s.backend = b
		}
	}
}

// WithScratchDir points backends that spill to disk, such as the poppler
// rasterizer, at dir instead of the system temp directory.
func WithScratchDir(dir string) Option {
	return func(s *Session) { s.scratchDir = dir }
}

// WithSkipFailedPages continues past pages that fail to render or encode,
// recording their indices instead of aborting. The default is to fail the
// whole conversion on the first bad page.
func WithSkipFailedPages() Option {
	return func(s *Session) { s.skipFailed = true }
}

// Result is the terminal report of one conversion.
type Result struct {
	State        State
	OutputPath   string
	Pages        int
	SkippedPages []int
	OutputBytes  int64
	Elapsed      time.Duration
	Err          error
}

// Session converts one source document into one flattened PDF. A session
// is single use: Run may be called exactly once.
type Session struct {
	settings   Settings
	backend    raster.Backend
	log        observability.Logger
	tracer     observability.Tracer
	progress   Progress
	scratchDir string
	skipFailed bool

	state State
	ran   bool
}

// NewSession validates settings and prepares a session.
func NewSession(settings Settings, opts ...Option) (*Session, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		settings: settings,
		backend:  raster.Fitz{},
		log:      observability.NopLogger{},
		tracer:   observability.NopTracer(),
		state:    StateCreated,
	}
	for _, opt := range opts {
		opt(s)
	}
	if p, ok := s.backend.(raster.Poppler); ok && p.WorkDir == "" && s.scratchDir != "" {
		p.WorkDir = s.scratchDir
		s.backend = p
	}
	return s, nil
}

// State reports the session's current lifecycle state.
func (s *Session) State() State { return s.state }

// Run converts src into a flattened PDF at outputPath. On failure no file
// is left at outputPath.
func (s *Session) Run(ctx context.Context, src raster.Input, outputPath string) Result {
	start := time.Now()
	if s.ran {
		// Terminal states are final; a rejected rerun reports the misuse
		// without disturbing the finished session.
		err := fault.New(fault.KindUsage, "session already ran")
		s.log.Error("conversion rejected",
			observability.String("kind", fault.KindOf(err).String()),
			observability.Error("error", err))
		return Result{State: StateFailed, Elapsed: time.Since(start), Err: err}
	}
	s.ran = true
	if outputPath == "" {
		return s.fail(start, fault.New(fault.KindUsage, "empty output path"))
	}
	log := s.log.With(
		observability.String("input", src.Name()),
		observability.String("output", outputPath),
	)

	s.state = StateValidating
	ctx, span := s.tracer.StartSpan(ctx, "flatten.validate")
	outcome, err := validate.New(s.backend, log).Validate(ctx, src)
	if err != nil {
		span.SetError(err)
		span.Finish()
		return s.fail(start, err)
	}
	span.SetTag(observability.MetricPageCount, outcome.PageCount)
	span.Finish()
	log = log.With(observability.Int("pages", outcome.PageCount))
	log.Info("input validated", observability.Int("dpi", s.settings.DPI),
		observability.String("format", s.settings.Format.String()))

	s.state = StateConverting
	ctx, span = s.tracer.StartSpan(ctx, "flatten.convert")
	defer span.Finish()

	doc, err := s.backend.Open(ctx, src)
	if err != nil {
		span.SetError(err)
		return s.fail(start, err)
	}
	defer doc.Close()

	out, err := assemble.CreateFile(outputPath)
	if err != nil {
		span.SetError(err)
		return s.fail(start, err)
	}
	defer out.Discard()

	var skipped []int
	done := 0
	for i := 0; i < outcome.PageCount; i++ {
		if err := ctx.Err(); err != nil {
			span.SetError(err)
			return s.fail(start, err)
		}
		img, err := s.renderPage(ctx, doc, i)
		if err != nil {
			if s.skipFailed && pageFailure(fault.KindOf(err)) {
				log.Warn("skipping page", observability.Int("page", i), observability.Error("error", err))
				skipped = append(skipped, i)
				continue
			}
			span.SetError(err)
			return s.fail(start, err)
		}
		size := outcome.Pages[i]
		if err := out.PlacePage(img, size.WidthPts, size.HeightPts); err != nil {
			span.SetError(err)
			return s.fail(start, err)
		}
		done++
		if s.settings.Verbose {
			log.Debug("page written", observability.Int("page", i),
				observability.String("size", humanize.Bytes(uint64(img.Size()))))
		}
		if s.progress != nil {
			s.progress(done, outcome.PageCount)
		}
	}
	if done == 0 {
		err := fault.New(fault.KindRender, "all %d pages failed", outcome.PageCount)
		span.SetError(err)
		return s.fail(start, err)
	}

	s.state = StateFinalizing
	n, err := out.Finalize()
	if err != nil {
		span.SetError(err)
		return s.fail(start, err)
	}
	span.SetTag(observability.MetricOutputBytes, n)

	s.state = StateSucceeded
	elapsed := time.Since(start)
	log.Info("conversion finished",
		observability.Int("written", done),
		observability.Int("skipped", len(skipped)),
		observability.String("output_size", humanize.Bytes(uint64(n))),
		observability.String("elapsed", elapsed.Round(time.Millisecond).String()))
	return Result{
		State:        StateSucceeded,
		OutputPath:   outputPath,
		Pages:        done,
		SkippedPages: skipped,
		OutputBytes:  n,
		Elapsed:      elapsed,
	}
}

// pageFailure reports whether a kind names a single-page failure that
// skip-failed-pages mode may record and move past.
func pageFailure(k fault.Kind) bool {
	return k == fault.KindRender || k == fault.KindEncode
}

func (s *Session) renderPage(ctx context.Context, doc raster.Document, index int) (*encode.Image, error) {
	page, err := doc.Rasterize(ctx, index, s.settings.DPI)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", index, err)
	}
	img, err := encode.Encode(page, s.settings.Format, s.settings.JPEGQuality)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", index, err)
	}
	return img, nil
}

func (s *Session) fail(start time.Time, err error) Result {
	s.state = StateFailed
	s.log.Error("conversion failed",
		observability.String("kind", fault.KindOf(err).String()),
		observability.Error("error", err))
	return Result{State: StateFailed, Elapsed: time.Since(start), Err: err}
}
