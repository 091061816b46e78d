// Package batch converts many PDFs in one call. Each input gets its own
// session; one document failing never stops the others.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wudi/pdfflatten/convert"
	"github.com/wudi/pdfflatten/raster"
)

// DefaultParallelism bounds concurrent conversions when Options leaves
// Parallelism unset. Rasterizing is memory heavy, so the default stays low.
const DefaultParallelism = 4

// Options configures a batch run.
type Options struct {
	// Settings apply to every conversion in the batch.
	Settings convert.Settings
	// Parallelism caps concurrent conversions. Zero means DefaultParallelism.
	Parallelism int
	// OutputDir, when set, receives all outputs. Empty places each output
	// next to its input.
	OutputDir string
}

// Result pairs one input path with its conversion outcome.
type Result struct {
	Input string
	convert.Result
}

// OutputName derives the output filename for an input converted at dpi:
// report.pdf at 150 DPI becomes report_image_150dpi.pdf.
func OutputName(inputPath string, dpi int) string {
	dir := filepath.Dir(inputPath)
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, fmt.Sprintf("%s_image_%ddpi.pdf", stem, dpi))
}

// Run converts every input and returns one Result per input, in input
// order. Session options (logger, tracer, backend) are shared across the
// batch. Run only returns early when ctx is canceled, and even then every
// input gets a Result.
func Run(ctx context.Context, inputs []string, opts Options, sessOpts ...convert.Option) []Result {
	limit := opts.Parallelism
	if limit < 1 {
		limit = DefaultParallelism
	}
	results := make([]Result, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, input := range inputs {
		g.Go(func() error {
			results[i] = Result{Input: input, Result: runOne(ctx, input, opts, sessOpts)}
			return nil
		})
	}
	g.Wait()
	return results
}

func runOne(ctx context.Context, input string, opts Options, sessOpts []convert.Option) convert.Result {
	s, err := convert.NewSession(opts.Settings, sessOpts...)
	if err != nil {
		return convert.Result{State: convert.StateFailed, Err: err}
	}
	out := OutputName(input, opts.Settings.DPI)
	if opts.OutputDir != "" {
		out = filepath.Join(opts.OutputDir, filepath.Base(out))
	}
	return s.Run(ctx, raster.Input{Path: input}, out)
}
