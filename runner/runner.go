// Package runner reads one image, removes its background through a rembg.Remover
// and writes the result to a destination path.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/chaos-io/rembg-cli/rembg"
	"github.com/chaos-io/rembg-cli/util"
	"github.com/chaos-io/rembg-cli/util/imageutil"
)

// ConfirmationFormat is printed after a successful run.
const ConfirmationFormat = "Background removed! Saved to %s\n"

type Runner struct {
	remover rembg.Remover
	out     io.Writer
	verify  bool
}

type Option func(*Runner)

// WithOutput sets where the confirmation line is written. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(r *Runner) { r.out = w }
}

// WithVerifyOutput makes the runner reject remover output that does not decode
// as an image. Off by default.
func WithVerifyOutput(verify bool) Option {
	return func(r *Runner) { r.verify = verify }
}

func New(remover rembg.Remover, opts ...Option) *Runner {
	r := &Runner{
		remover: remover,
		out:     os.Stdout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run removes the background of src and writes the result to dst.
//
// The parent directory of dst is created if needed. Nothing is written to dst
// unless the remover succeeds.
func (r *Runner) Run(ctx context.Context, src, dst string) error {
	if err := util.EnsureParentDir(dst); err != nil {
		return fmt.Errorf("%w: create output dir for %s: %w", ErrIO, dst, err)
	}

	input, err := readSource(src)
	if err != nil {
		return err
	}

	output, err := r.remove(ctx, input)
	if err != nil {
		return err
	}

	if err := writeDestination(dst, output); err != nil {
		return err
	}

	slog.Debug("background removed", "src", src, "dst", dst, "input_bytes", len(input), "output_bytes", len(output))
	_, _ = fmt.Fprintf(r.out, ConfirmationFormat, dst)
	return nil
}

func (r *Runner) remove(ctx context.Context, input []byte) ([]byte, error) {
	defer util.Trace("remove background")()

	output, err := r.remover.Remove(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRemoval, err)
	}

	if r.verify {
		cfg, format, err := imageutil.DecodeConfig(output)
		if err != nil {
			return nil, fmt.Errorf("%w: output is not an image: %w", ErrRemoval, err)
		}
		slog.Debug("output verified", "format", format, "width", cfg.Width, "height", cfg.Height)
	}
	return output, nil
}

func readSource(src string) ([]byte, error) {
	f, err := os.Open(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", ErrFileNotFound, err)
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, src, err)
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, src, err)
	}
	return data, nil
}

func writeDestination(dst string, data []byte) (err error) {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrIO, dst, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close %s: %w", ErrIO, dst, cerr)
		}
	}()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, dst, err)
	}
	return nil
}
