package resource

import (
	"context"
	"io"
)

type limitedWriter struct {
	ctx context.Context
	w   io.Writer
	c   *Controller
}

// LimitWriter returns a writer whose throughput is bounded by the controller's IO limit.
func LimitWriter(ctx context.Context, w io.Writer, c *Controller) io.Writer {
	if c == nil || c.io == nil {
		return w
	}
	return &limitedWriter{ctx: ctx, w: w, c: c}
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if err := lw.c.WaitIO(lw.ctx, len(p)); err != nil {
		return 0, err
	}
	return lw.w.Write(p)
}

type limitedReader struct {
	ctx context.Context
	r   io.Reader
	c   *Controller
}

// LimitReader returns a reader whose throughput is bounded by the controller's IO limit.
// Tokens are charged for the bytes actually read.
func LimitReader(ctx context.Context, r io.Reader, c *Controller) io.Reader {
	if c == nil || c.io == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, c: c}
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	n, err := lr.r.Read(p)
	if n > 0 {
		if werr := lr.c.WaitIO(lr.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}
