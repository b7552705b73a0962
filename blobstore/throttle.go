package blobstore

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// ThrottledReader caps the byte rate of an upload stream so exports do not
// saturate the link.
type ThrottledReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// NewThrottledReader wraps r with a rate limit. The limiter burst bounds the
// largest single read that can be charged; reads are split accordingly.
func NewThrottledReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) *ThrottledReader {
	return &ThrottledReader{ctx: ctx, r: r, limiter: limiter}
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	if burst := t.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}

	n, err := t.r.Read(p)
	if n <= 0 {
		return n, err
	}

	if werr := t.limiter.WaitN(t.ctx, n); werr != nil {
		return n, werr
	}
	return n, err
}
