package translate

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"github.com/lokutor-ai/lokutor-scribe/pkg/session"
)

// ErrRateLimited is returned by RateLimited.Translate when the backend's
// token bucket is exhausted; the Translator treats this identically to any
// other backend failure and moves on to the next backend in its list.
var ErrRateLimited = errors.New("translate: backend rate limit exceeded")

// RateLimited wraps a Backend with a per-backend token bucket, per
// spec.md §4.5: if the bucket is exhausted, the attempt is treated as a
// failure of that backend so the Translator moves on to the next one in
// its ordered list rather than blocking.
type RateLimited struct {
	Backend
	limiter *rate.Limiter
}

// NewRateLimited wraps backend with a token bucket allowing ratePerSec
// sustained requests and a burst of the same size.
func NewRateLimited(backend Backend, ratePerSec float64) *RateLimited {
	return &RateLimited{
		Backend: backend,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), max(1, int(ratePerSec))),
	}
}

func (r *RateLimited) Translate(ctx context.Context, text string, src, tgt session.Language) (string, error) {
	if !r.limiter.Allow() {
		return "", ErrRateLimited
	}
	return r.Backend.Translate(ctx, text, src, tgt)
}
