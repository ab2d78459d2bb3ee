package providers

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/indexd/internal/faults"
)

// RateLimitedEmbedder throttles calls to a wrapped embedder. Remote
// embedding services meter by request, and a bootstrap over a large
// workspace can otherwise burst thousands of calls.
type RateLimitedEmbedder struct {
	inner   Embedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps an embedder with a calls-per-second cap.
func NewRateLimitedEmbedder(inner Embedder, callsPerSecond float64) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), 1),
	}
}

func (e *RateLimitedEmbedder) Dimension() int { return e.inner.Dimension() }

// EmbedDocuments waits for limiter capacity, then delegates. A context
// cancelled while waiting surfaces as provider unavailability.
func (e *RateLimitedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, faults.Wrap(faults.KindProviderUnavailable, err, "waiting for embedder rate limit")
	}
	return e.inner.EmbedDocuments(ctx, texts)
}

var _ Embedder = (*RateLimitedEmbedder)(nil)
