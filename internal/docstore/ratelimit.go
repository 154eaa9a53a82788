package docstore

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

// RateLimited throttles lookups against a wrapped Store. Every hop of a
// reference chain is a lookup, so deep or wide graphs can otherwise flood
// the store. Writes pass through unthrottled.
type RateLimited struct {
	Store
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond lookups with the given burst.
func NewRateLimited(store Store, perSecond float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		Store:   store,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// LookupByField waits for a token, then delegates. A context that ends
// while waiting is returned as-is.
func (r *RateLimited) LookupByField(ctx context.Context, field, value string) (*document.Document, error) {
	if !r.limiter.Allow() {
		RateLimitWaits.Inc()
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return r.Store.LookupByField(ctx, field, value)
}

// Unwrap returns the wrapped store.
func (r *RateLimited) Unwrap() Store {
	return r.Store
}
