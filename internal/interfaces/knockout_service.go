package interfaces

import (
	"context"

	"github.com/ternarybob/koscout/internal/models"
)

// Fetcher retrieves one listings page. Implementations own rate limiting,
// retries and circuit breaking; failures are reported in the result, never
// as a panic.
type Fetcher interface {
	Fetch(ctx context.Context, url string) models.FetchResult

	// ResetCircuitBreaker forces the breaker back to CLOSED.
	ResetCircuitBreaker()

	// BreakerState returns "closed", "open" or "half-open".
	BreakerState() string
}

// URLBuilder maps an underlying name to the long and short listing URLs.
type URLBuilder interface {
	Build(underlying string, cfg models.FilterConfig) (longURL, shortURL string, err error)
}

// KnockoutService is the public entry point of the search pipeline.
type KnockoutService interface {
	// Search always returns a well-formed response; errors are reported in Meta.
	Search(ctx context.Context, underlying string, cfg models.FilterConfig, underlyingPrice *float64, forceRefresh bool) *models.SearchResponse

	ResetCircuitBreaker()

	ClearCache() int

	BreakerState() string
}
