// Package interfaces provides service interfaces for dependency injection.
package interfaces

import (
	"time"

	"github.com/ternarybob/koscout/internal/models"
)

// ResponseCache stores assembled search responses under a filter fingerprint.
// Implementations must be safe for concurrent use.
type ResponseCache interface {
	// Lookup returns the cached response, its age and whether it is stale.
	// Expired entries (older than twice their TTL) are purged and reported absent.
	Lookup(key string) (resp *models.SearchResponse, age time.Duration, stale bool, ok bool)

	// Store caches resp under key with the default TTL.
	Store(key string, resp *models.SearchResponse)

	// Invalidate removes a single key. Returns true if it was present.
	Invalidate(key string) bool

	// Clear empties the cache and returns the number of evicted entries.
	Clear() int
}
