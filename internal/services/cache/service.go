package cache

import (
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/interfaces"
	"github.com/ternarybob/koscout/internal/models"
)

// Service caches assembled search responses. Values are deep-copied on the
// way in and out so callers can mutate what they receive.
type Service struct {
	cache  *Cache[*models.SearchResponse]
	logger arbor.ILogger
	now    func() time.Time
}

var _ interfaces.ResponseCache = (*Service)(nil)

// NewService creates a response cache holding at most maxEntries responses
// for ttl each. now may be nil.
func NewService(maxEntries int, ttl time.Duration, now func() time.Time, logger arbor.ILogger) *Service {
	if now == nil {
		now = time.Now
	}
	s := &Service{
		logger: logger,
		now:    now,
	}
	s.cache = New[*models.SearchResponse](Config{
		MaxSize: maxEntries,
		TTL:     ttl,
		Now:     now,
		OnEvict: func(key string) {
			logger.Debug().Str("key", key).Msg("Cache full, evicted oldest entry")
		},
	})
	return s
}

// Lookup returns a copy of the cached response with its age and staleness.
func (s *Service) Lookup(key string) (*models.SearchResponse, time.Duration, bool, bool) {
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, 0, false, false
	}
	now := s.now()
	return entry.Value.Clone(), entry.Age(now), entry.IsStale(now), true
}

// Store caches a copy of resp.
func (s *Service) Store(key string, resp *models.SearchResponse) {
	entry := s.cache.Set(key, resp.Clone())
	s.logger.Debug().
		Str("key", key).
		Dur("ttl", entry.TTL).
		Int("entries", s.cache.Len()).
		Msg("Search response cached")
}

// Invalidate removes key.
func (s *Service) Invalidate(key string) bool {
	return s.cache.Invalidate(key)
}

// Clear empties the cache.
func (s *Service) Clear() int {
	n := s.cache.Clear()
	s.logger.Info().Int("evicted", n).Msg("Search cache cleared")
	return n
}

// Purge drops entries past twice their TTL.
func (s *Service) Purge() int {
	return s.cache.Purge()
}

// Len returns the number of cached responses.
func (s *Service) Len() int {
	return s.cache.Len()
}
