package models

import "time"

// Per-direction status strings reported in SearchMeta.
const (
	StatusOK          = "ok"
	StatusFetchFailed = "fetch_failed"
	StatusParseFailed = "parse_failed"
	StatusCircuitOpen = "circuit_open"
	StatusCancelled   = "cancelled"
	StatusError       = "error"
	StatusCached      = "cached"
)

// SearchMeta carries diagnostics for one search run.
type SearchMeta struct {
	RunID              string         `json:"run_id"`
	FetchLatencyMs     int64          `json:"fetch_latency_ms"`
	LongStatus         string         `json:"long_status"`
	ShortStatus        string         `json:"short_status"`
	Errors             []string       `json:"errors"`
	AvgConfidence      float64        `json:"avg_confidence"`
	MinConfidence      float64        `json:"min_confidence"`
	LongFound          int            `json:"long_found"`
	ShortFound         int            `json:"short_found"`
	LongFiltered       int            `json:"long_filtered"`
	ShortFiltered      int            `json:"short_filtered"`
	LongFilterReasons  map[string]int `json:"long_filter_reasons,omitempty"`
	ShortFilterReasons map[string]int `json:"short_filter_reasons,omitempty"`
	CacheHit           bool           `json:"cache_hit"`
	CacheStale         bool           `json:"cache_stale"`
	CacheAgeSeconds    float64        `json:"cache_age_seconds"`
	BreakerState       string         `json:"breaker_state,omitempty"`
}

// SearchResponse is the ranked result of one search, best products first.
type SearchResponse struct {
	Underlying     string       `json:"underlying"`
	UnderlyingName string       `json:"underlying_name"`
	AsOf           time.Time    `json:"as_of"`
	Long           []*Product   `json:"long"`
	Short          []*Product   `json:"short"`
	Meta           SearchMeta   `json:"meta"`
	Criteria       FilterConfig `json:"criteria"`
}

// HasErrors reports whether any error was recorded for the run.
func (r *SearchResponse) HasErrors() bool {
	return len(r.Meta.Errors) > 0
}

// Clone returns a deep copy so cached responses are never shared with callers.
func (r *SearchResponse) Clone() *SearchResponse {
	if r == nil {
		return nil
	}
	c := *r
	c.Long = CloneProducts(r.Long)
	c.Short = CloneProducts(r.Short)
	c.Meta.Errors = append([]string(nil), r.Meta.Errors...)
	c.Meta.LongFilterReasons = cloneCounts(r.Meta.LongFilterReasons)
	c.Meta.ShortFilterReasons = cloneCounts(r.Meta.ShortFilterReasons)
	c.Criteria.Issuers = append([]string(nil), r.Criteria.Issuers...)
	c.Criteria.Features = append([]string(nil), r.Criteria.Features...)
	return &c
}

// UpdateDistances applies a refreshed underlying price to every product.
func (r *SearchResponse) UpdateDistances(price float64) {
	for _, p := range r.Long {
		p.UpdateDistance(price)
	}
	for _, p := range r.Short {
		p.UpdateDistance(price)
	}
}

func cloneCounts(m map[string]int) map[string]int {
	if m == nil {
		return nil
	}
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
