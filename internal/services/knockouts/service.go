// -----------------------------------------------------------------------
// Knockout Search Service - Fetch, parse, filter, rank and cache pipeline
// -----------------------------------------------------------------------

package knockouts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/common"
	"github.com/ternarybob/koscout/internal/interfaces"
	"github.com/ternarybob/koscout/internal/models"
	"github.com/ternarybob/koscout/internal/services/cache"
	"github.com/ternarybob/koscout/internal/services/filter"
	"github.com/ternarybob/koscout/internal/services/normalizer"
	"github.com/ternarybob/koscout/internal/services/parser"
	"github.com/ternarybob/koscout/internal/services/ranking"
)

// Config holds orchestration settings.
type Config struct {
	// DirectionPause is the enforced gap between the long and short fetch.
	DirectionPause time.Duration
	// RefreshTimeout bounds a background stale-while-revalidate refresh.
	RefreshTimeout time.Duration
}

// DefaultConfig returns production orchestration settings.
func DefaultConfig() Config {
	return Config{
		DirectionPause: 3 * time.Second,
		RefreshTimeout: 2 * time.Minute,
	}
}

// Service runs knock-out searches. It is the only component that knows
// about every pipeline stage.
type Service struct {
	fetcher    interfaces.Fetcher
	urls       interfaces.URLBuilder
	parser     *parser.Parser
	normalizer *normalizer.Normalizer
	ranker     *ranking.Ranker
	cache      interfaces.ResponseCache
	cfg        Config
	logger     arbor.ILogger

	refreshMu  sync.Mutex
	refreshing map[string]bool
	refreshWG  sync.WaitGroup
	baseCtx    context.Context
	cancel     context.CancelFunc
}

var _ interfaces.KnockoutService = (*Service)(nil)

// NewService wires the pipeline stages together.
func NewService(
	fetcher interfaces.Fetcher,
	urls interfaces.URLBuilder,
	p *parser.Parser,
	n *normalizer.Normalizer,
	r *ranking.Ranker,
	responseCache interfaces.ResponseCache,
	cfg Config,
	logger arbor.ILogger,
) *Service {
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultConfig().RefreshTimeout
	}
	if cfg.DirectionPause < 0 {
		cfg.DirectionPause = 0
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		fetcher:    fetcher,
		urls:       urls,
		parser:     p,
		normalizer: n,
		ranker:     r,
		cache:      responseCache,
		cfg:        cfg,
		logger:     logger,
		refreshing: make(map[string]bool),
		baseCtx:    baseCtx,
		cancel:     cancel,
	}
}

// direction carries one direction through the pipeline.
type direction struct {
	dir      models.Direction
	label    string
	url      string
	status   string
	body     string
	latency  time.Duration
	products []*models.Product
	found    int
	filtered int
	reasons  map[string]int
}

// Search runs the pipeline for underlying. It never panics and never
// returns nil; failures are reported in the response meta.
func (s *Service) Search(ctx context.Context, underlying string, cfg models.FilterConfig, underlyingPrice *float64, forceRefresh bool) *models.SearchResponse {
	underlying = strings.Join(strings.Fields(underlying), " ")
	runID := common.NewRunID()

	if err := cfg.Validate(); err != nil {
		return s.errorResponse(runID, underlying, cfg, err)
	}
	if underlying == "" {
		return s.errorResponse(runID, underlying, cfg, errors.New("underlying is required"))
	}
	if underlyingPrice != nil && (*underlyingPrice <= 0 || math.IsNaN(*underlyingPrice)) {
		underlyingPrice = nil
	}

	key := cache.Key(underlying, cache.ScopeBoth, cfg)

	// CACHE_CHECK
	if !forceRefresh {
		if cached, age, stale, ok := s.cache.Lookup(key); ok {
			cached.Meta.CacheHit = true
			cached.Meta.CacheStale = stale
			cached.Meta.CacheAgeSeconds = age.Seconds()
			cached.Meta.BreakerState = s.fetcher.BreakerState()
			if underlyingPrice != nil {
				cached.UpdateDistances(*underlyingPrice)
			}
			if stale {
				s.revalidate(key, underlying, cfg)
			}
			s.logger.Info().
				Str("underlying", underlying).
				Str("key", key).
				Bool("stale", stale).
				Dur("age", age).
				Msg("Knockout search served from cache")
			return cached
		}
	}

	s.logger.Info().
		Str("underlying", underlying).
		Str("run_id", runID).
		Bool("force_refresh", forceRefresh).
		Msg("Knockout search started")

	resp := s.run(ctx, runID, underlying, cfg, underlyingPrice)

	if resp.Meta.LongStatus == models.StatusOK && resp.Meta.ShortStatus == models.StatusOK {
		s.cache.Store(key, resp)
	}

	s.logger.Info().
		Str("underlying", underlying).
		Str("run_id", runID).
		Str("long_status", resp.Meta.LongStatus).
		Str("short_status", resp.Meta.ShortStatus).
		Int("long", len(resp.Long)).
		Int("short", len(resp.Short)).
		Int("errors", len(resp.Meta.Errors)).
		Int64("fetch_latency_ms", resp.Meta.FetchLatencyMs).
		Msg("Knockout search completed")

	return resp
}

// run executes FETCH_LONG -> PACE -> FETCH_SHORT -> PARSE+NORMALIZE ->
// FILTER+RANK -> ASSEMBLE. A panic anywhere becomes an error response.
func (s *Service) run(ctx context.Context, runID, underlying string, cfg models.FilterConfig, price *float64) (resp *models.SearchResponse) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("run_id", runID).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in knockout search")
			resp = s.errorResponse(runID, underlying, cfg, fmt.Errorf("unexpected error: %v", r))
		}
	}()

	longURL, shortURL, err := s.urls.Build(underlying, cfg)
	if err != nil {
		return s.errorResponse(runID, underlying, cfg, err)
	}

	hardFilter, err := filter.New(cfg, s.logger)
	if err != nil {
		return s.errorResponse(runID, underlying, cfg, err)
	}

	resp = s.newResponse(runID, underlying, cfg)
	long := &direction{dir: models.DirectionLong, label: "long", url: longURL}
	short := &direction{dir: models.DirectionShort, label: "short", url: shortURL}
	dirs := []*direction{long, short}

	defer func() {
		s.assemble(resp, dirs)
	}()

	// FETCH_LONG
	if s.checkCancelled(ctx, resp, dirs) {
		return resp
	}
	s.fetch(ctx, resp, long)

	// PACE
	if err := sleepContext(ctx, s.cfg.DirectionPause); err != nil {
		s.checkCancelled(ctx, resp, dirs)
		return resp
	}

	// FETCH_SHORT
	if s.checkCancelled(ctx, resp, dirs) {
		return resp
	}
	s.fetch(ctx, resp, short)

	// PARSE+NORMALIZE
	if s.checkCancelled(ctx, resp, dirs) {
		return resp
	}
	for _, d := range dirs {
		s.parse(resp, d, underlying, price)
	}

	// FILTER+RANK
	if s.checkCancelled(ctx, resp, dirs) {
		return resp
	}
	for _, d := range dirs {
		if d.status != models.StatusOK {
			continue
		}
		result := hardFilter.Apply(d.products)
		d.filtered = result.FilteredOut
		d.reasons = result.Reasons
		d.products = s.ranker.Rank(result.Passed, cfg.TopN)
	}

	return resp
}

// fetch runs one direction's fetch and records its outcome.
func (s *Service) fetch(ctx context.Context, resp *models.SearchResponse, d *direction) {
	result := s.fetcher.Fetch(ctx, d.url)
	d.latency = result.Latency
	resp.Meta.FetchLatencyMs += result.Latency.Milliseconds()

	if result.Success {
		d.body = result.Body
		return
	}

	switch {
	case result.CircuitOpen:
		d.status = models.StatusCircuitOpen
	case ctx.Err() != nil:
		d.status = models.StatusCancelled
	default:
		d.status = models.StatusFetchFailed
	}
	resp.Meta.Errors = append(resp.Meta.Errors, fmt.Sprintf("%s: fetch failed: %s", d.label, result.Error))
}

// parse turns a fetched body into normalized products.
func (s *Service) parse(resp *models.SearchResponse, d *direction, underlying string, price *float64) {
	if d.status != "" {
		return
	}

	parsed := s.parser.Parse(d.body, d.dir, d.url)
	d.body = ""
	if !parsed.Success {
		d.status = models.StatusParseFailed
		resp.Meta.Errors = append(resp.Meta.Errors, fmt.Sprintf("%s: parse failed: %v", d.label, parsed.Err))
		return
	}

	for _, p := range parsed.Products {
		p.Underlying.Symbol = underlying
	}
	d.products = s.normalizer.Normalize(parsed.Products, price)
	d.found = len(d.products)
	d.status = models.StatusOK
}

// checkCancelled marks every unfinished direction cancelled once ctx is done.
func (s *Service) checkCancelled(ctx context.Context, resp *models.SearchResponse, dirs []*direction) bool {
	err := ctx.Err()
	if err == nil {
		return false
	}
	for _, d := range dirs {
		if d.status == "" || d.status == models.StatusOK {
			d.status = models.StatusCancelled
			d.products = nil
		}
	}
	resp.Meta.Errors = append(resp.Meta.Errors, fmt.Sprintf("search cancelled: %v", err))
	s.logger.Warn().Str("run_id", resp.Meta.RunID).Err(err).Msg("Knockout search cancelled")
	return true
}

// assemble copies direction results into the response and computes the
// confidence summary.
func (s *Service) assemble(resp *models.SearchResponse, dirs []*direction) {
	for _, d := range dirs {
		if d.status == "" {
			d.status = models.StatusCancelled
		}
		products := d.products
		if products == nil {
			products = make([]*models.Product, 0)
		}
		switch d.dir {
		case models.DirectionLong:
			resp.Long = products
			resp.Meta.LongStatus = d.status
			resp.Meta.LongFound = d.found
			resp.Meta.LongFiltered = d.filtered
			resp.Meta.LongFilterReasons = d.reasons
		case models.DirectionShort:
			resp.Short = products
			resp.Meta.ShortStatus = d.status
			resp.Meta.ShortFound = d.found
			resp.Meta.ShortFiltered = d.filtered
			resp.Meta.ShortFilterReasons = d.reasons
		}
	}

	count := 0
	sum := 0.0
	minConfidence := 1.0
	for _, list := range [][]*models.Product{resp.Long, resp.Short} {
		for _, p := range list {
			c := p.Provenance.ParserConfidence
			sum += c
			minConfidence = math.Min(minConfidence, c)
			count++
			if resp.UnderlyingName == resp.Underlying && p.Underlying.Name != "" {
				resp.UnderlyingName = p.Underlying.Name
			}
		}
	}
	if count > 0 {
		resp.Meta.AvgConfidence = sum / float64(count)
		resp.Meta.MinConfidence = minConfidence
	}
	resp.Meta.BreakerState = s.fetcher.BreakerState()
}

func (s *Service) newResponse(runID, underlying string, cfg models.FilterConfig) *models.SearchResponse {
	return &models.SearchResponse{
		Underlying:     underlying,
		UnderlyingName: underlying,
		AsOf:           time.Now().UTC(),
		Long:           make([]*models.Product, 0),
		Short:          make([]*models.Product, 0),
		Meta: models.SearchMeta{
			RunID:  runID,
			Errors: make([]string, 0),
		},
		Criteria: cfg,
	}
}

// errorResponse builds the response returned when the whole request fails.
func (s *Service) errorResponse(runID, underlying string, cfg models.FilterConfig, err error) *models.SearchResponse {
	s.logger.Error().
		Str("run_id", runID).
		Str("underlying", underlying).
		Err(err).
		Msg("Knockout search failed")

	resp := s.newResponse(runID, underlying, cfg)
	resp.Meta.LongStatus = models.StatusError
	resp.Meta.ShortStatus = models.StatusError
	resp.Meta.Errors = []string{err.Error()}
	if s.fetcher != nil {
		resp.Meta.BreakerState = s.fetcher.BreakerState()
	}
	return resp
}

// revalidate refreshes a stale key in the background. At most one refresh
// per key runs at a time.
func (s *Service) revalidate(key, underlying string, cfg models.FilterConfig) {
	s.refreshMu.Lock()
	if s.refreshing[key] || s.baseCtx.Err() != nil {
		s.refreshMu.Unlock()
		return
	}
	s.refreshing[key] = true
	s.refreshWG.Add(1)
	s.refreshMu.Unlock()

	common.SafeGo(s.logger, "cacheRevalidate", func() {
		defer func() {
			s.refreshMu.Lock()
			delete(s.refreshing, key)
			s.refreshMu.Unlock()
			s.refreshWG.Done()
		}()

		ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.RefreshTimeout)
		defer cancel()

		runID := common.NewRunID()
		resp := s.run(ctx, runID, underlying, cfg, nil)
		if resp.Meta.LongStatus == models.StatusOK && resp.Meta.ShortStatus == models.StatusOK {
			s.cache.Store(key, resp)
			s.logger.Debug().Str("key", key).Str("run_id", runID).Msg("Stale cache entry revalidated")
			return
		}
		s.logger.Warn().
			Str("key", key).
			Str("run_id", runID).
			Strs("errors", resp.Meta.Errors).
			Msg("Background revalidation failed, keeping stale entry")
	})
}

// ResetCircuitBreaker forces the fetcher's breaker back to CLOSED.
func (s *Service) ResetCircuitBreaker() {
	s.fetcher.ResetCircuitBreaker()
	s.logger.Info().Msg("Circuit breaker reset requested")
}

// ClearCache empties the response cache.
func (s *Service) ClearCache() int {
	return s.cache.Clear()
}

// BreakerState returns the fetcher's breaker state.
func (s *Service) BreakerState() string {
	return s.fetcher.BreakerState()
}

// Close cancels background refreshes and waits for them to finish.
func (s *Service) Close() {
	s.cancel()
	s.refreshWG.Wait()
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
