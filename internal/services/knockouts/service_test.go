package knockouts

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/models"
	"github.com/ternarybob/koscout/internal/services/cache"
	"github.com/ternarybob/koscout/internal/services/filter"
	"github.com/ternarybob/koscout/internal/services/normalizer"
	"github.com/ternarybob/koscout/internal/services/parser"
	"github.com/ternarybob/koscout/internal/services/ranking"
)

// mockFetcher serves canned results keyed by direction token.
type mockFetcher struct {
	mu      sync.Mutex
	results map[string]models.FetchResult
	calls   []string
	state   string
	resets  int
}

func newMockFetcher(longBody, shortBody string) *mockFetcher {
	return &mockFetcher{
		results: map[string]models.FetchResult{
			"long":  {Success: true, StatusCode: 200, Body: longBody, Latency: 5 * time.Millisecond},
			"short": {Success: true, StatusCode: 200, Body: shortBody, Latency: 7 * time.Millisecond},
		},
		state: "closed",
	}
}

func (m *mockFetcher) set(direction string, result models.FetchResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[direction] = result
}

func (m *mockFetcher) Fetch(ctx context.Context, rawURL string) models.FetchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, rawURL)

	direction := "short"
	if strings.Contains(rawURL, "richtung=long") {
		direction = "long"
	}
	result := m.results[direction]
	result.URL = rawURL
	result.Attempts = 1
	return result
}

func (m *mockFetcher) ResetCircuitBreaker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.state = "closed"
}

func (m *mockFetcher) BreakerState() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *mockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type panickingURLBuilder struct{}

func (panickingURLBuilder) Build(string, models.FilterConfig) (string, string, error) {
	panic("template exploded")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type row struct {
	wkn, issuer, leverage, spread, bid, ask, barrier string
}

func listingPage(rows []row) string {
	var b strings.Builder
	b.WriteString(`<html><body><table id="knockout-results"><thead><tr>`)
	b.WriteString(`<th>WKN</th><th>Emittent</th><th>Hebel</th><th>Spread in %</th><th>Geld</th><th>Brief</th><th>KO-Schwelle</th><th>Basiswert</th>`)
	b.WriteString(`</tr></thead><tbody>`)
	for _, r := range rows {
		b.WriteString("<tr>")
		for _, cell := range []string{r.wkn, r.issuer, r.leverage, r.spread, r.bid, r.ask, r.barrier, "DAX Performance Index"} {
			b.WriteString("<td>" + cell + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func longPage() string {
	return listingPage([]row{
		{"LG0001", "Bank A", "10,00", "0,50 %", "1,00", "1,01", "90,00"},
		{"LG0002", "Bank A", "3,00", "0,40 %", "3,00", "3,01", "70,00"},
		{"LG0003", "Bank B", "12,00", "1,50 %", "0,80", "0,81", "92,00"},
		{"LG0004", "Bank A", "8,00", "0,20 %", "1,20", "1,21", "88,00"},
		{"LG0005", "Bank B", "15,00", "1,00 %", "0,60", "0,61", "94,00"},
	})
}

func shortPage() string {
	return listingPage([]row{
		{"SH0001", "Bank A", "10,00", "0,50 %", "1,00", "1,01", "110,00"},
		{"SH0002", "Bank A", "12,00", "3,00 %", "0,80", "0,82", "108,00"},
		{"SH0003", "Bank B", "6,00", "0,30 %", "1,60", "1,61", "115,00"},
		{"SH0004", "Bank Z", "9,00", "0,30 %", "1,10", "1,11", "111,00"},
		{"SH0005", "Bank A", "9,00", "0,60 %", "1,10", "1,11", "112,00"},
	})
}

func scenarioConfig(t *testing.T) models.FilterConfig {
	t.Helper()
	cfg, err := models.NewFilterConfig(5, 2.0, 0, 3, []string{"Bank A", "Bank B"})
	require.NoError(t, err)
	return cfg
}

type testEnv struct {
	svc     *Service
	fetcher *mockFetcher
	cache   *cache.Service
	clock   *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := arbor.NewLogger()

	urls, err := NewURLBuilder(DefaultURLConfig())
	require.NoError(t, err)
	ranker, err := ranking.New(models.DefaultScoringParams(), logger)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	responses := cache.NewService(16, time.Minute, clock.Now, logger)
	fetcher := newMockFetcher(longPage(), shortPage())

	svc := NewService(
		fetcher,
		urls,
		parser.New(logger),
		normalizer.New(logger),
		ranker,
		responses,
		Config{DirectionPause: 0, RefreshTimeout: 5 * time.Second},
		logger,
	)
	t.Cleanup(svc.Close)

	return &testEnv{svc: svc, fetcher: fetcher, cache: responses, clock: clock}
}

func TestSearch_EndToEnd(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)
	price := 100.0

	resp := env.svc.Search(context.Background(), "DAX", cfg, &price, false)
	require.NotNil(t, resp)

	assert.Equal(t, models.StatusOK, resp.Meta.LongStatus)
	assert.Equal(t, models.StatusOK, resp.Meta.ShortStatus)
	assert.Empty(t, resp.Meta.Errors)
	assert.True(t, strings.HasPrefix(resp.Meta.RunID, "run_"))
	assert.Equal(t, int64(12), resp.Meta.FetchLatencyMs)
	assert.False(t, resp.Meta.CacheHit)
	assert.Equal(t, "closed", resp.Meta.BreakerState)
	assert.Equal(t, "DAX", resp.Underlying)
	assert.Equal(t, "DAX Performance Index", resp.UnderlyingName)
	assert.Equal(t, cfg, resp.Criteria)

	assert.Equal(t, 5, resp.Meta.LongFound)
	assert.Equal(t, 5, resp.Meta.ShortFound)
	assert.Equal(t, 1, resp.Meta.LongFiltered)
	assert.Equal(t, 2, resp.Meta.ShortFiltered)
	assert.Equal(t, map[string]int{filter.ReasonLeverageBelowMin: 1}, resp.Meta.LongFilterReasons)
	assert.Equal(t, map[string]int{filter.ReasonSpreadAboveMax: 1, filter.ReasonIssuerNotAllowed: 1}, resp.Meta.ShortFilterReasons)

	require.Len(t, resp.Long, 3)
	require.Len(t, resp.Short, 3)

	hardFilter, err := filter.New(cfg, arbor.NewLogger())
	require.NoError(t, err)

	for _, list := range [][]*models.Product{resp.Long, resp.Short} {
		for i, p := range list {
			reason, ok := hardFilter.Check(p)
			assert.True(t, ok, "%s rejected with %s", p.ID, reason)
			require.NotNil(t, p.Score)
			require.NotNil(t, p.ScoreDetails)
			assert.Equal(t, "DAX", p.Underlying.Symbol)
			require.NotNil(t, p.Underlying.Price)
			assert.Equal(t, price, *p.Underlying.Price)
			require.NotNil(t, p.DistanceToBarrierPct)
			if i > 0 {
				assert.GreaterOrEqual(t, *list[i-1].Score, *p.Score)
			}
		}
	}

	for _, p := range resp.Long {
		assert.Equal(t, models.DirectionLong, p.Direction)
	}
	for _, p := range resp.Short {
		assert.Equal(t, models.DirectionShort, p.Direction)
	}

	assert.InDelta(t, 1.0, resp.Meta.AvgConfidence, 1e-9)
	assert.InDelta(t, 1.0, resp.Meta.MinConfidence, 1e-9)
	assert.Equal(t, 2, env.fetcher.callCount())
}

func TestSearch_CacheHit(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)

	first := env.svc.Search(context.Background(), "DAX", cfg, nil, false)
	require.Equal(t, models.StatusOK, first.Meta.LongStatus)
	assert.Equal(t, 1, env.cache.Len())

	env.clock.Advance(10 * time.Second)
	second := env.svc.Search(context.Background(), "DAX", cfg, nil, false)

	assert.Equal(t, 2, env.fetcher.callCount())
	assert.True(t, second.Meta.CacheHit)
	assert.False(t, second.Meta.CacheStale)
	assert.InDelta(t, 10.0, second.Meta.CacheAgeSeconds, 1e-9)
	assert.Equal(t, first.Meta.RunID, second.Meta.RunID)
	assert.Len(t, second.Long, len(first.Long))

	// Mutating a cached copy must not leak into the cache.
	second.Long[0].ID = "MUTATED"
	third := env.svc.Search(context.Background(), "DAX", cfg, nil, false)
	assert.NotEqual(t, "MUTATED", third.Long[0].ID)
}

func TestSearch_CachedResponseAppliesNewPrice(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)
	price := 100.0

	first := env.svc.Search(context.Background(), "DAX", cfg, &price, false)
	require.NotEmpty(t, first.Long)
	id := first.Long[0].ID

	newPrice := 110.0
	second := env.svc.Search(context.Background(), "DAX", cfg, &newPrice, false)
	require.True(t, second.Meta.CacheHit)

	var found *models.Product
	for _, p := range second.Long {
		if p.ID == id {
			found = p
		}
	}
	require.NotNil(t, found)
	require.NotNil(t, found.DistanceToBarrierPct)
	want := found.ComputeDistancePct(newPrice)
	require.NotNil(t, want)
	assert.InDelta(t, *want, *found.DistanceToBarrierPct, 1e-9)
	assert.Greater(t, *found.DistanceToBarrierPct, *first.Long[0].DistanceToBarrierPct)
}

func TestSearch_ForceRefreshBypassesCache(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)

	env.svc.Search(context.Background(), "DAX", cfg, nil, false)
	resp := env.svc.Search(context.Background(), "DAX", cfg, nil, true)

	assert.False(t, resp.Meta.CacheHit)
	assert.Equal(t, 4, env.fetcher.callCount())
}

func TestSearch_DifferentCriteriaMiss(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)

	env.svc.Search(context.Background(), "DAX", cfg, nil, false)

	other := cfg
	other.MinLeverage = 9
	resp := env.svc.Search(context.Background(), "DAX", other, nil, false)

	assert.False(t, resp.Meta.CacheHit)
	assert.Equal(t, 4, env.fetcher.callCount())
	assert.Equal(t, 2, env.cache.Len())
}

func TestSearch_StaleEntryRevalidatesInBackground(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)

	env.svc.Search(context.Background(), "DAX", cfg, nil, false)
	env.clock.Advance(90 * time.Second)

	stale := env.svc.Search(context.Background(), "DAX", cfg, nil, false)
	assert.True(t, stale.Meta.CacheHit)
	assert.True(t, stale.Meta.CacheStale)

	assert.Eventually(t, func() bool {
		return env.fetcher.callCount() == 4
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		key := cache.Key("DAX", cache.ScopeBoth, cfg)
		_, _, isStale, ok := env.cache.Lookup(key)
		return ok && !isStale
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSearch_ExpiredEntryRefetches(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)

	env.svc.Search(context.Background(), "DAX", cfg, nil, false)
	env.clock.Advance(3 * time.Minute)

	resp := env.svc.Search(context.Background(), "DAX", cfg, nil, false)
	assert.False(t, resp.Meta.CacheHit)
	assert.Equal(t, 4, env.fetcher.callCount())
}

func TestSearch_OneDirectionFails(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)
	env.fetcher.set("short", models.FetchResult{Success: false, StatusCode: 503, Error: "HTTP 503"})

	resp := env.svc.Search(context.Background(), "DAX", cfg, nil, false)

	assert.Equal(t, models.StatusOK, resp.Meta.LongStatus)
	assert.Equal(t, models.StatusFetchFailed, resp.Meta.ShortStatus)
	assert.NotEmpty(t, resp.Long)
	assert.Empty(t, resp.Short)
	require.Len(t, resp.Meta.Errors, 1)
	assert.Contains(t, resp.Meta.Errors[0], "short")

	// Partial results are not cached.
	assert.Equal(t, 0, env.cache.Len())
}

func TestSearch_CircuitOpen(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)
	open := models.FetchResult{Success: false, CircuitOpen: true, Error: "circuit breaker is open"}
	env.fetcher.set("long", open)
	env.fetcher.set("short", open)
	env.fetcher.state = "open"

	resp := env.svc.Search(context.Background(), "DAX", cfg, nil, false)

	assert.Equal(t, models.StatusCircuitOpen, resp.Meta.LongStatus)
	assert.Equal(t, models.StatusCircuitOpen, resp.Meta.ShortStatus)
	assert.Equal(t, "open", resp.Meta.BreakerState)
	assert.Len(t, resp.Meta.Errors, 2)
	assert.NotNil(t, resp.Long)
	assert.NotNil(t, resp.Short)

	env.svc.ResetCircuitBreaker()
	assert.Equal(t, "closed", env.svc.BreakerState())
	assert.Equal(t, 1, env.fetcher.resets)
}

func TestSearch_ParseFailure(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)
	env.fetcher.set("long", models.FetchResult{Success: true, StatusCode: 200, Body: "<html><body><p>Wartungsarbeiten</p></body></html>"})

	resp := env.svc.Search(context.Background(), "DAX", cfg, nil, false)

	assert.Equal(t, models.StatusParseFailed, resp.Meta.LongStatus)
	assert.Equal(t, models.StatusOK, resp.Meta.ShortStatus)
	assert.Empty(t, resp.Long)
	assert.NotEmpty(t, resp.Short)
	require.Len(t, resp.Meta.Errors, 1)
	assert.Contains(t, resp.Meta.Errors[0], "parse failed")
}

func TestSearch_EmptyTableIsOK(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)
	env.fetcher.set("long", models.FetchResult{Success: true, StatusCode: 200, Body: listingPage(nil)})

	resp := env.svc.Search(context.Background(), "DAX", cfg, nil, false)

	assert.Equal(t, models.StatusOK, resp.Meta.LongStatus)
	assert.Empty(t, resp.Long)
	assert.Equal(t, 0, resp.Meta.LongFound)
}

func TestSearch_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	cfg := scenarioConfig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp := env.svc.Search(ctx, "DAX", cfg, nil, false)

	assert.Equal(t, models.StatusCancelled, resp.Meta.LongStatus)
	assert.Equal(t, models.StatusCancelled, resp.Meta.ShortStatus)
	assert.Equal(t, 0, env.fetcher.callCount())
	assert.NotEmpty(t, resp.Meta.Errors)
	assert.Equal(t, 0, env.cache.Len())
}

func TestSearch_InvalidInput(t *testing.T) {
	env := newTestEnv(t)

	bad := scenarioConfig(t)
	bad.TopN = 0
	resp := env.svc.Search(context.Background(), "DAX", bad, nil, false)
	assert.Equal(t, models.StatusError, resp.Meta.LongStatus)
	assert.Equal(t, models.StatusError, resp.Meta.ShortStatus)
	require.Len(t, resp.Meta.Errors, 1)

	resp = env.svc.Search(context.Background(), "   ", scenarioConfig(t), nil, false)
	assert.Equal(t, models.StatusError, resp.Meta.LongStatus)

	assert.Equal(t, 0, env.fetcher.callCount())
}

func TestSearch_PanicBecomesErrorResponse(t *testing.T) {
	env := newTestEnv(t)
	env.svc.urls = panickingURLBuilder{}

	var resp *models.SearchResponse
	require.NotPanics(t, func() {
		resp = env.svc.Search(context.Background(), "DAX", scenarioConfig(t), nil, false)
	})

	require.NotNil(t, resp)
	assert.Equal(t, models.StatusError, resp.Meta.LongStatus)
	assert.Equal(t, models.StatusError, resp.Meta.ShortStatus)
	require.Len(t, resp.Meta.Errors, 1)
	assert.Contains(t, resp.Meta.Errors[0], "template exploded")
	assert.NotNil(t, resp.Long)
}

func TestService_ClearCache(t *testing.T) {
	env := newTestEnv(t)
	env.svc.Search(context.Background(), "DAX", scenarioConfig(t), nil, false)

	assert.Equal(t, 1, env.svc.ClearCache())
	assert.Equal(t, 0, env.cache.Len())
}
