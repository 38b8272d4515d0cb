package warmer

import (
	"context"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/common"
	"github.com/ternarybob/koscout/internal/models"
)

type searchCall struct {
	underlying   string
	forceRefresh bool
	price        *float64
}

type fakeService struct {
	mu      sync.Mutex
	calls   []searchCall
	failing map[string]bool
	block   chan struct{}
}

func (f *fakeService) Search(ctx context.Context, underlying string, cfg models.FilterConfig, price *float64, forceRefresh bool) *models.SearchResponse {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, searchCall{underlying: underlying, forceRefresh: forceRefresh, price: price})

	status := models.StatusOK
	if f.failing[underlying] {
		status = models.StatusFetchFailed
	}
	return &models.SearchResponse{
		Underlying: underlying,
		Meta:       models.SearchMeta{LongStatus: status, ShortStatus: models.StatusOK},
	}
}

func (f *fakeService) ResetCircuitBreaker() {}
func (f *fakeService) ClearCache() int      { return 0 }
func (f *fakeService) BreakerState() string { return "closed" }

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func criteria() models.FilterConfig {
	return models.FilterConfig{MinLeverage: 5, MaxSpreadPct: 2, TopN: 3, Issuers: []string{"Vontobel"}}
}

func TestRun_RefreshesWatchList(t *testing.T) {
	svc := &fakeService{failing: map[string]bool{"Gold": true}}
	w := New(svc, []string{"DAX", "Gold", "Nasdaq 100"}, criteria(), arbor.NewLogger())

	stats := w.Run(context.Background())

	assert.Equal(t, 3, stats.Underlyings)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 1, stats.Failed)

	require.Len(t, svc.calls, 3)
	for i, want := range []string{"DAX", "Gold", "Nasdaq 100"} {
		assert.Equal(t, want, svc.calls[i].underlying)
		assert.True(t, svc.calls[i].forceRefresh)
		assert.Nil(t, svc.calls[i].price)
	}
}

func TestRun_CancelledContextStops(t *testing.T) {
	svc := &fakeService{}
	w := New(svc, []string{"DAX", "Gold"}, criteria(), arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats := w.Run(ctx)

	assert.Equal(t, 0, svc.callCount())
	assert.Equal(t, 2, stats.Failed)
}

func TestRun_SkipsOverlappingPass(t *testing.T) {
	svc := &fakeService{block: make(chan struct{})}
	w := New(svc, []string{"DAX"}, criteria(), arbor.NewLogger())

	done := make(chan Stats)
	go func() { done <- w.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.running
	}, time.Second, 5*time.Millisecond)

	skipped := w.Run(context.Background())
	assert.Equal(t, Stats{}, skipped)

	close(svc.block)
	first := <-done
	assert.Equal(t, 1, first.Succeeded)
	assert.Equal(t, 1, svc.callCount())
}

func TestStart_ValidatesSchedule(t *testing.T) {
	w := New(&fakeService{}, []string{"DAX"}, criteria(), arbor.NewLogger())
	assert.Error(t, w.Start("* * * * *"))
	assert.Error(t, w.Start("nonsense"))

	empty := New(&fakeService{}, nil, criteria(), arbor.NewLogger())
	assert.Error(t, empty.Start("*/15 * * * *"))
}

func TestStartStop(t *testing.T) {
	w := New(&fakeService{}, []string{"DAX"}, criteria(), arbor.NewLogger())
	require.NoError(t, w.Start("*/30 * * * *"))
	w.Stop()
	assert.Error(t, w.ctx.Err())
}

func TestRunNow(t *testing.T) {
	svc := &fakeService{}
	w := New(svc, []string{"DAX", "Gold"}, criteria(), arbor.NewLogger())

	w.RunNow()

	assert.Eventually(t, func() bool {
		return svc.callCount() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduledRun_RespectsTradingWindow(t *testing.T) {
	window, err := common.NewTradingWindow("Europe/Berlin", "08:00", "22:00", nil)
	require.NoError(t, err)

	svc := &fakeService{}
	w := New(svc, []string{"DAX"}, criteria(), arbor.NewLogger())
	w.SetTradingWindow(window)

	// Saturday noon in Berlin
	w.now = func() time.Time { return time.Date(2025, 12, 20, 11, 0, 0, 0, time.UTC) }
	assert.False(t, w.scheduledRun(context.Background()))
	assert.Equal(t, 0, svc.callCount())

	// Monday noon in Berlin
	w.now = func() time.Time { return time.Date(2025, 12, 22, 11, 0, 0, 0, time.UTC) }
	assert.True(t, w.scheduledRun(context.Background()))
	assert.Equal(t, 1, svc.callCount())
}

func TestScheduledRun_NoWindow(t *testing.T) {
	svc := &fakeService{}
	w := New(svc, []string{"DAX"}, criteria(), arbor.NewLogger())
	w.now = func() time.Time { return time.Date(2025, 12, 20, 11, 0, 0, 0, time.UTC) }

	assert.True(t, w.scheduledRun(context.Background()))
	assert.Equal(t, 1, svc.callCount())
}
