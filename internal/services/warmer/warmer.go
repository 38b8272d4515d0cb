package warmer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/common"
	"github.com/ternarybob/koscout/internal/interfaces"
	"github.com/ternarybob/koscout/internal/models"
)

// DefaultRunTimeout bounds one pass over the watch list.
const DefaultRunTimeout = 15 * time.Minute

// Stats summarises one warming pass.
type Stats struct {
	Underlyings int           `json:"underlyings"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	Duration    time.Duration `json:"duration"`
}

// Warmer refreshes cached searches for a watch list on a cron schedule.
type Warmer struct {
	service     interfaces.KnockoutService
	underlyings []string
	criteria    models.FilterConfig
	timeout     time.Duration
	cron        *cron.Cron
	window      *common.TradingWindow
	now         func() time.Time
	logger      arbor.ILogger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a warmer. Start must be called to schedule it.
func New(service interfaces.KnockoutService, underlyings []string, criteria models.FilterConfig, logger arbor.ILogger) *Warmer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Warmer{
		service:     service,
		underlyings: append([]string(nil), underlyings...),
		criteria:    criteria,
		timeout:     DefaultRunTimeout,
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		now:         time.Now,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetTradingWindow limits scheduled passes to the trading session. A nil
// window warms around the clock. Manual passes ignore it.
func (w *Warmer) SetTradingWindow(window *common.TradingWindow) {
	w.window = window
}

// Start begins the scheduled warming
func (w *Warmer) Start(schedule string) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return err
	}
	if len(w.underlyings) == 0 {
		return errors.New("warmer watch list is empty")
	}

	if _, err := w.cron.AddFunc(schedule, func() {
		w.scheduledRun(w.ctx)
	}); err != nil {
		return err
	}

	w.cron.Start()
	w.logger.Info().
		Str("schedule", schedule).
		Strs("underlyings", w.underlyings).
		Msg("Cache warmer started")
	return nil
}

// Stop stops the schedule, cancels an in-flight pass and waits for it.
func (w *Warmer) Stop() {
	w.cancel()
	<-w.cron.Stop().Done()
	w.logger.Info().Msg("Cache warmer stopped")
}

// RunNow triggers an immediate pass in the background
func (w *Warmer) RunNow() {
	w.logger.Info().Msg("Triggering immediate cache warm")
	common.SafeGo(w.logger, "cacheWarmer", func() {
		w.Run(w.ctx)
	})
}

// scheduledRun runs a pass unless the trading session is closed. It reports
// whether a pass ran.
func (w *Warmer) scheduledRun(ctx context.Context) bool {
	if w.window != nil {
		now := w.now()
		if !w.window.IsOpen(now) {
			w.logger.Debug().
				Str("next_open", w.window.NextOpen(now).Format(time.RFC3339)).
				Msg("Outside trading session, skipping cache warm")
			return false
		}
	}
	w.Run(ctx)
	return true
}

// Run refreshes every underlying on the watch list, one after another.
// Overlapping calls return immediately with empty stats.
func (w *Warmer) Run(ctx context.Context) Stats {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		w.logger.Debug().Msg("Cache warm already running, skipping")
		return Stats{}
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	startTime := time.Now()
	stats := Stats{Underlyings: len(w.underlyings)}

	for _, underlying := range w.underlyings {
		if ctx.Err() != nil {
			stats.Failed += stats.Underlyings - stats.Succeeded - stats.Failed
			break
		}

		resp := w.service.Search(ctx, underlying, w.criteria, nil, true)
		if resp.Meta.LongStatus == models.StatusOK && resp.Meta.ShortStatus == models.StatusOK {
			stats.Succeeded++
			continue
		}
		stats.Failed++
		w.logger.Warn().
			Str("underlying", underlying).
			Str("long_status", resp.Meta.LongStatus).
			Str("short_status", resp.Meta.ShortStatus).
			Strs("errors", resp.Meta.Errors).
			Msg("Cache warm failed for underlying")
	}

	stats.Duration = time.Since(startTime)
	w.logger.Info().
		Int("underlyings", stats.Underlyings).
		Int("succeeded", stats.Succeeded).
		Int("failed", stats.Failed).
		Dur("duration", stats.Duration).
		Msg("Cache warm completed")

	return stats
}
