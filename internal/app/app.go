package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/common"
	"github.com/ternarybob/koscout/internal/handlers"
	"github.com/ternarybob/koscout/internal/services/cache"
	"github.com/ternarybob/koscout/internal/services/fetcher"
	"github.com/ternarybob/koscout/internal/services/knockouts"
	"github.com/ternarybob/koscout/internal/services/normalizer"
	"github.com/ternarybob/koscout/internal/services/parser"
	"github.com/ternarybob/koscout/internal/services/ranking"
	"github.com/ternarybob/koscout/internal/services/warmer"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Pipeline services
	Fetcher         *fetcher.Fetcher
	Cache           *cache.Service
	KnockoutService *knockouts.Service

	// Cache warmer (nil unless [warmer] enabled)
	Warmer *warmer.Warmer

	// HTTP handlers
	KnockoutHandler *handlers.KnockoutHandler
}

// New initializes the application with all dependencies. Nothing touches the
// network until a search runs.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("fetcher_mode", cfg.Fetcher.Mode).
		Bool("warmer_enabled", cfg.Warmer.Enabled).
		Int("cache_max_entries", cfg.Search.CacheMaxEntries).
		Msg("Application initialization complete")

	return app, nil
}

// initServices builds the search pipeline bottom-up
func (a *App) initServices() error {
	var err error

	a.Fetcher, err = fetcher.New(FetcherConfig(a.Config), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create fetcher: %w", err)
	}

	urls, err := knockouts.NewURLBuilder(knockouts.URLConfig{
		Template:     a.Config.Search.URLTemplate,
		LongToken:    a.Config.Search.LongToken,
		ShortToken:   a.Config.Search.ShortToken,
		BrokerParam:  a.Config.Search.BrokerParam,
		FeatureParam: a.Config.Search.FeatureParam,
	})
	if err != nil {
		return fmt.Errorf("failed to create url builder: %w", err)
	}

	ranker, err := ranking.New(a.Config.Scoring, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create ranker: %w", err)
	}

	a.Cache = cache.NewService(
		a.Config.Search.CacheMaxEntries,
		common.Duration(a.Config.Search.CacheTTL, cache.DefaultTTL),
		nil,
		a.Logger,
	)

	defaults := knockouts.DefaultConfig()
	a.KnockoutService = knockouts.NewService(
		a.Fetcher,
		urls,
		parser.New(a.Logger),
		normalizer.New(a.Logger),
		ranker,
		a.Cache,
		knockouts.Config{
			DirectionPause: common.Duration(a.Config.Search.DirectionPause, defaults.DirectionPause),
			RefreshTimeout: common.Duration(a.Config.Search.RefreshTimeout, defaults.RefreshTimeout),
		},
		a.Logger,
	)

	if a.Config.Warmer.Enabled {
		a.Warmer = warmer.New(a.KnockoutService, a.Config.Warmer.Underlyings, a.Config.Filter, a.Logger)
		if a.Config.Warmer.TradingHoursOnly {
			window, err := a.Config.Warmer.TradingWindow()
			if err != nil {
				return fmt.Errorf("failed to build warmer trading window: %w", err)
			}
			a.Warmer.SetTradingWindow(window)
		}
	}

	return nil
}

func (a *App) initHandlers() {
	var cacheWarmer handlers.CacheWarmer
	if a.Warmer != nil {
		cacheWarmer = a.Warmer
	}
	a.KnockoutHandler = handlers.NewKnockoutHandler(a.KnockoutService, cacheWarmer, a.Config.Filter, a.Logger)
}

// StartBackground starts the cache warmer schedule, if configured.
func (a *App) StartBackground() error {
	if a.Warmer == nil {
		return nil
	}
	if err := a.Warmer.Start(a.Config.Warmer.Schedule); err != nil {
		return fmt.Errorf("failed to start cache warmer: %w", err)
	}
	return nil
}

// Close stops background work and releases the fetch session.
func (a *App) Close() error {
	if a.Warmer != nil {
		a.Warmer.Stop()
	}

	if a.KnockoutService != nil {
		a.KnockoutService.Close()
		a.Logger.Debug().Msg("Knockout service closed")
	}

	if a.Fetcher != nil {
		if err := a.Fetcher.Close(); err != nil {
			return fmt.Errorf("failed to close fetcher: %w", err)
		}
		a.Logger.Debug().Msg("Fetcher closed")
	}

	return nil
}

// FetcherConfig maps the [fetcher] section onto fetcher.Config.
func FetcherConfig(cfg *common.Config) fetcher.Config {
	d := fetcher.DefaultConfig()
	f := cfg.Fetcher
	return fetcher.Config{
		Mode:             f.Mode,
		BaseURL:          f.BaseURL,
		WarmupPaths:      append([]string(nil), f.WarmupPaths...),
		UserAgent:        f.UserAgent,
		AcceptLanguage:   f.AcceptLanguage,
		RequestTimeout:   common.Duration(f.RequestTimeout, d.RequestTimeout),
		MinDelay:         common.Duration(f.MinDelay, d.MinDelay),
		MaxAttempts:      f.MaxAttempts,
		BackoffBase:      f.BackoffBase,
		BackoffUnit:      common.Duration(f.BackoffUnit, d.BackoffUnit),
		BackoffJitter:    common.Duration(f.BackoffJitter, d.BackoffJitter),
		BackoffFloor:     common.Duration(f.BackoffFloor, d.BackoffFloor),
		BreakerThreshold: f.BreakerThreshold,
		BreakerCooldown:  common.Duration(f.BreakerCooldown, d.BreakerCooldown),
		BrowserHeadless:  f.BrowserHeadless,
		BrowserWait:      common.Duration(f.BrowserWait, d.BrowserWait),
	}
}
