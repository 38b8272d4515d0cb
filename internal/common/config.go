package common

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"

	"github.com/ternarybob/koscout/internal/models"
)

// Config represents the application configuration
type Config struct {
	Environment string               `toml:"environment"` // "development" or "production"
	Server      ServerConfig         `toml:"server"`
	Logging     LoggingConfig        `toml:"logging"`
	Fetcher     FetcherConfig        `toml:"fetcher"`
	Search      SearchConfig         `toml:"search"`
	Filter      models.FilterConfig  `toml:"filter"`  // Default criteria when a request omits them
	Scoring     models.ScoringParams `toml:"scoring"` // Ranking formula parameters
	Warmer      WarmerConfig         `toml:"warmer"`
}

type ServerConfig struct {
	Port      int     `toml:"port"`
	Host      string  `toml:"host"`
	RateLimit float64 `toml:"rate_limit"` // Inbound requests per second, 0 disables limiting
	RateBurst int     `toml:"rate_burst"`
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// FetcherConfig controls how listing pages are retrieved from the origin.
// Durations are Go duration strings ("2s", "5m").
type FetcherConfig struct {
	Mode             string   `toml:"mode"` // "http" or "browser"
	BaseURL          string   `toml:"base_url"`
	WarmupPaths      []string `toml:"warmup_paths"`
	UserAgent        string   `toml:"user_agent"`
	AcceptLanguage   string   `toml:"accept_language"`
	MinDelay         string   `toml:"min_delay"`
	RequestTimeout   string   `toml:"request_timeout"`
	MaxAttempts      int      `toml:"max_attempts"`
	BackoffBase      float64  `toml:"backoff_base"`
	BackoffUnit      string   `toml:"backoff_unit"`
	BackoffJitter    string   `toml:"backoff_jitter"`
	BackoffFloor     string   `toml:"backoff_floor"`
	BreakerThreshold uint32   `toml:"breaker_threshold"`
	BreakerCooldown  string   `toml:"breaker_cooldown"`
	BrowserHeadless  bool     `toml:"browser_headless"`
	BrowserWait      string   `toml:"browser_wait"`
}

// SearchConfig contains URL construction, pacing and cache settings
type SearchConfig struct {
	URLTemplate     string `toml:"url_template"` // Must contain {underlying} and {direction}
	LongToken       string `toml:"long_token"`
	ShortToken      string `toml:"short_token"`
	BrokerParam     string `toml:"broker_param"`
	FeatureParam    string `toml:"feature_param"`
	DirectionPause  string `toml:"direction_pause"`
	RefreshTimeout  string `toml:"refresh_timeout"`
	CacheTTL        string `toml:"cache_ttl"`
	CacheMaxEntries int    `toml:"cache_max_entries"`
}

// WarmerConfig schedules background refreshes for a watch list
type WarmerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Schedule    string   `toml:"schedule"` // Standard 5-field cron expression
	Underlyings []string `toml:"underlyings"`

	// Skip passes outside the venue's trading session
	TradingHoursOnly bool     `toml:"trading_hours_only"`
	Timezone         string   `toml:"timezone"`
	SessionOpen      string   `toml:"session_open"`  // "HH:MM" venue time
	SessionClose     string   `toml:"session_close"` // "HH:MM" venue time
	Holidays         []string `toml:"holidays"`      // "2006-01-02"
}

// TradingWindow builds the warmer's session window.
func (w WarmerConfig) TradingWindow() (*TradingWindow, error) {
	return NewTradingWindow(w.Timezone, w.SessionOpen, w.SessionClose, w.Holidays)
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:      8080,
			Host:      "localhost",
			RateLimit: 5,
			RateBurst: 10,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05",
		},
		Fetcher: FetcherConfig{
			Mode:             "http",
			BaseURL:          "https://derivate.example.com/",
			WarmupPaths:      []string{"/knock-outs"},
			UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			AcceptLanguage:   "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7",
			MinDelay:         "2s",
			RequestTimeout:   "30s",
			MaxAttempts:      3,
			BackoffBase:      2.0,
			BackoffUnit:      "1s",
			BackoffJitter:    "500ms",
			BackoffFloor:     "250ms",
			BreakerThreshold: 5,
			BreakerCooldown:  "5m",
			BrowserHeadless:  true,
			BrowserWait:      "3s",
		},
		Search: SearchConfig{
			URLTemplate:     "https://derivate.example.com/knock-outs/{underlying}?richtung={direction}",
			LongToken:       "long",
			ShortToken:      "short",
			BrokerParam:     "broker",
			FeatureParam:    "merkmal",
			DirectionPause:  "3s",
			RefreshTimeout:  "2m",
			CacheTTL:        "5m",
			CacheMaxEntries: 256,
		},
		Filter: models.FilterConfig{
			MinLeverage:    5,
			MaxSpreadPct:   2.0,
			MinDistancePct: 2.0,
			TopN:           10,
			Issuers:        []string{"Société Générale", "Vontobel", "HSBC", "UBS", "Morgan Stanley", "BNP Paribas", "DZ Bank"},
		},
		Scoring: models.DefaultScoringParams(),
		Warmer: WarmerConfig{
			Enabled:     false,
			Schedule:    "*/15 * * * *",
			Underlyings: []string{"DAX"},

			TradingHoursOnly: true,
			Timezone:         "Europe/Berlin",
			SessionOpen:      "08:00",
			SessionClose:     "22:00",
		},
	}
}

// LoadFromFile loads configuration with priority: default -> file -> env
func LoadFromFile(path string) (*Config, error) {
	return LoadFromFiles(path)
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env.
// Later files override earlier files. CLI flags are applied afterwards by the caller.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies KOSCOUT_* environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("KOSCOUT_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("KOSCOUT_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("KOSCOUT_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if limit := os.Getenv("KOSCOUT_SERVER_RATE_LIMIT"); limit != "" {
		if l, err := strconv.ParseFloat(limit, 64); err == nil {
			config.Server.RateLimit = l
		}
	}

	// Logging configuration
	if level := os.Getenv("KOSCOUT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("KOSCOUT_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("KOSCOUT_LOG_OUTPUT"); output != "" {
		if outputs := splitList(output); len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Fetcher configuration
	if mode := os.Getenv("KOSCOUT_FETCHER_MODE"); mode != "" {
		config.Fetcher.Mode = mode
	}
	if baseURL := os.Getenv("KOSCOUT_FETCHER_BASE_URL"); baseURL != "" {
		config.Fetcher.BaseURL = baseURL
	}
	if userAgent := os.Getenv("KOSCOUT_FETCHER_USER_AGENT"); userAgent != "" {
		config.Fetcher.UserAgent = userAgent
	}
	if minDelay := os.Getenv("KOSCOUT_FETCHER_MIN_DELAY"); minDelay != "" {
		config.Fetcher.MinDelay = minDelay
	}
	if maxAttempts := os.Getenv("KOSCOUT_FETCHER_MAX_ATTEMPTS"); maxAttempts != "" {
		if n, err := strconv.Atoi(maxAttempts); err == nil {
			config.Fetcher.MaxAttempts = n
		}
	}
	if threshold := os.Getenv("KOSCOUT_FETCHER_BREAKER_THRESHOLD"); threshold != "" {
		if n, err := strconv.ParseUint(threshold, 10, 32); err == nil {
			config.Fetcher.BreakerThreshold = uint32(n)
		}
	}
	if cooldown := os.Getenv("KOSCOUT_FETCHER_BREAKER_COOLDOWN"); cooldown != "" {
		config.Fetcher.BreakerCooldown = cooldown
	}
	if headless := os.Getenv("KOSCOUT_FETCHER_BROWSER_HEADLESS"); headless != "" {
		if b, err := strconv.ParseBool(headless); err == nil {
			config.Fetcher.BrowserHeadless = b
		}
	}

	// Search configuration
	if template := os.Getenv("KOSCOUT_SEARCH_URL_TEMPLATE"); template != "" {
		config.Search.URLTemplate = template
	}
	if ttl := os.Getenv("KOSCOUT_SEARCH_CACHE_TTL"); ttl != "" {
		config.Search.CacheTTL = ttl
	}

	// Filter defaults
	if issuers := os.Getenv("KOSCOUT_FILTER_ISSUERS"); issuers != "" {
		if list := splitList(issuers); len(list) > 0 {
			config.Filter.Issuers = list
		}
	}

	// Warmer configuration
	if enabled := os.Getenv("KOSCOUT_WARMER_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Warmer.Enabled = b
		}
	}
	if schedule := os.Getenv("KOSCOUT_WARMER_SCHEDULE"); schedule != "" {
		config.Warmer.Schedule = schedule
	}
	if underlyings := os.Getenv("KOSCOUT_WARMER_UNDERLYINGS"); underlyings != "" {
		config.Warmer.Underlyings = splitList(underlyings)
	}
	if tradingOnly := os.Getenv("KOSCOUT_WARMER_TRADING_HOURS_ONLY"); tradingOnly != "" {
		if b, err := strconv.ParseBool(tradingOnly); err == nil {
			config.Warmer.TradingHoursOnly = b
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks every section. Invalid durations, criteria or schedules
// fail here, before any component is built.
func (c *Config) Validate() error {
	var errs []error

	durations := map[string]string{
		"fetcher.min_delay":        c.Fetcher.MinDelay,
		"fetcher.request_timeout":  c.Fetcher.RequestTimeout,
		"fetcher.backoff_unit":     c.Fetcher.BackoffUnit,
		"fetcher.backoff_jitter":   c.Fetcher.BackoffJitter,
		"fetcher.backoff_floor":    c.Fetcher.BackoffFloor,
		"fetcher.breaker_cooldown": c.Fetcher.BreakerCooldown,
		"fetcher.browser_wait":     c.Fetcher.BrowserWait,
		"search.direction_pause":   c.Search.DirectionPause,
		"search.refresh_timeout":   c.Search.RefreshTimeout,
		"search.cache_ttl":         c.Search.CacheTTL,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, value))
		}
	}

	switch c.Fetcher.Mode {
	case "", "http", "browser":
	default:
		errs = append(errs, fmt.Errorf("fetcher.mode: unknown mode %q", c.Fetcher.Mode))
	}

	if c.Search.CacheMaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("search.cache_max_entries: must be positive, got %d", c.Search.CacheMaxEntries))
	}
	if err := c.Filter.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("filter: %w", err))
	}
	if err := c.Scoring.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}
	if c.Warmer.Enabled {
		if err := ValidateSchedule(c.Warmer.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("warmer.schedule: %w", err))
		}
		if len(c.Warmer.Underlyings) == 0 {
			errs = append(errs, errors.New("warmer.underlyings: empty watch list"))
		}
		if c.Warmer.TradingHoursOnly {
			if _, err := c.Warmer.TradingWindow(); err != nil {
				errs = append(errs, fmt.Errorf("warmer: %w", err))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Duration parses a config duration string, returning fallback when empty or invalid.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// ValidateSchedule validates a cron schedule expression and ensures a minimum 5-minute interval
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	parts := strings.Fields(schedule)
	if len(parts) < 5 {
		return fmt.Errorf("invalid cron format: expected 5 fields")
	}

	minuteField := parts[0]
	if minuteField == "*" {
		return fmt.Errorf("schedule must have minimum 5-minute interval (every minute is not allowed)")
	}
	if strings.HasPrefix(minuteField, "*/") {
		interval, err := strconv.Atoi(strings.TrimPrefix(minuteField, "*/"))
		if err == nil && interval < 5 {
			return fmt.Errorf("schedule interval must be at least 5 minutes, got %d", interval)
		}
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// DeepCloneConfig creates a deep copy of the Config struct
func DeepCloneConfig(c *Config) *Config {
	if c == nil {
		return nil
	}

	clone := *c
	clone.Logging.Output = append([]string(nil), c.Logging.Output...)
	clone.Fetcher.WarmupPaths = append([]string(nil), c.Fetcher.WarmupPaths...)
	clone.Filter.Issuers = append([]string(nil), c.Filter.Issuers...)
	clone.Filter.Features = append([]string(nil), c.Filter.Features...)
	clone.Warmer.Underlyings = append([]string(nil), c.Warmer.Underlyings...)
	clone.Warmer.Holidays = append([]string(nil), c.Warmer.Holidays...)
	return &clone
}
