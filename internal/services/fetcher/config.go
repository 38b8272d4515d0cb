package fetcher

import (
	"fmt"
	"time"
)

// Fetch strategies.
const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
)

// Config holds fetcher tuning. Zero values are replaced by DefaultConfig
// values in New.
type Config struct {
	Mode string

	// BaseURL is the site landing page used for the cookie warm-up.
	BaseURL string
	// WarmupPaths are category pages visited after the landing page.
	WarmupPaths []string

	UserAgent      string
	AcceptLanguage string
	RequestTimeout time.Duration
	MaxBodySize    int64

	// MinDelay is the minimum gap between any two requests to the origin.
	MinDelay time.Duration

	MaxAttempts   int
	BackoffBase   float64
	BackoffUnit   time.Duration
	BackoffJitter time.Duration
	BackoffFloor  time.Duration

	BreakerThreshold uint32
	BreakerCooldown  time.Duration

	BrowserHeadless bool
	BrowserWait     time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Mode:             ModeHTTP,
		UserAgent:        "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		AcceptLanguage:   "de-DE,de;q=0.9,en-US;q=0.8,en;q=0.7",
		RequestTimeout:   30 * time.Second,
		MaxBodySize:      10 * 1024 * 1024,
		MinDelay:         2 * time.Second,
		MaxAttempts:      3,
		BackoffBase:      2.0,
		BackoffUnit:      time.Second,
		BackoffJitter:    500 * time.Millisecond,
		BackoffFloor:     250 * time.Millisecond,
		BreakerThreshold: 5,
		BreakerCooldown:  5 * time.Minute,
		BrowserHeadless:  true,
		BrowserWait:      3 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	if c.AcceptLanguage == "" {
		c.AcceptLanguage = d.AcceptLanguage
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = d.MaxBodySize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = d.BackoffUnit
	}
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = d.BackoffFloor
	}
	if c.BreakerThreshold == 0 {
		c.BreakerThreshold = d.BreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = d.BreakerCooldown
	}
	if c.BrowserWait < 0 {
		c.BrowserWait = 0
	}
	return c
}

// Validate rejects unknown modes.
func (c Config) Validate() error {
	switch c.Mode {
	case "", ModeHTTP, ModeBrowser:
		return nil
	}
	return fmt.Errorf("unknown fetcher mode %q (expected %q or %q)", c.Mode, ModeHTTP, ModeBrowser)
}
