package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidFilterConfig wraps every FilterConfig validation failure.
var ErrInvalidFilterConfig = errors.New("invalid filter config")

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// structValidator returns the package-wide validator instance.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// FilterConfig holds the hard constraints a product must satisfy.
// Build it with NewFilterConfig so invalid bounds fail before any I/O.
type FilterConfig struct {
	MinLeverage    float64  `json:"min_leverage" toml:"min_leverage" validate:"gte=0"`
	MaxSpreadPct   float64  `json:"max_spread_pct" toml:"max_spread_pct" validate:"gte=0"`
	MinDistancePct float64  `json:"min_distance_pct" toml:"min_distance_pct" validate:"gte=0"`
	TopN           int      `json:"top_n" toml:"top_n" validate:"min=1"`
	Issuers        []string `json:"issuers" toml:"issuers" validate:"min=1,dive,required"`
	Broker         string   `json:"broker,omitempty" toml:"broker"`
	Features       []string `json:"features,omitempty" toml:"features"`
}

// FilterOption configures optional FilterConfig fields.
type FilterOption func(*FilterConfig)

// WithBroker sets the broker discriminator used when building search URLs.
func WithBroker(broker string) FilterOption {
	return func(c *FilterConfig) {
		c.Broker = strings.TrimSpace(broker)
	}
}

// WithFeatures sets feature discriminators used when building search URLs.
func WithFeatures(features ...string) FilterOption {
	return func(c *FilterConfig) {
		c.Features = append([]string(nil), features...)
	}
}

// NewFilterConfig builds and validates a FilterConfig. Bounds are never
// clamped: a negative bound or an empty issuer set is an error.
func NewFilterConfig(minLeverage, maxSpreadPct, minDistancePct float64, topN int, issuers []string, opts ...FilterOption) (FilterConfig, error) {
	cfg := FilterConfig{
		MinLeverage:    minLeverage,
		MaxSpreadPct:   maxSpreadPct,
		MinDistancePct: minDistancePct,
		TopN:           topN,
		Issuers:        append([]string(nil), issuers...),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return FilterConfig{}, err
	}
	return cfg, nil
}

// Validate checks the struct tags.
func (c FilterConfig) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilterConfig, err)
	}
	return nil
}

// IssuerAllowed reports whether the issuer is on the allow-list. The numeric
// issuer id is matched first when present, then the display name
// (case-insensitive, whitespace-collapsed).
func (c FilterConfig) IssuerAllowed(issuer Issuer) bool {
	name := NormalizeIssuerName(issuer.Name)
	for _, allowed := range c.Issuers {
		a := NormalizeIssuerName(allowed)
		if issuer.ID != nil && a == strconv.Itoa(*issuer.ID) {
			return true
		}
		if name != "" && a == name {
			return true
		}
	}
	return false
}

// NormalizeIssuerName lower-cases and collapses whitespace.
func NormalizeIssuerName(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
