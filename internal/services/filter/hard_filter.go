package filter

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/models"
)

// Rejection reasons, reported in the order the rules run.
const (
	ReasonIssuerNotAllowed = "issuer_not_allowed"
	ReasonInvalidQuote     = "invalid_quote"
	ReasonLeverageBelowMin = "leverage_below_min"
	ReasonSpreadAboveMax   = "spread_above_max"
	ReasonBarrierTooClose  = "barrier_too_close"
	ReasonInactive         = "inactive"
)

// Result is the outcome of one filter pass.
type Result struct {
	Passed      []*models.Product `json:"passed"`
	FilteredOut int               `json:"filtered_out"`
	Reasons     map[string]int    `json:"reasons"`
}

// HardFilter removes products that break a non-negotiable constraint.
// It holds no state besides its configuration.
type HardFilter struct {
	cfg    models.FilterConfig
	logger arbor.ILogger
}

// New validates cfg and returns a filter for it.
func New(cfg models.FilterConfig, logger arbor.ILogger) (*HardFilter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &HardFilter{cfg: cfg, logger: logger}, nil
}

// Apply returns the products passing every rule, preserving input order.
func (f *HardFilter) Apply(products []*models.Product) Result {
	result := Result{
		Passed:  make([]*models.Product, 0, len(products)),
		Reasons: make(map[string]int),
	}
	for _, p := range products {
		if p == nil {
			continue
		}
		if reason, ok := f.Check(p); !ok {
			result.FilteredOut++
			result.Reasons[reason]++
			continue
		}
		result.Passed = append(result.Passed, p)
	}

	f.logger.Debug().
		Int("input", len(products)).
		Int("passed", len(result.Passed)).
		Int("filtered_out", result.FilteredOut).
		Msg("Hard filter applied")

	return result
}

// Check evaluates the rules in order and returns the first failing reason.
// A product without a computable barrier distance is not rejected for it.
func (f *HardFilter) Check(p *models.Product) (string, bool) {
	if !f.cfg.IssuerAllowed(p.Issuer) {
		return ReasonIssuerNotAllowed, false
	}
	if !p.Quote.IsValid() {
		return ReasonInvalidQuote, false
	}
	if p.Leverage == nil || *p.Leverage < f.cfg.MinLeverage {
		return ReasonLeverageBelowMin, false
	}
	if p.Quote.SpreadPct == nil || *p.Quote.SpreadPct > f.cfg.MaxSpreadPct {
		return ReasonSpreadAboveMax, false
	}
	if p.DistanceToBarrierPct != nil && *p.DistanceToBarrierPct < f.cfg.MinDistancePct {
		return ReasonBarrierTooClose, false
	}
	if p.Flags.Has(models.FlagInactive) {
		return ReasonInactive, false
	}
	return "", true
}
