package models

import (
	"errors"
	"fmt"
)

// ErrInvalidScoringParams wraps every ScoringParams validation failure.
var ErrInvalidScoringParams = errors.New("invalid scoring params")

// ScoringParams parameterises the ranking formula. Fractions are decimals
// (0.01 = 1%). The four weights are expected to sum to 1.0 but this is not
// enforced here.
type ScoringParams struct {
	StopLoss   float64 `json:"stop_loss" toml:"stop_loss" validate:"gt=0"`
	TakeProfit float64 `json:"take_profit" toml:"take_profit" validate:"gt=0"`
	GapBuffer  float64 `json:"gap_buffer" toml:"gap_buffer" validate:"gte=0"`

	SpreadRef   float64 `json:"spread_ref" toml:"spread_ref" validate:"gt=0"`
	LeverageCap float64 `json:"leverage_cap" toml:"leverage_cap" validate:"gt=0"`
	GoodMargin  float64 `json:"good_margin" toml:"good_margin" validate:"gte=0"`
	EVRef       float64 `json:"ev_ref" toml:"ev_ref" validate:"gt=0"`

	BandMin   float64 `json:"band_min" toml:"band_min" validate:"gte=0"`
	BandMax   float64 `json:"band_max" toml:"band_max" validate:"gtefield=BandMin"`
	FarCutoff float64 `json:"far_cutoff" toml:"far_cutoff" validate:"gtefield=BandMax"`

	WeightSpread   float64 `json:"weight_spread" toml:"weight_spread" validate:"gte=0"`
	WeightLeverage float64 `json:"weight_leverage" toml:"weight_leverage" validate:"gte=0"`
	WeightBarrier  float64 `json:"weight_barrier" toml:"weight_barrier" validate:"gte=0"`
	WeightEV       float64 `json:"weight_ev" toml:"weight_ev" validate:"gte=0"`
}

// DefaultScoringParams returns the production scoring parameters.
func DefaultScoringParams() ScoringParams {
	return ScoringParams{
		StopLoss:       0.01,
		TakeProfit:     0.02,
		GapBuffer:      0.005,
		SpreadRef:      0.0005,
		LeverageCap:    30,
		GoodMargin:     0.01,
		EVRef:          0.01,
		BandMin:        0.03,
		BandMax:        0.08,
		FarCutoff:      0.20,
		WeightSpread:   0.35,
		WeightLeverage: 0.20,
		WeightBarrier:  0.25,
		WeightEV:       0.20,
	}
}

// Validate checks the struct tags.
func (p ScoringParams) Validate() error {
	if err := structValidator().Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidScoringParams, err)
	}
	return nil
}

// GateThreshold is the minimum barrier distance (decimal) a product needs to
// be scored at all.
func (p ScoringParams) GateThreshold() float64 {
	return p.StopLoss + p.GapBuffer
}

// WeightSum returns the sum of the four component weights.
func (p ScoringParams) WeightSum() float64 {
	return p.WeightSpread + p.WeightLeverage + p.WeightBarrier + p.WeightEV
}
