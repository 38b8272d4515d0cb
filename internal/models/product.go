package models

import (
	"fmt"
	"strings"
	"time"
)

// Direction is the trade direction a knock-out product pays off in.
type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

// ParseDirection accepts long/short in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LONG", "CALL", "BULL":
		return DirectionLong, nil
	case "SHORT", "PUT", "BEAR":
		return DirectionShort, nil
	}
	return "", fmt.Errorf("unknown direction: %q", s)
}

// Quality thresholds shared by the normalizer and UpdateDistance.
const (
	// LeverageSanityCeiling marks leverage values that are almost always a
	// misparsed column rather than a real product.
	LeverageSanityCeiling = 500.0

	// NearBarrierPct is the distance (in percent) under which BARRIER_NEAR is
	// raised. Independent of the caller's configured minimum distance.
	NearBarrierPct = 2.0

	// LowConfidenceThreshold is the parser confidence under which
	// LOW_CONFIDENCE is raised.
	LowConfidenceThreshold = 0.6
)

// UnderlyingSnapshot is the reference instrument as seen at fetch time.
type UnderlyingSnapshot struct {
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name"`
	Price    *float64  `json:"price"`
	Currency string    `json:"currency"`
	AsOf     time.Time `json:"as_of"`
	Source   string    `json:"source"`
}

// Issuer identifies the bank issuing a product.
type Issuer struct {
	Name string `json:"name"`
	ID   *int   `json:"id,omitempty"`
}

// Provenance records where and how a product was parsed.
type Provenance struct {
	Source           string    `json:"source"`
	SourceURL        string    `json:"source_url"`
	FetchedAt        time.Time `json:"fetched_at"`
	SchemaVersion    string    `json:"schema_version"`
	ParserConfidence float64   `json:"parser_confidence"`
}

// ScoreBreakdown is the audit trail of a ranking pass over one product.
type ScoreBreakdown struct {
	GatePassed     bool    `json:"gate_passed"`
	Distance       float64 `json:"distance"`
	Spread         float64 `json:"spread"`
	UnderlyingEqSp float64 `json:"underlying_equivalent_spread"`
	SpreadScore    float64 `json:"spread_score"`
	LeverageScore  float64 `json:"leverage_score"`
	BarrierScore   float64 `json:"barrier_score"`
	EVScore        float64 `json:"ev_score"`
	ExpectedValue  float64 `json:"expected_value"`
	Weighted       float64 `json:"weighted"`
	Penalty        float64 `json:"penalty"`
}

// Product is a single knock-out product parsed from the listings site.
type Product struct {
	ID          string `json:"id"`
	SecondaryID string `json:"secondary_id,omitempty"`
	Name        string `json:"name"`

	Issuer    Issuer    `json:"issuer"`
	Direction Direction `json:"direction"`

	Barrier  *float64   `json:"barrier"`
	Leverage *float64   `json:"leverage"`
	Ratio    *float64   `json:"ratio"`
	Expiry   *time.Time `json:"expiry,omitempty"`

	Quote      Quote              `json:"quote"`
	Underlying UnderlyingSnapshot `json:"underlying"`

	DistanceToBarrierPct *float64        `json:"distance_to_barrier_pct"`
	Score                *float64        `json:"score"`
	ScoreDetails         *ScoreBreakdown `json:"score_details,omitempty"`

	Provenance Provenance   `json:"provenance"`
	Flags      QualityFlags `json:"flags"`
}

// ComputeDistancePct returns the signed distance from price to the barrier in
// percent of price. Positive means the barrier sits on the safe side for the
// product's direction.
func (p *Product) ComputeDistancePct(price float64) *float64 {
	if p.Barrier == nil || price <= 0 {
		return nil
	}
	var d float64
	switch p.Direction {
	case DirectionShort:
		d = (*p.Barrier - price) / price * 100
	default:
		d = (price - *p.Barrier) / price * 100
	}
	return &d
}

// IsTradeable reports whether the product is active with a valid quote.
func (p *Product) IsTradeable() bool {
	return !p.Flags.Has(FlagInactive) && p.Quote.IsValid()
}

// UpdateDistance recomputes the barrier distance from a refreshed underlying
// price and re-evaluates the quality flags. Safe to call repeatedly.
func (p *Product) UpdateDistance(price float64) {
	if price <= 0 {
		return
	}
	p.Underlying.Price = Float(price)
	if d := p.ComputeDistancePct(price); d != nil {
		p.DistanceToBarrierPct = d
	}
	p.RefreshFlags()
}

// RefreshFlags derives every quality flag from the product's current fields.
// The result depends only on field values, so calling it twice is a no-op.
func (p *Product) RefreshFlags() {
	flags := p.Flags

	flags = flags.Set(FlagMissingFields, p.Leverage == nil || p.Barrier == nil)
	flags = flags.Set(FlagParsingUncertain, p.Leverage != nil && *p.Leverage > LeverageSanityCeiling)
	flags = flags.Set(FlagStaleQuote, !p.Quote.IsValid())
	flags = flags.Set(FlagLowConfidence, p.Provenance.ParserConfidence < LowConfidenceThreshold)

	inactive := p.barrierOnWrongSide()
	if p.DistanceToBarrierPct != nil && *p.DistanceToBarrierPct <= 0 {
		inactive = true
	}
	flags = flags.Set(FlagInactive, inactive)

	near := !inactive && p.DistanceToBarrierPct != nil && *p.DistanceToBarrierPct < NearBarrierPct
	flags = flags.Set(FlagBarrierNear, near)

	p.Flags = flags
}

func (p *Product) barrierOnWrongSide() bool {
	if p.Barrier == nil || p.Underlying.Price == nil || *p.Underlying.Price <= 0 {
		return false
	}
	price := *p.Underlying.Price
	if p.Direction == DirectionShort {
		return *p.Barrier <= price
	}
	return *p.Barrier >= price
}

// Clone returns a deep copy.
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.Barrier = cloneFloat(p.Barrier)
	c.Leverage = cloneFloat(p.Leverage)
	c.Ratio = cloneFloat(p.Ratio)
	if p.Expiry != nil {
		e := *p.Expiry
		c.Expiry = &e
	}
	if p.Issuer.ID != nil {
		id := *p.Issuer.ID
		c.Issuer.ID = &id
	}
	c.Quote.Bid = cloneFloat(p.Quote.Bid)
	c.Quote.Ask = cloneFloat(p.Quote.Ask)
	c.Quote.SpreadPct = cloneFloat(p.Quote.SpreadPct)
	c.Underlying.Price = cloneFloat(p.Underlying.Price)
	c.DistanceToBarrierPct = cloneFloat(p.DistanceToBarrierPct)
	c.Score = cloneFloat(p.Score)
	if p.ScoreDetails != nil {
		sd := *p.ScoreDetails
		c.ScoreDetails = &sd
	}
	return &c
}

// CloneProducts deep-copies a product list.
func CloneProducts(products []*Product) []*Product {
	if products == nil {
		return nil
	}
	out := make([]*Product, len(products))
	for i, p := range products {
		out[i] = p.Clone()
	}
	return out
}
