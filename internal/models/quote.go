package models

import "time"

// Quote is the bid/ask snapshot of a product.
type Quote struct {
	Bid       *float64  `json:"bid"`
	Ask       *float64  `json:"ask"`
	SpreadPct *float64  `json:"spread_pct"`
	AsOf      time.Time `json:"as_of"`
	Stale     bool      `json:"stale"`
	Missing   bool      `json:"missing"`
}

// IsValid reports whether the quote can be traded on: both sides present,
// neither stale nor missing.
func (q Quote) IsValid() bool {
	return q.Bid != nil && q.Ask != nil && !q.Stale && !q.Missing
}

// ComputeSpreadPct returns (ask-bid)/bid*100, or nil when bid or ask is absent
// or bid is not positive.
func (q Quote) ComputeSpreadPct() *float64 {
	if q.Bid == nil || q.Ask == nil || *q.Bid <= 0 {
		return nil
	}
	v := (*q.Ask - *q.Bid) / *q.Bid * 100
	return &v
}

// MidSpread returns the spread as a fraction of the mid price.
func (q Quote) MidSpread() (float64, bool) {
	if q.Bid == nil || q.Ask == nil {
		return 0, false
	}
	bid, ask := *q.Bid, *q.Ask
	mid := (bid + ask) / 2
	if bid <= 0 || ask <= 0 || mid <= 0 || ask < bid {
		return 0, false
	}
	return (ask - bid) / mid, true
}

// Float returns a pointer to v. Used for the nullable numeric fields.
func Float(v float64) *float64 {
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
