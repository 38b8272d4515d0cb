package ranking

import (
	"math"

	"github.com/ternarybob/koscout/internal/models"
)

// Component scores. Each returns a value in [0,1].

// SpreadScore rates the underlying-equivalent spread: 1/(1+(ues/ref)^2).
func SpreadScore(ues, ref float64) float64 {
	if ues < 0 || ref <= 0 || math.IsNaN(ues) {
		return 0
	}
	r := ues / ref
	return 1 / (1 + r*r)
}

// LeverageScore saturates logarithmically at leverageCap.
func LeverageScore(leverage, leverageCap float64) float64 {
	if leverage <= 0 || leverageCap <= 0 {
		return 0
	}
	return math.Min(1, math.Log1p(leverage)/math.Log1p(leverageCap))
}

// BarrierScore is 1 inside the optimal band, ramps up linearly from 0 below
// it and back down to 0 between the band's upper edge and the far cutoff.
// The band's lower edge is never below gate + good margin.
func BarrierScore(d float64, p models.ScoringParams) float64 {
	if d <= 0 || math.IsNaN(d) {
		return 0
	}
	lower := math.Min(math.Max(p.BandMin, p.GateThreshold()+p.GoodMargin), p.BandMax)

	switch {
	case d < lower:
		return clamp01(d / lower)
	case d <= p.BandMax:
		return 1
	case d < p.FarCutoff:
		return clamp01((p.FarCutoff - d) / (p.FarCutoff - p.BandMax))
	default:
		return 0
	}
}

// ExpectedValue returns the expected return of a trade with the configured
// stop-loss and take-profit under a driftless walk, net of the round-trip
// spread s (half on entry, half on exit).
func ExpectedValue(leverage, s float64, p models.ScoringParams) float64 {
	pTakeProfit := p.StopLoss / (p.StopLoss + p.TakeProfit)
	cost := s/2 + s/2
	rTakeProfit := leverage*p.TakeProfit - cost
	rStopLoss := -leverage*p.StopLoss - cost
	return pTakeProfit*rTakeProfit + (1-pTakeProfit)*rStopLoss
}

// EVScore maps an expected value to clamp(1 + ev/|ref|, 0, 1).
func EVScore(ev, ref float64) float64 {
	if ref == 0 || math.IsNaN(ev) {
		return 0
	}
	return clamp01(1 + ev/math.Abs(ref))
}

// barrierDistance returns d as a decimal fraction. A live underlying price
// wins; the stored percent is the fallback and may be stale.
func barrierDistance(product *models.Product) (float64, bool) {
	if product.Underlying.Price != nil {
		if d := product.ComputeDistancePct(*product.Underlying.Price); d != nil {
			return *d / 100, true
		}
	}
	if product.DistanceToBarrierPct != nil {
		return *product.DistanceToBarrierPct / 100, true
	}
	return 0, false
}

// spreadFraction returns the mid-price spread, falling back to the stored
// spread percent.
func spreadFraction(product *models.Product) (float64, bool) {
	if s, ok := product.Quote.MidSpread(); ok {
		return s, true
	}
	if product.Quote.SpreadPct != nil && *product.Quote.SpreadPct >= 0 {
		return *product.Quote.SpreadPct / 100, true
	}
	return 0, false
}

// Score computes the product's score in [0,100] and its breakdown. A product
// failing the gate scores exactly 0 with nothing else computed.
func Score(product *models.Product, p models.ScoringParams) (float64, models.ScoreBreakdown) {
	var breakdown models.ScoreBreakdown

	d, ok := barrierDistance(product)
	if !ok {
		return 0, breakdown
	}
	breakdown.Distance = d
	if d < p.GateThreshold() {
		return 0, breakdown
	}
	breakdown.GatePassed = true

	leverage := 0.0
	if product.Leverage != nil && *product.Leverage > 0 {
		leverage = *product.Leverage
	}
	s, hasSpread := spreadFraction(product)

	breakdown.LeverageScore = LeverageScore(leverage, p.LeverageCap)
	breakdown.BarrierScore = BarrierScore(d, p)
	if hasSpread {
		breakdown.Spread = s
		breakdown.ExpectedValue = ExpectedValue(leverage, s, p)
		breakdown.EVScore = EVScore(breakdown.ExpectedValue, p.EVRef)
		if leverage > 0 {
			breakdown.UnderlyingEqSp = s / leverage
			breakdown.SpreadScore = SpreadScore(breakdown.UnderlyingEqSp, p.SpreadRef)
		}
	}

	breakdown.Weighted = 100 * (p.WeightSpread*breakdown.SpreadScore +
		p.WeightLeverage*breakdown.LeverageScore +
		p.WeightBarrier*breakdown.BarrierScore +
		p.WeightEV*breakdown.EVScore)
	breakdown.Penalty = QualityPenalty(product.Flags, product.Provenance.ParserConfidence)

	score := math.Max(0, math.Min(100, breakdown.Weighted-breakdown.Penalty))
	return math.Round(score*10000) / 10000, breakdown
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
