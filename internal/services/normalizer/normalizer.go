package normalizer

import (
	"math"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/models"
)

// Normalizer cleans parsed products in place and assigns quality flags.
// Running it twice over the same products changes nothing.
type Normalizer struct {
	logger arbor.ILogger
}

// New creates a normalizer.
func New(logger arbor.ILogger) *Normalizer {
	return &Normalizer{logger: logger}
}

// Normalize cleans products and derives distance and flags. underlyingPrice
// is optional; when present it becomes the products' reference price and is
// used for any distance the parser could not read.
func (n *Normalizer) Normalize(products []*models.Product, underlyingPrice *float64) []*models.Product {
	flagged := 0
	for _, p := range products {
		if p == nil {
			continue
		}
		normalizeQuote(&p.Quote)

		if p.Leverage != nil && (*p.Leverage <= 0 || math.IsNaN(*p.Leverage)) {
			p.Leverage = nil
		}

		if underlyingPrice != nil && *underlyingPrice > 0 {
			p.Underlying.Price = models.Float(*underlyingPrice)
		}
		// A known underlying price wins over the listing's printed distance so
		// filtering and ranking read the same number.
		if p.Underlying.Price != nil {
			if d := p.ComputeDistancePct(*p.Underlying.Price); d != nil {
				p.DistanceToBarrierPct = d
			}
		}

		p.RefreshFlags()
		if !p.Flags.IsEmpty() {
			flagged++
		}
	}

	n.logger.Debug().
		Int("products", len(products)).
		Int("flagged", flagged).
		Bool("has_price", underlyingPrice != nil).
		Msg("Normalized products")

	return products
}

// normalizeQuote drops negative sides (marking the quote missing), marks a
// crossed book stale and keeps the spread non-negative.
func normalizeQuote(q *models.Quote) {
	if q.Bid != nil && *q.Bid < 0 {
		q.Bid = nil
		q.Missing = true
	}
	if q.Ask != nil && *q.Ask < 0 {
		q.Ask = nil
		q.Missing = true
	}
	if q.Bid != nil && q.Ask != nil && *q.Bid > *q.Ask {
		q.Stale = true
	}

	if q.SpreadPct == nil {
		q.SpreadPct = q.ComputeSpreadPct()
	}
	if q.SpreadPct != nil && *q.SpreadPct < 0 {
		q.SpreadPct = models.Float(math.Abs(*q.SpreadPct))
	}
}
