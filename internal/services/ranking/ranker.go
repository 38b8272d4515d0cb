package ranking

import (
	"sort"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/koscout/internal/models"
)

// Ranker scores products and orders them best first.
type Ranker struct {
	params models.ScoringParams
	logger arbor.ILogger
}

// New validates params and returns a ranker.
func New(params models.ScoringParams, logger arbor.ILogger) (*Ranker, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if sum := params.WeightSum(); sum < 0.999 || sum > 1.001 {
		logger.Warn().Float64("weight_sum", sum).Msg("Scoring weights do not sum to 1.0")
	}
	return &Ranker{params: params, logger: logger}, nil
}

// Params returns the scoring parameters in use.
func (r *Ranker) Params() models.ScoringParams {
	return r.params
}

// Rank sets Score and ScoreDetails on every product, sorts by descending
// score (ties: ascending spread, then descending leverage, then id) and
// returns the first topN. topN <= 0 keeps all products.
func (r *Ranker) Rank(products []*models.Product, topN int) []*models.Product {
	ranked := make([]*models.Product, 0, len(products))
	gated := 0
	for _, p := range products {
		if p == nil {
			continue
		}
		score, breakdown := Score(p, r.params)
		p.Score = models.Float(score)
		p.ScoreDetails = &breakdown
		if !breakdown.GatePassed {
			gated++
		}
		ranked = append(ranked, p)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return less(ranked[i], ranked[j])
	})

	total := len(ranked)
	if topN > 0 && len(ranked) > topN {
		ranked = ranked[:topN]
	}

	topScore := 0.0
	if len(ranked) > 0 {
		topScore = *ranked[0].Score
	}
	r.logger.Debug().
		Int("scored", total).
		Int("gate_failed", gated).
		Int("returned", len(ranked)).
		Float64("top_score", topScore).
		Msg("Products ranked")

	return ranked
}

// less orders a before b.
func less(a, b *models.Product) bool {
	sa, sb := scoreOf(a), scoreOf(b)
	if sa != sb {
		return sa > sb
	}
	if c := compareNullable(a.Quote.SpreadPct, b.Quote.SpreadPct, true); c != 0 {
		return c < 0
	}
	if c := compareNullable(a.Leverage, b.Leverage, false); c != 0 {
		return c < 0
	}
	return a.ID < b.ID
}

func scoreOf(p *models.Product) float64 {
	if p.Score == nil {
		return 0
	}
	return *p.Score
}

// compareNullable returns -1 when a sorts first. nil values sort last in
// either direction.
func compareNullable(a, b *float64, ascending bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	case *a == *b:
		return 0
	case (*a < *b) == ascending:
		return -1
	default:
		return 1
	}
}
