package ranking

import (
	"math"

	"github.com/ternarybob/koscout/internal/models"
)

// Point deductions applied after the weighted sum.
const (
	PenaltyParsingUncertain = 15.0
	PenaltyLowConfidence    = 10.0
	PenaltyBarrierNear      = 10.0
	PenaltyMissingFields    = 5.0

	// PenaltyConfidenceScale is multiplied by (1 - parser confidence).
	PenaltyConfidenceScale = 20.0
)

var flagPenalties = []struct {
	flag   models.QualityFlag
	points float64
}{
	{models.FlagParsingUncertain, PenaltyParsingUncertain},
	{models.FlagLowConfidence, PenaltyLowConfidence},
	{models.FlagBarrierNear, PenaltyBarrierNear},
	{models.FlagMissingFields, PenaltyMissingFields},
}

// FlagPenalty returns the deduction for one flag, 0 for flags without one.
func FlagPenalty(flag models.QualityFlag) float64 {
	for _, fp := range flagPenalties {
		if fp.flag == flag {
			return fp.points
		}
	}
	return 0
}

// ConfidencePenalty scales with the parser's doubt about the row.
func ConfidencePenalty(confidence float64) float64 {
	if math.IsNaN(confidence) {
		confidence = 0
	}
	confidence = math.Max(0, math.Min(1, confidence))
	return PenaltyConfidenceScale * (1 - confidence)
}

// QualityPenalty sums the flag deductions and the confidence deduction.
func QualityPenalty(flags models.QualityFlags, confidence float64) float64 {
	total := 0.0
	for _, fp := range flagPenalties {
		if flags.Has(fp.flag) {
			total += fp.points
		}
	}
	return total + ConfidencePenalty(confidence)
}
