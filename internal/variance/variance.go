// Package variance provides deterministic local logic for score spread
// calculation and agreement classification. No LLM calls are made here.
package variance

import (
	"github.com/rubricgate/rubricgate/internal/schema"
)

// Thresholds holds the variance boundaries (in percent of the score range)
// that separate the three agreement statuses. Boundaries are inclusive:
// variance == AgreeMax classifies as agree, variance == CautionMax as
// caution.
type Thresholds struct {
	AgreeMax   float64
	CautionMax float64
}

// DefaultThresholds returns the standard 10/30 boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{AgreeMax: 10, CautionMax: 30}
}

// Classify computes the ScoreVariance for a set of judge scores using the
// default thresholds.
//
// Rules:
//  1. Fewer than 2 scores → agree with variance 0 (no disagreement is
//     possible with a single observation).
//  2. Otherwise variance = (max - min) / 10 * 100, the percentage of the
//     score range the set spans.
//  3. variance <= 10 → agree; 10 < variance <= 30 → caution; otherwise
//     disagree.
func Classify(scores []float64) schema.ScoreVariance {
	return DefaultThresholds().Classify(scores)
}

// Classify applies t to a set of judge scores. Pure and deterministic; the
// input slice is copied into the result and never mutated.
func (t Thresholds) Classify(scores []float64) schema.ScoreVariance {
	out := make([]float64, len(scores))
	copy(out, scores)

	if len(scores) < 2 {
		return schema.ScoreVariance{Status: schema.StatusAgree, Scores: out, Variance: 0}
	}

	min, max := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	v := (max - min) / schema.ScoreMax * 100

	var status schema.AgreementStatus
	switch {
	case v <= t.AgreeMax:
		status = schema.StatusAgree
	case v <= t.CautionMax:
		status = schema.StatusCaution
	default:
		status = schema.StatusDisagree
	}

	return schema.ScoreVariance{Status: status, Scores: out, Variance: v}
}

// StatusOrdinal returns the numeric ordinal for an agreement status, used to
// compare severity order. agree=0, caution=1, disagree=2; unknown=-1.
func StatusOrdinal(s schema.AgreementStatus) int {
	switch s {
	case schema.StatusAgree:
		return 0
	case schema.StatusCaution:
		return 1
	case schema.StatusDisagree:
		return 2
	default:
		return -1
	}
}
