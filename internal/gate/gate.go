// Package gate decides whether a submission's rubric evaluations are
// acceptable. It re-derives every agreement status from the raw judge scores
// embedded in the evaluations: any variance or status supplied alongside the
// scores is untrusted display data and is ignored.
package gate

import (
	"fmt"

	"github.com/rubricgate/rubricgate/internal/schema"
	"github.com/rubricgate/rubricgate/internal/variance"
)

// Rejection names one rubric (and optionally one candidate within it) whose
// recomputed agreement blocked acceptance.
type Rejection struct {
	RubricID   string                 `json:"rubricId"`
	RubricName string                 `json:"rubricName"`
	Candidate  string                 `json:"candidate,omitempty"` // empty for the rubric's overall status
	Variance   float64                `json:"variance"`
	Status     schema.AgreementStatus `json:"status"`
}

// Reason renders the rejection as a human-readable sentence for API
// responses and logs.
func (r Rejection) Reason() string {
	if r.Candidate == "" {
		return fmt.Sprintf("rubric %q: overall judge scores %s (variance %.1f%%)",
			r.RubricName, r.Status, r.Variance)
	}
	return fmt.Sprintf("rubric %q: candidate %q judge scores %s (variance %.1f%%)",
		r.RubricName, r.Candidate, r.Status, r.Variance)
}

// Decision is the gate outcome: acceptance plus the structured reasons for a
// rejection. A rejection is a business-rule result, not a system failure.
type Decision struct {
	Accept     bool        `json:"accept"`
	Rejections []Rejection `json:"rejections,omitempty"`
}

// Gate applies the acceptance policy with a fixed set of thresholds.
type Gate struct {
	thresholds variance.Thresholds
}

// New constructs a Gate. Thresholds are injected so the gate and the
// evaluator always share one policy.
func New(thresholds variance.Thresholds) *Gate {
	return &Gate{thresholds: thresholds}
}

// Decide recomputes agreement for every rubric evaluation strictly from raw
// judge scores and accepts only if every per-candidate status and every
// rubric's overall pooled status is agree. Any caution or disagree anywhere
// blocks acceptance and is reported as a Rejection.
func (g *Gate) Decide(evaluations []schema.RubricEvaluation) Decision {
	var rejections []Rejection

	for _, eval := range evaluations {
		var pooled []float64
		for _, cand := range eval.Candidates {
			scores := make([]float64, len(cand.Results))
			for i, r := range cand.Results {
				scores[i] = schema.ClampScore(r.Score)
			}
			pooled = append(pooled, scores...)

			if v := g.thresholds.Classify(scores); v.Status != schema.StatusAgree {
				rejections = append(rejections, Rejection{
					RubricID:   eval.RubricID,
					RubricName: eval.RubricName,
					Candidate:  cand.GeneratorName,
					Variance:   v.Variance,
					Status:     v.Status,
				})
			}
		}

		if v := g.thresholds.Classify(pooled); v.Status != schema.StatusAgree {
			rejections = append(rejections, Rejection{
				RubricID:   eval.RubricID,
				RubricName: eval.RubricName,
				Variance:   v.Variance,
				Status:     v.Status,
			})
		}
	}

	return Decision{Accept: len(rejections) == 0, Rejections: rejections}
}
