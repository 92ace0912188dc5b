package gate

import (
	"strings"
	"testing"

	"github.com/rubricgate/rubricgate/internal/schema"
	"github.com/rubricgate/rubricgate/internal/variance"
)

func newGate() *Gate { return New(variance.DefaultThresholds()) }

// eval builds a single-rubric evaluation from per-candidate score sets.
// Variance/status fields are deliberately left zeroed: the gate must not
// read them.
func eval(rubricID, rubricName string, candidateScores map[string][]float64) schema.RubricEvaluation {
	e := schema.RubricEvaluation{RubricID: rubricID, RubricName: rubricName}
	for name, scores := range candidateScores {
		results := make([]schema.JudgeResult, len(scores))
		for i, s := range scores {
			results[i] = schema.JudgeResult{JudgeName: "judge", Score: s, Rationale: "r"}
		}
		e.Candidates = append(e.Candidates, schema.CandidateEvaluation{
			GeneratorName: name,
			Results:       results,
		})
	}
	return e
}

func TestDecide_AcceptsAgreement(t *testing.T) {
	d := newGate().Decide([]schema.RubricEvaluation{
		eval("r1", "Clarity", map[string][]float64{"A": {7, 8}}),
	})
	if !d.Accept {
		t.Fatalf("expected accept, got rejections %v", d.Rejections)
	}
	if len(d.Rejections) != 0 {
		t.Errorf("accepted decision carries rejections: %v", d.Rejections)
	}
}

func TestDecide_RejectsDisagreementWithReason(t *testing.T) {
	d := newGate().Decide([]schema.RubricEvaluation{
		eval("r1", "Clarity", map[string][]float64{"A": {2, 9}}),
	})
	if d.Accept {
		t.Fatal("expected rejection for scores spanning 70%")
	}
	if len(d.Rejections) == 0 {
		t.Fatal("expected structured rejections")
	}
	found := false
	for _, r := range d.Rejections {
		if strings.Contains(r.Reason(), "Clarity") {
			found = true
		}
		if r.Status != schema.StatusDisagree {
			t.Errorf("rejection status = %q, want disagree", r.Status)
		}
	}
	if !found {
		t.Error("no rejection reason cites rubric Clarity")
	}
}

func TestDecide_CautionBlocks(t *testing.T) {
	// 5 and 7 span 20%: caution, which blocks acceptance just like disagree.
	d := newGate().Decide([]schema.RubricEvaluation{
		eval("r1", "Clarity", map[string][]float64{"A": {5, 7}}),
	})
	if d.Accept {
		t.Fatal("caution status must block acceptance")
	}
}

func TestDecide_PooledOverallStricterThanPerCandidate(t *testing.T) {
	// Each candidate agrees internally (span 0.5 points) but the two
	// candidates sit 6 points apart, so the pooled overall disagrees.
	d := newGate().Decide([]schema.RubricEvaluation{
		eval("r1", "Clarity", map[string][]float64{
			"A": {9, 9.5},
			"B": {3, 3.5},
		}),
	})
	if d.Accept {
		t.Fatal("expected rejection from pooled overall spread")
	}
	for _, r := range d.Rejections {
		if r.Candidate != "" {
			t.Errorf("unexpected per-candidate rejection %+v; only the overall should fail", r)
		}
	}
	if len(d.Rejections) != 1 {
		t.Fatalf("got %d rejections, want exactly 1 (the overall)", len(d.Rejections))
	}
	if d.Rejections[0].Variance != 65 {
		t.Errorf("overall variance = %v, want 65", d.Rejections[0].Variance)
	}
}

func TestDecide_IgnoresClientSuppliedStatus(t *testing.T) {
	// The caller asserts everything is fine; raw scores say otherwise.
	e := eval("r1", "Clarity", map[string][]float64{"A": {1, 10}})
	e.Overall = schema.ScoreVariance{Status: schema.StatusAgree, Variance: 0}
	for i := range e.Candidates {
		e.Candidates[i].Variance = schema.ScoreVariance{Status: schema.StatusAgree, Variance: 0}
	}

	d := newGate().Decide([]schema.RubricEvaluation{e})
	if d.Accept {
		t.Fatal("gate trusted client-supplied status instead of recomputing from raw scores")
	}
}

func TestDecide_ClampsOutOfRangeScores(t *testing.T) {
	// 11 clamps to 10, -1 clamps to 0: still a full-range disagreement.
	d := newGate().Decide([]schema.RubricEvaluation{
		eval("r1", "Clarity", map[string][]float64{"A": {11, -1}}),
	})
	if d.Accept {
		t.Fatal("expected rejection")
	}
	if d.Rejections[0].Variance != 100 {
		t.Errorf("variance = %v, want 100 after clamping", d.Rejections[0].Variance)
	}
}

func TestDecide_AnyRubricBlocks(t *testing.T) {
	d := newGate().Decide([]schema.RubricEvaluation{
		eval("r1", "Clarity", map[string][]float64{"A": {7, 8}}),
		eval("r2", "Accuracy", map[string][]float64{"A": {2, 9}}),
	})
	if d.Accept {
		t.Fatal("one disagreeing rubric must block the whole submission")
	}
	for _, r := range d.Rejections {
		if r.RubricID != "r2" {
			t.Errorf("unexpected rejection for rubric %q", r.RubricID)
		}
	}
}

func TestDecide_SingleScoreAlwaysAgrees(t *testing.T) {
	d := newGate().Decide([]schema.RubricEvaluation{
		eval("r1", "Clarity", map[string][]float64{"A": {3}}),
	})
	if !d.Accept {
		t.Fatalf("single observation cannot disagree; got %v", d.Rejections)
	}
}

func TestDecide_EmptyEvaluationsAccept(t *testing.T) {
	if d := newGate().Decide(nil); !d.Accept {
		t.Fatal("no evaluations means nothing blocks acceptance")
	}
}
