package evaluate

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/rubricgate/rubricgate/internal/schema"
	"github.com/rubricgate/rubricgate/internal/variance"
)

// stubJudge returns a fixed score per candidate text, or fails outright.
type stubJudge struct {
	name   string
	scores map[string]float64 // candidate text -> score
	err    error
}

func (s *stubJudge) Name() string { return s.name }

func (s *stubJudge) Evaluate(_ context.Context, _, _, candidateText string) (schema.JudgeResult, error) {
	if s.err != nil {
		return schema.JudgeResult{}, s.err
	}
	return schema.JudgeResult{
		JudgeName: s.name,
		Score:     s.scores[candidateText],
		Rationale: "stub rationale",
	}, nil
}

func newEvaluator(t *testing.T, failOpen bool, judges ...Judge) *Evaluator {
	t.Helper()
	return New(judges, variance.DefaultThresholds(), failOpen, zerolog.Nop())
}

var clarity = schema.Rubric{ID: "r1", Name: "Clarity", Description: "Is the answer clear?"}

func TestEvaluateRubric_TwoCandidatesTwoJudges(t *testing.T) {
	j1 := &stubJudge{name: "judge-a", scores: map[string]float64{"x": 7, "y": 4}}
	j2 := &stubJudge{name: "judge-b", scores: map[string]float64{"x": 8, "y": 5}}
	ev := newEvaluator(t, true, j1, j2)

	candidates := []schema.CandidateResponse{
		{GeneratorName: "A", Text: "x"},
		{GeneratorName: "B", Text: "y"},
	}
	got, err := ev.EvaluateRubric(context.Background(), clarity, candidates)
	if err != nil {
		t.Fatalf("EvaluateRubric: %v", err)
	}

	if len(got.Candidates) != 2 {
		t.Fatalf("got %d candidate evaluations, want 2", len(got.Candidates))
	}
	for i, ce := range got.Candidates {
		if len(ce.Results) != 2 {
			t.Errorf("candidate %d has %d judge results, want 2", i, len(ce.Results))
		}
		if ce.Variance.Status != schema.StatusAgree {
			t.Errorf("candidate %d status = %q, want agree (each pair spans 1 point)", i, ce.Variance.Status)
		}
	}

	// Overall variance pools all four scores: 4..8 spans 40%.
	if len(got.Overall.Scores) != 4 {
		t.Fatalf("overall pooled %d scores, want 4", len(got.Overall.Scores))
	}
	if got.Overall.Variance != 40 {
		t.Errorf("overall variance = %v, want 40", got.Overall.Variance)
	}
	if got.Overall.Status != schema.StatusDisagree {
		t.Errorf("overall status = %q, want disagree", got.Overall.Status)
	}
}

func TestEvaluateRubric_PooledSpreadStricterThanPerCandidate(t *testing.T) {
	// Each candidate's judges agree with themselves, but candidates sit far
	// apart, so the pooled overall is stricter than any per-candidate status.
	j1 := &stubJudge{name: "judge-a", scores: map[string]float64{"hi": 9, "lo": 3}}
	j2 := &stubJudge{name: "judge-b", scores: map[string]float64{"hi": 9.5, "lo": 3.5}}
	ev := newEvaluator(t, true, j1, j2)

	got, err := ev.EvaluateRubric(context.Background(), clarity, []schema.CandidateResponse{
		{GeneratorName: "A", Text: "hi"},
		{GeneratorName: "B", Text: "lo"},
	})
	if err != nil {
		t.Fatalf("EvaluateRubric: %v", err)
	}
	for i, ce := range got.Candidates {
		if ce.Variance.Status != schema.StatusAgree {
			t.Errorf("candidate %d status = %q, want agree", i, ce.Variance.Status)
		}
	}
	if got.Overall.Status != schema.StatusDisagree {
		t.Errorf("overall status = %q, want disagree (3 to 9.5 spans 65%%)", got.Overall.Status)
	}
}

func TestEvaluateRubric_OneJudgeFails(t *testing.T) {
	j1 := &stubJudge{name: "judge-a", scores: map[string]float64{"x": 7}}
	j2 := &stubJudge{name: "judge-b", err: errors.New("timeout")}
	ev := newEvaluator(t, true, j1, j2)

	got, err := ev.EvaluateRubric(context.Background(), clarity, []schema.CandidateResponse{
		{GeneratorName: "A", Text: "x"},
	})
	if err != nil {
		t.Fatalf("EvaluateRubric: %v", err)
	}

	results := got.Candidates[0].Results
	if len(results) != 2 {
		t.Fatalf("got %d judge results, want 2 (fallback fills the gap)", len(results))
	}
	if results[0].Fallback {
		t.Error("judge-a result should not be a fallback")
	}
	if !results[1].Fallback {
		t.Fatal("judge-b result should be a fallback")
	}
	if results[1].Score != FallbackScore {
		t.Errorf("fallback score = %v, want %v", results[1].Score, FallbackScore)
	}
	if results[1].JudgeName != "judge-b (fallback)" {
		t.Errorf("fallback judge name = %q", results[1].JudgeName)
	}

	// 7 and 5 span 20%: caution.
	if got.Candidates[0].Variance.Status != schema.StatusCaution {
		t.Errorf("candidate status = %q, want caution", got.Candidates[0].Variance.Status)
	}
}

func TestEvaluateRubric_AllJudgesFail_FailOpen(t *testing.T) {
	j1 := &stubJudge{name: "judge-a", err: errors.New("down")}
	j2 := &stubJudge{name: "judge-b", err: errors.New("down")}
	ev := newEvaluator(t, true, j1, j2)

	got, err := ev.EvaluateRubric(context.Background(), clarity, []schema.CandidateResponse{
		{GeneratorName: "A", Text: "x"},
	})
	if err != nil {
		t.Fatalf("fail-open evaluation should not error, got %v", err)
	}
	ce := got.Candidates[0]
	if len(ce.Results) != 2 || !ce.Results[0].Fallback || !ce.Results[1].Fallback {
		t.Fatalf("expected two fallback results, got %+v", ce.Results)
	}
	if ce.Variance.Status != schema.StatusAgree || ce.Variance.Variance != 0 {
		t.Errorf("fallback-only variance = %+v, want agree/0", ce.Variance)
	}
}

func TestEvaluateRubric_AllJudgesFail_FailClosed(t *testing.T) {
	j1 := &stubJudge{name: "judge-a", err: errors.New("down")}
	j2 := &stubJudge{name: "judge-b", err: errors.New("down")}
	ev := newEvaluator(t, false, j1, j2)

	_, err := ev.EvaluateRubric(context.Background(), clarity, []schema.CandidateResponse{
		{GeneratorName: "A", Text: "x"},
	})
	if !errors.Is(err, ErrAllJudgesFailed) {
		t.Fatalf("expected ErrAllJudgesFailed, got %v", err)
	}
}

func TestEvaluateRubric_Validation(t *testing.T) {
	j := &stubJudge{name: "judge-a", scores: map[string]float64{}}
	ev := newEvaluator(t, true, j)

	cases := []struct {
		name       string
		rubric     schema.Rubric
		candidates []schema.CandidateResponse
	}{
		{"empty candidates", clarity, nil},
		{"empty text", clarity, []schema.CandidateResponse{{GeneratorName: "A"}}},
		{"unnamed rubric", schema.Rubric{}, []schema.CandidateResponse{{GeneratorName: "A", Text: "x"}}},
	}
	for _, c := range cases {
		_, err := ev.EvaluateRubric(context.Background(), c.rubric, c.candidates)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("%s: expected *ValidationError, got %v", c.name, err)
		}
	}
}

func TestEvaluateRubrics_KeepsOrder(t *testing.T) {
	j1 := &stubJudge{name: "judge-a", scores: map[string]float64{"x": 7}}
	j2 := &stubJudge{name: "judge-b", scores: map[string]float64{"x": 8}}
	ev := newEvaluator(t, true, j1, j2)

	rubrics := []schema.Rubric{
		{ID: "r1", Name: "Clarity", Description: "d"},
		{ID: "r2", Name: "Accuracy", Description: "d"},
		{ID: "r3", Name: "Depth", Description: "d"},
	}
	got, err := ev.EvaluateRubrics(context.Background(), rubrics, []schema.CandidateResponse{
		{GeneratorName: "A", Text: "x"},
	})
	if err != nil {
		t.Fatalf("EvaluateRubrics: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d evaluations, want 3", len(got))
	}
	for i, r := range rubrics {
		if got[i].RubricID != r.ID {
			t.Errorf("evaluation %d is for rubric %q, want %q", i, got[i].RubricID, r.ID)
		}
	}
}

func TestEvaluateRubrics_EmptyRubrics(t *testing.T) {
	ev := newEvaluator(t, true, &stubJudge{name: "judge-a"})
	_, err := ev.EvaluateRubrics(context.Background(), nil, []schema.CandidateResponse{
		{GeneratorName: "A", Text: "x"},
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
}

func TestEvaluateRubric_SingleCandidateEndToEnd(t *testing.T) {
	// Two judges returning 7 and 8: overall variance 10, agree.
	j1 := &stubJudge{name: "judge-a", scores: map[string]float64{"x": 7}}
	j2 := &stubJudge{name: "judge-b", scores: map[string]float64{"x": 8}}
	ev := newEvaluator(t, true, j1, j2)

	got, err := ev.EvaluateRubric(context.Background(), clarity, []schema.CandidateResponse{
		{GeneratorName: "A", Text: "x"},
	})
	if err != nil {
		t.Fatalf("EvaluateRubric: %v", err)
	}
	if got.Overall.Variance != 10 || got.Overall.Status != schema.StatusAgree {
		t.Errorf("overall = %+v, want variance 10 agree", got.Overall)
	}

	// Same rubric, judges at 2 and 9: variance 70, disagree.
	j1.scores["x"] = 2
	j2.scores["x"] = 9
	got, err = ev.EvaluateRubric(context.Background(), clarity, []schema.CandidateResponse{
		{GeneratorName: "A", Text: "x"},
	})
	if err != nil {
		t.Fatalf("EvaluateRubric: %v", err)
	}
	if got.Overall.Variance != 70 || got.Overall.Status != schema.StatusDisagree {
		t.Errorf("overall = %+v, want variance 70 disagree", got.Overall)
	}
}
