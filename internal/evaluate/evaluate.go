// Package evaluate orchestrates multi-judge rubric evaluation: it fans out
// every (candidate, judge) pair concurrently, tolerates individual judge
// failures, and assembles per-candidate and per-rubric agreement results.
package evaluate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rubricgate/rubricgate/internal/schema"
	"github.com/rubricgate/rubricgate/internal/variance"
)

// FallbackScore is the neutral score substituted when a judge call fails.
const FallbackScore = 5.0

// ErrAllJudgesFailed is returned (fail-open disabled only) when every judge
// failed for a candidate, so no real score exists for it.
var ErrAllJudgesFailed = errors.New("evaluate: all judges failed for candidate")

// ValidationError reports malformed caller input, detected before any judge
// call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Judge is the adapter contract the orchestrator depends on. Concrete judges
// are configured at construction; the orchestrator never selects providers
// itself.
type Judge interface {
	Name() string
	Evaluate(ctx context.Context, rubricName, rubricDescription, candidateText string) (schema.JudgeResult, error)
}

// Evaluator runs configured judges against rubrics. It is an explicit
// injected object constructed once at startup; it holds no mutable state, so
// concurrent evaluations are independent.
type Evaluator struct {
	judges     []Judge
	thresholds variance.Thresholds

	// failOpen controls the policy when every judge fails for a candidate:
	// true keeps the fallback-filled score set (maximum agreement on a
	// neutral score), false aborts the evaluation with ErrAllJudgesFailed.
	// This is the single decision point for reversing the policy.
	failOpen bool

	log zerolog.Logger
}

// New constructs an Evaluator over the given judges.
func New(judges []Judge, thresholds variance.Thresholds, failOpen bool, log zerolog.Logger) *Evaluator {
	return &Evaluator{judges: judges, thresholds: thresholds, failOpen: failOpen, log: log}
}

// Judges returns the names of the configured judges.
func (e *Evaluator) Judges() []string {
	names := make([]string, len(e.judges))
	for i, j := range e.judges {
		names[i] = j.Name()
	}
	return names
}

// EvaluateRubric runs every configured judge against every candidate
// concurrently and returns the assembled RubricEvaluation. A failed judge
// call contributes a fallback result so each candidate always carries a full
// score set; the overall variance pools the scores of all candidates.
func (e *Evaluator) EvaluateRubric(ctx context.Context, rubric schema.Rubric, candidates []schema.CandidateResponse) (schema.RubricEvaluation, error) {
	if err := e.validate(rubric, candidates); err != nil {
		return schema.RubricEvaluation{}, err
	}

	// Flat fan-out over candidates × judges. Settle-all join: every call
	// runs to completion and failures land in errs, never abort siblings.
	results := make([][]schema.JudgeResult, len(candidates))
	errs := make([][]error, len(candidates))
	for i := range candidates {
		results[i] = make([]schema.JudgeResult, len(e.judges))
		errs[i] = make([]error, len(e.judges))
	}

	var wg sync.WaitGroup
	for ci, cand := range candidates {
		for ji, j := range e.judges {
			wg.Add(1)
			go func(ci, ji int, j Judge, text string) {
				defer wg.Done()
				results[ci][ji], errs[ci][ji] = j.Evaluate(ctx, rubric.Name, rubric.Description, text)
			}(ci, ji, j, cand.Text)
		}
	}
	wg.Wait()

	eval := schema.RubricEvaluation{
		RubricID:   rubric.ID,
		RubricName: rubric.Name,
		Candidates: make([]schema.CandidateEvaluation, len(candidates)),
	}

	var pooled []float64
	for ci, cand := range candidates {
		failed := 0
		for ji, j := range e.judges {
			if err := errs[ci][ji]; err != nil {
				failed++
				e.log.Warn().Err(err).
					Str("rubric", rubric.Name).
					Str("judge", j.Name()).
					Str("candidate", cand.GeneratorName).
					Msg("judge call failed, substituting fallback result")
				results[ci][ji] = fallbackResult(j.Name())
			}
		}
		if failed == len(e.judges) && !e.failOpen {
			return schema.RubricEvaluation{}, fmt.Errorf("%w: rubric %q candidate %q",
				ErrAllJudgesFailed, rubric.Name, cand.GeneratorName)
		}

		scores := make([]float64, len(e.judges))
		for ji, r := range results[ci] {
			scores[ji] = r.Score
		}
		pooled = append(pooled, scores...)

		eval.Candidates[ci] = schema.CandidateEvaluation{
			GeneratorName: cand.GeneratorName,
			Results:       results[ci],
			Variance:      e.thresholds.Classify(scores),
		}
	}
	eval.Overall = e.thresholds.Classify(pooled)

	return eval, nil
}

// EvaluateRubrics evaluates every rubric against the same candidate set
// concurrently. Results keep the order of the rubrics argument.
func (e *Evaluator) EvaluateRubrics(ctx context.Context, rubrics []schema.Rubric, candidates []schema.CandidateResponse) ([]schema.RubricEvaluation, error) {
	if len(rubrics) == 0 {
		return nil, &ValidationError{Field: "rubricIds", Message: "must not be empty"}
	}

	evals := make([]schema.RubricEvaluation, len(rubrics))
	g, ctx := errgroup.WithContext(ctx)
	for i, r := range rubrics {
		g.Go(func() error {
			ev, err := e.EvaluateRubric(ctx, r, candidates)
			if err != nil {
				return fmt.Errorf("rubric %q: %w", r.Name, err)
			}
			evals[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return evals, nil
}

func (e *Evaluator) validate(rubric schema.Rubric, candidates []schema.CandidateResponse) error {
	if len(e.judges) == 0 {
		return &ValidationError{Field: "judges", Message: "no judges configured"}
	}
	if rubric.Name == "" {
		return &ValidationError{Field: "rubric", Message: "rubric name must not be empty"}
	}
	if len(candidates) == 0 {
		return &ValidationError{Field: "candidateResponses", Message: "must not be empty"}
	}
	for i, c := range candidates {
		if c.Text == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("candidateResponses[%d]", i),
				Message: "response text must not be empty",
			}
		}
	}
	return nil
}

// fallbackResult is the neutral substitute for a failed judge call.
func fallbackResult(judgeName string) schema.JudgeResult {
	return schema.JudgeResult{
		JudgeName: judgeName + " (fallback)",
		Score:     FallbackScore,
		Rationale: fmt.Sprintf("%s evaluation failed. This is a fallback score.", judgeName),
		Fallback:  true,
	}
}
