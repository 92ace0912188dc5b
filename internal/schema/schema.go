// Package schema defines the canonical data types shared across rubricgate:
// rubrics, candidate responses, judge results, score variances, and
// submissions.
package schema

import "time"

// AgreementStatus classifies how closely a set of judge scores agree.
type AgreementStatus string

const (
	StatusAgree    AgreementStatus = "agree"
	StatusCaution  AgreementStatus = "caution"
	StatusDisagree AgreementStatus = "disagree"
)

// Score bounds for judge output. Every score is clamped into this range.
const (
	ScoreMin = 0.0
	ScoreMax = 10.0
)

// Task is a unit of work users submit responses for. Rubrics are scoped to
// a task.
type Task struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Description  string    `json:"description" db:"description"`
	Logo         string    `json:"logo,omitempty" db:"logo"`
	SystemPrompt string    `json:"systemPrompt,omitempty" db:"system_prompt"`
	Active       bool      `json:"active" db:"active"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// Rubric is a named evaluation criterion with a description, scoped to a
// task. It is read-only input to the evaluation core.
type Rubric struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	TaskID      string    `json:"taskId" db:"task_id"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time `json:"updatedAt" db:"updated_at"`
}

// CandidateResponse is a piece of generated text attributed to the generator
// that produced it, to be judged against rubrics.
type CandidateResponse struct {
	GeneratorName string `json:"llmName"`
	Text          string `json:"response"`
}

// JudgeResult is the output of one judge evaluating one (rubric, candidate)
// pair. Score is always within [ScoreMin, ScoreMax]. Fallback marks results
// substituted for a failed judge call.
type JudgeResult struct {
	JudgeName string  `json:"llmName"`
	Score     float64 `json:"score"`
	Rationale string  `json:"description"`
	Fallback  bool    `json:"fallback,omitempty"`
}

// ScoreVariance is derived from a set of numeric scores: the scores
// themselves, the percentage of the score range they span, and the agreement
// status that spread maps to. It is a pure function of its score set and is
// always recomputed from raw scores when re-validated downstream.
type ScoreVariance struct {
	Status   AgreementStatus `json:"status"`
	Scores   []float64       `json:"scores"`
	Variance float64         `json:"variance"`
}

// CandidateEvaluation bundles one candidate's judge results with the
// variance computed over that candidate's scores.
type CandidateEvaluation struct {
	GeneratorName string        `json:"llmName"`
	Results       []JudgeResult `json:"evaluations"`
	Variance      ScoreVariance `json:"scoreVariance"`
}

// RubricEvaluation is one rubric's full judge output across candidates,
// plus the overall variance pooled over every candidate's scores.
type RubricEvaluation struct {
	RubricID   string                `json:"rubricId"`
	RubricName string                `json:"rubricName"`
	Candidates []CandidateEvaluation `json:"candidates"`
	Overall    ScoreVariance         `json:"scoreVariance"`
}

// Submission records a gate-approved set of candidate responses and their
// rubric evaluations. Immutable once stored.
type Submission struct {
	ID            string              `json:"id"`
	TaskID        string              `json:"taskId"`
	Responses     []CandidateResponse `json:"llmResponses"`
	Evaluations   []RubricEvaluation  `json:"rubrics"`
	WalletAddress string              `json:"walletAddress"`
	CreatedAt     time.Time           `json:"createdAt"`
}

// User ties a username to a wallet address and an accumulated point total.
type User struct {
	ID            string    `json:"id" db:"id"`
	Username      string    `json:"username" db:"username"`
	WalletAddress string    `json:"walletAddress" db:"wallet_address"`
	Points        int       `json:"points" db:"points"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}

// LeaderboardEntry is one ranked row of the points leaderboard.
type LeaderboardEntry struct {
	Rank          int    `json:"rank"`
	Username      string `json:"username" db:"username"`
	WalletAddress string `json:"walletAddress" db:"wallet_address"`
	Points        int    `json:"score" db:"points"`
	Submissions   int    `json:"submissions" db:"submissions"`
}

// ClampScore forces a score into [ScoreMin, ScoreMax] regardless of what a
// judge reported.
func ClampScore(s float64) float64 {
	if s < ScoreMin {
		return ScoreMin
	}
	if s > ScoreMax {
		return ScoreMax
	}
	return s
}
