// Package judge handles LLM judge communication: prompt construction,
// provider transport, and defensive extraction of a score and rationale from
// semi-structured judge output.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rubricgate/rubricgate/internal/schema"
)

// ErrNotConfigured is returned when a provider's API key is absent. The
// affected judge cannot run at all, as opposed to a transient call failure.
var ErrNotConfigured = errors.New("judge: provider API key not set")

// ProviderError records the failure of a judge call that was attempted:
// transport errors, empty responses, and unparseable output.
type ProviderError struct {
	Judge string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("judge %s: %v", e.Judge, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Provider is the transport interface for LLM backends. Implementations send
// a prompt and return the raw text response; interpreting that text is the
// judge's job, not the transport's.
type Provider interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Options bounds a judge call. Timeout caps each Evaluate so a stuck
// provider cannot hang an evaluation batch.
type Options struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultOptions matches the production evaluation settings.
func DefaultOptions() Options {
	return Options{MaxTokens: 300, Temperature: 0.3, Timeout: 60 * time.Second}
}

// Judge wraps one named provider. Evaluate is purely functional given its
// inputs; the only side effect is the outbound provider call.
type Judge struct {
	name     string
	provider Provider
	opts     Options
}

// New constructs a Judge over an existing provider. The name identifies the
// judge in results (by convention the model name).
func New(name string, p Provider, opts Options) *Judge {
	return &Judge{name: name, provider: p, opts: opts}
}

// NewProvider constructs the raw transport for the named provider
// implementation. Supported providers: "anthropic", "openai", "google".
// Returns ErrNotConfigured (wrapped) when the provider's API key is absent.
// Callers that need completions outside of rubric judging, such as candidate
// response generation, use the transport directly.
func NewProvider(providerName, model string) (Provider, error) {
	switch strings.ToLower(providerName) {
	case "anthropic":
		return newAnthropicProvider(model)
	case "openai":
		return newOpenAIProvider(model)
	case "google":
		return newGoogleProvider(model)
	default:
		return nil, fmt.Errorf("judge: unknown provider %q", providerName)
	}
}

// NewFromProvider builds a Judge backed by the named provider implementation.
func NewFromProvider(providerName, model string, opts Options) (*Judge, error) {
	p, err := NewProvider(providerName, model)
	if err != nil {
		return nil, err
	}
	return New(model, p, opts), nil
}

// Name returns the judge's identity as reported in results.
func (j *Judge) Name() string { return j.name }

// Evaluate scores one candidate text against one rubric. The returned score
// is clamped into [0, 10] regardless of what the judge reported. Failures
// are reported as *ProviderError.
func (j *Judge) Evaluate(ctx context.Context, rubricName, rubricDescription, candidateText string) (schema.JudgeResult, error) {
	if j.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.opts.Timeout)
		defer cancel()
	}

	userPrompt := buildUserPrompt(rubricName, rubricDescription, candidateText)

	raw, err := j.provider.Complete(ctx, systemPrompt, userPrompt, j.opts.MaxTokens, j.opts.Temperature)
	if err != nil {
		return schema.JudgeResult{}, &ProviderError{Judge: j.name, Err: err}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return schema.JudgeResult{}, &ProviderError{Judge: j.name, Err: errors.New("empty response")}
	}

	scored, outcome := parseScored(raw)
	if outcome == ParseFailed {
		return schema.JudgeResult{}, &ProviderError{
			Judge: j.name,
			Err:   fmt.Errorf("unparseable response: %.120q", raw),
		}
	}

	return schema.JudgeResult{
		JudgeName: j.name,
		Score:     schema.ClampScore(scored.Score),
		Rationale: scored.Description,
	}, nil
}

// systemPrompt fixes the judge's role and output contract.
const systemPrompt = `You are an expert evaluator. You score candidate responses against a rubric.

Respond with ONLY a JSON object of the form:
{
  "score": <number>,
  "description": "<explanation>"
}
No prose, no markdown, no explanation outside the JSON.`

// buildUserPrompt embeds the rubric and candidate text into the fixed
// evaluation template.
func buildUserPrompt(rubricName, rubricDescription, candidateText string) string {
	var sb strings.Builder
	sb.WriteString("Evaluate the following candidate response based on the given rubric.\n\n")
	fmt.Fprintf(&sb, "Rubric: %s\nDescription: %s\n\n", rubricName, rubricDescription)
	fmt.Fprintf(&sb, "Candidate Response:\n%s\n\n", candidateText)
	sb.WriteString("Provide:\n")
	sb.WriteString("1. A score from 0-10 (where 0 is completely failing the rubric and 10 is perfectly meeting it)\n")
	sb.WriteString("2. A brief explanation (2-3 sentences) of why you gave this score\n")
	return sb.String()
}

// ParseOutcome tags how a judge response was interpreted.
type ParseOutcome int

const (
	// ParsedStrict means the response unmarshaled as JSON directly.
	ParsedStrict ParseOutcome = iota
	// ParsedRecovered means strict parsing failed and the score and
	// rationale were extracted by pattern matching.
	ParsedRecovered
	// ParseFailed means neither strict parsing nor recovery found a score
	// and rationale.
	ParseFailed
)

// scoredResponse is the structured object judges are instructed to emit.
type scoredResponse struct {
	Score       float64 `json:"score"`
	Description string  `json:"description"`
}

// fenceRe matches a markdown code fence block (``` or ~~~) with an optional
// language tag and captures the content between the fences.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

// openFenceRe matches only an opening fence line, for responses truncated
// before the closing fence.
var openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")

// stripMarkdownFences removes leading/trailing markdown code fences that LLMs
// sometimes wrap around JSON output (e.g., "```json\n...\n```").
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}

// invalidJSONEscapeRe matches a backslash followed by any character that is
// not a valid JSON string escape character. Judges sometimes emit patterns
// like \d unescaped inside JSON strings.
var invalidJSONEscapeRe = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

func fixInvalidJSONEscapes(s string) string {
	return invalidJSONEscapeRe.ReplaceAllString(s, `\\$1`)
}

var (
	scoreRe       = regexp.MustCompile(`"score"\s*:\s*(-?\d+(?:\.\d+)?)`)
	descriptionRe = regexp.MustCompile(`"description"\s*:\s*"([^"]+)"`)
)

// parseScored interprets raw judge output. It attempts a strict JSON parse
// first (after fence stripping, with one escape-sanitizing retry), then a
// permissive pattern-based extraction of the score and quoted rationale.
// The outcome tag reports which path succeeded; parse failure is a value,
// never a panic.
func parseScored(raw string) (scoredResponse, ParseOutcome) {
	raw = stripMarkdownFences(raw)

	if out, ok := strictParse(raw); ok {
		return out, ParsedStrict
	}
	if out, ok := strictParse(fixInvalidJSONEscapes(raw)); ok {
		return out, ParsedStrict
	}

	return recoverScored(raw)
}

// strictParse accepts a JSON object only when both the score and the
// rationale are present. A response missing either field falls through to
// recovery, which in turn fails if the field genuinely is not there.
func strictParse(raw string) (scoredResponse, bool) {
	var probe struct {
		Score       *float64 `json:"score"`
		Description string   `json:"description"`
	}
	if err := json.Unmarshal([]byte(raw), &probe); err != nil {
		return scoredResponse{}, false
	}
	if probe.Score == nil || probe.Description == "" {
		return scoredResponse{}, false
	}
	return scoredResponse{Score: *probe.Score, Description: probe.Description}, true
}

func recoverScored(raw string) (scoredResponse, ParseOutcome) {
	scoreMatch := scoreRe.FindStringSubmatch(raw)
	descMatch := descriptionRe.FindStringSubmatch(raw)
	if scoreMatch == nil || descMatch == nil {
		return scoredResponse{}, ParseFailed
	}
	score, err := strconv.ParseFloat(scoreMatch[1], 64)
	if err != nil {
		return scoredResponse{}, ParseFailed
	}
	return scoredResponse{Score: score, Description: descMatch[1]}, ParsedRecovered
}
