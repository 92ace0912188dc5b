// Package generate produces candidate responses for a task by fanning the
// task prompt out to every configured provider in parallel. Each provider's
// answer becomes one attributed candidate, which callers later score against
// the task's rubrics.
package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rubricgate/rubricgate/internal/judge"
	"github.com/rubricgate/rubricgate/internal/schema"
)

// ErrNoResponses is returned when every source failed, so no candidate
// response could be produced at all.
var ErrNoResponses = errors.New("generate: every source failed")

// Source pairs a display name with a provider transport. The name labels the
// generated response and later identifies the candidate in evaluations.
type Source struct {
	Name     string
	Provider judge.Provider
}

// Options bounds each generation call. Timeout caps each source so one stuck
// provider cannot hold the whole batch.
type Options struct {
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
}

// DefaultOptions matches the production generation settings. Generation
// needs far more room than judging, which only returns a score object.
func DefaultOptions() Options {
	return Options{MaxTokens: 1024, Temperature: 0.7, Timeout: 90 * time.Second}
}

// Generator fans a prompt out to its sources concurrently. Sources that fail
// are dropped from the result set rather than failing the batch.
type Generator struct {
	sources []Source
	opts    Options
	log     zerolog.Logger
}

func New(sources []Source, opts Options, log zerolog.Logger) *Generator {
	return &Generator{sources: sources, opts: opts, log: log}
}

// Sources returns the names of the configured sources.
func (g *Generator) Sources() []string {
	names := make([]string, len(g.sources))
	for i, src := range g.sources {
		names[i] = src.Name
	}
	return names
}

// Generate asks every source to complete message under systemPrompt. All
// calls run to completion; a failed or empty answer drops that source from
// the result, which keeps the source order. Only when every source failed
// does Generate return ErrNoResponses.
func (g *Generator) Generate(ctx context.Context, systemPrompt, message string) ([]schema.CandidateResponse, error) {
	texts := make([]string, len(g.sources))
	errs := make([]error, len(g.sources))

	var wg sync.WaitGroup
	for i, src := range g.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			callCtx := ctx
			if g.opts.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
				defer cancel()
			}
			text, err := src.Provider.Complete(callCtx, systemPrompt, message, g.opts.MaxTokens, g.opts.Temperature)
			if err != nil {
				errs[i] = err
				return
			}
			if strings.TrimSpace(text) == "" {
				errs[i] = errors.New("empty response")
				return
			}
			texts[i] = text
		}(i, src)
	}
	wg.Wait()

	out := make([]schema.CandidateResponse, 0, len(g.sources))
	for i, src := range g.sources {
		if errs[i] != nil {
			g.log.Warn().Err(errs[i]).
				Str("source", src.Name).
				Msg("response generation failed, dropping source")
			continue
		}
		out = append(out, schema.CandidateResponse{GeneratorName: src.Name, Text: texts[i]})
	}
	if len(out) == 0 {
		return nil, ErrNoResponses
	}
	return out, nil
}
