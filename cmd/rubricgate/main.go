package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rubricgate/rubricgate/internal/config"
	"github.com/rubricgate/rubricgate/internal/evaluate"
	"github.com/rubricgate/rubricgate/internal/generate"
	"github.com/rubricgate/rubricgate/internal/judge"
)

func main() {
	root := &cobra.Command{
		Use:   "rubricgate",
		Short: "Multi-judge rubric scoring with agreement gating",
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newEvaluateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

type providerConfig struct {
	name string
	jc   config.JudgeConfig
}

func enabledProviders(cfg *config.Config) []providerConfig {
	all := []providerConfig{
		{"openai", cfg.Judges.OpenAI},
		{"anthropic", cfg.Judges.Anthropic},
		{"google", cfg.Judges.Google},
	}
	var enabled []providerConfig
	for _, p := range all {
		if p.jc.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// buildJudges constructs one judge per enabled provider. A provider whose
// API key is missing fails construction so misconfiguration is caught at
// startup, not on the first evaluation.
func buildJudges(cfg *config.Config, log zerolog.Logger) ([]evaluate.Judge, error) {
	opts := judge.Options{
		MaxTokens:   cfg.Judges.MaxTokens,
		Temperature: cfg.Judges.Temperature,
		Timeout:     cfg.Judges.Timeout,
	}

	var judges []evaluate.Judge
	for _, p := range enabledProviders(cfg) {
		j, err := judge.NewFromProvider(p.name, p.jc.Model, opts)
		if err != nil {
			if errors.Is(err, judge.ErrNotConfigured) {
				return nil, fmt.Errorf("judge %s is enabled but not configured: %w", p.name, err)
			}
			return nil, err
		}
		log.Info().Str("provider", p.name).Str("model", p.jc.Model).Msg("judge configured")
		judges = append(judges, j)
	}

	if len(judges) < 2 {
		return nil, fmt.Errorf("at least two judges must be enabled and configured, have %d", len(judges))
	}
	return judges, nil
}

// buildGenerator reuses the enabled judge providers as candidate response
// sources, with the generation token and time budgets.
func buildGenerator(cfg *config.Config, log zerolog.Logger) (*generate.Generator, error) {
	opts := generate.Options{
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Timeout:     cfg.Generation.Timeout,
	}

	var sources []generate.Source
	for _, p := range enabledProviders(cfg) {
		prov, err := judge.NewProvider(p.name, p.jc.Model)
		if err != nil {
			if errors.Is(err, judge.ErrNotConfigured) {
				return nil, fmt.Errorf("source %s is enabled but not configured: %w", p.name, err)
			}
			return nil, err
		}
		sources = append(sources, generate.Source{Name: p.jc.Model, Provider: prov})
	}

	if len(sources) == 0 {
		return nil, errors.New("at least one provider must be enabled for response generation")
	}
	return generate.New(sources, opts, log), nil
}
