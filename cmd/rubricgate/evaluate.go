package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rubricgate/rubricgate/internal/config"
	"github.com/rubricgate/rubricgate/internal/evaluate"
	"github.com/rubricgate/rubricgate/internal/gate"
	"github.com/rubricgate/rubricgate/internal/schema"
	"github.com/rubricgate/rubricgate/internal/variance"
)

// newEvaluateCmd runs a single rubric evaluation without the server, for
// smoke tests and operator debugging. The candidate text comes from the
// --text flag or stdin.
func newEvaluateCmd() *cobra.Command {
	var (
		rubricName  string
		description string
		text        string
	)

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a candidate text against a rubric and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Logging)

			if text == "" {
				b, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("read candidate text from stdin: %w", err)
				}
				text = string(b)
			}

			judges, err := buildJudges(cfg, log)
			if err != nil {
				return err
			}

			thresholds := variance.Thresholds{
				AgreeMax:   cfg.Evaluation.AgreeMax,
				CautionMax: cfg.Evaluation.CautionMax,
			}
			ev := evaluate.New(judges, thresholds, cfg.Evaluation.FailOpen, log)

			rubric := schema.Rubric{Name: rubricName, Description: description}
			eval, err := ev.EvaluateRubric(cmd.Context(), rubric, []schema.CandidateResponse{
				{GeneratorName: "candidate", Text: text},
			})
			if err != nil {
				return err
			}

			decision := gate.New(thresholds).Decide([]schema.RubricEvaluation{eval})

			out := struct {
				Evaluation schema.RubricEvaluation `json:"evaluation"`
				Decision   gate.Decision           `json:"decision"`
			}{eval, decision}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVar(&rubricName, "rubric", "", "rubric name (required)")
	cmd.Flags().StringVar(&description, "description", "", "rubric description (required)")
	cmd.Flags().StringVar(&text, "text", "", "candidate text (default: read from stdin)")
	_ = cmd.MarkFlagRequired("rubric")
	_ = cmd.MarkFlagRequired("description")

	return cmd
}
