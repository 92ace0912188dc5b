package config

import "testing"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("server address = %q, want :8080", cfg.Server.Address)
	}
	if !cfg.Judges.OpenAI.Enabled || !cfg.Judges.Anthropic.Enabled {
		t.Error("openai and anthropic judges should be enabled by default")
	}
	if cfg.Judges.Google.Enabled {
		t.Error("google judge should be disabled by default")
	}
	if cfg.Evaluation.AgreeMax != 10 || cfg.Evaluation.CautionMax != 30 {
		t.Errorf("thresholds = %v/%v, want 10/30", cfg.Evaluation.AgreeMax, cfg.Evaluation.CautionMax)
	}
	if !cfg.Evaluation.FailOpen {
		t.Error("fail_open should default to true")
	}
	if cfg.Judges.MaxTokens != 300 {
		t.Errorf("max_tokens = %d, want 300", cfg.Judges.MaxTokens)
	}
	if cfg.Generation.MaxTokens != 1024 {
		t.Errorf("generation max_tokens = %d, want 1024", cfg.Generation.MaxTokens)
	}
}
