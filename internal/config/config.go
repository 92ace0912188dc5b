// Package config loads rubricgate configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Judges     JudgesConfig     `mapstructure:"judges"`
	Generation GenerationConfig `mapstructure:"generation"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	CORS       CORSConfig       `mapstructure:"cors"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// JudgeConfig selects one provider-backed judge. API keys are read from the
// environment by the provider itself, never from this file.
type JudgeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Model   string `mapstructure:"model"`
}

type JudgesConfig struct {
	OpenAI      JudgeConfig   `mapstructure:"openai"`
	Anthropic   JudgeConfig   `mapstructure:"anthropic"`
	Google      JudgeConfig   `mapstructure:"google"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// GenerationConfig bounds candidate response generation, which reuses the
// enabled judge providers with a larger completion budget.
type GenerationConfig struct {
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type EvaluationConfig struct {
	AgreeMax   float64 `mapstructure:"agree_max"`
	CautionMax float64 `mapstructure:"caution_max"`
	// FailOpen keeps fallback scores when every judge fails for a
	// candidate; disable to abort such evaluations instead.
	FailOpen bool `mapstructure:"fail_open"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	viper.SetEnvPrefix("rubricgate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "5m")
	viper.SetDefault("server.idle_timeout", "60s")
	viper.SetDefault("server.request_timeout", "4m")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("database.path", "rubricgate.db")

	viper.SetDefault("judges.openai.enabled", true)
	viper.SetDefault("judges.openai.model", "gpt-5-2025-08-07")
	viper.SetDefault("judges.anthropic.enabled", true)
	viper.SetDefault("judges.anthropic.model", "claude-opus-4-20250514")
	viper.SetDefault("judges.google.enabled", false)
	viper.SetDefault("judges.google.model", "gemini-2.0-flash")
	viper.SetDefault("judges.max_tokens", 300)
	viper.SetDefault("judges.temperature", 0.3)
	viper.SetDefault("judges.timeout", "60s")

	viper.SetDefault("generation.max_tokens", 1024)
	viper.SetDefault("generation.temperature", 0.7)
	viper.SetDefault("generation.timeout", "90s")

	viper.SetDefault("evaluation.agree_max", 10.0)
	viper.SetDefault("evaluation.caution_max", 30.0)
	viper.SetDefault("evaluation.fail_open", true)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.pretty", false)

	viper.SetDefault("cors.allowed_origins", []string{"*"})
	viper.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	viper.SetDefault("cors.allowed_headers", []string{"Accept", "Authorization", "Content-Type"})
	viper.SetDefault("cors.max_age", 300)
}
