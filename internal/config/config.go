// Package config resolves the batch kernel's environment-variable
// surface once at process start, using the same caarlos0/env convention
// the rest of the example pack reaches for instead of hand-rolled
// os.Getenv parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	MaxWorkers    int    `env:"MAX_WORKERS" envDefault:"4"`
	MaxRetries    int    `env:"MAX_RETRIES" envDefault:"3"`
	StoragePath   string `env:"STORAGE_PATH"`
	DashboardPort int    `env:"DASHBOARD_PORT" envDefault:"3847"`
	SkipTest      bool   `env:"SKIP_TEST" envDefault:"false"`

	AgentCLIPath  string `env:"AGENT_CLI_PATH" envDefault:"claude"`
	AgentModel    string `env:"AGENT_MODEL"`
	AgentMaxTurns int    `env:"AGENT_MAX_TURNS" envDefault:"0"`

	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:3847"`

	// PromptSynthesizer selects how CreateJob drafts a worker prompt
	// template: "template" (the fixed file/generic shapes) or "llm"
	// (ask a model, via PromptSynthesizerProvider).
	PromptSynthesizer         string `env:"PROMPT_SYNTHESIZER" envDefault:"template"`
	PromptSynthesizerProvider string `env:"PROMPT_SYNTHESIZER_PROVIDER" envDefault:"ollama"`
	PromptSynthesizerBaseURL  string `env:"PROMPT_SYNTHESIZER_BASE_URL"`
	PromptSynthesizerAPIKey   string `env:"PROMPT_SYNTHESIZER_API_KEY"`
	PromptSynthesizerModel    string `env:"PROMPT_SYNTHESIZER_MODEL"`
}

// Load reads a .env file if present (ignoring a missing file, since
// production deployments set real environment variables instead), then
// parses the process environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.StoragePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.StoragePath = filepath.Join(home, ".aulebatch", "batch.db")
	}

	return cfg, nil
}
