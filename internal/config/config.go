// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config carries every knob of the agent binary.
type Config struct {
	// Chat completion endpoint.
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL"`
	Model         string `envconfig:"MODEL" default:"gpt-4o-mini"`

	// Embeddings endpoint; may point at a different provider than the
	// chat endpoint.
	EmbeddingBaseURL string `envconfig:"EMBEDDING_BASE_URL"`
	EmbeddingKey     string `envconfig:"EMBEDDING_KEY"`
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:"BAAI/bge-m3"`

	// Tool server handshake deadline.
	ServerInitTimeout time.Duration `envconfig:"SERVER_INIT_TIMEOUT" default:"30s"`

	// Knowledge retrieval.
	RetrieveTopK int    `envconfig:"RETRIEVE_TOP_K" default:"3"`
	PostgresURL  string `envconfig:"POSTGRES_URL"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is required")
	}
	return &cfg, nil
}
