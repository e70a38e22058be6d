// Package config loads the service configuration from YAML with
// environment overrides for secrets and the database path.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DBConfig holds the SQLite location.
type DBConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds bearer-token settings. The secret signs and verifies
// HS256 tokens; TokenTTL bounds tokens minted by the CLI.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider   string `yaml:"provider"`
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

// QueryConfig tunes hybrid search.
type QueryConfig struct {
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	TextWeight   float64       `yaml:"text_weight"`
	VectorWeight float64       `yaml:"vector_weight"`
}

// GatewayConfig holds API-key defaults for newly minted keys.
type GatewayConfig struct {
	DefaultRateLimit  int `yaml:"default_rate_limit"`
	DefaultRateWindow int `yaml:"default_rate_window"`
}

// WebhooksConfig bounds outbound delivery.
type WebhooksConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the full service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	DB         DBConfig         `yaml:"db"`
	Auth       AuthConfig       `yaml:"auth"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Query      QueryConfig      `yaml:"query"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Webhooks   WebhooksConfig   `yaml:"webhooks"`
	Log        LogConfig        `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		DB:     DBConfig{Path: "memvault.db"},
		Auth: AuthConfig{
			JWTSecret: "",
			TokenTTL:  time.Hour,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "hash",
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 256,
		},
		Query: QueryConfig{
			CacheTTL:     2 * time.Minute,
			TextWeight:   0.6,
			VectorWeight: 0.4,
		},
		Gateway: GatewayConfig{
			DefaultRateLimit:  60,
			DefaultRateWindow: 60,
		},
		Webhooks: WebhooksConfig{Timeout: 5 * time.Second},
		Log:      LogConfig{Level: "info"},
	}
}

// Load reads YAML from path on top of the defaults. An empty path returns
// the defaults. MEMVAULT_JWT_SECRET and MEMVAULT_DB override the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MEMVAULT_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("MEMVAULT_DB"); v != "" {
		c.DB.Path = v
	}
}
