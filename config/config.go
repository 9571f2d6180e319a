// Package config holds connection and run settings, kept apart from the
// schema target the runner converges to.
package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Driver        string `yaml:"driver" env:"CONVERGE_DB_DRIVER" env-default:"sqlite"`
	DatabasePath  string `yaml:"database_path" env:"CONVERGE_DB_PATH" env-default:"audit_controls.db"`
	DatabaseURL   string `yaml:"database_url" env:"DATABASE_URL"`
	SchemaFile    string `yaml:"schema_file" env:"CONVERGE_SCHEMA_FILE"`
	RecordHistory bool   `yaml:"record_history" env:"CONVERGE_RECORD_HISTORY" env-default:"true"`

	// Consumed by the web application; surfaced here so `check` can report them.
	DemoMode     bool   `yaml:"demo_mode" env:"DEMO_MODE" env-default:"true"`
	OpenAIAPIKey string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
}

// Load reads the optional YAML file at path and then the environment, which
// takes precedence.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Driver) {
	case "sqlite", "sqlite3":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database path must not be empty")
		}
	case "postgres", "postgresql", "pgx":
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required for driver %q", c.Driver)
		}
	default:
		return fmt.Errorf("unsupported driver %q (want sqlite or postgres)", c.Driver)
	}
	return nil
}

func (c Config) HasInsightCredential() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}
