package config

import (
	"fmt"
	"os"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Config is the process configuration. Environment variables win over the
// optional pageforge.yaml file, which wins over defaults.
type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	DataDir     string `yaml:"dataDir"`
	LogDir      string `yaml:"logDir"`
	CORSOrigins string `yaml:"corsOrigins"`

	// Completion engine
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	AnthropicAPIKey string `yaml:"-"`

	// ImageGeneration enables the image tools for newly created sessions.
	ImageGeneration bool `yaml:"imageGeneration"`

	// Debug enables verbose logging and dev-only behavior.
	Debug bool `yaml:"debug"`
}

// Load reads configuration from the optional yaml file and the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        "8080",
		Environment: "dev",
		DataDir:     "data/sessions",
		LogDir:      "",
		CORSOrigins: "http://localhost:3000",
		Provider:    "lorem",
		Model:       "claude-sonnet-4-5",
	}

	if path := getEnv("PAGEFORGE_CONFIG", "pageforge.yaml"); path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.LogDir = getEnv("LOG_DIR", cfg.LogDir)
	cfg.CORSOrigins = getEnv("CORS_ORIGINS", cfg.CORSOrigins)
	cfg.Provider = getEnv("PROVIDER", cfg.Provider)
	cfg.Model = getEnv("MODEL", cfg.Model)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.ImageGeneration = getEnv("IMAGE_GENERATION", boolString(cfg.ImageGeneration)) == "true"
	cfg.Debug = getEnv("DEBUG", getDefaultDebug(cfg.Environment)) == "true"

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.By(validPort)),
		validation.Field(&c.Environment, validation.Required, validation.In("dev", "test", "prod")),
		validation.Field(&c.DataDir, validation.Required),
		validation.Field(&c.Provider, validation.Required, validation.In("anthropic", "lorem")),
	)
}

func validPort(value any) error {
	port, _ := value.(string)
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("must be a port number")
	}
	return nil
}

// getDefaultDebug returns the default debug setting based on environment.
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true"
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
