// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aws-samples/sample-clinical-chatbot-with-logically-verified-responses/internal/engine"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string

	// AnthropicAPIKey selects the model-backed responder; when empty the
	// server falls back to the scripted responder.
	AnthropicAPIKey string
	ChatModel       string
	ExtractionModel string
	CorruptionModel string

	// DoCorrupt is the server-wide switch for deliberate response
	// corruption, which lets the prover demonstrably catch altered answers.
	// Requests still opt in per message; disabling it here wins.
	DoCorrupt bool
	// ExtraDelay is how long, in seconds, clients are asked to keep the
	// verification progress on screen after the final event.
	ExtraDelay float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		ChatModel:       getEnv("CHAT_MODEL", engine.DefaultChatModel),
		ExtractionModel: getEnv("EXTRACTION_MODEL", engine.DefaultExtractionModel),
		CorruptionModel: getEnv("CORRUPTION_MODEL", engine.DefaultCorruptionModel),
		DoCorrupt:       getEnvBool("DO_CORRUPT", true),
		ExtraDelay:      getEnvFloat("EXTRA_DELAY", engine.DefaultExtraDelay),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.ChatModel == "" {
		return fmt.Errorf("CHAT_MODEL cannot be empty")
	}
	if c.ExtractionModel == "" {
		return fmt.Errorf("EXTRACTION_MODEL cannot be empty")
	}
	if c.CorruptionModel == "" {
		return fmt.Errorf("CORRUPTION_MODEL cannot be empty")
	}
	if c.ExtraDelay < 0 {
		return fmt.Errorf("EXTRA_DELAY must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return n
}
