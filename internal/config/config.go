/**
 * Configuration for the stackalign calibration engine
 *
 * Loads configuration from environment variables, optionally seeded from a .env file
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds engine configuration
type Config struct {
	// Calibration loop
	MaxIterations int
	ThresholdPx   float64
	SettleDelay   time.Duration

	// Output locations
	AuditDir  string
	OutputDir string

	// Renderer sessions used by batch processing
	Sessions int

	// Renderer appearance
	FontPath       string
	FontSize       float64
	ViewportWidth  int
	ViewportHeight int
	InkColor       string
	PaperColor     string

	// Ink detection
	InkThreshold int

	LogLevel string
}

// Load reads an optional env file (ignored when missing) and then the process
// environment. Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
		}
	}
	return LoadFromEnv()
}

// LoadFromEnv builds a Config from environment variables only.
func LoadFromEnv() (*Config, error) {
	width, height, err := parseViewport(getEnvOrDefault("STACKALIGN_VIEWPORT", "640x320"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		MaxIterations:  getEnvAsIntOrDefault("STACKALIGN_MAX_ITERATIONS", 10),
		ThresholdPx:    getEnvAsFloatOrDefault("STACKALIGN_THRESHOLD_PX", 1.0),
		SettleDelay:    getEnvAsDurationOrDefault("STACKALIGN_SETTLE_DELAY", 50*time.Millisecond),
		AuditDir:       getEnvOrDefault("STACKALIGN_AUDIT_DIR", ""),
		OutputDir:      getEnvOrDefault("STACKALIGN_OUTPUT_DIR", "./out"),
		Sessions:       getEnvAsIntOrDefault("STACKALIGN_SESSIONS", 1),
		FontPath:       getEnvOrDefault("STACKALIGN_FONT_PATH", ""),
		FontSize:       getEnvAsFloatOrDefault("STACKALIGN_FONT_SIZE", 24),
		ViewportWidth:  width,
		ViewportHeight: height,
		InkColor:       getEnvOrDefault("STACKALIGN_INK_COLOR", "#000000"),
		PaperColor:     getEnvOrDefault("STACKALIGN_PAPER_COLOR", "#FFFFFF"),
		InkThreshold:   getEnvAsIntOrDefault("STACKALIGN_INK_THRESHOLD", 128),
		LogLevel:       getEnvOrDefault("STACKALIGN_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.MaxIterations < 1 || c.MaxIterations > 100 {
		return fmt.Errorf("STACKALIGN_MAX_ITERATIONS must be between 1 and 100, got %d", c.MaxIterations)
	}

	if c.ThresholdPx <= 0 {
		return fmt.Errorf("STACKALIGN_THRESHOLD_PX must be positive, got %g", c.ThresholdPx)
	}

	if c.SettleDelay < 0 {
		return fmt.Errorf("STACKALIGN_SETTLE_DELAY must not be negative, got %v", c.SettleDelay)
	}

	if c.Sessions < 1 || c.Sessions > 16 {
		return fmt.Errorf("STACKALIGN_SESSIONS must be between 1 and 16, got %d", c.Sessions)
	}

	if c.FontSize < 8 || c.FontSize > 96 {
		return fmt.Errorf("STACKALIGN_FONT_SIZE must be between 8 and 96, got %g", c.FontSize)
	}

	if c.ViewportWidth < 64 || c.ViewportHeight < 64 {
		return fmt.Errorf("STACKALIGN_VIEWPORT must be at least 64x64, got %dx%d", c.ViewportWidth, c.ViewportHeight)
	}

	if c.InkThreshold < 1 || c.InkThreshold > 255 {
		return fmt.Errorf("STACKALIGN_INK_THRESHOLD must be between 1 and 255, got %d", c.InkThreshold)
	}

	if c.OutputDir == "" {
		return fmt.Errorf("STACKALIGN_OUTPUT_DIR is required")
	}

	return nil
}

// parseViewport parses "WIDTHxHEIGHT".
func parseViewport(s string) (int, int, error) {
	parts := strings.SplitN(strings.ToLower(strings.TrimSpace(s)), "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("STACKALIGN_VIEWPORT must look like 640x320, got %q", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid viewport width %q: %w", parts[0], err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid viewport height %q: %w", parts[1], err)
	}
	return w, h, nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
