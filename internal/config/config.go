// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Stream transports accepted by TRIPSYNC_STREAM.
const (
	StreamSSE = "sse"
	StreamWS  = "ws"
)

// Config holds all application configuration.
type Config struct {
	APIBaseURL     string
	Token          string
	RequestTimeout time.Duration
	Stream         string
	Jobs           JobConfig
	ResetSequence  bool
	Journal        JournalConfig
	Mock           MockConfig
}

// JobConfig tunes gallery job tracking.
type JobConfig struct {
	PollInterval     time.Duration
	MaxPolls         int
	RemediationDelay time.Duration
	PhotoConcurrency int
}

// JournalConfig controls the on-disk diagnostic journal.
type JournalConfig struct {
	Enabled   bool
	Path      string
	Retention time.Duration
}

// MockConfig configures the local mock backend.
type MockConfig struct {
	Port        string
	FrontendURL string
	JobTick     time.Duration
	JobSteps    int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:     getEnv("TRIPSYNC_API_URL", "http://localhost:8090"),
		Token:          getEnv("TRIPSYNC_TOKEN", ""),
		RequestTimeout: getEnvDuration("TRIPSYNC_REQUEST_TIMEOUT", 30*time.Second),
		Stream:         strings.ToLower(getEnv("TRIPSYNC_STREAM", StreamSSE)),
		Jobs: JobConfig{
			PollInterval:     getEnvDuration("TRIPSYNC_POLL_INTERVAL", 10*time.Second),
			MaxPolls:         getEnvInt("TRIPSYNC_MAX_POLLS", 30),
			RemediationDelay: getEnvDuration("TRIPSYNC_REMEDIATION_DELAY", time.Second),
			PhotoConcurrency: getEnvInt("TRIPSYNC_PHOTO_CONCURRENCY", 4),
		},
		ResetSequence: getEnvBool("TRIPSYNC_RESET_SEQUENCE", true),
		Journal: JournalConfig{
			Enabled:   getEnvBool("TRIPSYNC_JOURNAL_ENABLED", true),
			Path:      getEnv("TRIPSYNC_JOURNAL_PATH", "./data/tripsync.db"),
			Retention: getEnvDuration("TRIPSYNC_JOURNAL_RETENTION", 7*24*time.Hour),
		},
		Mock: MockConfig{
			Port:        getEnv("MOCK_PORT", "8090"),
			FrontendURL: getEnv("FRONTEND_URL", ""),
			JobTick:     getEnvDuration("MOCK_JOB_TICK", 2*time.Second),
			JobSteps:    getEnvInt("MOCK_JOB_STEPS", 3),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("TRIPSYNC_API_URL cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("TRIPSYNC_REQUEST_TIMEOUT must be > 0")
	}
	if c.Stream != StreamSSE && c.Stream != StreamWS {
		return fmt.Errorf("TRIPSYNC_STREAM must be %q or %q, got %q", StreamSSE, StreamWS, c.Stream)
	}
	if c.Jobs.PollInterval <= 0 {
		return fmt.Errorf("TRIPSYNC_POLL_INTERVAL must be > 0")
	}
	if c.Jobs.MaxPolls <= 0 {
		return fmt.Errorf("TRIPSYNC_MAX_POLLS must be > 0")
	}
	if c.Jobs.RemediationDelay < 0 {
		return fmt.Errorf("TRIPSYNC_REMEDIATION_DELAY cannot be negative")
	}
	if c.Jobs.PhotoConcurrency <= 0 {
		return fmt.Errorf("TRIPSYNC_PHOTO_CONCURRENCY must be > 0")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("TRIPSYNC_JOURNAL_PATH cannot be empty")
	}
	if c.Mock.Port == "" {
		return fmt.Errorf("MOCK_PORT cannot be empty")
	}
	if c.Mock.JobSteps <= 0 {
		return fmt.Errorf("MOCK_JOB_STEPS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if the mock backend serves a local frontend.
func (c *Config) IsDevelopment() bool {
	return c.Mock.FrontendURL == "" ||
		strings.Contains(c.Mock.FrontendURL, "localhost") ||
		strings.Contains(c.Mock.FrontendURL, "127.0.0.1")
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

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
