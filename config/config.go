// Package config centralizes the environment-driven configuration for
// the automation service. Values are read once at startup into an
// immutable Config; invalid values that would weaken correctness (the
// dedup TTL bounds in particular) fail startup instead of being
// silently corrected.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultAPIBaseURL = "https://api.clockify.me/api/v1"

	// Dedup TTL bounds. Anything outside this range is a configuration
	// error: below one minute dedup is useless against delivery
	// retries, above a day the cache grows without bound.
	MinDedupTTL = time.Minute
	MaxDedupTTL = 24 * time.Hour

	defaultDedupTTL      = 10 * time.Minute
	defaultRulesCacheTTL = 5 * time.Minute
	defaultQueueDepth    = 64
	defaultWorkers       = 4
	defaultMaxAttempts   = 4
	defaultCacheMaxItems = 5000
	defaultHTTPTimeout   = 10 * time.Second
)

// DedupBackend selects the idempotency store implementation.
type DedupBackend string

const (
	DedupBackendMemory   DedupBackend = "memory"
	DedupBackendDatabase DedupBackend = "database"
)

// Config is the full runtime configuration.
type Config struct {
	Port        int
	DatabaseURL string
	APIBaseURL  string

	// APIToken authenticates calls to the time-tracking API.
	APIToken string

	// ApplyChanges selects live execution; false means dry-run.
	ApplyChanges bool

	DedupTTL     time.Duration
	DedupBackend DedupBackend

	AsyncQueueDepth int
	AsyncWorkers    int

	ActionMaxAttempts int
	HTTPTimeout       time.Duration

	WorkspaceCacheMaxItems int
	RulesCacheTTL          time.Duration
}

// FromEnvironment builds a Config from process environment variables.
// Returns an error for values that must not be silently corrected.
func FromEnvironment() (*Config, error) {
	cfg := &Config{
		Port:                   intEnv("PORT", 8080),
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		APIBaseURL:             stringEnv("TRACK_API_BASE_URL", DefaultAPIBaseURL),
		APIToken:               os.Getenv("TRACK_API_TOKEN"),
		ApplyChanges:           boolEnv("RULES_APPLY_CHANGES"),
		DedupTTL:               time.Duration(intEnv("RULES_WEBHOOK_DEDUP_SECONDS", int(defaultDedupTTL/time.Second))) * time.Second,
		AsyncQueueDepth:        intEnv("ASYNC_QUEUE_DEPTH", defaultQueueDepth),
		AsyncWorkers:           intEnv("ASYNC_WORKERS", defaultWorkers),
		ActionMaxAttempts:      intEnv("ACTION_MAX_ATTEMPTS", defaultMaxAttempts),
		HTTPTimeout:            time.Duration(intEnv("HTTP_TIMEOUT_SECONDS", int(defaultHTTPTimeout/time.Second))) * time.Second,
		WorkspaceCacheMaxItems: intEnv("WORKSPACE_CACHE_MAX_ITEMS", defaultCacheMaxItems),
		RulesCacheTTL:          time.Duration(intEnv("RULES_CACHE_TTL_SECONDS", int(defaultRulesCacheTTL/time.Second))) * time.Second,
	}

	switch backend := strings.ToLower(strings.TrimSpace(os.Getenv("DEDUP_BACKEND"))); backend {
	case "", string(DedupBackendMemory):
		cfg.DedupBackend = DedupBackendMemory
	case string(DedupBackendDatabase):
		cfg.DedupBackend = DedupBackendDatabase
	default:
		return nil, fmt.Errorf("DEDUP_BACKEND must be %q or %q, got %q",
			DedupBackendMemory, DedupBackendDatabase, backend)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the bounds that must hold before the service starts.
func (c *Config) Validate() error {
	if c.DedupTTL < MinDedupTTL {
		return fmt.Errorf("RULES_WEBHOOK_DEDUP_SECONDS must be at least %d seconds, got %d",
			int(MinDedupTTL/time.Second), int(c.DedupTTL/time.Second))
	}
	if c.DedupTTL > MaxDedupTTL {
		return fmt.Errorf("RULES_WEBHOOK_DEDUP_SECONDS must be at most %d seconds, got %d",
			int(MaxDedupTTL/time.Second), int(c.DedupTTL/time.Second))
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be in 1..65535, got %d", c.Port)
	}
	if c.AsyncQueueDepth < 0 {
		return fmt.Errorf("ASYNC_QUEUE_DEPTH must not be negative, got %d", c.AsyncQueueDepth)
	}
	if c.AsyncWorkers < 1 {
		return fmt.Errorf("ASYNC_WORKERS must be at least 1, got %d", c.AsyncWorkers)
	}
	if c.ActionMaxAttempts < 1 || c.ActionMaxAttempts > 10 {
		return fmt.Errorf("ACTION_MAX_ATTEMPTS must be in 1..10, got %d", c.ActionMaxAttempts)
	}
	if c.WorkspaceCacheMaxItems < 1 {
		return fmt.Errorf("WORKSPACE_CACHE_MAX_ITEMS must be positive, got %d", c.WorkspaceCacheMaxItems)
	}
	if c.DedupBackend == DedupBackendDatabase && c.DatabaseURL == "" {
		return fmt.Errorf("DEDUP_BACKEND=database requires DATABASE_URL")
	}
	if c.ApplyChanges && c.APIToken == "" {
		return fmt.Errorf("RULES_APPLY_CHANGES requires TRACK_API_TOKEN")
	}
	return nil
}

func stringEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
