package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// Atomic state store
	StoreBackend string        `koanf:"store_backend"` // redis | bbolt | memory
	RedisAddr    string        `koanf:"redis_addr"`
	RedisPassword string       `koanf:"redis_password"`
	RedisDB      int           `koanf:"redis_db"`
	StoreTimeout time.Duration `koanf:"store_timeout"`
	DataDir      string        `koanf:"data_dir"`

	// Service surface
	ListenAddr     string `koanf:"listen_addr"`
	MetricsEnabled bool   `koanf:"metrics_enabled"`
	MetricsAddr    string `koanf:"metrics_addr"`

	// Policy for a check that fails on store error: surface 503 (fail closed)
	// or answer allowed (fail open). Applied at the transport edge only.
	FailOpen bool `koanf:"fail_open"`

	// Notification thresholds applied when a rule carries none.
	DefaultThresholds []int `koanf:"default_thresholds"`

	// Webhook delivery
	WebhookURL        string        `koanf:"webhook_url"` // fallback target when a rule has none
	WebhookSecret     string        `koanf:"webhook_secret"`
	WebhookTimeout    time.Duration `koanf:"webhook_timeout"`
	WebhookWorkers    int           `koanf:"webhook_workers"`
	WebhookQueueDepth int           `koanf:"webhook_queue_depth"`
	WebhookMaxRetries int           `koanf:"webhook_max_retries"`
	WebhookRetryBase  time.Duration `koanf:"webhook_retry_base"`

	// Operational
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

// sanitise removes a single layer of matching surrounding quotes from all string
// fields. This normalises values from Docker --env-file which does not strip
// shell quoting.
func (c *Config) sanitise() {
	c.StoreBackend = stripEnvQuotes(c.StoreBackend)
	c.RedisAddr = stripEnvQuotes(c.RedisAddr)
	c.RedisPassword = stripEnvQuotes(c.RedisPassword)
	c.DataDir = stripEnvQuotes(c.DataDir)
	c.ListenAddr = stripEnvQuotes(c.ListenAddr)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.WebhookURL = stripEnvQuotes(c.WebhookURL)
	c.WebhookSecret = stripEnvQuotes(c.WebhookSecret)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"store_backend":       "redis",
		"redis_addr":          "localhost:6379",
		"redis_db":            0,
		"store_timeout":       "3s",
		"data_dir":            "/data",
		"listen_addr":         ":8080",
		"metrics_enabled":     true,
		"metrics_addr":        ":9090",
		"fail_open":           false,
		"default_thresholds":  "80,90,100",
		"webhook_timeout":     "5s",
		"webhook_workers":     4,
		"webhook_queue_depth": 4096,
		"webhook_max_retries": 3,
		"webhook_retry_base":  "1s",
		"log_level":           "info",
		"log_format":          "json",
		"janitor_interval":    "1h",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables, applying _FILE secret injection.
func Load() (*Config, error) {
	// Use "." as delimiter so that env vars with "_" in their names are
	// treated as flat keys, not nested paths. E.g. REDIS_ADDR → "redis_addr"
	// maps to struct tag koanf:"redis_addr" without any nesting.
	k := koanf.New(".")

	defs := defaults()
	if err := k.Load(&rawProvider{data: defs}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma-separated list field that koanf won't split automatically
	thresholds, err := parseThresholds(k.String("default_thresholds"))
	if err != nil {
		return nil, err
	}
	cfg.DefaultThresholds = thresholds

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when STORE_BACKEND=redis")
		}
	case "bbolt":
		if c.DataDir == "" {
			return fmt.Errorf("DATA_DIR is required when STORE_BACKEND=bbolt")
		}
	case "memory":
	default:
		return fmt.Errorf("STORE_BACKEND must be redis, bbolt, or memory; got %q", c.StoreBackend)
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be > 0; got %s", c.StoreTimeout)
	}

	if c.WebhookWorkers < 1 || c.WebhookWorkers > 64 {
		return fmt.Errorf("WEBHOOK_WORKERS must be 1–64; got %d", c.WebhookWorkers)
	}
	if c.WebhookQueueDepth < 1 {
		return fmt.Errorf("WEBHOOK_QUEUE_DEPTH must be >= 1; got %d", c.WebhookQueueDepth)
	}
	if c.WebhookMaxRetries < 0 {
		return fmt.Errorf("WEBHOOK_MAX_RETRIES must be >= 0; got %d", c.WebhookMaxRetries)
	}
	if c.WebhookRetryBase <= 0 {
		return fmt.Errorf("WEBHOOK_RETRY_BASE must be > 0; got %s", c.WebhookRetryBase)
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be > 0; got %s", c.WebhookTimeout)
	}
	if c.WebhookURL != "" &&
		!strings.HasPrefix(c.WebhookURL, "http://") && !strings.HasPrefix(c.WebhookURL, "https://") {
		return fmt.Errorf("WEBHOOK_URL must start with http:// or https://; got %q", c.WebhookURL)
	}

	for _, th := range c.DefaultThresholds {
		if th < 0 || th > 100 {
			return fmt.Errorf("DEFAULT_THRESHOLDS values must be 0–100; got %d", th)
		}
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	return nil
}

// injectFileSecrets reads _FILE env vars and injects their file contents.
var fileSecretKeys = []string{
	"redis_password",
	"webhook_secret",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		fileKey := key + "_file"
		filePath := k.String(fileKey)
		if filePath == "" {
			// Also check uppercased env var with _FILE suffix
			envKey := strings.ToUpper(key) + "_FILE"
			filePath = os.Getenv(envKey)
		}
		if filePath == "" {
			continue
		}
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func parseThresholds(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	result := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(stripEnvQuotes(p))
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("DEFAULT_THRESHOLDS: invalid value %q", p)
		}
		result = append(result, n)
	}
	return result, nil
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
