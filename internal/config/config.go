// Package config provides configuration loading and validation for the
// groupwatch service. It uses koanf to merge environment variables with
// optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the watcher service.
type Config struct {
	// Server settings (health and metrics endpoints)
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// Platform API
	PlatformBaseURL     string `koanf:"platform_base_url"`
	PlatformAuthToken   string `koanf:"platform_auth_token"`
	PlatformMinInterval int    `koanf:"platform_min_interval_ms"`

	// SelfUserID is the platform user the service is authenticated
	// as; the remediation owner gate compares it against the
	// configured owner.
	SelfUserID string `koanf:"self_user_id"`

	// Monitoring
	GroupID             string `koanf:"group_id"`
	PollIntervalSeconds int    `koanf:"poll_interval_seconds"`

	// Global policy defaults (groups may override via stored policy)
	MonitoringEnabled  bool   `koanf:"monitoring_enabled"`
	AutoRemoveRoles    bool   `koanf:"auto_remove_roles"`
	NotifyDiscord      bool   `koanf:"notify_discord"`
	RequireOwner       bool   `koanf:"require_owner"`
	OwnerUserID        string `koanf:"owner_user_id"`
	WebhookURL         string `koanf:"webhook_url"`
	SecurityWebhookURL string `koanf:"security_webhook_url"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporterType string  `koanf:"tracing_exporter_type"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL     = errors.New("DATABASE_URL is required")
	ErrMissingPlatformBaseURL = errors.New("PLATFORM_BASE_URL is required")
	ErrMissingPlatformToken   = errors.New("PLATFORM_AUTH_TOKEN is required")
	ErrMissingGroupID         = errors.New("GROUP_ID is required")
	ErrInvalidPollInterval    = errors.New("POLL_INTERVAL_SECONDS must be > 0")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultPollIntervalSeconds = 60
	DefaultPlatformMinInterval = 1000
	DefaultTracingSamplingRate = 1.0
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid). If a config file path is provided and the file cannot be
// loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefaultMulti([]string{"GROUPWATCH_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	pollInterval, pollErr := getEnvIntOrDefault("POLL_INTERVAL_SECONDS", k.Int("poll_interval_seconds"), DefaultPollIntervalSeconds)
	if pollErr != nil {
		loadErrs = append(loadErrs, pollErr)
	}

	minInterval, minIntervalErr := getEnvIntOrDefault("PLATFORM_MIN_INTERVAL_MS", k.Int("platform_min_interval_ms"), DefaultPlatformMinInterval)
	if minIntervalErr != nil {
		loadErrs = append(loadErrs, minIntervalErr)
	}

	samplingRate, samplingErr := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if samplingErr != nil {
		loadErrs = append(loadErrs, samplingErr)
	}

	cfg := &Config{
		Port:                port,
		Env:                 getEnvOrDefaultMulti([]string{"GROUPWATCH_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:         getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		PlatformBaseURL:     getEnvOrKoanf("PLATFORM_BASE_URL", k, "platform_base_url"),
		PlatformAuthToken:   getEnvOrKoanf("PLATFORM_AUTH_TOKEN", k, "platform_auth_token"),
		PlatformMinInterval: minInterval,
		SelfUserID:          getEnvOrKoanf("SELF_USER_ID", k, "self_user_id"),
		GroupID:             getEnvOrKoanf("GROUP_ID", k, "group_id"),
		PollIntervalSeconds: pollInterval,
		MonitoringEnabled:   getEnvBoolOrDefault("MONITORING_ENABLED", k, "monitoring_enabled", true),
		AutoRemoveRoles:     getEnvBoolOrDefault("AUTO_REMOVE_ROLES", k, "auto_remove_roles", false),
		NotifyDiscord:       getEnvBoolOrDefault("NOTIFY_DISCORD", k, "notify_discord", true),
		RequireOwner:        getEnvBoolOrDefault("REQUIRE_OWNER", k, "require_owner", false),
		OwnerUserID:         getEnvOrKoanf("OWNER_USER_ID", k, "owner_user_id"),
		WebhookURL:          getEnvOrKoanf("DISCORD_WEBHOOK_URL", k, "webhook_url"),
		SecurityWebhookURL:  getEnvOrKoanf("SECURITY_WEBHOOK_URL", k, "security_webhook_url"),
		TracingEnabled:      getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporterType: getEnvOrDefault("TRACING_EXPORTER_TYPE", k.String("tracing_exporter_type"), "otlp-http"),
		TracingOTLPEndpoint: getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate: samplingRate,
		TracingInsecure:     getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// Validate checks required values and ranges. Returns all violations.
func (c *Config) Validate() []error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.PlatformBaseURL == "" {
		errs = append(errs, ErrMissingPlatformBaseURL)
	}
	if c.PlatformAuthToken == "" {
		errs = append(errs, ErrMissingPlatformToken)
	}
	if c.GroupID == "" {
		errs = append(errs, ErrMissingGroupID)
	}
	if c.PollIntervalSeconds <= 0 {
		errs = append(errs, ErrInvalidPollInterval)
	}
	return errs
}

// IsProduction returns whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault parses an integer environment variable with koanf and default fallbacks.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return defaultVal, fmt.Errorf("%s must be a valid integer, got %q", envKey, val)
		}
		return parsed, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			parsed, err := strconv.Atoi(val)
			if err != nil {
				return defaultVal, fmt.Errorf("%s must be a valid integer, got %q", key, val)
			}
			return parsed, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault parses a float environment variable with koanf and default fallbacks.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return defaultVal, fmt.Errorf("%s must be a valid number, got %q", envKey, val)
		}
		return parsed, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault resolves a boolean with env over file over default
// precedence. Env values accept true/1/yes/on and false/0/no/off.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	result := defaultVal
	if k.Exists(koanfKey) {
		result = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			result = true
		case "false", "0", "no", "off":
			result = false
		}
	}
	return result
}
