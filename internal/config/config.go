package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains the static runtime settings for the coordinator. Behavior
// that can change while the process runs lives in the runtime Store instead.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// DatabaseURL enables the postgres event journal when set.
	DatabaseURL string

	// ScriptsDir holds TOML warming scripts; empty uses the built-ins.
	ScriptsDir string

	// AgentCommand is the executable launched once per account session; empty
	// disables process management (agents connect on their own).
	AgentCommand string
	AgentArgs    []string
	AgentWorkDir string
	AgentAuthDir string

	// AuthBackendURL points at the external credential service.
	AuthBackendURL     string
	AuthBackendTimeout time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "chipwarmer"),
		AllowAnyOrigin:     false,
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ScriptsDir:         stringsTrimSpace("SCRIPTS_DIR"),
		AgentCommand:       stringsTrimSpace("AGENT_COMMAND"),
		AgentWorkDir:       envOrDefault("AGENT_WORK_DIR", "../automacao_whatsapp"),
		AgentAuthDir:       envOrDefault("AGENT_AUTH_DIR", "../automacao_whatsapp/.wwebjs_auth"),
		AuthBackendURL:     stringsTrimSpace("AUTH_BACKEND_URL"),
		ShutdownTimeout:    15 * time.Second,
		AuthBackendTimeout: 10 * time.Second,
	}
	if args := stringsTrimSpace("AGENT_ARGS"); args != "" {
		cfg.AgentArgs = strings.Fields(args)
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AuthBackendTimeout, err = durationFromEnv("AUTH_BACKEND_TIMEOUT", cfg.AuthBackendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be positive")
	}
	if cfg.AuthBackendTimeout <= 0 {
		return Config{}, fmt.Errorf("AUTH_BACKEND_TIMEOUT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
