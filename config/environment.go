package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"prod": environmentProduction,
	"stag": environmentStaging,
}

// AppEnvironment reads the application environment from APP_ENV and defaults
// to development when no value is provided.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// IsProductionLike reports whether the provided environment should behave like
// a production deployment.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}

// ApplyEnvOverrides lets deployment environments override the common knobs
// without editing the configuration file.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HYPERFLOW_URL"); v != "" {
		cfg.WebSocket.URL = v
	}
	if v := os.Getenv("HYPERFLOW_COIN"); v != "" {
		cfg.Subscription.Coin = v
	}
	if v := os.Getenv("HYPERFLOW_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.WebSocket.ReconnectDelay = Duration(d)
		}
	}
	if v := os.Getenv("HYPERFLOW_MAX_RECONNECTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.WebSocket.MaxReconnects = n
		}
	}
	if v := os.Getenv("HYPERFLOW_MONITOR_ADDR"); v != "" {
		cfg.Monitor.Address = v
		cfg.Monitor.Enabled = true
	}
}
