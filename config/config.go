package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Hyperflow    HyperflowConfig    `yaml:"hyperflow"`
	WebSocket    WebSocketConfig    `yaml:"websocket"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Channels     ChannelsConfig     `yaml:"channels"`
	Health       HealthConfig       `yaml:"health"`
	Monitor      MonitorConfig      `yaml:"monitor"`
	Display      DisplayConfig      `yaml:"display"`
	Logging      LoggingConfig      `yaml:"logging"`
	CloudWatch   CloudWatchConfig   `yaml:"cloudwatch"`
}

type HyperflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type WebSocketConfig struct {
	URL            string        `yaml:"url"`
	ConnectTimeout Duration      `yaml:"connect_timeout"`
	ReconnectDelay Duration      `yaml:"reconnect_delay"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	Backoff        BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Enabled  bool     `yaml:"enabled"`
	MinDelay Duration `yaml:"min_delay"`
	MaxDelay Duration `yaml:"max_delay"`
	Factor   float64  `yaml:"factor"`
}

type SubscriptionConfig struct {
	Coin string `yaml:"coin"`
	Type string `yaml:"type"`
}

type ChannelsConfig struct {
	EventBuffer int `yaml:"event_buffer"`
}

type HealthConfig struct {
	CheckInterval Duration `yaml:"check_interval"`
}

type MonitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ListenURL normalizes the monitor address for logging.
func (m MonitorConfig) ListenURL() string {
	addr := m.Address
	if strings.HasPrefix(addr, ":") {
		addr = "0.0.0.0" + addr
	}
	return "http://" + addr
}

type DisplayConfig struct {
	Format        string `yaml:"format"`
	NoColor       bool   `yaml:"no_color"`
	VerboseTrades bool   `yaml:"verbose_trades"`
	Quiet         bool   `yaml:"quiet"`
	PriceOnly     bool   `yaml:"price_only"`
	CSVExport     bool   `yaml:"csv_export"`
	MaxTrades     uint64 `yaml:"max_trades"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the configuration used when no file or field is
// provided. Values mirror the public Hyperliquid endpoint defaults.
func DefaultConfig() *Config {
	return &Config{
		Hyperflow: HyperflowConfig{
			Name:    "hyperflow",
			Version: "dev",
		},
		WebSocket: WebSocketConfig{
			URL:            "wss://api.hyperliquid.xyz/ws",
			ConnectTimeout: Duration(30 * time.Second),
			ReconnectDelay: Duration(5 * time.Second),
			MaxReconnects:  0,
			Backoff: BackoffConfig{
				MinDelay: Duration(time.Second),
				MaxDelay: Duration(time.Minute),
				Factor:   2,
			},
		},
		Subscription: SubscriptionConfig{
			Coin: "BTC",
			Type: "trades",
		},
		Channels: ChannelsConfig{
			EventBuffer: 1024,
		},
		Health: HealthConfig{
			CheckInterval: Duration(30 * time.Second),
		},
		Monitor: MonitorConfig{
			Address: ":9090",
		},
		Display: DisplayConfig{
			Format: "table",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// LoadConfig reads the YAML configuration from path and merges it over the
// defaults. A missing file is an error; use DefaultConfig for file-less runs.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the client cannot run with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.WebSocket.URL)
	if err != nil {
		return fmt.Errorf("invalid websocket url %q: %w", c.WebSocket.URL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return fmt.Errorf("invalid websocket url scheme %q, expected ws or wss", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("websocket url %q has no host", c.WebSocket.URL)
	}

	if strings.TrimSpace(c.Subscription.Coin) == "" {
		return fmt.Errorf("subscription coin must not be empty")
	}
	if c.Subscription.Type == "" {
		return fmt.Errorf("subscription type must not be empty")
	}

	if c.WebSocket.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %s", c.WebSocket.ConnectTimeout)
	}
	if c.WebSocket.ReconnectDelay <= 0 {
		return fmt.Errorf("reconnect_delay must be positive, got %s", c.WebSocket.ReconnectDelay)
	}
	if c.WebSocket.MaxReconnects < 0 {
		return fmt.Errorf("max_reconnects must not be negative, got %d", c.WebSocket.MaxReconnects)
	}
	if c.WebSocket.Backoff.Enabled {
		if c.WebSocket.Backoff.MinDelay <= 0 || c.WebSocket.Backoff.MaxDelay < c.WebSocket.Backoff.MinDelay {
			return fmt.Errorf("backoff delays out of range: min=%s max=%s",
				c.WebSocket.Backoff.MinDelay, c.WebSocket.Backoff.MaxDelay)
		}
		if c.WebSocket.Backoff.Factor < 1 {
			return fmt.Errorf("backoff factor must be >= 1, got %v", c.WebSocket.Backoff.Factor)
		}
	}

	if c.Channels.EventBuffer <= 0 {
		return fmt.Errorf("event_buffer must be positive, got %d", c.Channels.EventBuffer)
	}
	if c.Health.CheckInterval < 0 {
		return fmt.Errorf("health check_interval must not be negative, got %s", c.Health.CheckInterval)
	}

	switch c.Display.Format {
	case "table", "csv", "json", "minimal":
	default:
		return fmt.Errorf("invalid display format %q", c.Display.Format)
	}

	return nil
}
