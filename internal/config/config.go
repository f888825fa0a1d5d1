package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. DRIP_GATEWAY_API_KEY
const EnvPrefix = "DRIP_"

// Config represents the main configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Database   DatabaseConfig   `yaml:"database" envPrefix:"DATABASE_"`
	Gateway    GatewayConfig    `yaml:"gateway" envPrefix:"GATEWAY_"`
	Dispatcher DispatcherConfig `yaml:"dispatcher" envPrefix:"DISPATCHER_"`
	Inbound    InboundConfig    `yaml:"inbound" envPrefix:"INBOUND_"`
	Metrics    MetricsConfig    `yaml:"metrics" envPrefix:"METRICS_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOGGING_"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"LISTEN_ADDR"`
	APIKey     string `yaml:"api_key" env:"API_KEY"`
	// AllowedIPs restricts /api/v1 to these IPs or CIDRs; empty allows all
	AllowedIPs []string `yaml:"allowed_ips" env:"ALLOWED_IPS" envSeparator:","`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// GatewayConfig contains messaging gateway settings
type GatewayConfig struct {
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	Instance          string        `yaml:"instance" env:"INSTANCE"`
	Timeout           time.Duration `yaml:"timeout" env:"TIMEOUT"`
	RequestsPerSecond float64       `yaml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	DryRun            bool          `yaml:"dry_run" env:"DRY_RUN"`
}

// Configured reports whether a real gateway can be used
func (g GatewayConfig) Configured() bool {
	return g.BaseURL != "" && g.APIKey != ""
}

// DispatcherConfig contains send loop settings
type DispatcherConfig struct {
	TickInterval time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	BatchSize    int           `yaml:"batch_size" env:"BATCH_SIZE"`
	SendTimeout  time.Duration `yaml:"send_timeout" env:"SEND_TIMEOUT"`
	// Timezone used for working hours and the daily cap
	Timezone    string        `yaml:"timezone" env:"TIMEZONE"`
	ReplyWindow time.Duration `yaml:"reply_window" env:"REPLY_WINDOW"`
}

// Location resolves the dispatcher timezone
func (d DispatcherConfig) Location() (*time.Location, error) {
	if d.Timezone == "" || strings.EqualFold(d.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(d.Timezone)
}

// InboundConfig contains inbound webhook settings
type InboundConfig struct {
	DedupPath       string        `yaml:"dedup_path" env:"DEDUP_PATH"`
	DedupTTL        time.Duration `yaml:"dedup_ttl" env:"DEDUP_TTL"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	ListenAddr      string        `yaml:"listen_addr" env:"LISTEN_ADDR"`
	Path            string        `yaml:"path" env:"PATH"`
	AllowedIPs      []string      `yaml:"allowed_ips" env:"ALLOWED_IPS" envSeparator:","`
	CollectInterval time.Duration `yaml:"collect_interval" env:"COLLECT_INTERVAL"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// Load reads the YAML file at path (optional when empty), applies a
// .env file from the working directory if present and DRIP_*
// environment overrides, then fills defaults and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Database.Path == "" {
		c.Database.Path = "/var/lib/drip/drip.db"
	}

	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 20 * time.Second
	}
	if c.Gateway.Instance == "" {
		c.Gateway.Instance = "default"
	}

	if c.Dispatcher.TickInterval == 0 {
		c.Dispatcher.TickInterval = 10 * time.Second
	}
	if c.Dispatcher.BatchSize == 0 {
		c.Dispatcher.BatchSize = 1
	}
	if c.Dispatcher.SendTimeout == 0 {
		c.Dispatcher.SendTimeout = c.Gateway.Timeout
	}
	if c.Dispatcher.ReplyWindow == 0 {
		c.Dispatcher.ReplyWindow = 72 * time.Hour
	}

	if c.Inbound.DedupPath == "" {
		c.Inbound.DedupPath = "/var/lib/drip/inbound.db"
	}
	if c.Inbound.DedupTTL == 0 {
		c.Inbound.DedupTTL = 24 * time.Hour
	}
	if c.Inbound.CleanupInterval == 0 {
		c.Inbound.CleanupInterval = time.Hour
	}

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.CollectInterval == 0 {
		c.Metrics.CollectInterval = 15 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Gateway.BaseURL != "" {
		u, err := url.Parse(c.Gateway.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("gateway.base_url must be an http(s) URL")
		}
	}
	if c.Gateway.Timeout < 0 {
		return fmt.Errorf("gateway.timeout must not be negative")
	}
	if c.Gateway.RequestsPerSecond < 0 {
		return fmt.Errorf("gateway.requests_per_second must not be negative")
	}

	if c.Dispatcher.TickInterval < time.Second {
		return fmt.Errorf("dispatcher.tick_interval must be at least 1s")
	}
	if c.Dispatcher.BatchSize < 1 {
		return fmt.Errorf("dispatcher.batch_size must be at least 1")
	}
	if c.Dispatcher.SendTimeout <= 0 {
		return fmt.Errorf("dispatcher.send_timeout must be positive")
	}
	if _, err := c.Dispatcher.Location(); err != nil {
		return fmt.Errorf("dispatcher.timezone: %w", err)
	}

	if c.Inbound.DedupTTL < 0 {
		return fmt.Errorf("inbound.dedup_ttl must not be negative")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text")
	}

	return nil
}

// Redacted returns a copy with secrets masked, for display
func (c *Config) Redacted() *Config {
	out := *c
	out.Server.APIKey = mask(c.Server.APIKey)
	out.Gateway.APIKey = mask(c.Gateway.APIKey)
	out.Server.AllowedIPs = append([]string(nil), c.Server.AllowedIPs...)
	out.Metrics.AllowedIPs = append([]string(nil), c.Metrics.AllowedIPs...)
	return &out
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}
