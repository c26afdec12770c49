// Package config loads application configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix scopes the environment overrides; a double underscore maps to
// a nesting level: IMPORTDESK_DATABASE__URL -> database.url.
const envPrefix = "IMPORTDESK_"

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Database      DatabaseConfig      `koanf:"database"`
	Log           LogConfig           `koanf:"log"`
	CORS          CORSConfig          `koanf:"cors"`
	Notifications NotificationsConfig `koanf:"notifications"`
	WhatsApp      WhatsAppConfig      `koanf:"whatsapp"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port"`
	MetricsPort       string        `koanf:"metrics_port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// NotificationsConfig holds queue and worker settings.
type NotificationsConfig struct {
	// WorkerKey protects the process endpoint invoked by external
	// schedulers. Empty disables the check.
	WorkerKey        string       `koanf:"worker_key"`
	DashboardBaseURL string       `koanf:"dashboard_base_url"`
	Worker           WorkerConfig `koanf:"worker"`
	// CronSchedule drives the standalone worker binary.
	CronSchedule string `koanf:"cron_schedule"`
}

// WorkerConfig holds the embedded worker's settings.
type WorkerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	BatchSize    int           `koanf:"batch_size"`
	PollInterval time.Duration `koanf:"poll_interval"`
	SendTimeout  time.Duration `koanf:"send_timeout"`
	NumWorkers   int           `koanf:"num_workers"`
}

// WhatsAppConfig holds gateway settings.
type WhatsAppConfig struct {
	Token       string        `koanf:"token"`
	BaseURL     string        `koanf:"base_url"`
	CountryCode string        `koanf:"country_code"`
	Timeout     time.Duration `koanf:"timeout"`
	RateLimit   float64       `koanf:"rate_limit"`
}

// Default returns the built-in defaults; file and environment values are
// layered on top.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Notifications: NotificationsConfig{
			Worker: WorkerConfig{
				Enabled:      true,
				BatchSize:    10,
				PollInterval: 30 * time.Second,
				SendTimeout:  30 * time.Second,
				NumWorkers:   2,
			},
			CronSchedule: "*/1 * * * *",
		},
		WhatsApp: WhatsAppConfig{
			BaseURL:     "https://gate.whapi.cloud",
			CountryCode: "241",
			Timeout:     30 * time.Second,
			RateLimit:   5,
		},
	}
}

// Load reads configuration from the given YAML file (skipped when the
// path is empty or missing) and applies IMPORTDESK_* environment
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if c.WhatsApp.Token == "" {
		return fmt.Errorf("whatsapp.token is required")
	}
	return nil
}
