// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Discord   DiscordConfig   `mapstructure:"discord"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Store     StoreConfig     `mapstructure:"store"`
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// DiscordConfig identifies the bot and the guilds it crawls.
type DiscordConfig struct {
	Token        string   `mapstructure:"token"`
	Guilds       []string `mapstructure:"guilds"`
	OpenAttempts uint     `mapstructure:"open_attempts"`
	// RequestsPerSecond of zero disables local pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	RequestBurst      int     `mapstructure:"request_burst"`
}

// CrawlerConfig governs the producer/consumer pipeline of every crawler.
type CrawlerConfig struct {
	QueueSize        int           `mapstructure:"queue_size"`
	YieldDelay       time.Duration `mapstructure:"yield_delay"`
	EmptySourceDelay time.Duration `mapstructure:"empty_source_delay"`
	BatchSize        int           `mapstructure:"batch_size"`
	// Crawlers selects which crawlers run: "history", "audit_log".
	Crawlers []string `mapstructure:"crawlers"`
}

// StoreConfig selects and tunes the transactional store.
type StoreConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectAttempts uint          `mapstructure:"connect_attempts"`
	Migrate         bool          `mapstructure:"migrate"`
}

// ServerConfig controls the operator HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the default level of the chosen preset.
	Level string `mapstructure:"level"`
}

// TelemetryConfig toggles span tracing of reads and transactions.
type TelemetryConfig struct {
	Tracing     bool    `mapstructure:"tracing"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional .env file, an optional config file
// and the environment, in increasing precedence.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	// Env vars carry lists as comma separated strings.
	cfg.Discord.Guilds = splitList(cfg.Discord.Guilds)
	cfg.Crawler.Crawlers = splitList(cfg.Crawler.Crawlers)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Registered so AutomaticEnv can populate them during Unmarshal.
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.guilds", []string{})
	v.SetDefault("discord.open_attempts", 5)
	v.SetDefault("discord.requests_per_second", 5.0)
	v.SetDefault("discord.request_burst", 5)
	v.SetDefault("crawler.queue_size", 128)
	v.SetDefault("crawler.yield_delay", "1s")
	v.SetDefault("crawler.empty_source_delay", "120s")
	v.SetDefault("crawler.batch_size", 100)
	v.SetDefault("crawler.crawlers", []string{"history", "audit_log"})
	v.SetDefault("store.driver", DriverPostgres)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("store.max_conn_lifetime", "30m")
	v.SetDefault("store.connect_attempts", 5)
	v.SetDefault("store.migrate", true)
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Discord.Token) == "" {
		return fmt.Errorf("discord.token is required")
	}
	if len(c.Discord.Guilds) == 0 {
		return fmt.Errorf("discord.guilds must list at least one guild")
	}
	if c.Crawler.QueueSize <= 0 {
		return fmt.Errorf("crawler.queue_size must be > 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Discord.RequestsPerSecond < 0 {
		return fmt.Errorf("discord.requests_per_second must be >= 0")
	}
	if c.Crawler.YieldDelay < 0 || c.Crawler.EmptySourceDelay < 0 {
		return fmt.Errorf("crawler delays must be >= 0")
	}
	for _, name := range c.Crawler.Crawlers {
		if name != "history" && name != "audit_log" {
			return fmt.Errorf("crawler.crawlers: unknown crawler %q", name)
		}
	}
	switch c.Store.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for the %s driver", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("store.driver must be one of postgres, sqlite, memory")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	return nil
}

// Enabled reports whether the named crawler should run.
func (c CrawlerConfig) Enabled(name string) bool {
	for _, n := range c.Crawlers {
		if n == name {
			return true
		}
	}
	return false
}
