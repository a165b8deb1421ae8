package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for scoutman.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     toml:"server"`
	Auth       AuthConfig       `mapstructure:"auth"       toml:"auth"`
	Generation GenerationConfig `mapstructure:"generation" toml:"generation"`
	Search     SearchConfig     `mapstructure:"search"     toml:"search"`
	Resilience ResilienceConfig `mapstructure:"resilience" toml:"resilience"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"`
	Dashboard  DashboardConfig  `mapstructure:"dashboard"  toml:"dashboard"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    toml:"metrics"`
}

// ServerConfig holds the core server settings.
type ServerConfig struct {
	BindAddress   string `mapstructure:"bind_address"   toml:"bind_address"`
	Port          int    `mapstructure:"port"           toml:"port"`
	DashboardPort int    `mapstructure:"dashboard_port" toml:"dashboard_port"`
	LogLevel      string `mapstructure:"log_level"      toml:"log_level"`
	DataDir       string `mapstructure:"data_dir"       toml:"data_dir"`
	ReadTimeout   int    `mapstructure:"read_timeout"   toml:"read_timeout"`
	WriteTimeout  int    `mapstructure:"write_timeout"  toml:"write_timeout"`
	IdleTimeout   int    `mapstructure:"idle_timeout"   toml:"idle_timeout"`
	MaxBodySize   int64  `mapstructure:"max_body_size"  toml:"max_body_size"`
}

// AuthConfig holds the API bearer-token settings.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Token   string `mapstructure:"token"   toml:"token"`
}

// GenerationConfig configures the fallback router.
type GenerationConfig struct {
	CooldownSeconds int                `mapstructure:"cooldown_seconds" toml:"cooldown_seconds"`
	Providers       []GenerationTarget `mapstructure:"providers"        toml:"providers"`
}

// Cooldown returns the re-enable window as a time.Duration.
func (g GenerationConfig) Cooldown() time.Duration {
	return time.Duration(g.CooldownSeconds) * time.Second
}

// GenerationTarget describes a single text-generation provider.
type GenerationTarget struct {
	Name             string  `mapstructure:"name"               toml:"name"`
	Kind             string  `mapstructure:"kind"               toml:"kind"`
	APIBase          string  `mapstructure:"api_base"           toml:"api_base"`
	KeyRef           string  `mapstructure:"key_ref"            toml:"key_ref"`
	Enabled          bool    `mapstructure:"enabled"            toml:"enabled"`
	Priority         int     `mapstructure:"priority"           toml:"priority"`
	MaxFailures      int     `mapstructure:"max_failures"       toml:"max_failures"`
	Timeout          int     `mapstructure:"timeout"            toml:"timeout"` // seconds
	Model            string  `mapstructure:"model"              toml:"model"`
	MaxTokens        int     `mapstructure:"max_tokens"         toml:"max_tokens"`
	DefaultMaxTokens int     `mapstructure:"default_max_tokens" toml:"default_max_tokens"`
	ContextWindow    int     `mapstructure:"context_window"     toml:"context_window"`
	MinTemperature   float64 `mapstructure:"min_temperature"    toml:"min_temperature"`
	MaxTemperature   float64 `mapstructure:"max_temperature"    toml:"max_temperature"`
	Rate             float64 `mapstructure:"rate"               toml:"rate"` // requests per second, 0 = unlimited
	Burst            int     `mapstructure:"burst"              toml:"burst"`
}

// TimeoutDuration returns the provider timeout as a time.Duration.
func (p GenerationTarget) TimeoutDuration() time.Duration {
	if p.Timeout <= 0 {
		return DefaultGenerationTimeout * time.Second
	}
	return time.Duration(p.Timeout) * time.Second
}

// SearchConfig configures the search aggregator.
type SearchConfig struct {
	Workers           int            `mapstructure:"workers"             toml:"workers"`
	DefaultMaxResults int            `mapstructure:"default_max_results" toml:"default_max_results"`
	CacheTTLSeconds   int            `mapstructure:"cache_ttl_seconds"   toml:"cache_ttl_seconds"`
	CacheSize         int            `mapstructure:"cache_size"          toml:"cache_size"`
	Providers         []SearchTarget `mapstructure:"providers"           toml:"providers"`
}

// CacheTTL returns the fallback-search cache TTL as a time.Duration.
func (s SearchConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLSeconds) * time.Second
}

// SearchTarget describes a single web-search provider.
type SearchTarget struct {
	Name       string   `mapstructure:"name"        toml:"name"`
	Kind       string   `mapstructure:"kind"        toml:"kind"`
	APIBase    string   `mapstructure:"api_base"    toml:"api_base"`
	KeyRef     string   `mapstructure:"key_ref"     toml:"key_ref"`
	Enabled    bool     `mapstructure:"enabled"     toml:"enabled"`
	Priority   int      `mapstructure:"priority"    toml:"priority"`
	MaxErrors  int      `mapstructure:"max_errors"  toml:"max_errors"`
	Trust      float64  `mapstructure:"trust"       toml:"trust"`
	Timeout    int      `mapstructure:"timeout"     toml:"timeout"` // seconds
	EngineID   string   `mapstructure:"engine_id"   toml:"engine_id"`
	Country    string   `mapstructure:"country"     toml:"country"`
	Language   string   `mapstructure:"language"    toml:"language"`
	QueryHints []string `mapstructure:"query_hints" toml:"query_hints"`
	Recency    string   `mapstructure:"recency"     toml:"recency"` // day, week, month, year; empty = any time
	Rate       float64  `mapstructure:"rate"        toml:"rate"`
	Burst      int      `mapstructure:"burst"       toml:"burst"`
}

// TimeoutDuration returns the provider timeout as a time.Duration.
func (p SearchTarget) TimeoutDuration() time.Duration {
	if p.Timeout <= 0 {
		return DefaultSearchTimeout * time.Second
	}
	return time.Duration(p.Timeout) * time.Second
}

// TracingConfig controls OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"`
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"` // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`
}

// DashboardConfig controls the dashboard API.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"         toml:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// MetricsConfig controls attempt-log storage.
type MetricsConfig struct {
	RetentionDays int  `mapstructure:"retention_days" toml:"retention_days"`
	Persist       bool `mapstructure:"persist"        toml:"persist"`
}

// ResilienceConfig controls retries inside a single provider call.
type ResilienceConfig struct {
	RetryMaxAttempts int `mapstructure:"retry_max_attempts"  toml:"retry_max_attempts"`
	RetryBaseDelayMs int `mapstructure:"retry_base_delay_ms" toml:"retry_base_delay_ms"`
	RetryMaxDelayMs  int `mapstructure:"retry_max_delay_ms"  toml:"retry_max_delay_ms"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (SCOUTMAN_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.scoutman/scoutman.toml
//  4. ./scoutman.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: SCOUTMAN_SERVER_PORT etc.
	v.SetEnvPrefix("SCOUTMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".scoutman"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("scoutman")
	}

	if err := v.ReadInConfig(); err != nil {
		// Defaults + env still apply when no file exists.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	// A provider list in the file replaces the default list instead of
	// merging into it element by element.
	cfg := DefaultConfig()
	if v.IsSet("generation.providers") {
		cfg.Generation.Providers = nil
	}
	if v.IsSet("search.providers") {
		cfg.Search.Providers = nil
	}
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data_dir.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.scoutman/scoutman.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".scoutman")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	if err := writeTOML(path, DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	return writeTOML(path, Get())
}

func writeTOML(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// setViperDefaults registers every scalar key with viper so that env var
// binding works even when no config file is present. Provider lists are
// file-only.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.dashboard_port", d.Server.DashboardPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.token", d.Auth.Token)

	v.SetDefault("generation.cooldown_seconds", d.Generation.CooldownSeconds)

	v.SetDefault("search.workers", d.Search.Workers)
	v.SetDefault("search.default_max_results", d.Search.DefaultMaxResults)
	v.SetDefault("search.cache_ttl_seconds", d.Search.CacheTTLSeconds)
	v.SetDefault("search.cache_size", d.Search.CacheSize)

	v.SetDefault("resilience.retry_max_attempts", d.Resilience.RetryMaxAttempts)
	v.SetDefault("resilience.retry_base_delay_ms", d.Resilience.RetryBaseDelayMs)
	v.SetDefault("resilience.retry_max_delay_ms", d.Resilience.RetryMaxDelayMs)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.allowed_origins", d.Dashboard.AllowedOrigins)

	v.SetDefault("metrics.retention_days", d.Metrics.RetentionDays)
	v.SetDefault("metrics.persist", d.Metrics.Persist)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
