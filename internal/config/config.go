// Package config loads and validates telespot configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/telespot/internal/export"
	"github.com/JakeFAU/telespot/internal/progress"
	"github.com/JakeFAU/telespot/internal/provider"
	"github.com/JakeFAU/telespot/internal/requester"
	"github.com/JakeFAU/telespot/internal/search"
)

// EnvPrefix scopes environment overrides, e.g. TELESPOT_PROVIDERS_BING_API_KEY.
const EnvPrefix = "TELESPOT"

// LegacyFile is the key=value credentials file older installs keep in $HOME.
const LegacyFile = ".telespot_config"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Search    SearchConfig    `mapstructure:"search"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Storage   StorageConfig   `mapstructure:"storage"`
	DB        DBConfig        `mapstructure:"db"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// HTTPConfig configures the resilient requester.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	MaxRetries     int     `mapstructure:"max_retries"`
	BackoffBaseMs  int     `mapstructure:"backoff_base_ms"`
	JitterMinMs    int     `mapstructure:"jitter_min_ms"`
	JitterMaxMs    int     `mapstructure:"jitter_max_ms"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
	ProviderRPS    float64 `mapstructure:"provider_rps"`
	ProviderBurst  int     `mapstructure:"provider_burst"`
}

// SearchConfig governs planning and fan-out.
type SearchConfig struct {
	MaxInFlight       int             `mapstructure:"max_in_flight"`
	RunTimeoutSeconds int             `mapstructure:"run_timeout_seconds"`
	FallbackThreshold int             `mapstructure:"fallback_threshold"`
	MaxBreachResults  int             `mapstructure:"max_breach_results"`
	Providers         map[string]bool `mapstructure:"providers"`
}

// ProvidersConfig holds opaque provider credentials and endpoint overrides.
type ProvidersConfig struct {
	GoogleAPIKey string `mapstructure:"google_api_key"`
	GoogleCSEID  string `mapstructure:"google_cse_id"`
	BingAPIKey   string `mapstructure:"bing_api_key"`
	// DehashedAPIKey is "email:key".
	DehashedAPIKey string             `mapstructure:"dehashed_api_key"`
	Endpoints      provider.Endpoints `mapstructure:"endpoints"`
}

// StorageConfig selects where exported reports go.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	Format    string `mapstructure:"format"`
}

// DBConfig controls the run repository.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	BatchMaxEvents   int `mapstructure:"batch_max_events"`
	BatchMaxWaitMs   int `mapstructure:"batch_max_wait_ms"`
	SinkTimeoutMs    int `mapstructure:"sink_timeout_ms"`
	ShutdownWaitSecs int `mapstructure:"shutdown_wait_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TracingConfig configures the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Storage backends and database drivers.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Load builds a Config from disk and the environment. With an empty path it
// looks for config.{yaml,json,toml} in ".", "$HOME/.telespot" and
// "/etc/telespot"; a missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.telespot")
		v.AddConfigPath("/etc/telespot")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		if err := mergeLegacy(v, filepath.Join(home, LegacyFile)); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// mergeLegacy fills unset credentials from a key=value file. Missing files
// are ignored.
func mergeLegacy(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	legacy := viper.New()
	legacy.SetConfigFile(path)
	legacy.SetConfigType("env")
	if err := legacy.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	for _, key := range []string{"google_api_key", "google_cse_id", "bing_api_key", "dehashed_api_key"} {
		target := "providers." + key
		if v.GetString(target) == "" && legacy.GetString(key) != "" {
			v.Set(target, legacy.GetString(key))
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	def := provider.DefaultEndpoints()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("http.timeout_seconds", 12)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_base_ms", 1000)
	v.SetDefault("http.jitter_min_ms", 500)
	v.SetDefault("http.jitter_max_ms", 2000)
	v.SetDefault("http.max_body_bytes", 5*1024*1024)
	v.SetDefault("http.provider_rps", 0)
	v.SetDefault("http.provider_burst", 1)
	v.SetDefault("search.max_in_flight", 0)
	v.SetDefault("search.run_timeout_seconds", 120)
	v.SetDefault("search.fallback_threshold", provider.DefaultFallbackThreshold)
	v.SetDefault("search.max_breach_results", provider.DefaultMaxBreachResults)
	v.SetDefault("search.providers."+string(search.ProviderDehashed), false)
	v.SetDefault("providers.google_api_key", "")
	v.SetDefault("providers.google_cse_id", "")
	v.SetDefault("providers.bing_api_key", "")
	v.SetDefault("providers.dehashed_api_key", "")
	v.SetDefault("providers.endpoints.google", def.Google)
	v.SetDefault("providers.endpoints.bing", def.Bing)
	v.SetDefault("providers.endpoints.duckduckgo", def.DuckDuckGo)
	v.SetDefault("providers.endpoints.duckduckgo_html", def.DuckDuckGoHTML)
	v.SetDefault("providers.endpoints.bing_html", def.BingHTML)
	v.SetDefault("providers.endpoints.dehashed", def.Dehashed)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", "reports")
	v.SetDefault("storage.prefix", "reports")
	v.SetDefault("storage.format", "json")
	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.dsn", "telespot.db")
	v.SetDefault("db.migrate", true)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch_max_events", 100)
	v.SetDefault("progress.batch_max_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.shutdown_wait_seconds", 5)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "telespot")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.HTTP.JitterMinMs < 0 || c.HTTP.JitterMaxMs < c.HTTP.JitterMinMs {
		return fmt.Errorf("http.jitter_min_ms must be >= 0 and <= http.jitter_max_ms")
	}
	if c.HTTP.ProviderRPS < 0 {
		return fmt.Errorf("http.provider_rps must be >= 0")
	}
	if c.Search.MaxInFlight < 0 {
		return fmt.Errorf("search.max_in_flight must be >= 0")
	}
	if c.Search.RunTimeoutSeconds < 0 {
		return fmt.Errorf("search.run_timeout_seconds must be >= 0")
	}
	if _, err := c.EnabledProviders(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of local, gcs, memory (got %q)", c.Storage.Backend)
	}
	if _, err := export.ParseFormat(c.Storage.Format); err != nil {
		return fmt.Errorf("storage.format: %w", err)
	}
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the %s driver", c.DB.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("db.driver must be one of postgres, sqlite, memory (got %q)", c.DB.Driver)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1]")
	}
	return nil
}

// RequesterConfig converts the http section into requester settings.
func (c Config) RequesterConfig() requester.Config {
	cfg := requester.DefaultConfig()
	cfg.Timeout = time.Duration(c.HTTP.TimeoutSeconds) * time.Second
	cfg.MaxRetries = c.HTTP.MaxRetries
	cfg.Backoff = requester.Backoff{
		Base:      time.Duration(c.HTTP.BackoffBaseMs) * time.Millisecond,
		JitterMin: time.Duration(c.HTTP.JitterMinMs) * time.Millisecond,
		JitterMax: time.Duration(c.HTTP.JitterMaxMs) * time.Millisecond,
	}
	return cfg
}

// CollyConfig sizes the default transport.
func (c Config) CollyConfig() requester.CollyConfig {
	return requester.CollyConfig{
		Timeout:      time.Duration(c.HTTP.TimeoutSeconds) * time.Second,
		MaxBodyBytes: c.HTTP.MaxBodyBytes,
	}
}

// LimiterConfig returns the shared per-provider limiter settings.
func (c Config) LimiterConfig() requester.LimiterConfig {
	return requester.LimiterConfig{RPS: c.HTTP.ProviderRPS, Burst: c.HTTP.ProviderBurst}
}

// Credentials returns the provider credentials.
func (c Config) Credentials() provider.Credentials {
	return provider.Credentials{
		GoogleAPIKey: c.Providers.GoogleAPIKey,
		GoogleCSEID:  c.Providers.GoogleCSEID,
		BingAPIKey:   c.Providers.BingAPIKey,
		Dehashed:     c.Providers.DehashedAPIKey,
	}
}

// ProviderOptions returns adapter tuning.
func (c Config) ProviderOptions() provider.Options {
	return provider.Options{
		Endpoints:         c.Providers.Endpoints,
		FallbackThreshold: c.Search.FallbackThreshold,
		MaxBreachResults:  c.Search.MaxBreachResults,
	}
}

// EnabledProviders parses the search.providers switch map.
func (c Config) EnabledProviders() (map[search.ProviderID]bool, error) {
	out := make(map[search.ProviderID]bool, len(c.Search.Providers))
	for raw, on := range c.Search.Providers {
		id, err := search.ParseProviderID(raw)
		if err != nil {
			return nil, fmt.Errorf("search.providers: %w", err)
		}
		out[id] = on
	}
	return out, nil
}

// RunTimeout returns the per-run deadline; zero means none.
func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.Search.RunTimeoutSeconds) * time.Second
}

// HubConfig returns progress hub sizing.
func (c Config) HubConfig() progress.Config {
	return progress.Config{
		BufferSize:     c.Progress.BufferSize,
		MaxBatchEvents: c.Progress.BatchMaxEvents,
		MaxBatchWait:   time.Duration(c.Progress.BatchMaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(c.Progress.SinkTimeoutMs) * time.Millisecond,
	}
}
