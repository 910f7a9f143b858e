package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/observability"
	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
	"github.com/jrjohn/arcana-request-queue/internal/websocket"
	"github.com/jrjohn/arcana-request-queue/pkg/logger"
)

// Config holds all application configuration
type Config struct {
	App      AppConfig                   `mapstructure:"app"`
	Server   ServerConfig                `mapstructure:"server"`
	Log      logger.Config               `mapstructure:"log"`
	Queue    requestqueue.Config         `mapstructure:"queue"`
	Upstream UpstreamConfig              `mapstructure:"upstream"`
	Janitor  JanitorConfig               `mapstructure:"janitor"`
	Stream   websocket.Config            `mapstructure:"stream"`
	Metrics  observability.MetricsConfig `mapstructure:"metrics"`
	Tracing  observability.TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamConfig describes the service the proxy forwards to through the queue
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// JanitorConfig controls the expired cache sweep
type JanitorConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// NewViper returns a viper instance with search paths, env binding and defaults set
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/arcana-queue/")

	// ARCANA_QUEUE_RATE_LIMIT overrides queue.rate_limit
	v.SetEnvPrefix("ARCANA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	return v
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	return LoadFrom(NewViper())
}

// LoadFrom reads the config file known to v, if any, and decodes the result
func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Watch re-decodes the configuration whenever the config file changes and
// passes valid results to onChange. Invalid edits are logged and skipped.
func Watch(v *viper.Viper, log *zap.Logger, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		log.Debug("No config file in use, hot reload disabled")
		return
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			log.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("Config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	v.WatchConfig()
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "arcana-request-queue")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", true)

	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.encoding", "json")

	// Queue defaults
	q := requestqueue.DefaultConfig()
	v.SetDefault("queue.concurrency", q.Concurrency)
	v.SetDefault("queue.rate_limit", q.RateLimit)
	v.SetDefault("queue.rate_window", q.RateWindow)
	v.SetDefault("queue.cache_capacity", q.CacheCapacity)
	v.SetDefault("queue.dedup_window", q.DedupWindow)
	v.SetDefault("queue.backoff_base", q.BackoffBase)
	v.SetDefault("queue.backoff_max", q.BackoffMax)
	v.SetDefault("queue.retry_placement", string(q.RetryPlacement))
	v.SetDefault("queue.breaker.name", q.Breaker.Name)
	v.SetDefault("queue.breaker.failure_threshold", q.Breaker.FailureThreshold)
	v.SetDefault("queue.breaker.reset_timeout", q.Breaker.ResetTimeout)
	v.SetDefault("queue.defaults.priority", q.Defaults.Priority)
	v.SetDefault("queue.defaults.max_retries", q.Defaults.MaxRetries)
	v.SetDefault("queue.defaults.cache_ttl", q.Defaults.CacheTTL)
	v.SetDefault("queue.defaults.timeout", q.Defaults.Timeout)

	// Upstream defaults
	v.SetDefault("upstream.base_url", "http://localhost:9000")
	v.SetDefault("upstream.timeout", 30*time.Second)

	// Janitor defaults
	v.SetDefault("janitor.enabled", true)
	v.SetDefault("janitor.schedule", requestqueue.DefaultJanitorSchedule)

	// Stream defaults
	ws := websocket.DefaultConfig()
	v.SetDefault("stream.path", ws.Path)
	v.SetDefault("stream.interval", ws.Interval)
	v.SetDefault("stream.allowed_origins", ws.AllowedOrigins)
	v.SetDefault("stream.read_buffer_size", ws.ReadBufferSize)
	v.SetDefault("stream.write_buffer_size", ws.WriteBufferSize)
	v.SetDefault("stream.handshake_timeout", ws.HandshakeTimeout)
	v.SetDefault("stream.enable_compression", ws.EnableCompression)

	// Observability defaults
	m := observability.DefaultMetricsConfig()
	v.SetDefault("metrics.enabled", m.Enabled)
	v.SetDefault("metrics.service_name", m.ServiceName)
	v.SetDefault("metrics.prometheus_path", m.PrometheusPath)

	tr := observability.DefaultTracingConfig()
	v.SetDefault("tracing.enabled", tr.Enabled)
	v.SetDefault("tracing.service_name", tr.ServiceName)
	v.SetDefault("tracing.service_version", tr.ServiceVersion)
	v.SetDefault("tracing.environment", tr.Environment)
	v.SetDefault("tracing.exporter_type", tr.ExporterType)
	v.SetDefault("tracing.otlp_endpoint", tr.OTLPEndpoint)
	v.SetDefault("tracing.otlp_insecure", tr.OTLPInsecure)
	v.SetDefault("tracing.sampling_rate", tr.SamplingRate)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	u, err := url.Parse(c.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("upstream base URL must be absolute, got %q", c.Upstream.BaseURL)
	}
	if c.Stream.Interval <= 0 {
		return fmt.Errorf("stream interval must be positive")
	}
	if !strings.HasPrefix(c.Stream.Path, "/") {
		return fmt.Errorf("stream path must start with /, got %q", c.Stream.Path)
	}
	if c.Janitor.Enabled && c.Janitor.Schedule == "" {
		return fmt.Errorf("janitor schedule is required when the janitor is enabled")
	}
	return nil
}
