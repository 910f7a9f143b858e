package di

import (
	"go.uber.org/fx"

	"github.com/jrjohn/arcana-request-queue/internal/config"
	"github.com/jrjohn/arcana-request-queue/internal/observability"
	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
	"github.com/jrjohn/arcana-request-queue/internal/websocket"
)

// ConfigModule provides configuration dependencies
var ConfigModule = fx.Module("config",
	fx.Provide(
		config.NewViper,
		config.LoadFrom,
		provideAppConfig,
		provideServerConfig,
		provideQueueConfig,
		provideUpstreamConfig,
		provideJanitorConfig,
		provideStreamConfig,
		provideMetricsConfig,
		provideTracingConfig,
	),
)

func provideAppConfig(cfg *config.Config) *config.AppConfig {
	return &cfg.App
}

func provideServerConfig(cfg *config.Config) *config.ServerConfig {
	return &cfg.Server
}

func provideQueueConfig(cfg *config.Config) *requestqueue.Config {
	return &cfg.Queue
}

func provideUpstreamConfig(cfg *config.Config) *config.UpstreamConfig {
	return &cfg.Upstream
}

func provideJanitorConfig(cfg *config.Config) *config.JanitorConfig {
	return &cfg.Janitor
}

func provideStreamConfig(cfg *config.Config) *websocket.Config {
	return &cfg.Stream
}

func provideMetricsConfig(cfg *config.Config) *observability.MetricsConfig {
	return &cfg.Metrics
}

func provideTracingConfig(cfg *config.Config) *observability.TracingConfig {
	return &cfg.Tracing
}
