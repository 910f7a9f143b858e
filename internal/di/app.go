package di

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/config"
)

// AppModule aggregates all application modules
var AppModule = fx.Options(
	ConfigModule,
	LoggerModule,
	ObservabilityModule,
	QueueModule,
	ControllerModule,
	StreamModule,
	HTTPServerModule,
)

// PrintBanner prints the application startup banner
func PrintBanner(cfg *config.Config, logger *zap.Logger) {
	logger.Info("===========================================")
	logger.Info("        Arcana Request Queue Service       ")
	logger.Info("===========================================")
	logger.Info("Application Info",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)
	logger.Info("Queue Config",
		zap.Int("concurrency", cfg.Queue.Concurrency),
		zap.Int("rate_limit", cfg.Queue.RateLimit),
		zap.Duration("rate_window", cfg.Queue.RateWindow),
		zap.String("retry_placement", string(cfg.Queue.RetryPlacement)),
		zap.String("upstream", cfg.Upstream.BaseURL),
	)
	logger.Info("===========================================")
}
