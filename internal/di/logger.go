package di

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/config"
	"github.com/jrjohn/arcana-request-queue/pkg/logger"
)

// LoggerModule provides logging dependencies
var LoggerModule = fx.Module("logger",
	fx.Provide(provideLogger),
)

func provideLogger(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	logCfg := cfg.Log
	if cfg.App.Debug {
		logCfg.Development = true
	}

	log, err := logger.New(logCfg)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			// stdout cannot be synced on some platforms
			_ = log.Sync()
			return nil
		},
	})
	return log.With(zap.String("service", cfg.App.Name)), nil
}
