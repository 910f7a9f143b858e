package di

import (
	"context"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/config"
	"github.com/jrjohn/arcana-request-queue/internal/observability"
	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
	"github.com/jrjohn/arcana-request-queue/pkg/logger"
)

// QueueModule provides the request queue, its cache janitor and config hot reload
var QueueModule = fx.Module("queue",
	fx.Provide(provideQueue),
	fx.Invoke(startJanitor),
	fx.Invoke(watchQueueLimits),
)

func provideQueue(
	lc fx.Lifecycle,
	cfg *requestqueue.Config,
	log *zap.Logger,
	metrics *observability.MetricsProvider,
	tracing *observability.TracingProvider,
) (*requestqueue.Queue, error) {
	q := requestqueue.New(*cfg,
		requestqueue.WithLogger(logger.Component(log, "requestqueue")),
		requestqueue.WithRecorder(metrics),
		requestqueue.WithTracer(tracing.Tracer()),
	)
	if err := metrics.ObserveQueue(q); err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			q.Close()
			return nil
		},
	})
	return q, nil
}

func startJanitor(lc fx.Lifecycle, cfg *config.JanitorConfig, q *requestqueue.Queue, log *zap.Logger) error {
	if !cfg.Enabled {
		return nil
	}

	janitor, err := requestqueue.NewJanitor(q, cfg.Schedule, logger.Component(log, "janitor"))
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			janitor.Start()
			return nil
		},
		OnStop: janitor.Stop,
	})
	return nil
}

func watchQueueLimits(v *viper.Viper, q *requestqueue.Queue, log *zap.Logger) {
	config.Watch(v, logger.Component(log, "config"), func(cfg *config.Config) {
		q.SetLimits(cfg.Queue.Concurrency, cfg.Queue.RateLimit)
	})
}
