package di

import (
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/config"
	httpctrl "github.com/jrjohn/arcana-request-queue/internal/controller/http"
	"github.com/jrjohn/arcana-request-queue/internal/observability"
	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
	"github.com/jrjohn/arcana-request-queue/pkg/logger"
)

// ControllerModule provides HTTP controller dependencies
var ControllerModule = fx.Module("controller",
	fx.Provide(
		provideUpstreamClient,
		provideQueueController,
		provideHealthController,
	),
)

func provideUpstreamClient(cfg *config.UpstreamConfig) *http.Client {
	return &http.Client{
		Timeout:   cfg.Timeout,
		Transport: observability.PropagatingTransport(http.DefaultTransport),
	}
}

func provideQueueController(
	q *requestqueue.Queue,
	client *http.Client,
	cfg *config.UpstreamConfig,
	log *zap.Logger,
) *httpctrl.QueueController {
	return httpctrl.NewQueueController(q, client, cfg.BaseURL, logger.Component(log, "proxy"))
}

func provideHealthController(q *requestqueue.Queue) *httpctrl.HealthController {
	return httpctrl.NewHealthController(q)
}
