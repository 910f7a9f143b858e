package di

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
	"github.com/jrjohn/arcana-request-queue/internal/websocket"
	"github.com/jrjohn/arcana-request-queue/pkg/logger"
)

// StreamModule provides the websocket stats stream
var StreamModule = fx.Module("stream",
	fx.Provide(
		provideHub,
		provideStreamHandler,
	),
	fx.Invoke(startStream),
)

func provideHub(log *zap.Logger) *websocket.Hub {
	return websocket.NewHub(logger.Component(log, "stream"))
}

func provideStreamHandler(cfg *websocket.Config, hub *websocket.Hub, q *requestqueue.Queue, log *zap.Logger) *websocket.Handler {
	return websocket.NewHandler(cfg, hub, q, logger.Component(log, "stream"))
}

func startStream(lc fx.Lifecycle, hub *websocket.Hub, handler *websocket.Handler) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go hub.Run(ctx)
			go handler.Publish(ctx)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-hub.Done():
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}
