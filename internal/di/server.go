package di

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/config"
	httpctrl "github.com/jrjohn/arcana-request-queue/internal/controller/http"
	"github.com/jrjohn/arcana-request-queue/internal/middleware"
	"github.com/jrjohn/arcana-request-queue/internal/observability"
	"github.com/jrjohn/arcana-request-queue/internal/websocket"
)

// HTTPServerModule provides HTTP server dependencies
var HTTPServerModule = fx.Module("http_server",
	fx.Provide(provideGinEngine),
	fx.Provide(provideHTTPServer),
	fx.Invoke(registerHTTPRoutes),
	fx.Invoke(startHTTPServer),
)

func provideGinEngine(
	cfg *config.AppConfig,
	metricsCfg *observability.MetricsConfig,
	tracingCfg *observability.TracingConfig,
	metrics *observability.MetricsProvider,
	logger *zap.Logger,
) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger, "/health", "/ready", metricsCfg.PrometheusPath))
	if tracingCfg.Enabled {
		router.Use(observability.TracingMiddleware(tracingCfg.ServiceName))
	}
	if metricsCfg.Enabled {
		router.Use(observability.MetricsMiddleware(metrics))
	}

	return router
}

func provideHTTPServer(cfg *config.ServerConfig, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Controllers is a struct that holds all HTTP controllers for fx to inject
type Controllers struct {
	fx.In

	Health *httpctrl.HealthController
	Queue  *httpctrl.QueueController
	Stream *websocket.Handler
}

func registerHTTPRoutes(
	router *gin.Engine,
	controllers Controllers,
	metricsCfg *observability.MetricsConfig,
	metrics *observability.MetricsProvider,
) {
	controllers.Health.RegisterRoutes(router)
	if metricsCfg.Enabled {
		router.GET(metricsCfg.PrometheusPath, gin.WrapH(metrics.Handler()))
	}

	// API routes
	api := router.Group("/api/v1")

	controllers.Queue.RegisterRoutes(api)
	controllers.Stream.RegisterRoutes(api)
}

func startHTTPServer(lc fx.Lifecycle, server *http.Server, cfg *config.ServerConfig, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting HTTP server", zap.String("address", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping HTTP server")
			if cfg.ShutdownTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cfg.ShutdownTimeout)
				defer cancel()
			}
			return server.Shutdown(ctx)
		},
	})
}
