package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jrjohn/arcana-request-queue/internal/dto/response"
	"github.com/jrjohn/arcana-request-queue/internal/middleware"
	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
	apperrors "github.com/jrjohn/arcana-request-queue/pkg/errors"
)

const (
	msgCacheCleared     = "cache cleared"
	msgCircuitsReset    = "circuits reset"
	msgInvalidPriority  = "priority must be an integer"
	msgInvalidSkipCache = "skip_cache must be a boolean"
	msgUpstreamTimeout  = "upstream request timed out"
	msgUpstreamFailed   = "upstream request failed"
	msgFailedReadBody   = "failed to read request body"
	queryPriority       = "priority"
	querySkipCache      = "skip_cache"
	queryCategory       = "category"
)

// QueueController exposes queue administration and the queued upstream proxy
type QueueController struct {
	queue    *requestqueue.Queue
	client   *http.Client
	upstream string
	logger   *zap.Logger
}

// NewQueueController creates a new QueueController instance. Proxied calls are
// resolved against upstream.
func NewQueueController(
	queue *requestqueue.Queue,
	client *http.Client,
	upstream string,
	logger *zap.Logger,
) *QueueController {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueController{
		queue:    queue,
		client:   client,
		upstream: strings.TrimRight(upstream, "/"),
		logger:   logger,
	}
}

// RegisterRoutes registers the queue and proxy routes
func (c *QueueController) RegisterRoutes(router *gin.RouterGroup) {
	queue := router.Group("/queue")
	{
		queue.GET("/stats", c.Stats)
		queue.DELETE("/cache", c.ClearCache)
		queue.POST("/circuits/reset", c.ResetCircuits)
	}

	proxy := router.Group("/proxy")
	{
		proxy.GET("/*path", c.Proxy)
		proxy.POST("/*path", c.Proxy)
	}
}

// Stats returns a snapshot of the queue
// @Summary Queue statistics
// @Tags Queue
// @Produce json
// @Success 200 {object} response.ApiResponse[requestqueue.Stats]
// @Router /api/v1/queue/stats [get]
func (c *QueueController) Stats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(c.queue.Stats()))
}

// ClearCache drops every cached response
// @Summary Clear the response cache
// @Tags Queue
// @Produce json
// @Success 200 {object} response.ApiResponse[any]
// @Router /api/v1/queue/cache [delete]
func (c *QueueController) ClearCache(ctx *gin.Context) {
	c.queue.ClearCache()
	c.logger.Info("Response cache cleared", zap.String("request_id", middleware.GetRequestID(ctx)))
	ctx.JSON(http.StatusOK, response.NewSuccess[any](nil, msgCacheCleared))
}

// ResetCircuits closes every circuit breaker
// @Summary Reset circuit breakers
// @Tags Queue
// @Produce json
// @Success 200 {object} response.ApiResponse[any]
// @Router /api/v1/queue/circuits/reset [post]
func (c *QueueController) ResetCircuits(ctx *gin.Context) {
	c.queue.ResetCircuits()
	c.logger.Info("Circuit breakers reset", zap.String("request_id", middleware.GetRequestID(ctx)))
	ctx.JSON(http.StatusOK, response.NewSuccess[any](nil, msgCircuitsReset))
}

// Proxy forwards the request to the upstream through the queue and returns the
// decoded JSON body. Upstream status errors keep their status.
// @Summary Queued upstream proxy
// @Tags Proxy
// @Produce json
// @Param priority query int false "Queue priority" default(0)
// @Param skip_cache query bool false "Bypass the response cache"
// @Param category query string false "Circuit breaker category"
// @Success 200 {object} response.ApiResponse[any]
// @Failure 502 {object} response.ApiResponse[any]
// @Failure 503 {object} response.ApiResponse[any]
// @Failure 504 {object} response.ApiResponse[any]
// @Router /api/v1/proxy/{path} [get]
func (c *QueueController) Proxy(ctx *gin.Context) {
	query := ctx.Request.URL.Query()

	var opts []requestqueue.Option
	if raw := query.Get(queryPriority); raw != "" {
		priority, err := strconv.Atoi(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, response.NewError[any](msgInvalidPriority))
			return
		}
		opts = append(opts, requestqueue.WithPriority(priority))
	}
	if raw := query.Get(querySkipCache); raw != "" {
		skip, err := strconv.ParseBool(raw)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, response.NewError[any](msgInvalidSkipCache))
			return
		}
		if skip {
			opts = append(opts, requestqueue.SkipCache())
		}
	}
	if category := query.Get(queryCategory); category != "" {
		opts = append(opts, requestqueue.WithCategory(category))
	}
	query.Del(queryPriority)
	query.Del(querySkipCache)
	query.Del(queryCategory)

	var body []byte
	if ctx.Request.Body != nil && ctx.Request.Method != http.MethodGet {
		var err error
		if body, err = io.ReadAll(ctx.Request.Body); err != nil {
			ctx.JSON(http.StatusBadRequest, response.NewError[any](msgFailedReadBody))
			return
		}
	}

	header := http.Header{}
	if id := middleware.GetRequestID(ctx); id != "" {
		header.Set(middleware.RequestIDHeader, id)
	}
	if ct := ctx.GetHeader("Content-Type"); ct != "" && len(body) > 0 {
		header.Set("Content-Type", ct)
	}

	req := requestqueue.FetchRequest{
		Method: ctx.Request.Method,
		URL:    c.target(ctx.Param("path"), query),
		Header: header,
		Body:   body,
	}
	data, err := requestqueue.QueuedFetch[any](ctx.Request.Context(), c.queue, c.client, req, opts...)
	if err != nil {
		c.fail(ctx, req, err)
		return
	}
	ctx.JSON(http.StatusOK, response.NewSuccessWithData(data))
}

func (c *QueueController) target(path string, query url.Values) string {
	target := c.upstream + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}
	return target
}

func (c *QueueController) fail(ctx *gin.Context, req requestqueue.FetchRequest, err error) {
	fields := []zap.Field{
		zap.String("request_id", middleware.GetRequestID(ctx)),
		zap.String("method", req.Method),
		zap.String("url", req.URL),
		zap.Error(err),
	}

	var appErr *apperrors.AppError
	switch {
	case errors.As(err, &appErr):
		status, body := response.FromError(err)
		c.logger.Debug("Upstream request rejected", append(fields, zap.Int("status", status))...)
		ctx.JSON(status, body)
	case errors.Is(err, context.DeadlineExceeded):
		c.logger.Warn("Upstream request timed out", fields...)
		ctx.JSON(http.StatusGatewayTimeout, response.NewError[any](msgUpstreamTimeout))
	case errors.Is(err, context.Canceled):
		// client went away
		ctx.Abort()
	default:
		c.logger.Warn("Upstream request failed", fields...)
		ctx.JSON(http.StatusBadGateway, response.NewError[any](msgUpstreamFailed))
	}
}
