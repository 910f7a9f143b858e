package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jrjohn/arcana-request-queue/internal/requestqueue"
)

// HealthController serves liveness and readiness probes
type HealthController struct {
	queue *requestqueue.Queue
}

// NewHealthController creates a new HealthController instance
func NewHealthController(queue *requestqueue.Queue) *HealthController {
	return &HealthController{queue: queue}
}

// RegisterRoutes registers the probe routes at the router root
func (c *HealthController) RegisterRoutes(router gin.IRoutes) {
	router.GET("/health", c.Health)
	router.GET("/ready", c.Ready)
}

// Health reports that the process is serving
func (c *HealthController) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// Ready reports not ready while the default circuit is open. Breakers close on
// the next request once their reset timeout passes, so a due reset counts as ready.
func (c *HealthController) Ready(ctx *gin.Context) {
	stats := c.queue.Stats()
	if stats.CircuitOpen && !stats.CircuitResetDue {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "circuit open"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"status":  "ready",
		"pending": stats.Pending,
		"active":  stats.Active,
	})
}
