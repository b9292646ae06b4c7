package system

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/cache"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
)

// Pinger checks the durable store
type Pinger interface {
	Ping(ctx context.Context) error
}

// Controller serves liveness, readiness and the Prometheus scrape endpoint
type Controller struct {
	store   Pinger
	metrics http.Handler
	logger  *observability.Logger
}

// New creates the system controller
func New(store Pinger, metrics http.Handler, logger *observability.Logger) *Controller {
	return &Controller{store: store, metrics: metrics, logger: logger}
}

// RegisterRoutes implements http.Controller
func (c *Controller) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", c.health)
	r.GET("/ready", c.ready)
	if c.metrics != nil {
		r.GET("/metrics", gin.WrapH(c.metrics))
	}
}

func (c *Controller) health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ready reports 503 only when a configured store cannot be reached. Without
// a store the service still answers (every lookup misses) so it stays ready.
func (c *Controller) ready(ctx *gin.Context) {
	err := c.store.Ping(ctx.Request.Context())
	switch {
	case err == nil:
		ctx.JSON(http.StatusOK, gin.H{"status": "ready", "store": "ok"})
	case errors.Is(err, cache.ErrStoreUnconfigured):
		ctx.JSON(http.StatusOK, gin.H{"status": "degraded", "store": "unconfigured"})
	default:
		c.logger.LogWarnErr(ctx.Request.Context(), "ready check failed", err)
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "store": "unavailable", "error": err.Error()})
	}
}
