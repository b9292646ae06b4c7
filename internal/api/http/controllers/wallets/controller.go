package wallets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/cache"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/walletmetrics"
)

// maxWarmBatch caps the wallets accepted by one warm request
const maxWarmBatch = 1000

// MetricsCache is the part of the hot cache the wallet routes need.
// Metrics are carried as opaque JSON documents.
type MetricsCache interface {
	Get(ctx context.Context, wallet string) (json.RawMessage, bool)
	Set(ctx context.Context, wallet string, metrics json.RawMessage)
	Invalidate(ctx context.Context, wallet string)
	Warm(ctx context.Context, wallets []string) int
	Trending(limit int) []walletmetrics.TrendingWallet
}

// LeaderboardTag tags cached leaderboard snapshots so they can be dropped
// together through tag invalidation.
const LeaderboardTag = "leaderboard"

// Controller serves wallet metrics routes
type Controller struct {
	cache          MetricsCache
	shared         *cache.TaggedCache
	leaderboardTTL time.Duration
	logger         *observability.Logger
	now            func() time.Time
}

// New creates the wallets controller. shared may be nil, in which case the
// leaderboard is computed on every request.
func New(metrics MetricsCache, shared *cache.TaggedCache, leaderboardTTL time.Duration, logger *observability.Logger) *Controller {
	return &Controller{
		cache:          metrics,
		shared:         shared,
		leaderboardTTL: leaderboardTTL,
		logger:         logger,
		now:            time.Now,
	}
}

// RegisterRoutes implements http.Controller
func (c *Controller) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1/wallets")

	api.GET("/trending", c.trending)
	api.GET("/leaderboard", c.leaderboard)
	api.POST("/warm", c.warm)
	api.GET("/:wallet/metrics", c.get)
	api.PUT("/:wallet/metrics", c.put)
	api.DELETE("/:wallet/metrics", c.invalidate)
}

func (c *Controller) wallet(ctx *gin.Context) (string, bool) {
	wallet := ctx.Param("wallet")
	if err := walletmetrics.ValidateWallet(wallet); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return "", false
	}
	return wallet, true
}

func (c *Controller) get(ctx *gin.Context) {
	wallet, ok := c.wallet(ctx)
	if !ok {
		return
	}

	metrics, found := c.cache.Get(ctx.Request.Context(), wallet)
	if !found {
		ctx.JSON(http.StatusNotFound, ErrorResponse{Error: "wallet metrics not cached"})
		return
	}
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", metrics)
}

func (c *Controller) put(ctx *gin.Context) {
	wallet, ok := c.wallet(ctx)
	if !ok {
		return
	}

	body, err := readJSONBody(ctx)
	if err != nil {
		c.logger.LogDebug(ctx.Request.Context(), "metrics body rejected", "wallet", wallet, "error", err)
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	c.cache.Set(ctx.Request.Context(), wallet, body)
	ctx.Status(http.StatusNoContent)
}

// readJSONBody returns the request body if it is a non-null JSON document
func readJSONBody(ctx *gin.Context) (json.RawMessage, error) {
	raw, err := ctx.GetRawData()
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, errors.New("metrics body is required")
	}
	if !json.Valid(raw) {
		return nil, errors.New("metrics body must be valid JSON")
	}
	return raw, nil
}

func (c *Controller) invalidate(ctx *gin.Context) {
	wallet, ok := c.wallet(ctx)
	if !ok {
		return
	}

	c.cache.Invalidate(ctx.Request.Context(), wallet)
	ctx.Status(http.StatusNoContent)
}

func (c *Controller) warm(ctx *gin.Context) {
	var req WarmRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	if len(req.Wallets) > maxWarmBatch {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "too many wallets, max " + strconv.Itoa(maxWarmBatch)})
		return
	}
	for _, w := range req.Wallets {
		if err := walletmetrics.ValidateWallet(w); err != nil {
			ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	n := c.cache.Warm(ctx.Request.Context(), req.Wallets)
	ctx.JSON(http.StatusOK, WarmResponse{Requested: len(req.Wallets), Refreshed: n})
}

func queryLimit(ctx *gin.Context) (int, bool) {
	raw := ctx.Query("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		ctx.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a non-negative integer"})
		return 0, false
	}
	return n, true
}

func (c *Controller) trending(ctx *gin.Context) {
	limit, ok := queryLimit(ctx)
	if !ok {
		return
	}

	ctx.JSON(http.StatusOK, TrendingResponse{Wallets: c.cache.Trending(limit)})
}

// leaderboard serves a trending snapshot shared through the durable store,
// so every replica answers with the same ranking until the snapshot expires.
func (c *Controller) leaderboard(ctx *gin.Context) {
	limit, ok := queryLimit(ctx)
	if !ok {
		return
	}

	compute := func(context.Context) (Leaderboard, error) {
		return Leaderboard{
			Wallets:     c.cache.Trending(limit),
			GeneratedAt: c.now().UTC(),
		}, nil
	}

	if c.shared == nil {
		board, _ := compute(ctx.Request.Context())
		ctx.JSON(http.StatusOK, board)
		return
	}

	key := "leaderboard:" + strconv.Itoa(limit)
	board, err := cache.GetOrSet(ctx.Request.Context(), c.shared, key, compute, cache.SetOptions{
		TTL:  c.leaderboardTTL,
		Tags: []string{LeaderboardTag},
	})
	if err != nil {
		c.logger.LogError(ctx.Request.Context(), "leaderboard failed", err)
		ctx.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, board)
}
