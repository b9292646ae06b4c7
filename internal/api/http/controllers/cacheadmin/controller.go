// Package cacheadmin exposes cache statistics and the tagged entry store
// to operators.
package cacheadmin

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/cache"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/resilience"
)

// StatsSource is the hot cache seen by the stats routes
type StatsSource interface {
	Stats() cache.Stats
	ResetStats()
	L1Len() int
}

// StatsResponse is the body of GET /api/v1/cache/stats
type StatsResponse struct {
	cache.Stats
	HitRatePercent float64 `json:"hitRatePercent"`
	L1Entries      int     `json:"l1Entries"`
	StoreBreaker   string  `json:"storeBreaker,omitempty"`
}

// InvalidateResponse reports a tag invalidation
type InvalidateResponse struct {
	Tag         string `json:"tag"`
	Invalidated bool   `json:"invalidated"`
}

// Controller serves cache administration routes
type Controller struct {
	stats   StatsSource
	tagged  *cache.TaggedCache
	breaker *resilience.CircuitBreaker
	logger  *observability.Logger
}

// New creates the cache admin controller. breaker may be nil.
func New(stats StatsSource, tagged *cache.TaggedCache, breaker *resilience.CircuitBreaker, logger *observability.Logger) *Controller {
	return &Controller{stats: stats, tagged: tagged, breaker: breaker, logger: logger}
}

// RegisterRoutes implements http.Controller
func (c *Controller) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1/cache")

	api.GET("/stats", c.getStats)
	api.DELETE("/stats", c.resetStats)

	api.POST("/tags/:tag/invalidate", c.invalidateTag)
	api.GET("/tags/:tag/stale", c.staleMembers)

	api.GET("/entries/:key", c.getEntry)
	api.PUT("/entries/:key", c.putEntry)
	api.DELETE("/entries/:key", c.deleteEntry)
	api.POST("/counters/:key/incr", c.incr)
}

func (c *Controller) getStats(ctx *gin.Context) {
	s := c.stats.Stats()
	resp := StatsResponse{
		Stats:          s,
		HitRatePercent: s.HitRatePercent(),
		L1Entries:      c.stats.L1Len(),
	}
	if c.breaker != nil {
		resp.StoreBreaker = c.breaker.State().String()
	}
	ctx.JSON(http.StatusOK, resp)
}

func (c *Controller) resetStats(ctx *gin.Context) {
	c.stats.ResetStats()
	ctx.Status(http.StatusNoContent)
}

func (c *Controller) invalidateTag(ctx *gin.Context) {
	tag := ctx.Param("tag")
	ok := c.tagged.InvalidateTag(ctx.Request.Context(), tag)
	if !ok {
		c.logger.LogWarn(ctx.Request.Context(), "tag invalidation incomplete", "tag", tag)
		ctx.JSON(http.StatusServiceUnavailable, InvalidateResponse{Tag: tag})
		return
	}
	ctx.JSON(http.StatusOK, InvalidateResponse{Tag: tag, Invalidated: true})
}

// staleMembers lists keys indexed under a tag but missing from the set named
// by the live query parameter.
func (c *Controller) staleMembers(ctx *gin.Context) {
	live := ctx.Query("live")
	if live == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "live set key is required"})
		return
	}
	stale := c.tagged.StaleTagMembers(ctx.Request.Context(), ctx.Param("tag"), live)
	if stale == nil {
		stale = []string{}
	}
	ctx.JSON(http.StatusOK, gin.H{"tag": ctx.Param("tag"), "stale": stale})
}

func (c *Controller) getEntry(ctx *gin.Context) {
	v, ok := cache.Get[json.RawMessage](ctx.Request.Context(), c.tagged, ctx.Param("key"))
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "entry not cached"})
		return
	}
	ctx.Data(http.StatusOK, "application/json; charset=utf-8", v)
}

// putEntry stores the JSON body. Optional query parameters: ttl (Go
// duration) and tags (comma separated).
func (c *Controller) putEntry(ctx *gin.Context) {
	var opts cache.SetOptions
	if raw := ctx.Query("ttl"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil || ttl < 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "ttl must be a non-negative duration"})
			return
		}
		opts.TTL = ttl
	}
	if raw := ctx.Query("tags"); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				opts.Tags = append(opts.Tags, tag)
			}
		}
	}

	body, err := ctx.GetRawData()
	body = bytes.TrimSpace(body)
	if err != nil || len(body) == 0 || !json.Valid(body) {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON document"})
		return
	}

	if !cache.Set(ctx.Request.Context(), c.tagged, ctx.Param("key"), json.RawMessage(body), opts) {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (c *Controller) deleteEntry(ctx *gin.Context) {
	if !c.tagged.Delete(ctx.Request.Context(), ctx.Param("key")) {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	ctx.Status(http.StatusNoContent)
}

// incr bumps a counter. ttl applies when the counter is created.
func (c *Controller) incr(ctx *gin.Context) {
	var ttl time.Duration
	if raw := ctx.Query("ttl"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "ttl must be a non-negative duration"})
			return
		}
		ttl = d
	}

	n, ok := c.tagged.Incr(ctx.Request.Context(), ctx.Param("key"), ttl)
	if !ok {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"key": ctx.Param("key"), "value": n})
}
