package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// HealthAPI serves the liveness/readiness routes grounded on the
// source's own health-check-api package: readiness additionally proves
// the shared Redis connection the broker and fallback publisher depend
// on is reachable.
type HealthAPI struct {
	redis *redis.Client
}

// NewHealthAPI builds a HealthAPI bound to the shared Redis client.
func NewHealthAPI(client *redis.Client) *HealthAPI {
	return &HealthAPI{redis: client}
}

// Healthz reports process liveness unconditionally.
func (h *HealthAPI) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readiness additionally pings Redis.
func (h *HealthAPI) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.redis.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
