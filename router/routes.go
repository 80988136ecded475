// Package router registers route groups onto a shared gin engine, one
// function per concern, the way the source's workflow_routers package
// wires its API surfaces.
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/avantos/audiohook-bridge/internal/conversation"
	"github.com/avantos/audiohook-bridge/internal/hub"
	"github.com/avantos/audiohook-bridge/internal/httpapi"
	"github.com/avantos/audiohook-bridge/internal/observability"
)

// HealthRoutes registers the liveness/readiness endpoints.
func HealthRoutes(engine *gin.Engine, redisClient *redis.Client) {
	api := httpapi.NewHealthAPI(redisClient)
	apiv1 := engine.Group("")
	{
		apiv1.GET("/healthz", api.Healthz)
		apiv1.GET("/readiness", api.Readiness)
	}
}

// AudiohookRoutes registers the telephony ingress endpoint (spec.md §6,
// path "/connect"). newOrchestrator is called once per upgraded
// connection to bind a fresh Orchestrator to that connection's
// transport.
func AudiohookRoutes(engine *gin.Engine, newOrchestrator func(conversation.Transport) *conversation.Orchestrator, logger observability.Logger) {
	handler := httpapi.ServeAudiohook(newOrchestrator, logger)
	engine.GET("/connect", func(c *gin.Context) {
		handler(c.Writer, c.Request)
	})
}

// HubRoutes registers the agent-UI subscription hub's upgrade endpoint.
func HubRoutes(engine *gin.Engine, h *hub.Hub) {
	engine.GET("/agent-ui", func(c *gin.Context) {
		h.ServeWS(c.Writer, c.Request)
	})
}

// NotFound registers a plain 404 fallback, matching the source's habit
// of an explicit NoRoute handler instead of gin's default HTML page.
func NotFound(engine *gin.Engine) {
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}
