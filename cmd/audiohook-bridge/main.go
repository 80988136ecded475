// Command audiohook-bridge runs the Audiohook ingress/egress bridge:
// process entrypoint wiring config, logging, Redis, the
// conversational-AI facade, and the HTTP/WS surfaces together.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/avantos/audiohook-bridge/internal/aiclient"
	"github.com/avantos/audiohook-bridge/internal/broker"
	"github.com/avantos/audiohook-bridge/internal/config"
	"github.com/avantos/audiohook-bridge/internal/conversation"
	"github.com/avantos/audiohook-bridge/internal/fallback"
	"github.com/avantos/audiohook-bridge/internal/hub"
	"github.com/avantos/audiohook-bridge/internal/observability"
	"github.com/avantos/audiohook-bridge/internal/protocol"
	"github.com/avantos/audiohook-bridge/router"
)

func main() {
	processStart := time.Now()

	v, err := config.InitViper()
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiohook-bridge: loading config: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audiohook-bridge: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.New(cfg.Name, observability.WithLevel(cfg.LogLevel))

	location, err := cfg.Location()
	if err != nil {
		logger.Fatalf("invalid conversation profile name: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisOpts := &redis.Options{
		Addr:                cfg.Redis.Host + fmt.Sprintf(":%d", cfg.Redis.Port),
		Password:            cfg.Redis.Password,
		DB:                  cfg.Redis.DB,
		HealthCheckInterval: time.Duration(cfg.Redis.HealthCheckIntervalSecs) * time.Second,
	}
	if cfg.Redis.RetryOnTimeout {
		redisOpts.MaxRetries = 3
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warnw("redis not reachable at startup, continuing and relying on retries", "error", err)
	}

	facade, err := aiclient.NewGoogleFacade(ctx, logger, aiclient.GoogleConfig{
		ProjectID: cfg.GCPProjectID,
		Location:  location,
		APIKey:    cfg.APIKey,
	})
	if err != nil {
		logger.Fatalf("failed to build conversational-AI facade: %v", err)
	}

	brk := broker.New(redisClient, logger, cfg.RoutingEntryTTL())
	fb := fallback.New(redisClient, logger, cfg.FallbackStreamName)

	hubID := hub.NewHubID(processStart)
	h := hub.New(hubID, cfg.HubJWTSecret, brk, logger.With("hub_id", hubID))
	go h.Run(ctx)

	orchestratorCfg := conversation.Config{
		Rate:                    cfg.SampleRateHz,
		MaxLookback:             cfg.MaxLookback(),
		ProjectID:               cfg.GCPProjectID,
		Location:                location,
		ConversationProfileName: cfg.ConversationProfileName,
		AwaitSubscriberBudget:   cfg.AwaitSubscriberBudget(),
		AwaitSubscriberPoll:     cfg.AwaitSubscriberPollInterval(),
		SummaryInterval:         cfg.SummaryInterval(),
		FallbackStreamName:      cfg.FallbackStreamName,
	}

	newOrchestrator := func(transport conversation.Transport) *conversation.Orchestrator {
		return conversation.New(protocol.New(), facade, brk, fb, logger, orchestratorCfg, transport)
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost},
		AllowHeaders:    []string{"Authorization", "Content-Type"},
	}))

	router.HealthRoutes(engine, redisClient)
	router.AudiohookRoutes(engine, newOrchestrator, logger)
	router.HubRoutes(engine, h)
	router.NotFound(engine)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	go func() {
		logger.Infof("audiohook-bridge listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("graceful shutdown did not complete cleanly", "error", err)
	}
}
