package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tbraz/crm-dashboard-bff-go/internal/config"
	"github.com/tbraz/crm-dashboard-bff-go/internal/domain"
	"github.com/tbraz/crm-dashboard-bff-go/internal/handler"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/cache"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/crm"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/observability"
	"github.com/tbraz/crm-dashboard-bff-go/internal/infra/resilience"
	"github.com/tbraz/crm-dashboard-bff-go/internal/selection"
	"github.com/tbraz/crm-dashboard-bff-go/internal/service"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("crm_api_url", cfg.CRMAPIURL),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Duration("session_ttl", cfg.SessionTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("jwt_enabled", cfg.JWTSecret != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "crm-dashboard-bff")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	clientCache := cache.New[*domain.Client](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("crm-api")

	// --- CRM client ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	directory := crm.NewClient(httpClient, cfg.CRMAPIURL, cb, resilienceCfg, logger)

	// --- Sessions & service ---
	manager := selection.NewManager(directory, cfg.SessionTTL, metrics, logger)
	selectorSvc := service.NewSelector(
		manager,
		directory,
		clientCache,
		domain.Credentials{Token: cfg.CRMToken},
		metrics,
		logger,
	)

	// --- Router ---
	router := handler.NewRouter(selectorSvc, metrics, logger, handler.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		JWTSecret:      cfg.JWTSecret,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
