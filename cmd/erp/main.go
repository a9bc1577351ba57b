package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"freelance-erp/internal/auth"
	"freelance-erp/internal/backend"
	"freelance-erp/internal/cache"
	"freelance-erp/internal/cli"
	"freelance-erp/internal/core"
	apphttp "freelance-erp/internal/http"
	"freelance-erp/internal/log"
	"freelance-erp/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting freelance-erp server",
		log.FieldOperation, log.OpStartup,
		"port", cfg.Port,
		"environment", cfg.Environment,
		"backend", cfg.DataBackend)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err, log.FieldErrorType, log.ErrorTypeConfiguration)
		os.Exit(1)
	}
	res, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to create backend", log.FieldError, err, log.FieldErrorType, log.ErrorTypeDatabase)
		os.Exit(1)
	}

	dashboards := cache.NewLRUCache[core.Dashboard](500, cfg.CacheTTL)
	caches := cache.NewManager(logger.WithComponent(log.ComponentCache).Logger)
	caches.Register(dashboards)
	caches.StartCleanup(time.Minute)

	docs := services.NewDocumentService(res.Repository, res.DocumentPublisher(), dashboards)
	authSvc := auth.NewService(res.Repository, auth.NewTokens(cfg.SessionSecret, cfg.SessionTTL), logger)
	if _, err := authSvc.SeedAdmin(context.Background(), cfg.AuthUser, cfg.AuthPassword, cfg.AuthEmail); err != nil {
		logger.Error("Failed to seed admin user", log.FieldError, err)
		os.Exit(1)
	}

	apiKeys := auth.NewAPIKeys(cfg.AllowedAPIKeys)
	if apiKeys.Len() == 0 {
		logger.Warn("ALLOWED_API_KEYS is empty, only session routes are usable")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := apphttp.NewServer(apphttp.OptionsFromConfig(cfg), apphttp.Deps{
		Documents: docs,
		Auth:      authSvc,
		APIKeys:   apiKeys,
		Logger:    logger,
		Registry:  registry,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		caches.Stop()
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})

	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", log.FieldError, err)
			os.Exit(1)
		}
	}()

	cli.WaitForShutdown(ctx, done)
}
