package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	_ "github.com/joho/godotenv/autoload"

	"dwpipe/internal/app"
	"dwpipe/internal/config"
	handlers "dwpipe/internal/http/handler"
	"dwpipe/internal/http/middleware"
	"dwpipe/internal/logger"
	"dwpipe/internal/otel"
	"dwpipe/internal/service"
)

// @title dwpipe API
// @version 1.0
// @description Triggers and inspects data-warehouse extraction pipeline runs.
// @BasePath /
func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()
	log := logger.New(os.Stdout, cfg.LogLevel, cfg.Location())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Init(ctx, log, "dwpipe")
	if err != nil {
		log.Error("tracing_init_failed", "error", err.Error())
		os.Exit(1)
	}

	// Run ledger, run lock, metrics registry and the pipeline catalog
	rt, err := app.New(ctx, cfg, app.Options{Logger: log})
	if err != nil {
		log.Error("startup_failed", "error", err.Error())
		os.Exit(1)
	}
	defer rt.Close()

	runSvc := service.NewRunService(rt.Runner, rt.Pipelines, rt.Runs, log)

	promMiddleware, err := middleware.NewPrometheusMiddleware(rt.Prom)
	if err != nil {
		log.Error("metrics_init_failed", "error", err.Error())
		os.Exit(1)
	}

	server := fiber.New(fiber.Config{
		ErrorHandler:          handlers.ErrorHandler(),
		DisableStartupMessage: true,
	})

	// Register global middleware
	server.Use(middleware.Tracing(os.Getenv("OTEL_SDK_DISABLED") != "true"))
	server.Use(middleware.RequestID())
	server.Use(middleware.Logger(log))
	server.Use(promMiddleware.Handler())

	// A nil *sql.DB must not become a non-nil Pinger
	deps := handlers.Deps{Runs: runSvc, Gatherer: rt.Prom}
	if rt.DB != nil {
		deps.DB = rt.DB
	}
	handlers.RegisterRoutes(server, deps)

	errCh := make(chan error, 1)
	go func() {
		log.Info("server_listening", "addr", ":"+cfg.Port, "pipelines", len(rt.Pipelines.List()))
		errCh <- server.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		log.Info("server_shutting_down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error("server_failed", "error", err.Error())
		}
	}

	if err := server.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Error("server_shutdown_failed", "error", err.Error())
	}
	// Background runs finish and record their status before the ledger closes.
	runSvc.Wait()

	tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(tctx); err != nil {
		log.Error("tracing_shutdown_failed", "error", err.Error())
	}
}
