package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/devharness/devharness/internal/api"
	"github.com/devharness/devharness/internal/watchdog"
	"github.com/devharness/devharness/pkg/audit"
	"github.com/devharness/devharness/pkg/config"
	"github.com/devharness/devharness/pkg/health"
	"github.com/devharness/devharness/pkg/logging"
	"github.com/devharness/devharness/pkg/metrics"
	"github.com/devharness/devharness/pkg/perf"
	"github.com/devharness/devharness/pkg/resilience"
	"github.com/devharness/devharness/pkg/tracing"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "devharnessd",
		Version:     "1.0.0",
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting devharness daemon",
		"default_timeout", cfg.Timeouts.DefaultTimeout.String(),
		"monitor_interval", cfg.Watchdog.MonitorInterval.String(),
	)

	tracer, err := tracing.NewTracingService(&tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "devharnessd",
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	})
	if err != nil {
		logger.Error("Failed to initialize tracing", "error", err.Error())
		os.Exit(1)
	}

	promMetrics := metrics.NewMetrics(metrics.DefaultConfig())
	monitor := perf.NewMonitor(perf.WithEventCapacity(cfg.Perf.TimeoutEventCapacity))

	manager := resilience.NewManager(cfg.Timeouts, monitor,
		resilience.WithMetrics(promMetrics),
		resilience.WithTracing(tracer),
		resilience.WithLogger(logger),
	)

	auditLogger := audit.NewLogger(logger, "devharnessd")
	dog := watchdog.NewWatchdog(cfg.Watchdog, manager, auditLogger,
		watchdog.WithMetrics(promMetrics),
		watchdog.WithLogger(logger),
	)

	healthService := health.NewService(logger, map[string]string{
		"service": "devharnessd",
		"version": "1.0.0",
	})
	healthService.RegisterChecker("watchdog", health.NewCustomChecker("watchdog", func(ctx context.Context) (health.Status, string, error) {
		unhealthy := 0
		for _, s := range dog.GetAllServicesStatus() {
			if s.State == watchdog.StateFailed {
				unhealthy++
			}
		}
		if unhealthy > 0 {
			return health.StatusDegraded, fmt.Sprintf("%d supervised services failed", unhealthy), nil
		}
		return health.StatusHealthy, "all supervised services nominal", nil
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := dog.StartWatchdog(ctx); err != nil {
		logger.Error("Failed to start watchdog", "error", err.Error())
		os.Exit(1)
	}

	router := api.NewRouter(api.Dependencies{
		Manager:  manager,
		Monitor:  monitor,
		Watchdog: dog,
		Health:   healthService,
		Metrics:  promMetrics,
		Tracer:   tracer,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithComponent("http").WithField("addr", server.Addr).Info("Ops API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dog.StopWatchdog(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err.Error())
	}

	if cfg.Perf.ExportPath != "" {
		if err := monitor.ExportJSON(cfg.Perf.ExportPath); err != nil {
			logger.Error("Failed to export performance metrics", "error", err.Error())
		} else {
			logger.Info("Performance metrics exported", "path", cfg.Perf.ExportPath)
		}
	}

	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown failed", "error", err.Error())
	}

	logger.Info("Shutdown complete")
}
