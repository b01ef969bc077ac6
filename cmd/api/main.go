package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"menu-analysis-backend/internal/analyses"
	"menu-analysis-backend/internal/shared/config"
	"menu-analysis-backend/internal/shared/metrics"
	"menu-analysis-backend/internal/shared/server"
	"menu-analysis-backend/internal/shared/telemetry"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()
	telemetry.Init(cfg.LogLevel)
	defer telemetry.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := server.NewStateRepo(ctx, cfg)
	if err != nil {
		log.Fatalf("state repo: %v", err)
	}
	defer closeRepo()

	outcomes, err := server.NewOutcomeQueue(ctx, cfg)
	if err != nil {
		log.Fatalf("outcome queue: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := analyses.NewService(cfg.Analysis, analyses.Deps{
		Executor: analyses.LLMExecutor{Client: server.NewLLMClient(cfg)},
		Repo:     repo,
		Outcomes: outcomes,
		Metrics:  metrics.NewPrometheusSink(registry),
	})
	if err := svc.Restore(ctx); err != nil {
		log.Fatalf("restore: %v", err)
	}
	go func() {
		_ = svc.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           server.NewRouter(cfg, svc, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	telemetry.Info("server.start", map[string]any{
		"addr":        srv.Addr,
		"env":         cfg.Env,
		"state_store": cfg.StateStore,
		"provider":    cfg.LLMProvider,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	case <-ctx.Done():
		telemetry.Info("server.shutdown", map[string]any{"reason": "signal"})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			telemetry.Error("server.shutdown_failed", map[string]any{"error": err})
		}
	}
}
