package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/worker"

	"github.com/arturoeanton/codelens-ingest/internal/adapter/jobs"
	"github.com/arturoeanton/codelens-ingest/internal/bootstrap"
	"github.com/arturoeanton/codelens-ingest/pkg/config"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	slog.SetDefault(cfg.NewLogger())
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	pgStore, err := bootstrap.OpenStore(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	ingestService, err := bootstrap.Pipeline(cfg, pgStore)
	if err != nil {
		slog.Error("failed to build ingestion pipeline", "error", err)
		os.Exit(1)
	}

	c, err := bootstrap.DialTemporal(cfg)
	if err != nil {
		slog.Error("failed to connect to Temporal", "error", err)
		os.Exit(1)
	}
	defer c.Close()

	w := worker.New(c, cfg.TemporalTaskQueue, worker.Options{})
	jobs.Register(w, ingestService)

	slog.Info("Ingestion worker started", "task_queue", cfg.TemporalTaskQueue, "namespace", cfg.TemporalNamespace)
	if err := w.Run(worker.InterruptCh()); err != nil {
		slog.Error("worker stopped", "error", err)
		os.Exit(1)
	}
}
