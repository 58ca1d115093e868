// Package bootstrap assembles the adapters shared by the server, the worker
// and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"

	"github.com/arturoeanton/codelens-ingest/internal/adapter/indexer"
	"github.com/arturoeanton/codelens-ingest/internal/adapter/store"
	"github.com/arturoeanton/codelens-ingest/internal/adapter/vcs"
	"github.com/arturoeanton/codelens-ingest/internal/port"
	"github.com/arturoeanton/codelens-ingest/internal/service"
	"github.com/arturoeanton/codelens-ingest/pkg/config"
)

// OpenStore runs migrations when AUTO_MIGRATE is set and opens the pool.
// The caller owns the store and must Close it.
func OpenStore(ctx context.Context, cfg *config.Config) (*store.PostgresStore, error) {
	if cfg.AutoMigrate {
		if err := store.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}
	st, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("Database connected", "dsn", cfg.DSN())
	return st, nil
}

// TreeFetcher returns the GitHub App client, or a fetcher that fails every
// run when the App is not configured.
func TreeFetcher(cfg *config.Config) (port.TreeFetcher, error) {
	gh, err := vcs.NewGitHubProvider(vcs.GitHubConfig{
		AppID:      cfg.GitHubAppID,
		PrivateKey: cfg.GitHubPrivateKey,
		BaseURL:    cfg.GitHubAPIURL,
		RateLimit:  cfg.GitHubRateLimit,
	})
	if errors.Is(err, port.ErrCapabilityDisabled) {
		slog.Warn("GitHub App not configured, ingestion runs will fail", "error", err)
		return vcs.DisabledFetcher{}, nil
	}
	if err != nil {
		return nil, err
	}
	return gh, nil
}

// Pipeline builds the ingestion service on st.
func Pipeline(cfg *config.Config, st *store.PostgresStore) (*service.IngestService, error) {
	trees, err := TreeFetcher(cfg)
	if err != nil {
		return nil, err
	}
	ix := indexer.New(cfg.IngestTokenLimit, cfg.IngestMaxFileBytes, cfg.IngestBytesPerToken)
	return service.NewIngestService(st, st, trees, ix), nil
}

// DialTemporal connects to the Temporal frontend, logging through slog.
func DialTemporal(cfg *config.Config) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		Logger:    tlog.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		return nil, fmt.Errorf("dial temporal %s: %w", cfg.TemporalAddress, err)
	}
	return c, nil
}
