// Command codelensctl runs operator tasks against the ingest database.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/arturoeanton/codelens-ingest/internal/adapter/store"
	"github.com/arturoeanton/codelens-ingest/internal/bootstrap"
	"github.com/arturoeanton/codelens-ingest/pkg/config"
)

// ctlOpts is shared by every subcommand. The store opens on first use so
// commands that only need configuration never touch the database.
type ctlOpts struct {
	cfg   *config.Config
	store *store.PostgresStore
}

func (o *ctlOpts) openStore(ctx context.Context) (*store.PostgresStore, error) {
	if o.store != nil {
		return o.store, nil
	}
	st, err := bootstrap.OpenStore(ctx, o.cfg)
	if err != nil {
		return nil, err
	}
	o.store = st
	return st, nil
}

func (o *ctlOpts) close() {
	if o.store != nil {
		o.store.Close()
	}
}

func newRootCommand(o *ctlOpts) *cobra.Command {
	root := &cobra.Command{
		Use:           "codelensctl",
		Short:         "Operate the CodeLens ingest service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCommand(o))
	root.AddCommand(newIngestCommand(o))
	root.AddCommand(newStatusCommand(o))
	root.AddCommand(newSeedCommand(o))
	root.AddCommand(newDeliveriesCommand(o))
	root.AddCommand(newTokenCommand(o))
	return root
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	// Logs go to stderr so command output stays machine readable.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	o := &ctlOpts{cfg: cfg}

	err := newRootCommand(o).ExecuteContext(ctx)
	o.close()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
