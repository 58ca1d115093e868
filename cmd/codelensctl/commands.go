package main

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/arturoeanton/codelens-ingest/internal/adapter/store"
	"github.com/arturoeanton/codelens-ingest/internal/bootstrap"
	"github.com/arturoeanton/codelens-ingest/internal/domain"
	"github.com/arturoeanton/codelens-ingest/internal/middleware"
	"github.com/arturoeanton/codelens-ingest/internal/service"
)

var errSeedDisabled = errors.New("seeding is disabled; set DEV_SEED_ENABLED=true")

func newMigrateCommand(o *ctlOpts) *cobra.Command {
	var down int
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if down > 0 {
				if err := store.MigrateDown(o.cfg.DatabaseURL, down); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", down)
				return nil
			}
			if err := store.Migrate(o.cfg.DatabaseURL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema up to date")
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead")
	return cmd
}

func newIngestCommand(o *ctlOpts) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "ingest <repository-id>",
		Short: "Run ingestion for a repository in this process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			pipeline, err := bootstrap.Pipeline(o.cfg, st)
			if err != nil {
				return err
			}
			res, err := service.NewRepoService(st, nil, pipeline).IngestNow(cmd.Context(), args[0], force)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("ingestion did not complete: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-ingest even when the repository is already ingested")
	return cmd
}

func newStatusCommand(o *ctlOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status <repository-id>",
		Short: "Show a repository's ingestion state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			repo, err := st.GetRepository(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), repo)
		},
	}
}

func newSeedCommand(o *ctlOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create a demo user and repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !o.cfg.DevSeedEnabled {
				return errSeedDisabled
			}
			st, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			seeder := store.NewDevSeeder(st, o.cfg.DevSeedEnabled)
			if seeder == nil {
				return errSeedDisabled
			}
			res, err := seeder.Seed(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newDeliveriesCommand(o *ctlOpts) *cobra.Command {
	var (
		limit int
		event string
	)
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "List recent webhook deliveries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := o.openStore(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := st.ListDeliveries(cmd.Context(), limit, event)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			defer table.Render()
			table.SetHeader([]string{"Delivery", "Event", "Action", "Status", "Duration", "Received At"})
			for _, d := range rows {
				table.Append([]string{
					d.DeliveryID,
					d.Event,
					d.Action,
					strconv.Itoa(d.StatusCode),
					(time.Duration(d.DurationMS) * time.Millisecond).String(),
					d.CreatedAt.Format(time.RFC3339),
				})
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of deliveries to show")
	cmd.Flags().StringVar(&event, "event", "", "only show this X-GitHub-Event type")
	return cmd
}

func newTokenCommand(o *ctlOpts) *cobra.Command {
	var user domain.User
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			token, err := middleware.GenerateJWT(&user, middleware.JWTConfig{
				Secret:    o.cfg.APITokenSecret,
				Issuer:    o.cfg.APITokenIssuer,
				ExpiresIn: o.cfg.APITokenTTL,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user.ID, "user", "", "subject user id")
	cmd.Flags().StringVar(&user.Role, "role", "admin", "role claim")
	cmd.Flags().StringVar(&user.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&user.Name, "name", "", "name claim")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
