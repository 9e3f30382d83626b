package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"caseflow/backend/internal/config"
	"caseflow/backend/internal/engine"
	"caseflow/backend/internal/logging"
	"caseflow/backend/internal/projection"
	"caseflow/backend/internal/repository"
	"caseflow/backend/internal/seed"
)

// rootOptions holds global flags shared by all subcommands.
type rootOptions struct {
	ConfigFile string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "casectl",
		Short:         "Operational CLI for the case workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to config file")

	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newSeedCommand(opts))
	cmd.AddCommand(newBoardCommand(opts))
	cmd.AddCommand(newAnalyticsCommand(opts))

	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, store *repository.PostgresStore, _ *config.Config, log *logging.Logger) error {
				if err := store.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				log.Info("schema applied")
				return nil
			})
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Ensure the default workflow template exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, store *repository.PostgresStore, _ *config.Config, log *logging.Logger) error {
				tpl, err := seed.EnsureDefaultTemplate(ctx, store, log)
				if err != nil {
					return fmt.Errorf("seed: %w", err)
				}
				log.Info("template ready program=%s version=%d id=%s", tpl.ProgramKey, tpl.Version, tpl.ID)
				return nil
			})
		},
	}
}

func newBoardCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Print the kanban board as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, store *repository.PostgresStore, cfg *config.Config, log *logging.Logger) error {
				eng := engine.New(store, log, cfg.Workflow.ProgramKey,
					engine.WithMaxOverrides(cfg.Workflow.MaxOverrides),
					engine.WithMilestones(seed.Milestones()),
				)
				proj := projection.NewProjector(store, eng, log, cfg.Workflow.ProgramKey)
				board, err := proj.Board(ctx)
				if err != nil {
					return fmt.Errorf("board: %w", err)
				}
				return printJSON(cmd, board)
			})
		},
	}
}

func newAnalyticsCommand(opts *rootOptions) *cobra.Command {
	var slaDays int

	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Print portfolio analytics as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), opts, func(ctx context.Context, store *repository.PostgresStore, cfg *config.Config, log *logging.Logger) error {
				eng := engine.New(store, log, cfg.Workflow.ProgramKey,
					engine.WithMaxOverrides(cfg.Workflow.MaxOverrides),
					engine.WithMilestones(seed.Milestones()),
				)
				proj := projection.NewProjector(store, eng, log, cfg.Workflow.ProgramKey)
				days := slaDays
				if days <= 0 {
					days = cfg.Workflow.DefaultSLADays
				}
				analytics, err := proj.Analytics(ctx, days)
				if err != nil {
					return fmt.Errorf("analytics: %w", err)
				}
				return printJSON(cmd, analytics)
			})
		},
	}

	cmd.Flags().IntVar(&slaDays, "sla-days", 0, "SLA threshold in days (defaults to configured value)")

	return cmd
}

// withStore loads config, opens a connection pool, and hands a store to fn.
func withStore(ctx context.Context, opts *rootOptions, fn func(context.Context, *repository.PostgresStore, *config.Config, *logging.Logger) error) error {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig(opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer pool.Close()

	return fn(ctx, repository.NewPostgresStore(pool), cfg, logger)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
