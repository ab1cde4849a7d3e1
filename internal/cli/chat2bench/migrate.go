package chat2bench

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chat2bench/chat2bench/internal/config"
	"github.com/chat2bench/chat2bench/internal/migrations"
)

type migrateFlags struct {
	direction string
	steps     int
}

func newMigrateCommand(opts *Options) *cobra.Command {
	var flags migrateFlags
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the results database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd.Context(), opts, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.direction, "direction", "up", "migration direction: up|down|status")
	f.IntVar(&flags.steps, "steps", 0, "number of migration steps; 0 means all for up, 1 for down")
	return cmd
}

func runMigrate(ctx context.Context, opts *Options, flags migrateFlags) error {
	switch flags.direction {
	case "up", "down", "status":
	default:
		return usageErrorf("invalid direction %q", flags.direction)
	}
	if flags.steps < 0 {
		return usageErrorf("--steps must be >= 0")
	}

	cfg, err := config.LoadStorageOnly(serviceName, opts.Lookup)
	if err != nil {
		return err
	}
	if cfg.Results.DSN == "" {
		return &config.ConfigError{Key: "CHAT2BENCH_RESULTS_DSN", Reason: "required by migrate"}
	}
	db, err := opts.OpenResultsDB(ctx, cfg.Results)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	runner := migrations.NewRunner()
	switch flags.direction {
	case "up":
		applied, err := runner.Up(ctx, db, flags.steps)
		if err != nil {
			return fmt.Errorf("migration up failed: %w", err)
		}
		_, _ = fmt.Fprintf(opts.Stdout, "applied %d migration(s)\n", applied)
	case "down":
		rolledBack, err := runner.Down(ctx, db, flags.steps)
		if err != nil {
			return fmt.Errorf("migration down failed: %w", err)
		}
		_, _ = fmt.Fprintf(opts.Stdout, "rolled back %d migration(s)\n", rolledBack)
	case "status":
		states, err := runner.Status(ctx, db)
		if err != nil {
			return fmt.Errorf("migration status failed: %w", err)
		}
		for _, state := range states {
			mark := "pending"
			if state.Applied {
				mark = "applied"
			}
			_, _ = fmt.Fprintf(opts.Stdout, "%06d %-30s %s\n", state.Version, state.Name, mark)
		}
	}
	return nil
}
