package chat2bench

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chat2bench/chat2bench/internal/config"
	"github.com/chat2bench/chat2bench/internal/results/postgres"
	"github.com/chat2bench/chat2bench/internal/storage"
	"github.com/chat2bench/chat2bench/internal/storage/s3"
)

const serviceName = "chat2bench"

// Options carries the process dependencies of the CLI. Zero values fall back
// to the real environment, network and databases.
type Options struct {
	Lookup          config.LookupFunc
	Stdout          io.Writer
	Stderr          io.Writer
	HTTPClient      *http.Client
	NewRunID        func() string
	OpenObjectStore func(ctx context.Context, cfg config.ObjectStoreConfig) (storage.ObjectStore, error)
	OpenResultsDB   func(ctx context.Context, cfg config.ResultsConfig) (*sql.DB, error)
}

// usageError marks invalid invocations, reported with exit code 2.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// Run executes the CLI and returns the process exit code: 0 on success, 1 on
// runtime or configuration failure, 2 on usage errors.
func Run(ctx context.Context, args []string, defaults Options) int {
	opts := defaults.withDefaults()

	root := newRootCommand(&opts)
	root.SetArgs(args)
	root.SetOut(opts.Stdout)
	root.SetErr(opts.Stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(opts.Stderr, "error: %v\n", err)
	if isUsageError(err) {
		_, _ = fmt.Fprintln(opts.Stderr, "run 'chat2bench --help' for usage")
		return 2
	}
	return 1
}

func newRootCommand(opts *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "chat2bench",
		Short:         "Benchmark a chat2data service against text-to-SQL datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = cmd.Usage()
			return usageErrorf("a command is required")
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})
	root.AddCommand(
		newRunCommand(opts),
		newReportCommand(opts),
		newMigrateCommand(opts),
	)
	return root
}

func isUsageError(err error) bool {
	var usage *usageError
	if errors.As(err, &usage) {
		return true
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") ||
		strings.HasPrefix(msg, "required flag") ||
		strings.HasPrefix(msg, "unknown flag")
}

func (o Options) withDefaults() Options {
	if o.Lookup == nil {
		o.Lookup = os.LookupEnv
	}
	if o.Stdout == nil {
		o.Stdout = io.Discard
	}
	if o.Stderr == nil {
		o.Stderr = io.Discard
	}
	if o.NewRunID == nil {
		o.NewRunID = uuid.NewString
	}
	if o.OpenObjectStore == nil {
		o.OpenObjectStore = func(ctx context.Context, cfg config.ObjectStoreConfig) (storage.ObjectStore, error) {
			store, err := s3.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return store, nil
		}
	}
	if o.OpenResultsDB == nil {
		o.OpenResultsDB = postgres.Open
	}
	return o
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
