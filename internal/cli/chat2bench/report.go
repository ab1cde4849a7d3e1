package chat2bench

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/chat2bench/chat2bench/internal/config"
	"github.com/chat2bench/chat2bench/internal/report"
	"github.com/chat2bench/chat2bench/internal/report/duckdb"
	"github.com/chat2bench/chat2bench/internal/results"
)

type reportFlags struct {
	input  string
	object string
	format string
	sql    string
}

func newReportCommand(opts *Options) *cobra.Command {
	var flags reportFlags
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise a jsonl or parquet result file per database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd.Context(), opts, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.input, "input", "", "local result file")
	f.StringVar(&flags.object, "object", "", "object store key of a published result file, e.g. runs/<id>/out.jsonl")
	f.StringVar(&flags.format, "format", "", "result format when the extension is ambiguous: jsonl|parquet")
	f.StringVar(&flags.sql, "sql", "", "ad hoc query against the results view instead of the summary")
	return cmd
}

func runReport(ctx context.Context, opts *Options, flags reportFlags) error {
	if (flags.input == "") == (flags.object == "") {
		return usageErrorf("exactly one of --input and --object is required")
	}
	request := report.Request{Path: flags.input, ObjectKey: flags.object}
	if flags.format != "" {
		format, err := results.ParseFormat(flags.format)
		if err != nil {
			return &usageError{err: err}
		}
		if format != results.FormatJSONL && format != results.FormatParquet {
			return usageErrorf("report reads jsonl or parquet output, not %s", format)
		}
		request.Format = format
	}

	engine := duckdb.NewEngine(nil)
	if flags.object != "" {
		cfg, err := config.LoadStorageOnly(serviceName, opts.Lookup)
		if err != nil {
			return err
		}
		stores := &lazyStore{open: opts.OpenObjectStore, cfg: cfg.ObjectStore}
		store, err := stores.get(ctx)
		if err != nil {
			return err
		}
		engine.Store = store
	}

	if flags.sql != "" {
		result, err := engine.Query(ctx, request, flags.sql)
		if err != nil {
			return err
		}
		return report.RenderQuery(opts.Stdout, result)
	}
	rep, err := engine.Summarize(ctx, request)
	if err != nil {
		return err
	}
	return report.Render(opts.Stdout, rep)
}
