package chat2bench

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chat2bench/chat2bench/internal/chat2data"
	"github.com/chat2bench/chat2bench/internal/config"
	"github.com/chat2bench/chat2bench/internal/dataset"
	"github.com/chat2bench/chat2bench/internal/driver"
	"github.com/chat2bench/chat2bench/internal/observability"
	"github.com/chat2bench/chat2bench/internal/poller"
	"github.com/chat2bench/chat2bench/internal/results"
	"github.com/chat2bench/chat2bench/internal/results/postgres"
	"github.com/chat2bench/chat2bench/internal/retry"
	"github.com/chat2bench/chat2bench/internal/storage"
	"github.com/chat2bench/chat2bench/internal/upload"
)

const defaultDebugLimit = 5

type runFlags struct {
	dataset    string
	output     string
	format     string
	debug      bool
	debugLimit int
	databases  string
	discover   bool
	upload     bool
	publish    bool
}

func newRunCommand(opts *Options) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ask every dataset question and write the generated SQL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBenchmark(cmd.Context(), opts, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.dataset, "dataset", "", "dataset JSON file (Spider or BIRD layout)")
	f.StringVar(&flags.output, "output", "", "output file for generated SQL")
	f.StringVar(&flags.format, "format", string(results.FormatSpider), "output format: bird|spider|jsonl|parquet")
	f.BoolVar(&flags.debug, "debug", false, "only run the first --debug-limit cases")
	f.IntVar(&flags.debugLimit, "debug-limit", defaultDebugLimit, "number of cases kept by --debug")
	f.StringVar(&flags.databases, "databases", "", "comma separated databases to run")
	f.BoolVar(&flags.discover, "discover", false, "run the databases that have a snapshot in the snapshot source")
	f.BoolVar(&flags.upload, "upload", false, "upload each database snapshot before registering it")
	f.BoolVar(&flags.publish, "publish", false, "publish the output file to the object store when the run ends")
	return cmd
}

func runBenchmark(ctx context.Context, opts *Options, flags runFlags) error {
	if flags.dataset == "" {
		return usageErrorf("--dataset is required")
	}
	if flags.output == "" {
		return usageErrorf("--output is required")
	}
	format, err := results.ParseFormat(flags.format)
	if err != nil {
		return &usageError{err: err}
	}
	if flags.debug && flags.debugLimit <= 0 {
		return usageErrorf("--debug-limit must be > 0")
	}
	if flags.discover && flags.databases != "" {
		return usageErrorf("--discover and --databases are mutually exclusive")
	}

	cfg, err := config.Load(serviceName, opts.Lookup)
	if err != nil {
		return err
	}
	if flags.upload && !cfg.Upload.Enabled() {
		return &config.ConfigError{Key: "CHAT2BENCH_UPLOAD_URL", Reason: "required by --upload"}
	}

	runID := opts.NewRunID()
	ctx = observability.ContextWithRunID(ctx, runID)
	logger := observability.NewLogger(cfg, opts.Stderr)

	if addr := cfg.Observability.MetricsAddr; addr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		if _, err := observability.ServeMetrics(metricsCtx, addr, logger); err != nil {
			return fmt.Errorf("start metrics listener: %w", err)
		}
	}

	stores := &lazyStore{open: opts.OpenObjectStore, cfg: cfg.ObjectStore}

	cases, err := dataset.Load(flags.dataset)
	if err != nil {
		return err
	}
	var source upload.SnapshotSource
	if flags.upload || flags.discover {
		source, err = snapshotSource(ctx, cfg, stores)
		if err != nil {
			return err
		}
	}
	cases, err = selectCases(ctx, cases, flags, source)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "starting run",
		slog.String("dataset", flags.dataset),
		slog.String("output", flags.output),
		slog.String("format", string(format)),
		slog.Int("cases", len(cases)),
	)

	client, err := chat2data.New(chat2data.Config{
		BaseURL:           cfg.Remote.BaseURL,
		PublicKey:         cfg.Remote.PublicKey,
		PrivateKey:        cfg.Remote.PrivateKey,
		URIScheme:         cfg.Remote.URIScheme,
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		Burst:             cfg.Remote.RequestBurst,
		HTTPClient:        opts.HTTPClient,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("create chat2data client: %w", err)
	}

	fileSink, err := results.Open(flags.output, format)
	if err != nil {
		return err
	}
	sinks := results.MultiSink{fileSink}

	var resultsDB *postgres.Sink
	if cfg.Results.DSN != "" {
		db, err := opts.OpenResultsDB(ctx, cfg.Results)
		if err != nil {
			_ = fileSink.Close(ctx)
			return err
		}
		defer func() { _ = db.Close() }()
		resultsDB = postgres.NewSink(db)
		if err := resultsDB.BeginRun(ctx, postgres.RunInfo{
			RunID:     runID,
			Dataset:   flags.dataset,
			Format:    string(format),
			URIScheme: cfg.Remote.URIScheme,
		}); err != nil {
			_ = fileSink.Close(ctx)
			return err
		}
		sinks = append(sinks, resultsDB)
	}

	d := &driver.Driver{
		Gateway:        client,
		SummaryPoller:  newPoller(client, cfg.Poll, cfg.Poll.SummaryMaxPolls, logger),
		AnswerPoller:   newPoller(client, cfg.Poll, cfg.Poll.MaxPolls, logger),
		RegisterPolicy: retryPolicy(cfg.Retry.Register),
		SubmitPolicy:   retryPolicy(cfg.Retry.Submit),
		Retrier:        retry.NewRunner(logger),
		Sink:           sinks,
		Logger:         logger,
		RunID:          runID,
	}
	if flags.upload {
		uploader, err := upload.New(upload.Config{
			URL:        cfg.Upload.URL,
			Secret:     cfg.Upload.Secret,
			Source:     source,
			HTTPClient: opts.HTTPClient,
			Logger:     logger,
		})
		if err != nil {
			_ = sinks.Close(ctx)
			return fmt.Errorf("create uploader: %w", err)
		}
		d.Uploader = uploader
	}

	summary, runErr := d.Run(ctx, cases)

	// The run may have been cancelled; closing and bookkeeping still happen.
	finishCtx := context.WithoutCancel(ctx)
	closeErr := sinks.Close(finishCtx)
	if resultsDB != nil {
		if err := resultsDB.FinishRun(finishCtx, summary); err != nil {
			logger.ErrorContext(finishCtx, "failed to finish run row", slog.Any("error", err))
		}
	}
	logger.InfoContext(finishCtx, "run finished",
		slog.Int("total", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("not_found", summary.NotFound),
		slog.Int("job_failed", summary.JobFailed),
		slog.Int("not_generated", summary.NotGenerated),
	)
	_, _ = fmt.Fprintf(opts.Stdout, "run %s: %d cases, %d succeeded, %d sql not found, %d job failed, %d sql not generated\n",
		runID, summary.Total, summary.Succeeded, summary.NotFound, summary.JobFailed, summary.NotGenerated)

	if runErr != nil {
		return fmt.Errorf("run %s stopped after %d of %d cases: %w", runID, summary.Total, len(cases), runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close output: %w", closeErr)
	}

	if flags.publish {
		store, err := stores.get(ctx)
		if err != nil {
			return err
		}
		info, err := results.PublishArtifact(ctx, store, runID, flags.output)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(opts.Stdout, "published %s\n", info.Key)
	}
	return nil
}

// selectCases applies the database selection and debug truncation flags.
func selectCases(ctx context.Context, cases []dataset.Case, flags runFlags, source upload.SnapshotSource) ([]dataset.Case, error) {
	var names []string
	switch {
	case flags.discover:
		discovered, err := source.Databases(ctx)
		if err != nil {
			return nil, fmt.Errorf("discover databases: %w", err)
		}
		names = discovered
	case flags.databases != "":
		names = splitList(flags.databases)
	}
	if names != nil {
		selected := make([]dataset.Case, 0, len(cases))
		for _, name := range names {
			selected = append(selected, dataset.FilterByDatabase(cases, name)...)
		}
		cases = dataset.Unique(selected)
	}
	if flags.debug {
		cases = dataset.Limit(cases, flags.debugLimit)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("no cases selected from %s", flags.dataset)
	}
	return cases, nil
}

func snapshotSource(ctx context.Context, cfg config.Config, stores *lazyStore) (upload.SnapshotSource, error) {
	if cfg.Upload.SnapshotSource == "s3" {
		store, err := stores.get(ctx)
		if err != nil {
			return nil, err
		}
		return upload.ObjectStoreSource{Store: store}, nil
	}
	return upload.LocalSource{Dir: cfg.Upload.SnapshotDir}, nil
}

func newPoller(fetcher poller.Fetcher, cfg config.PollConfig, maxPolls int, logger *slog.Logger) poller.Poller {
	return poller.Poller{
		Fetcher:  fetcher,
		Interval: cfg.Interval,
		MaxPolls: maxPolls,
		Deadline: cfg.Deadline,
		Logger:   logger,
	}
}

func retryPolicy(cfg config.RetryPolicyConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Attempts,
		BackoffMin:  cfg.BackoffMin,
		BackoffMax:  cfg.BackoffMax,
		IsRetryable: chat2data.IsRetryable,
	}
}

// lazyStore connects to the object store on first use so runs that never
// touch it do not need it reachable.
type lazyStore struct {
	open  func(ctx context.Context, cfg config.ObjectStoreConfig) (storage.ObjectStore, error)
	cfg   config.ObjectStoreConfig
	store storage.ObjectStore
}

func (l *lazyStore) get(ctx context.Context) (storage.ObjectStore, error) {
	if l.store != nil {
		return l.store, nil
	}
	store, err := l.open(ctx, l.cfg)
	if err != nil {
		return nil, fmt.Errorf("open object store: %w", err)
	}
	l.store = store
	return store, nil
}
