package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/chat2bench/chat2bench/internal/chat2data"
	"github.com/chat2bench/chat2bench/internal/observability"
)

const (
	DefaultInterval = 5 * time.Second
	DefaultMaxPolls = 300
)

type Fetcher interface {
	FetchJob(ctx context.Context, jobID chat2data.ResourceID) (chat2data.Job, error)
}

type SleepFunc func(ctx context.Context, d time.Duration) error

// Poller waits for a remote job with a fixed delay between fetches.
type Poller struct {
	Fetcher  Fetcher
	Interval time.Duration
	MaxPolls int
	Deadline time.Duration
	Sleep    SleepFunc
	Clock    func() time.Time
	Logger   *slog.Logger
}

type Outcome struct {
	State   State
	Job     chat2data.Job
	Polls   int
	Elapsed time.Duration
	LastErr error
}

// Wait polls jobID until it is done or failed, or until the poll budget or
// deadline runs out. Fetch errors count as polls and are not returned; the
// only error is the context's.
func (p Poller) Wait(ctx context.Context, jobID chat2data.ResourceID) (Outcome, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxPolls := p.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := p.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}

	started := clock()
	progress := Start(maxPolls, p.Deadline)
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		job, err := p.Fetcher.FetchJob(ctx, jobID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Outcome{}, ctxErr
		}
		progress = Step(progress, Observation{Job: job, Err: err, Elapsed: clock().Sub(started)})

		if err != nil {
			observability.ObserveJobPoll("error")
			logger.WarnContext(ctx, "failed to fetch job",
				slog.String("job_id", jobID.String()),
				slog.Int("poll", progress.Polls),
				slog.Any("error", err),
			)
		} else {
			observability.ObserveJobPoll(string(job.Status))
			logger.DebugContext(ctx, "polled job",
				slog.String("job_id", jobID.String()),
				slog.Int("poll", progress.Polls),
				slog.String("status", job.RawStatus),
			)
		}

		if progress.State != Polling {
			outcome := Outcome{
				State:   progress.State,
				Job:     progress.Job,
				Polls:   progress.Polls,
				Elapsed: clock().Sub(started),
				LastErr: progress.LastErr,
			}
			observability.ObserveJobWait(outcome.State.String(), outcome.Elapsed)
			if outcome.State == TimedOut {
				logger.WarnContext(ctx, "job did not finish in time",
					slog.String("job_id", jobID.String()),
					slog.Int("polls", outcome.Polls),
					slog.Duration("elapsed", outcome.Elapsed),
				)
			}
			return outcome, nil
		}

		if err := sleep(ctx, interval); err != nil {
			return Outcome{}, err
		}
	}
}

// SleepContext blocks for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
