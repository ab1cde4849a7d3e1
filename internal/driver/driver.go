package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chat2bench/chat2bench/internal/answer"
	"github.com/chat2bench/chat2bench/internal/chat2data"
	"github.com/chat2bench/chat2bench/internal/dataset"
	"github.com/chat2bench/chat2bench/internal/observability"
	"github.com/chat2bench/chat2bench/internal/poller"
	"github.com/chat2bench/chat2bench/internal/results"
	"github.com/chat2bench/chat2bench/internal/retry"
)

type Gateway interface {
	RegisterDatabase(ctx context.Context, name string) (chat2data.DataSummaryHandle, error)
	SubmitQuestion(ctx context.Context, question chat2data.Question) (chat2data.ResourceID, error)
}

type Waiter interface {
	Wait(ctx context.Context, jobID chat2data.ResourceID) (poller.Outcome, error)
}

type Uploader interface {
	Upload(ctx context.Context, database string) error
}

// JobFailedError reports a remote job that ended failed or never finished.
type JobFailedError struct {
	JobID  chat2data.ResourceID
	State  poller.State
	Status string
	Polls  int
}

func (e *JobFailedError) Error() string {
	if e.State == poller.TimedOut {
		return fmt.Sprintf("job %s did not finish after %d polls (last status %q)", e.JobID, e.Polls, e.Status)
	}
	return fmt.Sprintf("job %s failed", e.JobID)
}

// Driver runs benchmark cases one at a time and emits exactly one record per
// case. Remote failures are recorded, never returned.
type Driver struct {
	Gateway        Gateway
	SummaryPoller  Waiter
	AnswerPoller   Waiter
	RegisterPolicy retry.Policy
	SubmitPolicy   retry.Policy
	Retrier        *retry.Runner
	Uploader       Uploader
	Sink           results.Sink
	Logger         *slog.Logger
	RunID          string
	Clock          func() time.Time

	registrations map[string]registration
}

type registration struct {
	handle chat2data.DataSummaryHandle
	err    error
}

// Run processes cases in order. It returns early only when ctx is done or the
// sink fails to store a record.
func (d *Driver) Run(ctx context.Context, cases []dataset.Case) (results.Summary, error) {
	var summary results.Summary
	if d.registrations == nil {
		d.registrations = make(map[string]registration)
	}
	logger := d.logger()

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		record, err := d.runCase(ctx, c)
		if err != nil {
			return summary, err
		}
		if err := d.Sink.Write(ctx, record); err != nil {
			return summary, fmt.Errorf("write record for case %s: %w", record.CaseID, err)
		}
		summary.Add(record.Status)
		observability.ObserveCase(string(record.Status), time.Duration(record.DurationMS)*time.Millisecond)
		logger.InfoContext(ctx, "case finished",
			slog.String("case_id", record.CaseID),
			slog.String("database", record.Database),
			slog.String("status", string(record.Status)),
			slog.Int("completed", summary.Total),
			slog.Int("total", len(cases)),
		)
	}
	return summary, nil
}

// runCase returns an error only when ctx is done.
func (d *Driver) runCase(ctx context.Context, c dataset.Case) (results.Record, error) {
	ctx = observability.ContextWithTraceID(ctx, uuid.NewString())
	started := d.now()
	record := results.Record{
		RunID:     d.RunID,
		CaseID:    c.ID,
		Index:     c.Index,
		Database:  c.Database,
		Question:  c.Question,
		Evidence:  c.Evidence,
		CreatedAt: started,
	}
	finish := func(status results.Status, sql string, cause error) (results.Record, error) {
		record.Status = status
		record.SQL = sql
		if cause != nil {
			record.Error = cause.Error()
			d.logger().WarnContext(ctx, "case did not produce sql",
				slog.String("case_id", c.ID),
				slog.String("status", string(status)),
				slog.Any("error", cause),
			)
		}
		record.DurationMS = d.now().Sub(started).Milliseconds()
		return record, nil
	}

	handle, err := d.register(ctx, c.RegistrationName())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results.Record{}, ctxErr
		}
		return finish(results.StatusNotGenerated, results.SentinelNotGenerated, err)
	}
	record.SummaryID = handle.SummaryID.String()

	jobID, err := retry.Do(ctx, d.Retrier, "submit_question", d.SubmitPolicy, func(ctx context.Context) (chat2data.ResourceID, error) {
		record.Attempts++
		return d.Gateway.SubmitQuestion(ctx, chat2data.Question{
			SummaryID:   handle.SummaryID,
			RawQuestion: c.Question,
			Evidence:    c.Evidence,
		})
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return results.Record{}, ctxErr
		}
		return finish(results.StatusNotGenerated, results.SentinelNotGenerated, err)
	}
	record.JobID = jobID.String()

	outcome, err := d.AnswerPoller.Wait(ctx, jobID)
	if err != nil {
		return results.Record{}, err
	}
	record.Polls = outcome.Polls

	switch outcome.State {
	case poller.Done:
		sqlAnswer, ok := answer.Extract(outcome.Job)
		record.Description = sqlAnswer.Description
		record.ClarifiedTask = sqlAnswer.ClarifiedTask
		record.RawSQL = sqlAnswer.RawSQL
		record.RefineNote = sqlAnswer.RefineNote
		if !ok || sqlAnswer.SQL == "" {
			return finish(results.StatusNotFound, results.SentinelNotFound, errors.New("no sql in job result"))
		}
		return finish(results.StatusSucceeded, sqlAnswer.SQL, nil)
	default:
		return finish(results.StatusJobFailed, results.SentinelJobFailed, &JobFailedError{
			JobID:  jobID,
			State:  outcome.State,
			Status: outcome.Job.RawStatus,
			Polls:  outcome.Polls,
		})
	}
}

// register returns the cached registration for a database, creating it on
// first use. Failures are cached too so a broken database does not consume a
// fresh retry budget for every case.
func (d *Driver) register(ctx context.Context, database string) (chat2data.DataSummaryHandle, error) {
	if reg, ok := d.registrations[database]; ok {
		return reg.handle, reg.err
	}
	reg := d.registerDatabase(ctx, database)
	if ctx.Err() != nil {
		return reg.handle, ctx.Err()
	}
	d.registrations[database] = reg
	return reg.handle, reg.err
}

func (d *Driver) registerDatabase(ctx context.Context, database string) registration {
	logger := d.logger().With(slog.String("database", database))

	if d.Uploader != nil {
		if err := d.Uploader.Upload(ctx, database); err != nil {
			return registration{err: fmt.Errorf("upload snapshot for %s: %w", database, err)}
		}
	}

	handle, err := retry.Do(ctx, d.Retrier, "register_database", d.RegisterPolicy, func(ctx context.Context) (chat2data.DataSummaryHandle, error) {
		return d.Gateway.RegisterDatabase(ctx, database)
	})
	if err != nil {
		return registration{err: fmt.Errorf("register database %s: %w", database, err)}
	}
	logger.InfoContext(ctx, "registered database",
		slog.String("summary_id", handle.SummaryID.String()),
		slog.String("job_id", handle.JobID.String()),
	)

	outcome, err := d.SummaryPoller.Wait(ctx, handle.JobID)
	if err != nil {
		return registration{err: err}
	}
	switch outcome.State {
	case poller.Failed:
		return registration{handle: handle, err: &JobFailedError{
			JobID:  handle.JobID,
			State:  outcome.State,
			Status: outcome.Job.RawStatus,
			Polls:  outcome.Polls,
		}}
	case poller.TimedOut:
		logger.WarnContext(ctx, "data summary not finished, asking questions anyway",
			slog.String("job_id", handle.JobID.String()),
			slog.Int("polls", outcome.Polls),
		)
	}
	return registration{handle: handle}
}

func (d *Driver) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}

func (d *Driver) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return observability.DiscardLogger()
}
