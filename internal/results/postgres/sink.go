package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chat2bench/chat2bench/internal/results"
)

type RunInfo struct {
	RunID     string
	Dataset   string
	Format    string
	URIScheme string
}

// Sink stores records in bench_result, keyed by run and case. The run row in
// bench_run is opened by BeginRun and closed with the final tallies by
// FinishRun.
type Sink struct {
	db    *sql.DB
	runID string
}

func NewSink(db *sql.DB) *Sink {
	return &Sink{db: db}
}

func (s *Sink) BeginRun(ctx context.Context, info RunInfo) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bench_run (run_id, dataset, output_format, uri_scheme)
VALUES ($1, $2, $3, $4)`,
		info.RunID, info.Dataset, info.Format, info.URIScheme,
	)
	if err != nil {
		return fmt.Errorf("insert bench run %s: %w", info.RunID, err)
	}
	s.runID = info.RunID
	return nil
}

func (s *Sink) Write(ctx context.Context, record results.Record) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO bench_result (
	run_id, case_id, case_index, database_name, question, evidence, generated_sql, status, error_message,
	description, clarified_task, raw_generated_sql, refine_note, summary_id, job_id, polls, attempts, duration_ms, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
ON CONFLICT (run_id, case_id) DO NOTHING`,
		record.RunID,
		record.CaseID,
		record.Index,
		record.Database,
		record.Question,
		record.Evidence,
		record.SQL,
		string(record.Status),
		record.Error,
		record.Description,
		record.ClarifiedTask,
		record.RawSQL,
		record.RefineNote,
		record.SummaryID,
		record.JobID,
		record.Polls,
		record.Attempts,
		record.DurationMS,
		record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bench result %s/%s: %w", record.RunID, record.CaseID, err)
	}
	return nil
}

func (s *Sink) FinishRun(ctx context.Context, summary results.Summary) error {
	if s.runID == "" {
		return fmt.Errorf("finish run: no run started")
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE bench_run
SET finished_at = NOW(), total_cases = $2, succeeded = $3, not_found = $4, job_failed = $5, not_generated = $6
WHERE run_id = $1`,
		s.runID, summary.Total, summary.Succeeded, summary.NotFound, summary.JobFailed, summary.NotGenerated,
	)
	if err != nil {
		return fmt.Errorf("finish bench run %s: %w", s.runID, err)
	}
	return nil
}

// Close leaves the connection pool to its owner.
func (s *Sink) Close(context.Context) error {
	return nil
}
