package report

import (
	"context"
	"time"

	"github.com/chat2bench/chat2bench/internal/results"
)

// Request names a result file written by a jsonl or parquet sink. When
// ObjectKey is set the file is read from the object store instead of Path.
type Request struct {
	Path      string
	ObjectKey string
	// Format overrides detection by file extension.
	Format results.Format
}

// DatabaseRow aggregates the records of one database.
type DatabaseRow struct {
	Database      string
	Total         int64
	Succeeded     int64
	NotFound      int64
	JobFailed     int64
	NotGenerated  int64
	AvgDurationMS float64
	AvgPolls      float64
}

func (r DatabaseRow) SuccessRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Succeeded) / float64(r.Total)
}

type Report struct {
	Databases []DatabaseRow
	Totals    DatabaseRow
	Duration  time.Duration
}

type QueryResult struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Engine reads result files. Queries see the records as a view named results.
type Engine interface {
	Summarize(ctx context.Context, request Request) (Report, error)
	Query(ctx context.Context, request Request, sql string) (QueryResult, error)
}
