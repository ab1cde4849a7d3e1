package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/chat2bench/chat2bench/internal/report"
	"github.com/chat2bench/chat2bench/internal/results"
	"github.com/chat2bench/chat2bench/internal/storage"
)

const summarySQL = `SELECT "database",
	COUNT(*) AS total,
	COUNT(*) FILTER (WHERE status = 'succeeded') AS succeeded,
	COUNT(*) FILTER (WHERE status = 'not_found') AS not_found,
	COUNT(*) FILTER (WHERE status = 'job_failed') AS job_failed,
	COUNT(*) FILTER (WHERE status = 'not_generated') AS not_generated,
	COALESCE(AVG(duration_ms), 0)::DOUBLE AS avg_duration_ms,
	COALESCE(AVG(polls), 0)::DOUBLE AS avg_polls
FROM results
GROUP BY "database"
ORDER BY "database"`

// Engine summarises result files with an in-process DuckDB. Store is only
// needed for requests that name an object key.
type Engine struct {
	Store storage.ObjectStore
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store}
}

func (e *Engine) Summarize(ctx context.Context, request report.Request) (report.Report, error) {
	start := time.Now()
	var rep report.Report
	err := e.withResults(ctx, request, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, summarySQL)
		if err != nil {
			return fmt.Errorf("summarize results: %w", err)
		}
		defer func() { _ = rows.Close() }()

		var weightedDuration, weightedPolls float64
		for rows.Next() {
			var row report.DatabaseRow
			if err := rows.Scan(&row.Database, &row.Total, &row.Succeeded, &row.NotFound, &row.JobFailed, &row.NotGenerated, &row.AvgDurationMS, &row.AvgPolls); err != nil {
				return fmt.Errorf("scan summary row: %w", err)
			}
			rep.Databases = append(rep.Databases, row)
			rep.Totals.Total += row.Total
			rep.Totals.Succeeded += row.Succeeded
			rep.Totals.NotFound += row.NotFound
			rep.Totals.JobFailed += row.JobFailed
			rep.Totals.NotGenerated += row.NotGenerated
			weightedDuration += row.AvgDurationMS * float64(row.Total)
			weightedPolls += row.AvgPolls * float64(row.Total)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate summary rows: %w", err)
		}
		if rep.Totals.Total > 0 {
			rep.Totals.AvgDurationMS = weightedDuration / float64(rep.Totals.Total)
			rep.Totals.AvgPolls = weightedPolls / float64(rep.Totals.Total)
		}
		return nil
	})
	if err != nil {
		return report.Report{}, err
	}
	rep.Totals.Database = "TOTAL"
	rep.Duration = time.Since(start)
	return rep, nil
}

func (e *Engine) Query(ctx context.Context, request report.Request, sqlText string) (report.QueryResult, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if sqlText == "" {
		return report.QueryResult{}, fmt.Errorf("sql is required")
	}
	start := time.Now()
	var result report.QueryResult
	err := e.withResults(ctx, request, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, sqlText)
		if err != nil {
			return fmt.Errorf("execute query: %w", err)
		}
		defer func() { _ = rows.Close() }()

		columns, err := rows.Columns()
		if err != nil {
			return fmt.Errorf("query columns: %w", err)
		}
		result.Columns = columns
		result.Rows = make([][]any, 0)
		for rows.Next() {
			values := make([]any, len(columns))
			scanTargets := make([]any, len(columns))
			for i := range values {
				scanTargets[i] = &values[i]
			}
			if err := rows.Scan(scanTargets...); err != nil {
				return fmt.Errorf("scan row: %w", err)
			}
			result.Rows = append(result.Rows, normalizeValues(values))
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return report.QueryResult{}, err
	}
	result.Duration = time.Since(start)
	return result, nil
}

// withResults opens a scratch DuckDB with the result file mounted as the
// results view.
func (e *Engine) withResults(ctx context.Context, request report.Request, fn func(db *sql.DB) error) error {
	workDir, err := os.MkdirTemp("", "chat2bench-report-")
	if err != nil {
		return fmt.Errorf("create report temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	path, err := e.localPath(ctx, request, workDir)
	if err != nil {
		return err
	}
	format, err := detectFormat(request, path)
	if err != nil {
		return err
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, viewSQL(format, path)); err != nil {
		return fmt.Errorf("mount result file %q: %w", path, err)
	}
	return fn(db)
}

func (e *Engine) localPath(ctx context.Context, request report.Request, workDir string) (string, error) {
	key := strings.TrimSpace(request.ObjectKey)
	if key == "" {
		path := strings.TrimSpace(request.Path)
		if path == "" {
			return "", fmt.Errorf("result file path is required")
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("stat result file: %w", err)
		}
		return path, nil
	}
	if e.Store == nil {
		return "", fmt.Errorf("object store is required to read %q", key)
	}
	reader, err := e.Store.Get(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get object %q: %w", key, err)
	}
	localPath := filepath.Join(workDir, sanitizeFileComponent(filepath.Base(key)))
	if err := writeFile(localPath, reader); err != nil {
		_ = reader.Close()
		return "", fmt.Errorf("write local result file %q: %w", localPath, err)
	}
	if err := reader.Close(); err != nil {
		return "", fmt.Errorf("close object %q: %w", key, err)
	}
	return localPath, nil
}

func detectFormat(request report.Request, path string) (results.Format, error) {
	if request.Format != "" {
		switch request.Format {
		case results.FormatJSONL, results.FormatParquet:
			return request.Format, nil
		default:
			return "", fmt.Errorf("cannot report on %s output, use jsonl or parquet", request.Format)
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return results.FormatParquet, nil
	case ".jsonl", ".ndjson", ".json":
		return results.FormatJSONL, nil
	default:
		return "", fmt.Errorf("cannot detect result format of %q", path)
	}
}

func viewSQL(format results.Format, path string) string {
	if format == results.FormatParquet {
		return fmt.Sprintf(`CREATE OR REPLACE VIEW results AS SELECT * FROM read_parquet(%s)`, quoteString(path))
	}
	return fmt.Sprintf(`CREATE OR REPLACE VIEW results AS SELECT * FROM read_json_auto(%s, format = 'newline_delimited')`, quoteString(path))
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" || value == "." {
		return "results"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
