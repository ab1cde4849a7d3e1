package results

import (
	"context"
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"
)

type parquetRecord struct {
	RunID         string `parquet:"run_id"`
	CaseID        string `parquet:"case_id"`
	CaseIndex     int64  `parquet:"case_index"`
	Database      string `parquet:"database"`
	Question      string `parquet:"question"`
	Evidence      string `parquet:"evidence"`
	SQL           string `parquet:"sql"`
	Status        string `parquet:"status"`
	Error         string `parquet:"error"`
	Description   string `parquet:"description"`
	ClarifiedTask string `parquet:"clarified_task"`
	RawSQL        string `parquet:"raw_generated_sql"`
	RefineNote    string `parquet:"refine_note"`
	Polls         int64  `parquet:"polls"`
	Attempts      int64  `parquet:"attempts"`
	DurationMS    int64  `parquet:"duration_ms"`
	CreatedAtMS   int64  `parquet:"created_at_unix_ms"`
}

// ParquetSink buffers records and writes a single columnar file on Close.
type ParquetSink struct {
	path string
	rows []parquetRecord
}

func NewParquetSink(path string) (*ParquetSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet output %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("create parquet output %s: %w", path, err)
	}
	return &ParquetSink{path: path}, nil
}

func (s *ParquetSink) Write(_ context.Context, record Record) error {
	s.rows = append(s.rows, parquetRecord{
		RunID:         record.RunID,
		CaseID:        record.CaseID,
		CaseIndex:     int64(record.Index),
		Database:      record.Database,
		Question:      record.Question,
		Evidence:      record.Evidence,
		SQL:           record.SQL,
		Status:        string(record.Status),
		Error:         record.Error,
		Description:   record.Description,
		ClarifiedTask: record.ClarifiedTask,
		RawSQL:        record.RawSQL,
		RefineNote:    record.RefineNote,
		Polls:         int64(record.Polls),
		Attempts:      int64(record.Attempts),
		DurationMS:    record.DurationMS,
		CreatedAtMS:   record.CreatedAt.UnixMilli(),
	})
	return nil
}

func (s *ParquetSink) Close(_ context.Context) error {
	file, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("create parquet output %s: %w", s.path, err)
	}
	writer := parquet.NewGenericWriter[parquetRecord](file)
	if _, err := writer.Write(s.rows); err != nil {
		_ = file.Close()
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return file.Close()
}
