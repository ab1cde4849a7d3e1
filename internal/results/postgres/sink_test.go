package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/chat2bench/chat2bench/internal/config"
	"github.com/chat2bench/chat2bench/internal/results"
)

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), config.ResultsConfig{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestBeginRunInsertsRunRow(t *testing.T) {
	db, mock := newSQLMock(t)
	sink := NewSink(db)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO bench_run (run_id, dataset, output_format, uri_scheme)
VALUES ($1, $2, $3, $4)`)).
		WithArgs("run-1", "dev.json", "bird", "bird").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := sink.BeginRun(context.Background(), RunInfo{RunID: "run-1", Dataset: "dev.json", Format: "bird", URIScheme: "bird"}); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestWriteInsertsResultRow(t *testing.T) {
	db, mock := newSQLMock(t)
	sink := NewSink(db)
	created := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bench_result (`)).
		WithArgs(
			"run-1", "17", int64(2), "formula_1", "Fastest lap?", "", "SELECT 1", "succeeded", "",
			"d", "", "", "", "42", "job-1", int64(3), int64(1), int64(1500), created,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := sink.Write(context.Background(), results.Record{
		RunID:       "run-1",
		CaseID:      "17",
		Index:       2,
		Database:    "formula_1",
		Question:    "Fastest lap?",
		SQL:         "SELECT 1",
		Status:      results.StatusSucceeded,
		Description: "d",
		SummaryID:   "42",
		JobID:       "job-1",
		Polls:       3,
		Attempts:    1,
		DurationMS:  1500,
		CreatedAt:   created,
	})
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestWriteWrapsDatabaseError(t *testing.T) {
	db, mock := newSQLMock(t)
	sink := NewSink(db)
	boom := errors.New("connection reset")
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bench_result (`)).WillReturnError(boom)

	err := sink.Write(context.Background(), results.Record{RunID: "run-1", CaseID: "1", Status: results.StatusNotGenerated})
	if !errors.Is(err, boom) {
		t.Fatalf("Write() error = %v, want wrapped %v", err, boom)
	}
	assertSQLMock(t, mock)
}

func TestFinishRunStoresTallies(t *testing.T) {
	db, mock := newSQLMock(t)
	sink := NewSink(db)

	if err := sink.FinishRun(context.Background(), results.Summary{}); err == nil {
		t.Fatal("FinishRun() expected error before BeginRun")
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO bench_run`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE bench_run`)).
		WithArgs("run-1", int64(4), int64(1), int64(1), int64(1), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := sink.BeginRun(context.Background(), RunInfo{RunID: "run-1"}); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	if err := sink.FinishRun(context.Background(), results.Summary{Total: 4, Succeeded: 1, NotFound: 1, JobFailed: 1, NotGenerated: 1}); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}
