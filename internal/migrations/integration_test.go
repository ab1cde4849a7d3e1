//go:build integration

package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/chat2bench/chat2bench/internal/results"
	"github.com/chat2bench/chat2bench/internal/results/postgres"
)

func TestRunnerAppliesAndRollsBackResultsSchema(t *testing.T) {
	adminDSN := strings.TrimSpace(os.Getenv("CHAT2BENCH_TEST_RESULTS_DSN"))
	if adminDSN == "" {
		t.Skip("CHAT2BENCH_TEST_RESULTS_DSN is not set")
	}

	testDSN, cleanup := createTemporaryDatabase(t, adminDSN)
	defer cleanup()

	db, err := sql.Open("pgx", testDSN)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer func() { _ = db.Close() }()

	runner := NewRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	applied, err := runner.Up(ctx, db, 0)
	if err != nil {
		t.Fatalf("runner.Up() error = %v", err)
	}
	if applied < 1 {
		t.Fatalf("runner.Up() applied %d migrations, want at least 1", applied)
	}

	assertTableExists(t, db, "bench_run", true)
	assertTableExists(t, db, "bench_result", true)

	states, err := runner.Status(ctx, db)
	if err != nil {
		t.Fatalf("runner.Status() error = %v", err)
	}
	for _, state := range states {
		if !state.Applied {
			t.Fatalf("migration %d not applied after Up", state.Version)
		}
	}

	sink := postgres.NewSink(db)
	if err := sink.BeginRun(ctx, postgres.RunInfo{RunID: "it-run", Dataset: "dev.json", Format: "jsonl", URIScheme: "spider"}); err != nil {
		t.Fatalf("BeginRun() error = %v", err)
	}
	record := results.Record{RunID: "it-run", CaseID: "0", Database: "concert_singer", Question: "q", SQL: "SELECT 1", Status: results.StatusSucceeded, CreatedAt: time.Now().UTC()}
	for i := 0; i < 2; i++ {
		if err := sink.Write(ctx, record); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := sink.FinishRun(ctx, results.Summary{Total: 1, Succeeded: 1}); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	var stored, total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bench_result WHERE run_id = 'it-run'`).Scan(&stored); err != nil {
		t.Fatalf("count results: %v", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT total_cases FROM bench_run WHERE run_id = 'it-run'`).Scan(&total); err != nil {
		t.Fatalf("read run totals: %v", err)
	}
	if stored != 1 || total != 1 {
		t.Fatalf("stored results = %d total_cases = %d, want 1 and 1", stored, total)
	}

	rolledBack, err := runner.Down(ctx, db, 1)
	if err != nil {
		t.Fatalf("runner.Down() error = %v", err)
	}
	if rolledBack != 1 {
		t.Fatalf("runner.Down() rolled back %d migrations, want 1", rolledBack)
	}

	assertTableExists(t, db, "bench_result", false)
	assertTableExists(t, db, "bench_run", false)
}

func createTemporaryDatabase(t *testing.T, adminDSN string) (string, func()) {
	t.Helper()

	parsed, err := url.Parse(adminDSN)
	if err != nil {
		t.Fatalf("url.Parse(adminDSN) error = %v", err)
	}
	adminDBName := strings.TrimPrefix(parsed.Path, "/")
	if adminDBName == "" {
		t.Fatal("admin DSN must include a database name")
	}

	adminDB, err := sql.Open("pgx", adminDSN)
	if err != nil {
		t.Fatalf("sql.Open(adminDSN) error = %v", err)
	}

	name := fmt.Sprintf("chat2bench_it_%d", time.Now().UnixNano())
	if _, err := adminDB.Exec(`CREATE DATABASE ` + name); err != nil {
		t.Fatalf("CREATE DATABASE failed: %v", err)
	}

	testURL := *parsed
	testURL.Path = "/" + name
	testDSN := testURL.String()

	cleanup := func() {
		defer func() { _ = adminDB.Close() }()
		if _, err := adminDB.Exec(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`, name); err != nil {
			t.Fatalf("terminate test db sessions: %v", err)
		}
		if _, err := adminDB.Exec(`DROP DATABASE ` + name); err != nil {
			t.Fatalf("DROP DATABASE failed: %v", err)
		}
	}
	return testDSN, cleanup
}

func assertTableExists(t *testing.T, db *sql.DB, table string, expected bool) {
	t.Helper()

	var count int
	query := `SELECT COUNT(*) FROM pg_tables WHERE schemaname = 'public' AND tablename = $1`
	if err := db.QueryRow(query, table).Scan(&count); err != nil {
		t.Fatalf("query table %q existence failed: %v", table, err)
	}
	exists := count > 0
	if exists != expected {
		t.Fatalf("table %q exists = %v, want %v", table, exists, expected)
	}
}
