package chat2bench

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/chat2bench/chat2bench/internal/config"
	"github.com/chat2bench/chat2bench/internal/dataset"
	"github.com/chat2bench/chat2bench/internal/storage"
)

type fakeService struct {
	mu        sync.Mutex
	registers []string
	questions []string
	failFor   string
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v2/dataSummaries":
		var body struct {
			DatabaseURI string `json:"database_uri"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.registers = append(f.registers, body.DatabaseURI)
		_, _ = fmt.Fprintf(w, `{"result":{"data_summary_id":%d,"job_id":"summary-%d"}}`, len(f.registers), len(f.registers))
	case r.Method == http.MethodPost && r.URL.Path == "/v2/chat2data":
		var body struct {
			RawQuestion string `json:"raw_question"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.questions = append(f.questions, body.RawQuestion)
		if body.RawQuestion == f.failFor {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprintf(w, `{"result":{"job_id":"answer-%d"}}`, len(f.questions))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/jobs/summary-"):
		_, _ = w.Write([]byte(`{"result":{"status":"done"}}`))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/jobs/answer-"):
		_, _ = w.Write([]byte(`{"result":{"status":"done","result":{"task_tree":{"t1":{"sql":"SELECT\n1","description":"d"}}}}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testEnv(baseURL string, extra map[string]string) config.LookupFunc {
	env := map[string]string{
		"CHAT2BENCH_PROFILE":            "test",
		"CHAT2BENCH_BASE_URL":           baseURL,
		"CHAT2BENCH_PUBLIC_KEY":         "pub",
		"CHAT2BENCH_PRIVATE_KEY":        "priv",
		"CHAT2BENCH_POLL_INTERVAL":      "1ms",
		"CHAT2BENCH_SUBMIT_ATTEMPTS":    "2",
		"CHAT2BENCH_SUBMIT_BACKOFF_MIN": "1ms",
		"CHAT2BENCH_SUBMIT_BACKOFF_MAX": "1ms",
	}
	for key, value := range extra {
		env[key] = value
	}
	return func(key string) (string, bool) {
		value, ok := env[key]
		return value, ok
	}
}

func writeDataset(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "dev.json")
	raw := `[
  {"db_id": "concert_singer", "question": "How many singers?"},
  {"db_id": "pets_1", "question": "How many pets?"},
  {"db_id": "concert_singer", "question": "Oldest singer?"}
]`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestRunWritesSpiderOutput(t *testing.T) {
	service := &fakeService{}
	srv := httptest.NewServer(service)
	defer srv.Close()

	dir := t.TempDir()
	output := filepath.Join(dir, "predict.txt")
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"run", "--dataset", writeDataset(t, dir), "--output", output}, Options{
		Lookup:   testEnv(srv.URL, nil),
		Stdout:   &stdout,
		Stderr:   &stderr,
		NewRunID: func() string { return "run-test" },
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	raw, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(raw) != "SELECT 1;\nSELECT 1;\nSELECT 1;\n" {
		t.Fatalf("output = %q", raw)
	}
	if len(service.registers) != 2 {
		t.Fatalf("registers = %v, want one per database", service.registers)
	}
	if service.registers[0] != "spider://concert_singer" || service.registers[1] != "spider://pets_1" {
		t.Fatalf("registers = %v", service.registers)
	}
	if !strings.Contains(stdout.String(), "run run-test: 3 cases, 3 succeeded") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunRecordsFailedSubmissionAndContinues(t *testing.T) {
	service := &fakeService{failFor: "How many pets?"}
	srv := httptest.NewServer(service)
	defer srv.Close()

	dir := t.TempDir()
	output := filepath.Join(dir, "predict.txt")
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"run", "--dataset", writeDataset(t, dir), "--output", output}, Options{
		Lookup: testEnv(srv.URL, nil),
		Stderr: &stderr,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	raw, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(raw) != "SELECT 1;\nsql not generated;\nSELECT 1;\n" {
		t.Fatalf("output = %q", raw)
	}
	if len(service.questions) != 4 {
		t.Fatalf("questions = %v, want the failing one asked twice", service.questions)
	}
}

func TestRunDebugAndDatabaseSelection(t *testing.T) {
	service := &fakeService{}
	srv := httptest.NewServer(service)
	defer srv.Close()

	dir := t.TempDir()
	output := filepath.Join(dir, "predict.json")
	code := Run(context.Background(), []string{
		"run", "--dataset", writeDataset(t, dir), "--output", output,
		"--format", "bird", "--databases", "concert_singer", "--debug", "--debug-limit", "1",
	}, Options{Lookup: testEnv(srv.URL, map[string]string{"CHAT2BENCH_URI_SCHEME": "bird"})})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	raw, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	want := "{\n    \"0\": \"SELECT\\n1\\t----- bird -----\\tconcert_singer\"\n}"
	if string(raw) != want {
		t.Fatalf("output = %q, want %q", raw, want)
	}
	if len(service.registers) != 1 || service.registers[0] != "bird://concert_singer" {
		t.Fatalf("registers = %v", service.registers)
	}
}

func TestRunStoresResultsAndPublishes(t *testing.T) {
	service := &fakeService{}
	srv := httptest.NewServer(service)
	defer srv.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectExec("INSERT INTO bench_run").WillReturnResult(sqlmock.NewResult(0, 1))
	for i := 0; i < 3; i++ {
		mock.ExpectExec("INSERT INTO bench_result").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectExec("UPDATE bench_run").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	store := &memoryStore{objects: map[string][]byte{}}
	dir := t.TempDir()
	output := filepath.Join(dir, "out.jsonl")
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"run", "--dataset", writeDataset(t, dir), "--output", output, "--format", "jsonl", "--publish",
	}, Options{
		Lookup:   testEnv(srv.URL, map[string]string{"CHAT2BENCH_RESULTS_DSN": "postgres://example"}),
		Stdout:   &stdout,
		Stderr:   &stderr,
		NewRunID: func() string { return "run-pub" },
		OpenResultsDB: func(context.Context, config.ResultsConfig) (*sql.DB, error) {
			return db, nil
		},
		OpenObjectStore: func(context.Context, config.ObjectStoreConfig) (storage.ObjectStore, error) {
			return store, nil
		},
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
	published, ok := store.objects["runs/run-pub/out.jsonl"]
	if !ok {
		t.Fatalf("published objects = %v", store.keys())
	}
	if lines := strings.Count(string(published), "\n"); lines != 3 {
		t.Fatalf("published lines = %d", lines)
	}
	if !strings.Contains(stdout.String(), "published runs/run-pub/out.jsonl") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunUploadsLocalSnapshotsWhenDiscovering(t *testing.T) {
	service := &fakeService{}
	srv := httptest.NewServer(service)
	defer srv.Close()

	var uploaded []string
	uploadSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Bird-Secret") != "s3cret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		var body struct {
			Filename string `json:"filename"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		uploaded = append(uploaded, body.Filename)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer uploadSrv.Close()

	dir := t.TempDir()
	snapshots := filepath.Join(dir, "dbs")
	if err := os.MkdirAll(filepath.Join(snapshots, "new_pets_1"), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(snapshots, "new_pets_1", "new_pets_1.sqlite"), []byte("sqlite"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	output := filepath.Join(dir, "predict.txt")
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"run", "--dataset", writeDataset(t, dir), "--output", output, "--discover", "--upload",
	}, Options{
		Lookup: testEnv(srv.URL, map[string]string{
			"CHAT2BENCH_UPLOAD_URL":    uploadSrv.URL,
			"CHAT2BENCH_UPLOAD_SECRET": "s3cret",
			"CHAT2BENCH_SNAPSHOT_DIR":  snapshots,
		}),
		Stderr: &stderr,
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if len(uploaded) != 1 || uploaded[0] != "new_pets_1" {
		t.Fatalf("uploaded = %v", uploaded)
	}
	if len(service.registers) != 1 || service.registers[0] != "spider://new_pets_1" {
		t.Fatalf("registers = %v", service.registers)
	}
}

func TestSelectCasesDropsOverlappingDatabases(t *testing.T) {
	cases := []dataset.Case{
		{ID: "1", Database: "x", Question: "a"},
		{ID: "2", Database: "y", Question: "b"},
	}
	for _, selection := range []string{"x,x", "x,new_x", "x,y,x"} {
		selected, err := selectCases(context.Background(), cases, runFlags{dataset: "dev.json", databases: selection}, nil)
		if err != nil {
			t.Fatalf("selectCases(%q) error = %v", selection, err)
		}
		seen := map[string]int{}
		for _, c := range selected {
			seen[c.ID]++
			if seen[c.ID] > 1 {
				t.Fatalf("selectCases(%q) returned case %s twice: %+v", selection, c.ID, selected)
			}
		}
		if selected[0].ID != "1" || selected[0].RegistrationName() != "x" {
			t.Fatalf("selectCases(%q) first case = %+v", selection, selected[0])
		}
	}
}

func TestRunUsageErrors(t *testing.T) {
	tests := [][]string{
		{},
		{"unknown"},
		{"run", "--output", "x"},
		{"run", "--dataset", "x"},
		{"run", "--dataset", "x", "--output", "y", "--format", "csv"},
		{"run", "--dataset", "x", "--output", "y", "--discover", "--databases", "a"},
		{"run", "--no-such-flag"},
		{"report"},
		{"report", "--input", "a.jsonl", "--format", "bird"},
		{"migrate", "--direction", "sideways"},
	}
	for _, args := range tests {
		var stderr bytes.Buffer
		code := Run(context.Background(), args, Options{Lookup: testEnv("http://localhost", nil), Stderr: &stderr})
		if code != 2 {
			t.Fatalf("Run(%v) exit code = %d, want 2, stderr=%s", args, code, stderr.String())
		}
	}
}

func TestRunMissingCredentialsIsRuntimeFailure(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer
	lookup := func(key string) (string, bool) { return "", false }
	code := Run(context.Background(), []string{"run", "--dataset", writeDataset(t, dir), "--output", filepath.Join(dir, "out.txt")}, Options{
		Lookup: lookup,
		Stderr: &stderr,
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "CHAT2BENCH_BASE_URL") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestReportSummarizesJSONL(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "out.jsonl")
	lines := []string{
		`{"run_id":"r","case_id":"0","case_index":0,"database":"concert_singer","question":"q","sql":"SELECT 1","status":"succeeded","polls":1,"attempts":1,"duration_ms":10,"created_at":"2026-03-01T00:00:00Z"}`,
		`{"run_id":"r","case_id":"1","case_index":1,"database":"pets_1","question":"q","sql":"job failed","status":"job_failed","polls":3,"attempts":1,"duration_ms":30,"created_at":"2026-03-01T00:00:00Z"}`,
	}
	if err := os.WriteFile(input, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{"report", "--input", input}, Options{Stdout: &stdout, Stderr: &stderr})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	for _, want := range []string{"concert_singer", "pets_1", "TOTAL"} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("stdout missing %q: %s", want, stdout.String())
		}
	}
}

func TestMigrateRequiresResultsDSN(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"migrate"}, Options{
		Lookup: func(string) (string, bool) { return "", false },
		Stderr: &stderr,
	})
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "CHAT2BENCH_RESULTS_DSN") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = raw
	return storage.ObjectInfo{Key: key, Size: int64(len(raw))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (m *memoryStore) List(context.Context, string) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (m *memoryStore) keys() []string {
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	return keys
}
