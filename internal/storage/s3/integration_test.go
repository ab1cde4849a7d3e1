//go:build integration

package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/chat2bench/chat2bench/internal/config"
	"github.com/chat2bench/chat2bench/internal/storage"
)

func TestStoreRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("CHAT2BENCH_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("CHAT2BENCH_TEST_S3_ENDPOINT is not set")
	}

	cfg := config.ObjectStoreConfig{
		Endpoint:         endpoint,
		Region:           envOr("CHAT2BENCH_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("CHAT2BENCH_TEST_S3_BUCKET", "chat2bench-it"),
		AccessKeyID:      envOr("CHAT2BENCH_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("CHAT2BENCH_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key, err := storage.SnapshotKey("roundtrip")
	if err != nil {
		t.Fatalf("SnapshotKey() error = %v", err)
	}
	payload := []byte("chat2bench-integration")
	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "application/vnd.sqlite3"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	objects, err := store.List(ctx, storage.SnapshotPrefix())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	found := false
	for _, obj := range objects {
		if obj.Key == key {
			found = true
		}
	}
	if !found {
		t.Fatalf("List() = %+v, want %q", objects, key)
	}

	reader, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer func() { _ = reader.Close() }()
	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get() payload = %q, want %q", string(got), string(payload))
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
