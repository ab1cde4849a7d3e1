package results

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chat2bench/chat2bench/internal/storage"
)

// PublishArtifact uploads a finished output file to runs/<runID>/<file>.
func PublishArtifact(ctx context.Context, store storage.ObjectStore, runID, path string) (storage.ObjectInfo, error) {
	key, err := storage.ArtifactKey(runID, filepath.Base(path))
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat artifact %s: %w", path, err)
	}
	info, err := store.Put(ctx, key, file, stat.Size(), storage.PutOptions{ContentType: contentType(path)})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("publish artifact %s: %w", path, err)
	}
	return info, nil
}

func contentType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/x-ndjson"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "text/plain; charset=utf-8"
	}
}
