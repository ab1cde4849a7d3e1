package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/chat2bench/chat2bench/internal/dataset"
	"github.com/chat2bench/chat2bench/internal/storage"
)

// SnapshotSource provides the SQLite snapshot of a benchmark database.
type SnapshotSource interface {
	Open(ctx context.Context, database string) (io.ReadCloser, error)
	Databases(ctx context.Context) ([]string, error)
}

// LocalSource reads snapshots laid out as <Dir>/<db>/<db>.sqlite.
type LocalSource struct {
	Dir string
}

func (s LocalSource) Open(_ context.Context, database string) (io.ReadCloser, error) {
	path := filepath.Join(s.Dir, database, database+".sqlite")
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	return file, nil
}

func (s LocalSource) Databases(_ context.Context) ([]string, error) {
	return dataset.DiscoverDatabases(s.Dir)
}

// ObjectStoreSource reads snapshots from the object store under snapshots/.
type ObjectStoreSource struct {
	Store storage.ObjectStore
}

func (s ObjectStoreSource) Open(ctx context.Context, database string) (io.ReadCloser, error) {
	key, err := storage.SnapshotKey(database)
	if err != nil {
		return nil, err
	}
	reader, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", key, err)
	}
	return reader, nil
}

func (s ObjectStoreSource) Databases(ctx context.Context) ([]string, error) {
	objects, err := s.Store.List(ctx, storage.SnapshotPrefix())
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		name, ok := storage.DatabaseFromSnapshotKey(obj.Key)
		if !ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
