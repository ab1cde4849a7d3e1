package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

const (
	snapshotRoot = "snapshots"
	runRoot      = "runs"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// SnapshotKey mirrors the local <db>/<db>.sqlite layout under snapshots/.
func SnapshotKey(database string) (string, error) {
	if err := validatePathComponent(database, "database name"); err != nil {
		return "", err
	}
	return path.Join(snapshotRoot, database, database+".sqlite"), nil
}

// SnapshotPrefix is the key prefix under which all snapshots are stored.
func SnapshotPrefix() string {
	return snapshotRoot + "/"
}

// DatabaseFromSnapshotKey returns the database a snapshot key belongs to.
func DatabaseFromSnapshotKey(key string) (string, bool) {
	parts := strings.Split(strings.TrimPrefix(key, "/"), "/")
	if len(parts) < 3 {
		return "", false
	}
	// Keys may carry the store prefix in front of snapshots/.
	parts = parts[len(parts)-3:]
	if parts[0] != snapshotRoot || !strings.HasSuffix(parts[2], ".sqlite") {
		return "", false
	}
	if validatePathComponent(parts[1], "database name") != nil {
		return "", false
	}
	return parts[1], true
}

func ArtifactKey(runID, filename string) (string, error) {
	if err := validatePathComponent(runID, "run id"); err != nil {
		return "", err
	}
	if err := validatePathComponent(filename, "artifact name"); err != nil {
		return "", err
	}
	return path.Join(runRoot, runID, filename), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
