package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Case is one benchmark question. ID is the entry's question_id, or its
// position in the file when the entry has none. Target names the snapshot to
// register when it differs from Database.
type Case struct {
	ID       string
	Index    int
	Database string
	Target   string
	Question string
	Evidence string
}

// RegistrationName is the database name sent to the service.
func (c Case) RegistrationName() string {
	if c.Target != "" {
		return c.Target
	}
	return c.Database
}

type entry struct {
	DBID       string          `json:"db_id"`
	Question   string          `json:"question"`
	Evidence   string          `json:"evidence"`
	QuestionID json.RawMessage `json:"question_id"`
}

func Load(path string) ([]Case, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dataset %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	cases, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("load dataset %s: %w", path, err)
	}
	return cases, nil
}

func Decode(r io.Reader) ([]Case, error) {
	var entries []entry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	cases := make([]Case, 0, len(entries))
	seen := make(map[string]int, len(entries))
	for idx, item := range entries {
		if strings.TrimSpace(item.DBID) == "" {
			return nil, fmt.Errorf("dataset entry %d: db_id is required", idx)
		}
		id, err := caseID(item.QuestionID, idx)
		if err != nil {
			return nil, fmt.Errorf("dataset entry %d: %w", idx, err)
		}
		if first, dup := seen[id]; dup {
			return nil, fmt.Errorf("dataset entry %d: question_id %q already used by entry %d", idx, id, first)
		}
		seen[id] = idx
		cases = append(cases, Case{
			ID:       id,
			Index:    idx,
			Database: item.DBID,
			Question: item.Question,
			Evidence: item.Evidence,
		})
	}
	return cases, nil
}

func caseID(raw json.RawMessage, idx int) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return strconv.Itoa(idx), nil
	}
	if raw[0] == '"' {
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return "", fmt.Errorf("decode question_id: %w", err)
		}
		return value, nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return "", fmt.Errorf("decode question_id: %w", err)
	}
	return number.String(), nil
}

// FilterByDatabase keeps the cases asked against the snapshot name and
// targets them at it. Snapshots may carry a "new_" prefix that the dataset
// does not, so both spellings match.
func FilterByDatabase(cases []Case, name string) []Case {
	bare := strings.TrimPrefix(name, "new_")
	filtered := make([]Case, 0)
	for _, c := range cases {
		if c.Database == name || c.Database == bare {
			c.Target = name
			filtered = append(filtered, c)
		}
	}
	return filtered
}

// Unique drops cases whose ID was already seen, keeping the first occurrence
// and the input order.
func Unique(cases []Case) []Case {
	seen := make(map[string]struct{}, len(cases))
	unique := make([]Case, 0, len(cases))
	for _, c := range cases {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		unique = append(unique, c)
	}
	return unique
}

// Databases lists the distinct databases referenced by cases in first-seen
// order.
func Databases(cases []Case) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, c := range cases {
		if _, ok := seen[c.Database]; ok {
			continue
		}
		seen[c.Database] = struct{}{}
		names = append(names, c.Database)
	}
	return names
}

// DiscoverDatabases lists the databases that have a snapshot laid out as
// <dir>/<db>/<file>.sqlite, sorted by name.
func DiscoverDatabases(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*", "*.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("discover databases in %s: %w", dir, err)
	}
	seen := make(map[string]struct{})
	names := make([]string, 0, len(matches))
	for _, match := range matches {
		name := filepath.Base(filepath.Dir(match))
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Limit returns at most n cases. n <= 0 means no limit.
func Limit(cases []Case, n int) []Case {
	if n <= 0 || n >= len(cases) {
		return cases
	}
	return cases[:n]
}
