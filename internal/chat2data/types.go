package chat2data

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ResourceID is an identifier handed out by the service. The service uses
// JSON numbers for some ids and strings for others; the original JSON type is
// kept so ids are echoed back unchanged.
type ResourceID struct {
	Value   string
	Numeric bool
}

func StringID(value string) ResourceID { return ResourceID{Value: value} }

func NumericID(value int64) ResourceID {
	return ResourceID{Value: strconv.FormatInt(value, 10), Numeric: true}
}

func (id ResourceID) IsZero() bool { return id.Value == "" }

func (id ResourceID) String() string { return id.Value }

func (id *ResourceID) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		*id = ResourceID{}
		return nil
	}
	switch raw[0] {
	case '"':
		var value string
		if err := json.Unmarshal(raw, &value); err != nil {
			return err
		}
		*id = ResourceID{Value: value}
		return nil
	case '{', '[':
		return fmt.Errorf("invalid resource id %s", string(raw))
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil {
		return fmt.Errorf("invalid resource id %s: %w", string(raw), err)
	}
	*id = ResourceID{Value: number.String(), Numeric: true}
	return nil
}

func (id ResourceID) MarshalJSON() ([]byte, error) {
	if id.Numeric {
		return []byte(id.Value), nil
	}
	return json.Marshal(id.Value)
}

// DataSummaryHandle identifies a registered database and the job that builds
// its summary.
type DataSummaryHandle struct {
	SummaryID ResourceID
	JobID     ResourceID
}

type Question struct {
	SummaryID   ResourceID
	RawQuestion string
	Evidence    string
}

type JobStatus string

const (
	StatusPending JobStatus = "pending"
	StatusDone    JobStatus = "done"
	StatusFailed  JobStatus = "failed"
	StatusUnknown JobStatus = "unknown"
)

func ParseJobStatus(raw string) JobStatus {
	switch JobStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending
	case StatusDone:
		return StatusDone
	case StatusFailed:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Terminal reports whether the job will not change status any more.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

type Job struct {
	ID        ResourceID
	Status    JobStatus
	RawStatus string
	Tasks     TaskTree
	Raw       json.RawMessage
}

// Task is one node of a completed job's task tree. Fields stay raw so callers
// can distinguish an absent key from an empty value.
type Task struct {
	Fields map[string]json.RawMessage
}

func (t Task) Has(key string) bool {
	_, ok := t.Fields[key]
	return ok
}

// String returns the field as text. Non-string JSON values are returned in
// their literal form and null becomes "".
func (t Task) String(key string) string {
	raw, ok := t.Fields[key]
	if !ok {
		return ""
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err == nil {
		return value
	}
	return string(raw)
}

type TaskEntry struct {
	Key  string
	Task Task
}

// TaskTree keeps the task_tree object in document order.
type TaskTree []TaskEntry

func (tree *TaskTree) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		*tree = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	token, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decode task tree: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("decode task tree: expected object, got %v", token)
	}

	entries := make(TaskTree, 0)
	for dec.More() {
		keyToken, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode task tree key: %w", err)
		}
		key, ok := keyToken.(string)
		if !ok {
			return fmt.Errorf("decode task tree: unexpected key %v", keyToken)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("decode task %q: %w", key, err)
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(value, &fields); err != nil {
			fields = nil
		}
		entries = append(entries, TaskEntry{Key: key, Task: Task{Fields: fields}})
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode task tree: %w", err)
	}
	*tree = entries
	return nil
}
