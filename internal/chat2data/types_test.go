package chat2data

import (
	"encoding/json"
	"testing"
)

func TestResourceIDKeepsJSONType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: `17`, want: `17`},
		{in: `"17"`, want: `"17"`},
		{in: `"job-abc"`, want: `"job-abc"`},
	}
	for _, tc := range tests {
		var id ResourceID
		if err := json.Unmarshal([]byte(tc.in), &id); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", tc.in, err)
		}
		out, err := json.Marshal(id)
		if err != nil {
			t.Fatalf("Marshal(%q) error = %v", id, err)
		}
		if string(out) != tc.want {
			t.Fatalf("round trip %s = %s, want %s", tc.in, out, tc.want)
		}
	}

	var id ResourceID
	if err := json.Unmarshal([]byte(`{"id":1}`), &id); err == nil {
		t.Fatal("Unmarshal(object) expected error")
	}
}

func TestTaskTreeSkipsNonObjectEntries(t *testing.T) {
	var tree TaskTree
	if err := json.Unmarshal([]byte(`{"a":"text","b":{"sql":null},"c":{"sql":"SELECT 1"}}`), &tree); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(tree) != 3 {
		t.Fatalf("len(tree) = %d", len(tree))
	}
	if tree[0].Task.Has("sql") {
		t.Fatal("non-object entry should have no fields")
	}
	if !tree[1].Task.Has("sql") || tree[1].Task.String("sql") != "" {
		t.Fatalf("null sql entry = %+v", tree[1].Task)
	}
	if tree[2].Task.String("sql") != "SELECT 1" {
		t.Fatalf("sql = %q", tree[2].Task.String("sql"))
	}
}

func TestParseJobStatus(t *testing.T) {
	tests := map[string]JobStatus{
		"pending": StatusPending,
		"Done":    StatusDone,
		"failed":  StatusFailed,
		"queued":  StatusUnknown,
		"":        StatusUnknown,
	}
	for raw, want := range tests {
		if got := ParseJobStatus(raw); got != want {
			t.Fatalf("ParseJobStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}
