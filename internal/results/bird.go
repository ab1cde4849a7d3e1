package results

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	birdSeparator  = "\t----- bird -----\t"
	birdFlushEvery = 25
)

// BirdSink maintains the BIRD prediction file: a JSON object mapping
// question id to "<sql>\t----- bird -----\t<db>". The object cannot be
// appended to, so the whole file is rewritten atomically. Rewrites happen every
// birdFlushEvery records and on Close, which keeps the file valid JSON at all
// times. Records since the last rewrite survive an interrupted run only in the
// jsonl sink.
type BirdSink struct {
	path       string
	keys       []string
	entries    map[string]string
	flushEvery int
	pending    int
}

func NewBirdSink(path string) (*BirdSink, error) {
	sink := &BirdSink{path: path, entries: make(map[string]string), flushEvery: birdFlushEvery}
	if err := sink.flush(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *BirdSink) Write(_ context.Context, record Record) error {
	if _, ok := s.entries[record.CaseID]; !ok {
		s.keys = append(s.keys, record.CaseID)
	}
	s.entries[record.CaseID] = record.SQL + birdSeparator + record.Database
	s.pending++
	if s.pending < s.flushEvery {
		return nil
	}
	return s.flush()
}

func (s *BirdSink) Close(_ context.Context) error {
	if s.pending == 0 {
		return nil
	}
	return s.flush()
}

func (s *BirdSink) flush() error {
	data, err := s.render()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create bird temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write bird output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close bird output: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace bird output %s: %w", s.path, err)
	}
	s.pending = 0
	return nil
}

// render writes the object with four-space indentation in insertion order.
func (s *BirdSink) render() ([]byte, error) {
	if len(s.keys) == 0 {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, key := range s.keys {
		encodedKey, err := marshalString(key)
		if err != nil {
			return nil, err
		}
		encodedValue, err := marshalString(s.entries[key])
		if err != nil {
			return nil, err
		}
		buf.WriteString("    ")
		buf.Write(encodedKey)
		buf.WriteString(": ")
		buf.Write(encodedValue)
		if i < len(s.keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}

func marshalString(value string) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, fmt.Errorf("encode bird entry: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
