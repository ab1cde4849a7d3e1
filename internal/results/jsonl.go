package results

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// JSONLSink writes every record as one JSON object per line.
type JSONLSink struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create jsonl output %s: %w", path, err)
	}
	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	encoder.SetEscapeHTML(false)
	return &JSONLSink{file: file, writer: writer, encoder: encoder}, nil
}

func (s *JSONLSink) Write(_ context.Context, record Record) error {
	if err := s.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode record %s: %w", record.CaseID, err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush jsonl output: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close(_ context.Context) error {
	if err := s.writer.Flush(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("flush jsonl output: %w", err)
	}
	return s.file.Close()
}
