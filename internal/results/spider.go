package results

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/chat2bench/chat2bench/internal/answer"
)

// SpiderSink writes one flattened statement per line, the layout expected by
// the Spider evaluation scripts.
type SpiderSink struct {
	file   *os.File
	writer *bufio.Writer
}

func NewSpiderSink(path string) (*SpiderSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create spider output %s: %w", path, err)
	}
	return &SpiderSink{file: file, writer: bufio.NewWriter(file)}, nil
}

func (s *SpiderSink) Write(_ context.Context, record Record) error {
	if _, err := s.writer.WriteString(answer.FlattenSQL(record.SQL) + "\n"); err != nil {
		return fmt.Errorf("write spider line: %w", err)
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush spider output: %w", err)
	}
	return nil
}

func (s *SpiderSink) Close(_ context.Context) error {
	if err := s.writer.Flush(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("flush spider output: %w", err)
	}
	return s.file.Close()
}
