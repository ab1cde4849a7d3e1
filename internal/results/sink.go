package results

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sink receives one record per case. Implementations persist every record
// before Write returns, except where noted.
type Sink interface {
	Write(ctx context.Context, record Record) error
	Close(ctx context.Context) error
}

type Format string

const (
	FormatBird    Format = "bird"
	FormatSpider  Format = "spider"
	FormatJSONL   Format = "jsonl"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatBird:
		return FormatBird, nil
	case FormatSpider:
		return FormatSpider, nil
	case FormatJSONL:
		return FormatJSONL, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", raw)
	}
}

// Open creates a file sink for format at path.
func Open(path string, format Format) (Sink, error) {
	switch format {
	case FormatBird:
		return NewBirdSink(path)
	case FormatSpider:
		return NewSpiderSink(path)
	case FormatJSONL:
		return NewJSONLSink(path)
	case FormatParquet:
		return NewParquetSink(path)
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// MultiSink writes every record to each sink in order.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, record Record) error {
	for _, sink := range m {
		if err := sink.Write(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close(ctx context.Context) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
