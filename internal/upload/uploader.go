package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/chat2bench/chat2bench/internal/chat2data"
	"github.com/chat2bench/chat2bench/internal/observability"
)

const (
	opUpload     = "upload_snapshot"
	secretHeader = "X-Bird-Secret"
)

type Config struct {
	URL        string
	Secret     string
	Source     SnapshotSource
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Uploader pushes database snapshots to the service side channel that makes
// them available for registration.
type Uploader struct {
	url    string
	secret string
	source SnapshotSource
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) (*Uploader, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("upload URL is required")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("snapshot source is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Uploader{
		url:    strings.TrimSpace(cfg.URL),
		secret: cfg.Secret,
		source: cfg.Source,
		client: client,
		logger: logger,
	}, nil
}

func (u *Uploader) Upload(ctx context.Context, database string) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.ObserveSnapshotUpload(outcome)
	}()

	reader, err := u.source.Open(ctx, database)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	var encoded bytes.Buffer
	encoder := base64.NewEncoder(base64.StdEncoding, &encoded)
	if _, err := io.Copy(encoder, reader); err != nil {
		return fmt.Errorf("read snapshot %s: %w", database, err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("encode snapshot %s: %w", database, err)
	}

	payload, err := json.Marshal(struct {
		Filename string `json:"filename"`
		Data     string `json:"data"`
	}{Filename: database, Data: encoded.String()})
	if err != nil {
		return fmt.Errorf("marshal upload payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(secretHeader, u.secret)
	if traceID := observability.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return &chat2data.TransportError{Op: opUpload, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return &chat2data.TransportError{Op: opUpload, Err: fmt.Errorf("read response body: %w", err)}
	}
	u.logger.InfoContext(ctx, "uploaded snapshot",
		slog.String("database", database),
		slog.Int("status", resp.StatusCode),
		slog.Int("encoded_bytes", encoded.Len()),
	)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &chat2data.ServiceError{Op: opUpload, StatusCode: resp.StatusCode, Reason: "unexpected status", Body: strings.TrimSpace(string(body))}
	}
	return nil
}
