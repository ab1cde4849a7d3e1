package chat2data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/icholy/digest"
	"golang.org/x/time/rate"

	"github.com/chat2bench/chat2bench/internal/observability"
)

const (
	opRegister = "register_database"
	opSubmit   = "submit_question"
	opFetchJob = "fetch_job"

	maxErrorBody = 512
)

type Config struct {
	BaseURL           string
	PublicKey         string
	PrivateKey        string
	URIScheme         string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// Client talks to the chat2data service. It holds no state beyond its
// configuration, the digest nonce and the pacing limiter, so several clients
// can be used side by side.
type Client struct {
	baseURL string
	scheme  string
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if strings.TrimSpace(cfg.PublicKey) == "" || strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, fmt.Errorf("public and private key are required")
	}
	scheme := strings.TrimSpace(cfg.URIScheme)
	if scheme == "" {
		scheme = "spider"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		httpClient = &copied
	}
	httpClient.Transport = &digest.Transport{
		Username:  cfg.PublicKey,
		Password:  cfg.PrivateKey,
		Transport: httpClient.Transport,
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}

	return &Client{
		baseURL: baseURL,
		scheme:  scheme,
		client:  httpClient,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// DatabaseURI renders the identifier the service expects for a database.
func (c *Client) DatabaseURI(name string) string {
	return c.scheme + "://" + name
}

func (c *Client) RegisterDatabase(ctx context.Context, name string) (DataSummaryHandle, error) {
	request := map[string]string{"database_uri": c.DatabaseURI(name)}
	var response struct {
		SummaryID ResourceID `json:"data_summary_id"`
		JobID     ResourceID `json:"job_id"`
	}
	if err := c.doJSON(ctx, opRegister, http.MethodPost, "/v2/dataSummaries", request, &response); err != nil {
		return DataSummaryHandle{}, err
	}
	if response.SummaryID.IsZero() {
		return DataSummaryHandle{}, &ServiceError{Op: opRegister, StatusCode: http.StatusOK, Reason: "response missing data_summary_id"}
	}
	if response.JobID.IsZero() {
		return DataSummaryHandle{}, &ServiceError{Op: opRegister, StatusCode: http.StatusOK, Reason: "response missing job_id"}
	}
	return DataSummaryHandle{SummaryID: response.SummaryID, JobID: response.JobID}, nil
}

func (c *Client) SubmitQuestion(ctx context.Context, question Question) (ResourceID, error) {
	request := struct {
		SummaryID   ResourceID `json:"data_summary_id"`
		RawQuestion string     `json:"raw_question"`
		Evidence    string     `json:"evidence,omitempty"`
	}{
		SummaryID:   question.SummaryID,
		RawQuestion: question.RawQuestion,
		Evidence:    question.Evidence,
	}
	var response struct {
		JobID ResourceID `json:"job_id"`
	}
	if err := c.doJSON(ctx, opSubmit, http.MethodPost, "/v2/chat2data", request, &response); err != nil {
		return ResourceID{}, err
	}
	if response.JobID.IsZero() {
		return ResourceID{}, &ServiceError{Op: opSubmit, StatusCode: http.StatusOK, Reason: "response missing job_id"}
	}
	return response.JobID, nil
}

func (c *Client) FetchJob(ctx context.Context, jobID ResourceID) (Job, error) {
	var response struct {
		JobID  ResourceID      `json:"job_id"`
		Status *string         `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	var raw json.RawMessage
	if err := c.doJSON(ctx, opFetchJob, http.MethodGet, "/v2/jobs/"+url.PathEscape(jobID.String()), nil, &raw); err != nil {
		return Job{}, err
	}
	if err := json.Unmarshal(raw, &response); err != nil {
		return Job{}, &ServiceError{Op: opFetchJob, StatusCode: http.StatusOK, Reason: "decode job: " + err.Error(), Body: truncate(raw)}
	}
	if response.Status == nil {
		return Job{}, &ServiceError{Op: opFetchJob, StatusCode: http.StatusOK, Reason: "response missing status", Body: truncate(raw)}
	}

	job := Job{
		ID:        jobID,
		Status:    ParseJobStatus(*response.Status),
		RawStatus: *response.Status,
		Raw:       raw,
	}
	if !response.JobID.IsZero() {
		job.ID = response.JobID
	}
	if job.Status == StatusDone && len(bytes.TrimSpace(response.Result)) > 0 {
		var result struct {
			TaskTree TaskTree `json:"task_tree"`
		}
		if err := json.Unmarshal(response.Result, &result); err != nil {
			return Job{}, &ServiceError{Op: opFetchJob, StatusCode: http.StatusOK, Reason: "decode task tree: " + err.Error(), Body: truncate(raw)}
		}
		job.Tasks = result.TaskTree
	}
	return job, nil
}

// doJSON sends one request and decodes the "result" member of the response
// envelope into responseBody.
func (c *Client) doJSON(ctx context.Context, op, method, path string, requestBody any, responseBody any) (err error) {
	started := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		observability.ObserveRemoteRequest(op, outcome, time.Since(started))
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &TransportError{Op: op, Err: err}
		}
	}

	var body io.Reader
	if requestBody != nil {
		payload, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if traceID := observability.TraceIDFromContext(ctx); traceID != "" {
		req.Header.Set("X-Trace-ID", traceID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	c.logger.DebugContext(ctx, "chat2data response",
		slog.String("operation", op),
		slog.Int("status", resp.StatusCode),
		slog.String("body", truncate(raw)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Reason: "unexpected status", Body: truncate(raw)}
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Reason: "decode response: " + err.Error(), Body: truncate(raw)}
	}
	if len(envelope.Result) == 0 || string(envelope.Result) == "null" {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Reason: "response missing result", Body: truncate(raw)}
	}
	if responseBody == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, responseBody); err != nil {
		return &ServiceError{Op: op, StatusCode: resp.StatusCode, Reason: "decode result: " + err.Error(), Body: truncate(raw)}
	}
	return nil
}

func truncate(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if len(text) > maxErrorBody {
		return text[:maxErrorBody] + "..."
	}
	return text
}
