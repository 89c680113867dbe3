// Package statement submits SQL statements to the warehouse SQL API and
// waits for their results, hiding whether the endpoint answered
// synchronously (200) or accepted the work for later (202 + handle).
package statement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Hjgyhfyh/site/internal/deadline"
	"github.com/Hjgyhfyh/site/internal/metrics"
)

const (
	statementsPath   = "/api/v2/statements"
	maxResponseBytes = 32 << 20
)

// Executor runs one statement and returns its final result.
type Executor interface {
	Execute(ctx context.Context, statement string) (*Result, error)
}

// Config holds endpoint coordinates and timing budgets.
type Config struct {
	Host      string // e.g. https://acct.snowflakecomputing.com
	Token     string
	Role      string
	Warehouse string
	UserAgent string

	StatementTimeout time.Duration
	PollInterval     time.Duration
	PollSlack        int
	HTTPTimeout      time.Duration
}

// DefaultConfig returns the reference timing budgets.
func DefaultConfig() Config {
	return Config{
		UserAgent:        "arena-chat/1.0",
		StatementTimeout: 600 * time.Second,
		PollInterval:     500 * time.Millisecond,
		PollSlack:        30,
		HTTPTimeout:      10 * time.Minute,
	}
}

// Result is a statement's final payload.
type Result struct {
	StatementHandle string      `json:"statementHandle,omitempty"`
	Message         string      `json:"message,omitempty"`
	Data            [][]*string `json:"data"`
}

// Cell returns data[row][col], or "" when absent or null.
func (r *Result) Cell(row, col int) string {
	if r == nil || row >= len(r.Data) || col >= len(r.Data[row]) {
		return ""
	}
	if v := r.Data[row][col]; v != nil {
		return *v
	}
	return ""
}

// First returns the first cell of the first row.
func (r *Result) First() string {
	return r.Cell(0, 0)
}

// Empty reports whether the result carries no rows.
func (r *Result) Empty() bool {
	return r == nil || len(r.Data) == 0
}

type submitRequest struct {
	Statement string `json:"statement"`
	Timeout   int    `json:"timeout"`
	Role      string `json:"role,omitempty"`
	Warehouse string `json:"warehouse,omitempty"`
}

type acceptedResponse struct {
	StatementHandle    string `json:"statementHandle"`
	StatementStatusURL string `json:"statementStatusUrl"`
	Message            string `json:"message"`
}

// Client executes statements over the SQL REST API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	defaults := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = defaults.StatementTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.PollSlack < 0 {
		cfg.PollSlack = 0
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaults.HTTPTimeout
	}
	cfg.Host = strings.TrimSuffix(cfg.Host, "/")
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger}
}

// MaxPolls is the poll ceiling: ceil(budget / interval) + slack.
func (c *Client) MaxPolls() int {
	budget := c.cfg.StatementTimeout.Milliseconds()
	interval := c.cfg.PollInterval.Milliseconds()
	if interval <= 0 {
		interval = 1
	}
	return int((budget+interval-1)/interval) + c.cfg.PollSlack
}

// Execute submits statement and blocks until a final result, an error, or
// ctx cancellation. Polls are strictly sequential.
func (c *Client) Execute(ctx context.Context, statement string) (*Result, error) {
	start := time.Now()
	polls := 0
	res, err := c.execute(ctx, statement, &polls)
	metrics.RecordStatement(Kind(err), polls, time.Since(start))
	if err != nil {
		c.logger.Debug("statement failed", "kind", Kind(err), "polls", polls, "error", err)
		return nil, err
	}
	c.logger.Debug("statement finished", "polls", polls, "duration", time.Since(start))
	return res, nil
}

func (c *Client) execute(ctx context.Context, statement string, polls *int) (*Result, error) {
	body, err := json.Marshal(submitRequest{
		Statement: statement,
		Timeout:   int(c.cfg.StatementTimeout.Seconds()),
		Role:      c.cfg.Role,
		Warehouse: c.cfg.Warehouse,
	})
	if err != nil {
		return nil, fmt.Errorf("encode statement: %w", err)
	}

	submitURL := c.cfg.Host + statementsPath
	status, payload, err := c.roundTrip(ctx, http.MethodPost, submitURL, body, "snowflake request")
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return decodeResult(payload)
	case http.StatusAccepted:
		statusURL, ok := c.statusURL(payload)
		if !ok {
			return nil, &UpstreamError{URL: submitURL, Status: status, Body: string(payload), Err: ErrNoStatusURL}
		}
		return c.poll(ctx, statusURL, polls)
	default:
		return nil, &UpstreamError{URL: submitURL, Status: status, Body: string(payload)}
	}
}

func (c *Client) statusURL(payload []byte) (string, bool) {
	var accepted acceptedResponse
	_ = json.Unmarshal(payload, &accepted)

	path := accepted.StatementStatusURL
	if path == "" && accepted.StatementHandle != "" {
		path = statementsPath + "/" + accepted.StatementHandle
	}
	if path == "" {
		return "", false
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, true
	}
	return c.cfg.Host + path, true
}

func (c *Client) poll(ctx context.Context, statusURL string, polls *int) (*Result, error) {
	maxPolls := c.MaxPolls()
	for i := 0; i < maxPolls; i++ {
		if err := deadline.Sleep(ctx, c.cfg.PollInterval); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		*polls++
		status, payload, err := c.roundTrip(ctx, http.MethodGet, statusURL, nil, "snowflake polling")
		if err != nil {
			return nil, err
		}

		switch status {
		case http.StatusAccepted:
			continue
		case http.StatusOK:
			return decodeResult(payload)
		default:
			return nil, &PollError{Status: status, Body: string(payload)}
		}
	}
	return nil, fmt.Errorf("%w after %d polls", ErrStatementTimeout, maxPolls)
}

// roundTrip performs one HTTP call bounded by the transport timeout and
// reads the whole body inside the same bound.
func (c *Client) roundTrip(ctx context.Context, method, url string, body []byte, label string) (int, []byte, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}

	scope := deadline.New(ctx, c.cfg.HTTPTimeout, label)
	defer scope.Release()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(scope.Context(), method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, c.classify(ctx, scope, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, c.classify(ctx, scope, err)
	}
	return resp.StatusCode, payload, nil
}

// classify separates caller cancellation from this call's own timeout.
func (c *Client) classify(ctx context.Context, scope *deadline.Scope, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	if scope.TimedOut() {
		return fmt.Errorf("%w: %w", ErrTransportTimeout, scope.Cause())
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return fmt.Errorf("statement request: %w", err)
}

func decodeResult(payload []byte) (*Result, error) {
	var res Result
	if len(bytes.TrimSpace(payload)) == 0 {
		return &res, nil
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode statement result: %w", err)
	}
	return &res, nil
}

// Escape quotes s for use inside a single-quoted SQL string literal.
func Escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `''`)
}
