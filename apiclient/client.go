// Package apiclient is the REST client for the upstream prediction service.
// It covers the two out-of-band endpoints the reconciler depends on: the
// predictions bootstrap/refetch query and the health check. The live stream
// itself is handled by the stream package.
package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/c360/devicewatch/errors"
	"github.com/c360/devicewatch/types"
)

// Limits and defaults for the predictions query, matching the upstream API.
const (
	DefaultLimit = 50
	MaxLimit     = 200

	defaultTimeout = 10 * time.Second
)

// Config holds client configuration
type Config struct {
	// BaseURL is the prediction service root, e.g. "http://localhost:5000".
	BaseURL string `yaml:"base_url"`
	// Timeout bounds each request.
	Timeout time.Duration `yaml:"timeout"`
}

// Validate ensures the client configuration is usable
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return errors.WrapInvalid(
			errors.ErrMissingConfig, "apiclient", "Validate", "base_url required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return errors.WrapInvalid(err, "apiclient", "Validate", "parse base_url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "apiclient", "Validate",
			fmt.Sprintf("unsupported scheme %q", u.Scheme))
	}
	return nil
}

// Client talks to the prediction service REST API
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a client. Malformed base URLs fail here, synchronously.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base, _ := url.Parse(cfg.BaseURL) // validated above

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "apiclient"),
	}, nil
}

// Query filters a predictions fetch. Zero values mean "no filter".
type Query struct {
	// Since is a relative window token: last1h, last6h, last24h or last7d.
	Since string
	// Device filters by device-name substring, case-insensitive upstream.
	Device string
	// Risk filters by exact risk label.
	Risk types.RiskLevel
	// Limit caps the result count (1..200, default 50).
	Limit int
}

var sinceTokens = map[string]bool{
	"last1h": true, "last6h": true, "last24h": true, "last7d": true,
}

// Validate checks the query fields against the upstream contract
func (q Query) Validate() error {
	if q.Since != "" && !sinceTokens[q.Since] {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "apiclient", "Validate",
			fmt.Sprintf("unknown since token %q", q.Since))
	}
	if q.Risk != "" && !q.Risk.Valid() {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "apiclient", "Validate",
			fmt.Sprintf("unknown risk label %q", q.Risk))
	}
	if q.Limit < 0 || q.Limit > MaxLimit {
		return errors.WrapInvalid(
			errors.ErrInvalidConfig, "apiclient", "Validate",
			fmt.Sprintf("limit %d out of range 0..%d", q.Limit, MaxLimit))
	}
	return nil
}

// FetchPredictions retrieves prediction records matching the query. Used to
// seed the collection at startup and by explicit refetch requests.
func (c *Client) FetchPredictions(ctx context.Context, q Query) ([]types.PredictionRecord, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	endpoint := c.baseURL.JoinPath("/api/predictions")
	params := url.Values{}
	if q.Since != "" {
		params.Set("since", q.Since)
	}
	if q.Device != "" {
		params.Set("device", q.Device)
	}
	if q.Risk != "" {
		params.Set("risk", string(q.Risk))
	}
	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}
	params.Set("limit", strconv.Itoa(limit))
	endpoint.RawQuery = params.Encode()

	body, err := c.get(ctx, endpoint.String())
	if err != nil {
		return nil, errors.WrapTransient(err, "apiclient", "FetchPredictions", "fetch predictions")
	}

	var records []types.PredictionRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, errors.WrapInvalid(err, "apiclient", "FetchPredictions", "decode predictions")
	}

	c.logger.Debug("fetched predictions", "count", len(records))
	return records, nil
}

// HealthReport is the upstream health endpoint payload
type HealthReport struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp,omitempty"`
}

// OK reports whether the upstream considers itself healthy
func (h HealthReport) OK() bool {
	return h.Status == "ok"
}

// FetchHealth issues one liveness request against /api/health.
func (c *Client) FetchHealth(ctx context.Context) (HealthReport, error) {
	var report HealthReport

	body, err := c.get(ctx, c.baseURL.JoinPath("/api/health").String())
	if err != nil {
		return report, errors.WrapTransient(err, "apiclient", "FetchHealth", "fetch health")
	}
	if err := json.Unmarshal(body, &report); err != nil {
		return report, errors.WrapInvalid(err, "apiclient", "FetchHealth", "decode health")
	}
	return report, nil
}

// Probe adapts FetchHealth to the health.ProbeFunc shape: nil means healthy.
func (c *Client) Probe(ctx context.Context) error {
	report, err := c.FetchHealth(ctx)
	if err != nil {
		return err
	}
	if !report.OK() {
		return fmt.Errorf("upstream reported status %q", report.Status)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}
