// Package client provides an HTTP client for the demandcast forecaster API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/HatiCode/demandcast/pkg/api/forecastv1"
	"github.com/HatiCode/demandcast/pkg/httpx"
	"github.com/HatiCode/demandcast/pkg/storage"
	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// DefaultTimeout bounds each request. Training a forest on a long series can
// take a while, so it is generous.
const DefaultTimeout = 2 * time.Minute

// APIError is a non-2xx reply from the forecaster.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.StatusCode)
	}
	return fmt.Sprintf("forecaster returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the forecaster, i.e. no model
// has been trained or no snapshot exists.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// ForecasterClient talks to the forecaster's HTTP API.
// It is safe for concurrent use by multiple goroutines.
type ForecasterClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewForecasterClient creates a client for baseURL (e.g. "http://localhost:8081")
// with DefaultTimeout.
func NewForecasterClient(baseURL string) *ForecasterClient {
	return NewForecasterClientWithTimeout(baseURL, DefaultTimeout)
}

// NewForecasterClientWithTimeout creates a new client with a custom timeout.
func NewForecasterClientWithTimeout(baseURL string, timeout time.Duration) *ForecasterClient {
	return &ForecasterClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Train posts s to /train.
func (c *ForecasterClient) Train(ctx context.Context, s timeseries.Series) (*forecastv1.TrainResponse, error) {
	var resp forecastv1.TrainResponse
	req := forecastv1.TrainRequest{Series: forecastv1.FromSeries(s)}
	if _, err := c.postJSON(ctx, "/train", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Forecast posts s to /forecast and returns days forecast points.
func (c *ForecasterClient) Forecast(ctx context.Context, s timeseries.Series, days int) (*forecastv1.ForecastResponse, error) {
	var resp forecastv1.ForecastResponse
	req := forecastv1.ForecastRequest{Series: forecastv1.FromSeries(s), Days: days}
	query := url.Values{"days": {strconv.Itoa(days)}}
	if _, err := c.postJSON(ctx, "/forecast", query, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Indicators posts s to /indicators and returns the indicator table.
func (c *ForecasterClient) Indicators(ctx context.Context, s timeseries.Series) (*forecastv1.IndicatorsResponse, error) {
	var resp forecastv1.IndicatorsResponse
	req := forecastv1.ForecastRequest{Series: forecastv1.FromSeries(s)}
	if _, err := c.postJSON(ctx, "/indicators", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SnapshotResult contains the snapshot and metadata about staleness.
type SnapshotResult struct {
	Snapshot storage.Snapshot
	Stale    bool // true if the stale header was present
}

// GetSnapshot fetches the latest scheduled forecast for series.
func (c *ForecasterClient) GetSnapshot(ctx context.Context, series string) (*SnapshotResult, error) {
	if series == "" {
		return nil, fmt.Errorf("series cannot be empty")
	}

	u, err := c.url("/forecast/current", url.Values{"series": {series}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	var snapshot storage.Snapshot
	header, err := c.do(req, &snapshot)
	if err != nil {
		return nil, err
	}
	return &SnapshotResult{
		Snapshot: snapshot,
		Stale:    header.Get(httpx.StaleHeader) == "true",
	}, nil
}

// IsStale checks if a snapshot is older than staleAfter.
func IsStale(snapshot storage.Snapshot, staleAfter time.Duration) bool {
	return time.Since(snapshot.GeneratedAt) > staleAfter
}

func (c *ForecasterClient) postJSON(ctx context.Context, path string, query url.Values, in, out any) (http.Header, error) {
	u, err := c.url(path, query)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *ForecasterClient) url(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func (c *ForecasterClient) do(req *http.Request, out any) (http.Header, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body httpx.ErrorResponse
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Error
		}
		return nil, apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Header, nil
}
