// Package adapters provides demandcast data source connectors that retrieve
// raw demand observations from external systems and normalise them into a
// common DataFrame structure.
//
// Each adapter implements the Adapter interface. Available adapters:
//   - CSVAdapter        — reads a sales export (file path or reader)
//   - PrometheusAdapter — pulls a daily series via the Prometheus HTTP API
//
// Adapters only pull and shape rows. Daily regularisation, lag building and
// forecasting live in the features, models and forecasting packages.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

const (
	defaultPromStepSeconds   = 24 * 60 * 60
	defaultPromWindowSeconds = 365 * 24 * 60 * 60
)

// PrometheusAdapter fetches a demand series from the Prometheus HTTP API.
// It issues a /api/v1/query_range call and returns a *DataFrame with rows of the form:
//
//	{"ts": RFC3339 string, "value": float64}
//
// If multiple series are returned, values with the same timestamp are SUMMED.
type PrometheusAdapter struct {
	// ServerURL is the base URL to Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// Query is the PromQL expression to evaluate, e.g. sum(increase(orders_total[1d])).
	Query string
	// StepSeconds controls the resolution (defaults to one day if <= 0).
	StepSeconds int
	// HTTPClient is optional; if nil a default client with timeout is used.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Collect implements Adapter. It queries Prometheus for the last windowSeconds
// (one year when windowSeconds <= 0) at StepSeconds resolution.
func (p *PrometheusAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	if p.ServerURL == "" || p.Query == "" {
		return &DataFrame{}, errors.New("prometheus adapter: ServerURL and Query are required")
	}
	step := p.StepSeconds
	if step <= 0 {
		step = defaultPromStepSeconds
	}
	if windowSeconds <= 0 {
		windowSeconds = defaultPromWindowSeconds
	}
	now := time.Now().UTC().Truncate(time.Second)
	start := now.Add(-time.Duration(windowSeconds) * time.Second)

	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return &DataFrame{}, fmt.Errorf("invalid ServerURL: %w", err)
	}
	u = u.JoinPath("/api/v1/query_range")

	q := u.Query()
	q.Set("query", p.Query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(now.Unix(), 10))
	q.Set("step", strconv.Itoa(step))
	u.RawQuery = q.Encode()

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 15 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return &DataFrame{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := cli.Do(req)
	if err != nil {
		return &DataFrame{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &DataFrame{}, fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}

	var pr rangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return &DataFrame{}, fmt.Errorf("decode prometheus response: %w", err)
	}
	if pr.Status != "success" {
		return &DataFrame{}, fmt.Errorf("prometheus status: %s", pr.Status)
	}

	rows, err := sumByTimestamp(pr.Data.Result)
	if err != nil {
		return &DataFrame{}, err
	}
	return &DataFrame{Rows: rows}, nil
}

type rangeResponse struct {
	Status string    `json:"status"`
	Data   rangeData `json:"data"`
}

type rangeData struct {
	ResultType string        `json:"resultType"`
	Result     []rangeSeries `json:"result"`
}

type rangeSeries struct {
	Metric map[string]string `json:"metric"`
	// Values is an array of [ <unix_time_float>, "<value_string>" ]
	Values [][]any `json:"values"`
}

// sumByTimestamp folds every returned series into one row per timestamp,
// sorted ascending.
func sumByTimestamp(series []rangeSeries) ([]Row, error) {
	acc := make(map[int64]float64)
	for _, s := range series {
		for _, pair := range s.Values {
			if len(pair) != 2 {
				return nil, fmt.Errorf("invalid value pair length: %d", len(pair))
			}
			tsSec, err := pairTimestamp(pair[0])
			if err != nil {
				return nil, err
			}
			val, err := pairValue(pair[1])
			if err != nil {
				return nil, err
			}
			acc[tsSec] += val
		}
	}

	stamps := make([]int64, 0, len(acc))
	for ts := range acc {
		stamps = append(stamps, ts)
	}
	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })

	rows := make([]Row, 0, len(stamps))
	for _, ts := range stamps {
		rows = append(rows, Row{
			"ts":    time.Unix(ts, 0).UTC().Format(time.RFC3339),
			"value": acc[ts],
		})
	}
	return rows, nil
}

func pairTimestamp(v any) (int64, error) {
	switch ts := v.(type) {
	case float64:
		return int64(ts), nil
	case json.Number:
		f, err := ts.Float64()
		if err != nil {
			return 0, fmt.Errorf("parse timestamp: %w", err)
		}
		return int64(f), nil
	default:
		return 0, fmt.Errorf("unexpected timestamp type %T", v)
	}
}

func pairValue(v any) (float64, error) {
	switch val := v.(type) {
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("parse value: %w", err)
		}
		return f, nil
	case float64:
		return val, nil
	case json.Number:
		return val.Float64()
	default:
		return 0, fmt.Errorf("unexpected value type %T", v)
	}
}
