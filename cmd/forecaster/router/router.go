// Package router configures HTTP routes for the forecaster's HTTP API.
//
// Routes configured:
//   - POST /train - run model selection on the posted series
//   - POST /forecast?days=N[&format=csv] - forecast with the stored best model
//   - POST /indicators - stock indicator table for the posted series
//   - GET /forecast/current?series=<name> - latest scheduled forecast snapshot
//   - GET /healthz - health check
//   - GET /metrics - Prometheus metrics
//
// Series are posted as JSON ({"series": {"name", "points": [{"date", "value"}]}}),
// as a raw text/csv body, or as a multipart upload in the "file" field. CSV
// columns are detected by alias unless date_column / value_column are given;
// repeated filter=column=value parameters select a store or product.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/HatiCode/demandcast/pkg/adapters"
	"github.com/HatiCode/demandcast/pkg/api/forecastv1"
	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/forecasting"
	"github.com/HatiCode/demandcast/pkg/httpx"
	"github.com/HatiCode/demandcast/pkg/models"
	"github.com/HatiCode/demandcast/pkg/storage"
	"github.com/HatiCode/demandcast/pkg/timeseries"
	"github.com/HatiCode/demandcast/pkg/training"
)

const (
	// DefaultDays is the horizon used when a request names none.
	DefaultDays = forecastv1.DefaultDays

	maxBodyBytes = 32 << 20
)

// Service is what the routes need from the forecaster.
type Service interface {
	Train(ctx context.Context, s timeseries.Series) (*training.Result, error)
	Forecast(ctx context.Context, s timeseries.Series, days int) (*models.Forecast, error)
}

// Options tune the routes.
type Options struct {
	// StaleAfter marks snapshots older than this as stale.
	StaleAfter time.Duration
	// DefaultSeries is used when a request does not name a series.
	DefaultSeries string
	// TrainLimiter bounds POST /train. Nil disables limiting.
	TrainLimiter *rate.Limiter
	// Ready backs /healthz when set.
	Ready func() error
}

// SetupRoutes configures HTTP endpoints for the forecaster.
func SetupRoutes(svc Service, snapshots storage.SnapshotStore, opts Options, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DefaultSeries == "" {
		opts.DefaultSeries = forecastv1.DefaultSeriesName
	}
	h := &handlers{svc: svc, snapshots: snapshots, opts: opts, logger: logger}

	mux := http.NewServeMux()

	if opts.Ready != nil {
		mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(opts.Ready))
	} else {
		mux.Handle("GET /healthz", httpx.HealthHandler())
	}

	mux.Handle("POST /train", httpx.RateLimitMiddleware(opts.TrainLimiter)(http.HandlerFunc(h.train)))
	mux.HandleFunc("POST /forecast", h.forecast)
	mux.HandleFunc("POST /indicators", h.indicators)
	mux.HandleFunc("GET /forecast/current", h.current)

	mux.Handle("GET /metrics", promhttp.Handler())

	return httpx.RecoveryMiddleware(logger)(httpx.LoggingMiddleware(logger)(mux))
}

type handlers struct {
	svc       Service
	snapshots storage.SnapshotStore
	opts      Options
	logger    *slog.Logger
}

func (h *handlers) train(w http.ResponseWriter, r *http.Request) {
	series, _, err := h.readSeries(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.svc.Train(r.Context(), series)
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, forecastv1.NewTrainResponse(res))
}

func (h *handlers) forecast(w http.ResponseWriter, r *http.Request) {
	series, days, err := h.readSeries(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}
	if q := r.URL.Query().Get("days"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil {
			h.fail(w, badRequest(fmt.Errorf("invalid days %q", q)))
			return
		}
		days = n
	} else if days == 0 {
		days = DefaultDays
	}

	fc, err := h.svc.Forecast(r.Context(), series, days)
	if err != nil {
		h.fail(w, err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="forecast.csv"`)
		w.WriteHeader(http.StatusOK)
		if err := fc.WriteCSV(w); err != nil {
			h.logger.Error("failed to write forecast csv", "error", err)
		}
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, forecastv1.ForecastResponse{Model: fc.Model, Forecast: fc, Message: "ok"})
}

func (h *handlers) indicators(w http.ResponseWriter, r *http.Request) {
	series, _, err := h.readSeries(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}
	rows, err := features.Indicators(series)
	if err != nil {
		h.fail(w, err)
		return
	}
	_ = httpx.WriteJSON(w, http.StatusOK, forecastv1.IndicatorsResponse{Series: series.Name, Rows: rows})
}

func (h *handlers) current(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("series")
	if name == "" {
		name = h.opts.DefaultSeries
	}

	snapshot, found, err := h.snapshots.GetLatest(name)
	if err != nil {
		h.logger.Error("failed to get snapshot", "series", name, "error", err)
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !found {
		httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("snapshot not found for series %q", name))
		return
	}

	if h.opts.StaleAfter > 0 && time.Since(snapshot.GeneratedAt) > h.opts.StaleAfter {
		w.Header().Set(httpx.StaleHeader, "true")
	}
	_ = httpx.WriteJSON(w, http.StatusOK, snapshot)
}

// readSeries decodes the posted series. days is the horizon carried by a
// JSON body, zero otherwise.
func (h *handlers) readSeries(w http.ResponseWriter, r *http.Request) (timeseries.Series, int, error) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	q := r.URL.Query()
	name := q.Get("series")
	if name == "" {
		name = h.opts.DefaultSeries
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/csv", "application/csv":
		s, err := readCSV(r.Context(), body, name, q)
		return s, 0, err

	case "multipart/form-data":
		r.Body = body
		file, _, err := r.FormFile("file")
		if err != nil {
			return timeseries.Series{}, 0, badRequest(fmt.Errorf("multipart upload needs a file field: %w", err))
		}
		defer file.Close()
		s, err := readCSV(r.Context(), file, name, q)
		return s, 0, err

	default:
		var req forecastv1.ForecastRequest
		if err := decodeJSON(body, &req); err != nil {
			return timeseries.Series{}, 0, badRequest(err)
		}
		if req.Series.Name == "" {
			req.Series.Name = name
		}
		s, err := req.Series.Build()
		if err != nil {
			return timeseries.Series{}, 0, badRequest(err)
		}
		return s, req.Days, nil
	}
}

func readCSV(ctx context.Context, r io.Reader, name string, q url.Values) (timeseries.Series, error) {
	adapter := adapters.NewCSVAdapter(r)
	adapter.DateColumn = q.Get("date_column")
	adapter.ValueColumn = q.Get("value_column")
	for _, f := range q["filter"] {
		col, val, ok := strings.Cut(f, "=")
		if !ok {
			return timeseries.Series{}, badRequest(fmt.Errorf("filter %q must be column=value", f))
		}
		if adapter.Filters == nil {
			adapter.Filters = make(map[string]string)
		}
		adapter.Filters[strings.ToLower(col)] = val
	}

	df, err := adapter.Collect(ctx, 0)
	if err != nil {
		return timeseries.Series{}, badRequest(err)
	}
	s, err := features.NewBuilder().BuildSeries(name, *df)
	if err != nil {
		return timeseries.Series{}, badRequest(err)
	}
	return s, nil
}

func decodeJSON(r io.Reader, v any) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("request body is empty")
	}
	return json.Unmarshal(data, v)
}

type badRequestError struct{ err error }

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &badRequestError{err: err} }

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	var bad *badRequestError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &bad), errors.Is(err, forecasting.ErrInvalidHorizon):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrModelNotFound):
		return http.StatusNotFound
	case features.IsInsufficientData(err), training.IsNoModelTrained(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	} else {
		h.logger.Debug("request rejected", "status", status, "error", err)
	}

	msg := err.Error()
	if errors.Is(err, storage.ErrModelNotFound) {
		msg = forecasting.MsgModelNotFound
	}
	httpx.WriteErrorMessage(w, status, msg)
}
