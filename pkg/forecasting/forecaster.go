// Package forecasting loads the persisted best model and produces N-day
// forecasts from it.
package forecasting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/models"
	"github.com/HatiCode/demandcast/pkg/storage"
	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// ErrInvalidHorizon is returned for a forecast horizon below one day.
var ErrInvalidHorizon = errors.New("forecast horizon must be at least 1 day")

const (
	// MsgModelNotFound is reported by Run when nothing has been trained yet.
	MsgModelNotFound = "Model not found. Please train the model first."

	decodedCacheSize = 8
)

// Forecaster turns the stored artifact into forecasts. Decoded models are
// cached by run ID so repeated requests skip deserialisation.
type Forecaster struct {
	store  storage.ModelStore
	cache  *lru.Cache[string, models.Model]
	logger *slog.Logger
}

// New creates a forecaster reading from store.
func New(store storage.ModelStore, logger *slog.Logger) *Forecaster {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, models.Model](decodedCacheSize)
	if err != nil {
		// Only reachable with a non-positive size.
		panic(err)
	}
	return &Forecaster{
		store:  store,
		cache:  cache,
		logger: logger.With("component", "forecaster"),
	}
}

// Forecast predicts days values with the stored best model. Lag models
// continue from the end of history; decomposition models continue from their
// own training boundary.
func (f *Forecaster) Forecast(ctx context.Context, history timeseries.Series, days int) (*models.Forecast, error) {
	if days < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHorizon, days)
	}

	m, err := f.load(ctx)
	if err != nil {
		return nil, err
	}

	fc, err := m.Forecast(ctx, history, days)
	if err != nil {
		return nil, fmt.Errorf("%s forecast: %w", m.Name(), err)
	}
	f.logger.Debug("forecast produced", "model", m.Name(), "series", history.Name, "days", days)
	return &fc, nil
}

// Outcome is the caller-facing result of Run. Forecast is nil on failure and
// Message explains why.
type Outcome struct {
	Forecast *models.Forecast
	Model    string
	Message  string
}

// Run is Forecast with failures folded into a human-readable message.
func (f *Forecaster) Run(ctx context.Context, history timeseries.Series, days int) Outcome {
	fc, err := f.Forecast(ctx, history, days)
	if err != nil {
		f.logger.Warn("forecast failed", "series", history.Name, "days", days, "error", err)
		return Outcome{Message: Describe(err)}
	}
	return Outcome{Forecast: fc, Model: fc.Model, Message: "ok"}
}

// Describe renders err for end users.
func Describe(err error) string {
	switch {
	case errors.Is(err, storage.ErrModelNotFound):
		return MsgModelNotFound
	case errors.Is(err, ErrInvalidHorizon):
		return "Invalid forecast horizon: " + err.Error()
	case features.IsInsufficientData(err):
		return "Not enough history to forecast: " + err.Error()
	default:
		return "Forecast failed: " + err.Error()
	}
}

func (f *Forecaster) load(ctx context.Context) (models.Model, error) {
	a, err := f.store.Load(ctx)
	if err != nil {
		return nil, err
	}

	key := a.RunID + "/" + a.Model
	if m, ok := f.cache.Get(key); ok && a.RunID != "" {
		return m, nil
	}

	m, err := models.Decode(a.Model, a.State)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if a.RunID != "" {
		f.cache.Add(key, m)
	}
	f.logger.Debug("model loaded", "model", a.Model, "run_id", a.RunID)
	return m, nil
}
