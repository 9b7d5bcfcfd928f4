// Package models holds the candidate forecasters and the registry used to
// construct and decode them by name.
package models

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// Model is a candidate forecaster.
//
// Evaluate fits the model on all but the last holdout points of s and scores
// it on the remainder. The fitted state is kept, so an evaluated model is
// ready to Forecast and to be encoded.
type Model interface {
	Name() string
	Evaluate(ctx context.Context, s timeseries.Series, holdout int) (Evaluation, error)
	Forecast(ctx context.Context, history timeseries.Series, days int) (Forecast, error)
}

// Evaluation is the holdout score of a fitted candidate.
type Evaluation struct {
	MAE       float64
	Predicted []float64
	Actual    []float64
}

// Options tune the built-in candidates. Zero values select the defaults.
type Options struct {
	Lags          int
	Trees         int
	Seed          uint64
	IntervalWidth float64
}

const (
	DefaultTrees         = 100
	DefaultSeed          = 42
	DefaultIntervalWidth = 0.8
)

func (o Options) withDefaults() Options {
	if o.Lags <= 0 {
		o.Lags = features.DefaultLags
	}
	if o.Trees <= 0 {
		o.Trees = DefaultTrees
	}
	if o.Seed == 0 {
		o.Seed = DefaultSeed
	}
	if o.IntervalWidth <= 0 || o.IntervalWidth >= 1 {
		o.IntervalWidth = DefaultIntervalWidth
	}
	return o
}

// Factory builds an unfitted candidate.
type Factory func(opts Options) Model

// ErrUnknownModel is returned when no factory is registered under a name.
var ErrUnknownModel = errors.New("unknown model")

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
	registered []string
)

// Register makes a candidate available by name. It panics if the name is
// already taken or the factory is nil.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("models: Register factory is nil")
	}
	if _, dup := registry[name]; dup {
		panic("models: Register called twice for " + name)
	}
	registry[name] = factory
	registered = append(registered, name)
}

// Names lists registered candidates in registration order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return append([]string(nil), registered...)
}

// New builds an unfitted candidate by name.
func New(name string, opts Options) (Model, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return factory(opts.withDefaults()), nil
}

// Encode serialises a fitted model's state.
func Encode(m Model) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Name(), err)
	}
	return data, nil
}

// Decode restores a model previously produced by Encode under name.
func Decode(name string, data []byte) (Model, error) {
	m, err := New(name, Options{})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return m, nil
}

// MAE is the mean absolute error between actual and predicted.
func MAE(actual, predicted []float64) (float64, error) {
	if len(actual) != len(predicted) {
		return 0, fmt.Errorf("length mismatch: %d actual vs %d predicted", len(actual), len(predicted))
	}
	if len(actual) == 0 {
		return 0, errors.New("no values to score")
	}
	return floats.Distance(actual, predicted, 1) / float64(len(actual)), nil
}

// ForecastPoint is one forecast day. Lower and Upper are only meaningful when
// the owning Forecast has bounds.
type ForecastPoint struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
	Lower float64   `json:"lower,omitempty"`
	Upper float64   `json:"upper,omitempty"`
}

// Forecast is an ordered daily forecast produced by a model.
type Forecast struct {
	Model     string          `json:"model"`
	Points    []ForecastPoint `json:"points"`
	HasBounds bool            `json:"has_bounds"`
}

// Values returns the point estimates in order.
func (f Forecast) Values() []float64 {
	values := make([]float64, len(f.Points))
	for i, p := range f.Points {
		values[i] = p.Value
	}
	return values
}

// Columns names the tabular rendering of the forecast.
func (f Forecast) Columns() []string {
	if f.HasBounds {
		return []string{"ds", "yhat", "yhat_lower", "yhat_upper"}
	}
	return []string{"date", "forecast"}
}

// Rows renders the forecast as records keyed by Columns.
func (f Forecast) Rows() []map[string]any {
	cols := f.Columns()
	rows := make([]map[string]any, len(f.Points))
	for i, p := range f.Points {
		row := map[string]any{
			cols[0]: p.Date.Format(time.DateOnly),
			cols[1]: p.Value,
		}
		if f.HasBounds {
			row[cols[2]] = p.Lower
			row[cols[3]] = p.Upper
		}
		rows[i] = row
	}
	return rows
}

// Records renders the forecast as string records, header first.
func (f Forecast) Records() [][]string {
	records := make([][]string, 0, len(f.Points)+1)
	records = append(records, f.Columns())
	for _, p := range f.Points {
		rec := []string{p.Date.Format(time.DateOnly), formatFloat(p.Value)}
		if f.HasBounds {
			rec = append(rec, formatFloat(p.Lower), formatFloat(p.Upper))
		}
		records = append(records, rec)
	}
	return records
}

// WriteCSV writes Records as CSV.
func (f Forecast) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(f.Records()); err != nil {
		return fmt.Errorf("write forecast csv: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func splitHoldout(s timeseries.Series, holdout int) (train, test timeseries.Series, err error) {
	if holdout < 1 {
		return train, test, fmt.Errorf("holdout must be >= 1, got %d", holdout)
	}
	train, test = s.SplitHoldout(holdout)
	if train.Len() == 0 {
		return train, test, fmt.Errorf("series %q has %d points, not enough for a holdout of %d", s.Name, s.Len(), holdout)
	}
	return train, test, nil
}

func checkHorizon(days int) error {
	if days < 1 {
		return fmt.Errorf("forecast horizon must be >= 1 day, got %d", days)
	}
	return nil
}
