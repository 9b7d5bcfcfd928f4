package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// RandomForestName tags the lag ensemble in artifacts and the registry.
const RandomForestName = "RandomForest"

func init() {
	Register(RandomForestName, func(opts Options) Model {
		return NewLagEnsemble(opts)
	})
}

// LagEnsemble is a random forest over the previous Lags values of a series.
// With Differenced set the trees learn value-lag_1, which lets the ensemble
// follow a trend beyond the range seen in training.
type LagEnsemble struct {
	Lags        int          `json:"lags"`
	Differenced bool         `json:"differenced"`
	Config      ForestConfig `json:"config"`
	Forest      *Forest      `json:"forest"`
}

// NewLagEnsemble creates an unfitted lag ensemble.
func NewLagEnsemble(opts Options) *LagEnsemble {
	opts = opts.withDefaults()
	return &LagEnsemble{
		Lags:        opts.Lags,
		Differenced: true,
		Config: ForestConfig{
			Trees:          opts.Trees,
			Seed:           opts.Seed,
			MinSamplesLeaf: 1,
		},
	}
}

// Name returns the model identifier.
func (m *LagEnsemble) Name() string {
	return RandomForestName
}

// Evaluate builds the lag table over the whole series, trains on the rows
// dated before the first held-out day and scores one-step predictions on the
// held-out rows.
func (m *LagEnsemble) Evaluate(ctx context.Context, s timeseries.Series, holdout int) (Evaluation, error) {
	_, test, err := splitHoldout(s, holdout)
	if err != nil {
		return Evaluation{}, err
	}

	table, err := features.BuildLags(s, m.Lags)
	if err != nil {
		return Evaluation{}, err
	}
	trainRows, testRows := table.SplitAt(test.First().Date)
	if len(trainRows.Rows) == 0 {
		return Evaluation{}, &features.InsufficientDataError{Series: s.Name, Need: m.Lags + holdout + 1, Got: s.Len()}
	}
	if len(testRows.Rows) == 0 {
		return Evaluation{}, errors.New("no held-out rows to score")
	}

	if err := m.Fit(ctx, trainRows); err != nil {
		return Evaluation{}, err
	}

	eval := Evaluation{
		Predicted: make([]float64, len(testRows.Rows)),
		Actual:    testRows.Y(),
	}
	for i, row := range testRows.Rows {
		eval.Predicted[i] = m.predict(row.Lags)
	}
	eval.MAE, err = MAE(eval.Actual, eval.Predicted)
	if err != nil {
		return Evaluation{}, err
	}
	return eval, nil
}

// Fit trains the forest on a lag table of matching depth.
func (m *LagEnsemble) Fit(ctx context.Context, table features.LagTable) error {
	if table.Depth != m.Lags {
		return fmt.Errorf("lag table depth %d does not match model lags %d", table.Depth, m.Lags)
	}
	x, y := table.X(), table.Y()
	if m.Differenced {
		for i := range y {
			y[i] -= x[i][0]
		}
	}
	forest, err := FitForest(ctx, x, y, m.Config)
	if err != nil {
		return fmt.Errorf("fit random forest: %w", err)
	}
	m.Forest = forest
	return nil
}

// Forecast predicts days values one step at a time, feeding each prediction
// back as lag_1 of the next step.
func (m *LagEnsemble) Forecast(ctx context.Context, history timeseries.Series, days int) (Forecast, error) {
	if err := checkHorizon(days); err != nil {
		return Forecast{}, err
	}
	if m.Forest == nil {
		return Forecast{}, errors.New("random forest is not fitted")
	}
	if history.Len() < m.Lags {
		return Forecast{}, &features.InsufficientDataError{Series: history.Name, Need: m.Lags, Got: history.Len()}
	}

	window, err := features.NewWindow(history.Values(), m.Lags)
	if err != nil {
		return Forecast{}, err
	}

	dates := timeseries.NextDates(history.Last().Date, days)
	out := Forecast{Model: RandomForestName, Points: make([]ForecastPoint, days)}
	for i, d := range dates {
		if err := ctx.Err(); err != nil {
			return Forecast{}, err
		}
		v := m.predict(window.Lags())
		window.Push(v)
		out.Points[i] = ForecastPoint{Date: d, Value: v}
	}
	return out, nil
}

func (m *LagEnsemble) predict(lags []float64) float64 {
	v := m.Forest.Predict(lags)
	if m.Differenced {
		v += lags[0]
	}
	return v
}
