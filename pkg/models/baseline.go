package models

import (
	"context"
	"fmt"
	"time"

	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// BaselineName tags the baseline model in artifacts and the registry.
const BaselineName = "Baseline"

func init() {
	Register(BaselineName, func(Options) Model {
		return NewBaselineModel()
	})
}

// BaselineModel implements a simple forecasting model using exponential moving averages
// and optional day-of-week seasonality patterns.
//
// Algorithm:
//  1. Compute EMA5 and EMA30 over the recent window
//  2. Base forecast = 0.7*EMA5 + 0.3*EMA30, raised to the last value if that is higher
//  3. Optional seasonality: if sufficient day-of-week data exists,
//     compute Mean_d and blend: yhat = 0.8*Base + 0.2*Mean_d
//  4. All values are non-negative
type BaselineModel struct {
	// Seasonality stores day-of-week means learned in training.
	// Map key is the weekday (0=Sunday), value is the mean for that day.
	Seasonality map[time.Weekday]float64 `json:"seasonality"`
}

// NewBaselineModel creates a new baseline forecasting model.
func NewBaselineModel() *BaselineModel {
	return &BaselineModel{
		Seasonality: make(map[time.Weekday]float64),
	}
}

// Name returns the model identifier.
func (m *BaselineModel) Name() string {
	return BaselineName
}

// Train extracts day-of-week means from historical data.
// Weekdays seen fewer than twice are left out.
func (m *BaselineModel) Train(ctx context.Context, history timeseries.Series) error {
	m.Seasonality = make(map[time.Weekday]float64)
	if history.Len() == 0 {
		return nil
	}

	daySums := make(map[time.Weekday]float64)
	dayCounts := make(map[time.Weekday]int)

	for _, p := range history.Points {
		d := p.Date.Weekday()
		daySums[d] += p.Value
		dayCounts[d]++
	}

	for d := time.Sunday; d <= time.Saturday; d++ {
		if count := dayCounts[d]; count >= 2 {
			m.Seasonality[d] = daySums[d] / float64(count)
		}
	}

	return nil
}

// Evaluate trains on the prefix and forecasts the held-out days from it.
func (m *BaselineModel) Evaluate(ctx context.Context, s timeseries.Series, holdout int) (Evaluation, error) {
	train, test, err := splitHoldout(s, holdout)
	if err != nil {
		return Evaluation{}, err
	}
	if err := m.Train(ctx, train); err != nil {
		return Evaluation{}, err
	}
	fc, err := m.Forecast(ctx, train, test.Len())
	if err != nil {
		return Evaluation{}, err
	}

	eval := Evaluation{Predicted: fc.Values(), Actual: test.Values()}
	eval.MAE, err = MAE(eval.Actual, eval.Predicted)
	if err != nil {
		return Evaluation{}, err
	}
	return eval, nil
}

// Forecast generates days daily values after the last point of history.
func (m *BaselineModel) Forecast(ctx context.Context, history timeseries.Series, days int) (Forecast, error) {
	if err := checkHorizon(days); err != nil {
		return Forecast{}, err
	}
	if history.Len() == 0 {
		return Forecast{}, fmt.Errorf("history cannot be empty")
	}

	values := history.Values()

	ema5 := computeEMA(values, 5)
	ema30 := computeEMA(values, 30)

	baseForecast := 0.7*ema5 + 0.3*ema30

	lastValue := values[len(values)-1]
	if len(values) >= 2 {
		if lastValue > baseForecast {
			baseForecast = lastValue
		}
	}

	if baseForecast < 0 {
		baseForecast = 0
	}

	out := Forecast{Model: BaselineName, Points: make([]ForecastPoint, days)}
	for i, d := range timeseries.NextDates(history.Last().Date, days) {
		value := baseForecast

		if seasonalMean, ok := m.Seasonality[d.Weekday()]; ok {
			value = 0.8*baseForecast + 0.2*seasonalMean
		}

		if value < 0 {
			value = 0
		}

		out.Points[i] = ForecastPoint{Date: d, Value: value}
	}

	return out, nil
}

// computeEMA calculates the exponential moving average over the most recent n points.
// If there are fewer than n points, uses all available points.
// Returns 0 if values is empty.
//
// EMA formula: EMA_t = α * value_t + (1-α) * EMA_{t-1}
// where α = 2 / (n + 1)
func computeEMA(values []float64, n int) float64 {
	if len(values) == 0 {
		return 0
	}

	start := 0
	if len(values) > n {
		start = len(values) - n
	}
	window := values[start:]

	alpha := 2.0 / float64(len(window)+1)
	ema := window[0]

	for i := 1; i < len(window); i++ {
		ema = alpha*window[i] + (1-alpha)*ema
	}

	return ema
}
