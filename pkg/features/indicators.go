package features

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// MinIndicatorPoints is the history needed before every indicator is defined
// (the 50-day moving average is the longest window).
const MinIndicatorPoints = 50

// IndicatorRow holds the technical indicators for one day of a price series.
type IndicatorRow struct {
	Date        time.Time `json:"date"`
	Close       float64   `json:"close"`
	SMA20       float64   `json:"sma_20"`
	SMA50       float64   `json:"sma_50"`
	EMA12       float64   `json:"ema_12"`
	EMA26       float64   `json:"ema_26"`
	MACD        float64   `json:"macd"`
	Signal      float64   `json:"signal_line"`
	RSI         float64   `json:"rsi"`
	BBMiddle    float64   `json:"bb_middle"`
	BBUpper     float64   `json:"bb_upper"`
	BBLower     float64   `json:"bb_lower"`
	Lag1        float64   `json:"lag_1"`
	Lag2        float64   `json:"lag_2"`
	Lag3        float64   `json:"lag_3"`
	Lag5        float64   `json:"lag_5"`
	DailyReturn float64   `json:"daily_return"`
	Volatility  float64   `json:"volatility"`
}

func (r IndicatorRow) defined() bool {
	for _, v := range []float64{
		r.SMA20, r.SMA50, r.EMA12, r.EMA26, r.MACD, r.Signal, r.RSI,
		r.BBMiddle, r.BBUpper, r.BBLower, r.Lag1, r.Lag2, r.Lag3, r.Lag5,
		r.DailyReturn, r.Volatility,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Indicators computes the stock indicator set over a closing-price series.
// Rows with any undefined indicator are discarded; if none remain an
// InsufficientDataError naming the series is returned.
func Indicators(s timeseries.Series) ([]IndicatorRow, error) {
	closes := s.Values()
	n := len(closes)

	sma20 := rollingMean(closes, 20)
	sma50 := rollingMean(closes, 50)
	std20 := rollingStd(closes, 20)
	ema12 := ewm(closes, 12)
	ema26 := ewm(closes, 26)

	macd := make([]float64, n)
	for i := range n {
		macd[i] = ema12[i] - ema26[i]
	}
	signal := ewm(macd, 9)
	rsi := relativeStrength(closes, 14)

	returns := make([]float64, n)
	for i := range n {
		returns[i] = math.NaN()
		if i > 0 && closes[i-1] != 0 {
			returns[i] = (closes[i] - closes[i-1]) / closes[i-1]
		}
	}
	volatility := rollingStd(returns, 21)

	rows := make([]IndicatorRow, 0, n)
	for i := range n {
		row := IndicatorRow{
			Date:        s.Points[i].Date,
			Close:       closes[i],
			SMA20:       sma20[i],
			SMA50:       sma50[i],
			EMA12:       ema12[i],
			EMA26:       ema26[i],
			MACD:        macd[i],
			Signal:      signal[i],
			RSI:         rsi[i],
			BBMiddle:    sma20[i],
			BBUpper:     sma20[i] + 2*std20[i],
			BBLower:     sma20[i] - 2*std20[i],
			Lag1:        shifted(closes, i, 1),
			Lag2:        shifted(closes, i, 2),
			Lag3:        shifted(closes, i, 3),
			Lag5:        shifted(closes, i, 5),
			DailyReturn: returns[i],
			Volatility:  volatility[i],
		}
		if row.defined() {
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return nil, &InsufficientDataError{Series: s.Name, Need: MinIndicatorPoints, Got: n}
	}
	return rows, nil
}

func shifted(values []float64, i, lag int) float64 {
	if i-lag < 0 {
		return math.NaN()
	}
	return values[i-lag]
}

// rollingMean is NaN until a full window of defined values is available.
func rollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = math.NaN()
		if i+1 < window {
			continue
		}
		w := values[i+1-window : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = stat.Mean(w, nil)
	}
	return out
}

// rollingStd is the sample (n-1) standard deviation over a full window.
func rollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		out[i] = math.NaN()
		if i+1 < window {
			continue
		}
		w := values[i+1-window : i+1]
		if hasNaN(w) {
			continue
		}
		out[i] = stat.StdDev(w, nil)
	}
	return out
}

// ewm is an exponential moving average without start-up adjustment:
// ema_0 = x_0, ema_t = α·x_t + (1-α)·ema_{t-1}, α = 2/(span+1).
func ewm(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / float64(span+1)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// relativeStrength uses simple rolling means of gains and losses. A window
// with losses but no gains yields 0, gains but no losses 100, and a flat
// window is undefined.
func relativeStrength(values []float64, window int) []float64 {
	n := len(values)
	gains := make([]float64, n)
	losses := make([]float64, n)
	for i := range n {
		if i == 0 {
			gains[i], losses[i] = math.NaN(), math.NaN()
			continue
		}
		delta := values[i] - values[i-1]
		gains[i] = math.Max(delta, 0)
		losses[i] = math.Max(-delta, 0)
	}

	avgGain := rollingMean(gains, window)
	avgLoss := rollingMean(losses, window)

	out := make([]float64, n)
	for i := range n {
		g, l := avgGain[i], avgLoss[i]
		switch {
		case math.IsNaN(g) || math.IsNaN(l):
			out[i] = math.NaN()
		case l == 0 && g == 0:
			out[i] = math.NaN()
		case l == 0:
			out[i] = 100
		default:
			out[i] = 100 - 100/(1+g/l)
		}
	}
	return out
}

func hasNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
