package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// ProphetName tags the decomposition model in artifacts and the registry.
const ProphetName = "Prophet"

func init() {
	Register(ProphetName, func(opts Options) Model {
		return NewDecomposition(opts)
	})
}

const (
	weeklyOrder          = 3
	yearlyOrder          = 10
	weeklyMinSpanDays    = 14
	yearlyMinSpanDays    = 730
	maxChangepoints      = 25
	changepointRange     = 0.8
	changepointPenalty   = 1.0
	seasonalityPenalty   = 0.1
	daysPerYear          = 365.25
	minDecompositionSize = 2
)

// Decomposition is an additive model: a piecewise-linear trend with
// changepoints plus weekly and yearly Fourier seasonality, fitted by ridge
// regression on min-max scaled values. Forecasts continue from the last
// training day and carry an uncertainty interval.
type Decomposition struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Size          int       `json:"size"`
	TScale        float64   `json:"t_scale"`
	YMin          float64   `json:"y_min"`
	YScale        float64   `json:"y_scale"`
	Changepoints  []float64 `json:"changepoints"`
	Weekly        int       `json:"weekly"`
	Yearly        int       `json:"yearly"`
	Coef          []float64 `json:"coef"`
	Sigma         float64   `json:"sigma"`
	IntervalWidth float64   `json:"interval_width"`
}

// NewDecomposition creates an unfitted decomposition model.
func NewDecomposition(opts Options) *Decomposition {
	opts = opts.withDefaults()
	return &Decomposition{IntervalWidth: opts.IntervalWidth}
}

// Name returns the model identifier.
func (m *Decomposition) Name() string {
	return ProphetName
}

// Evaluate fits on the training prefix and forecasts the held-out days.
func (m *Decomposition) Evaluate(ctx context.Context, s timeseries.Series, holdout int) (Evaluation, error) {
	train, test, err := splitHoldout(s, holdout)
	if err != nil {
		return Evaluation{}, err
	}
	if err := m.Fit(ctx, train); err != nil {
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

// Fit estimates trend and seasonality from s.
func (m *Decomposition) Fit(ctx context.Context, s timeseries.Series) error {
	n := s.Len()
	if n < minDecompositionSize {
		return fmt.Errorf("decomposition needs at least %d points, got %d", minDecompositionSize, n)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.Start = s.First().Date
	m.End = s.Last().Date
	m.Size = n
	span := m.End.Sub(m.Start).Hours() / 24
	m.TScale = span
	if m.TScale == 0 {
		m.TScale = 1
	}

	values := s.Values()
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	m.YMin = lo
	m.YScale = hi - lo
	if m.YScale == 0 {
		m.YScale = 1
	}

	m.Weekly, m.Yearly = 0, 0
	if span >= weeklyMinSpanDays {
		m.Weekly = weeklyOrder
	}
	if span >= yearlyMinSpanDays {
		m.Yearly = yearlyOrder
	}
	m.Changepoints = m.placeChangepoints(s.Dates())

	p := m.width()
	x := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	for i, pt := range s.Points {
		x.SetRow(i, m.design(pt.Date))
		y.SetVec(i, (pt.Value-m.YMin)/m.YScale)
	}

	xtx := mat.NewSymDense(p, nil)
	xtx.SymOuterK(1, x.T())
	penalties := m.penalties()
	for j := range p {
		xtx.SetSym(j, j, xtx.At(j, j)+penalties[j])
	}
	var xty mat.VecDense
	xty.MulVec(x.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(xtx); !ok {
		return errors.New("decomposition: design matrix is not positive definite")
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return fmt.Errorf("decomposition: solve: %w", err)
	}
	m.Coef = make([]float64, p)
	for j := range p {
		m.Coef[j] = beta.AtVec(j)
	}

	var ss float64
	for _, pt := range s.Points {
		r := pt.Value - m.predict(pt.Date)
		ss += r * r
	}
	m.Sigma = math.Sqrt(ss / float64(n))
	return nil
}

// Forecast predicts the days following the last training day. history is
// not consulted: the model continues from its own training boundary.
func (m *Decomposition) Forecast(ctx context.Context, history timeseries.Series, days int) (Forecast, error) {
	if err := checkHorizon(days); err != nil {
		return Forecast{}, err
	}
	if len(m.Coef) == 0 {
		return Forecast{}, errors.New("decomposition is not fitted")
	}
	if err := ctx.Err(); err != nil {
		return Forecast{}, err
	}

	width := m.IntervalWidth
	if width <= 0 || width >= 1 {
		width = DefaultIntervalWidth
	}
	z := distuv.UnitNormal.Quantile(0.5 + width/2)

	out := Forecast{Model: ProphetName, HasBounds: true, Points: make([]ForecastPoint, days)}
	for i, d := range timeseries.NextDates(m.End, days) {
		yhat := m.predict(d)
		half := z * m.Sigma * math.Sqrt(1+float64(i+1)/float64(m.Size))
		out.Points[i] = ForecastPoint{Date: d, Value: yhat, Lower: yhat - half, Upper: yhat + half}
	}
	return out, nil
}

func (m *Decomposition) predict(d time.Time) float64 {
	row := m.design(d)
	var v float64
	for j, c := range m.Coef {
		v += c * row[j]
	}
	return v*m.YScale + m.YMin
}

func (m *Decomposition) width() int {
	return 2 + len(m.Changepoints) + 2*m.Weekly + 2*m.Yearly
}

// design is the regressor row for d: intercept, trend, changepoint hinges,
// then the Fourier terms. Seasonal phase is anchored at the Unix epoch so it
// does not depend on where training started.
func (m *Decomposition) design(d time.Time) []float64 {
	row := make([]float64, 0, m.width())
	t := d.Sub(m.Start).Hours() / 24 / m.TScale
	row = append(row, 1, t)
	for _, c := range m.Changepoints {
		row = append(row, math.Max(t-c, 0))
	}

	epochDays := float64(d.Unix()) / 86400
	for k := 1; k <= m.Weekly; k++ {
		a := 2 * math.Pi * float64(k) * epochDays / 7
		row = append(row, math.Sin(a), math.Cos(a))
	}
	for k := 1; k <= m.Yearly; k++ {
		a := 2 * math.Pi * float64(k) * epochDays / daysPerYear
		row = append(row, math.Sin(a), math.Cos(a))
	}
	return row
}

func (m *Decomposition) penalties() []float64 {
	p := make([]float64, m.width())
	for j := 2; j < len(p); j++ {
		if j < 2+len(m.Changepoints) {
			p[j] = changepointPenalty
		} else {
			p[j] = seasonalityPenalty
		}
	}
	return p
}

// placeChangepoints spreads up to maxChangepoints evenly over the first 80%
// of the training dates, skipping the first date.
func (m *Decomposition) placeChangepoints(dates []time.Time) []float64 {
	hist := int(math.Floor(float64(len(dates)) * changepointRange))
	count := min(maxChangepoints, hist-1)
	if count < 1 {
		return nil
	}

	cps := make([]float64, 0, count)
	for i := 1; i <= count; i++ {
		idx := int(math.Round(float64(i) * float64(hist-1) / float64(count)))
		t := dates[idx].Sub(m.Start).Hours() / 24 / m.TScale
		cps = append(cps, t)
	}
	return cps
}
