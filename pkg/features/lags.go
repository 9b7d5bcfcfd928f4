package features

import (
	"fmt"
	"time"

	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// LagRow is one supervised example: the value on Date and the k values that
// precede it, most recent first (Lags[0] is lag_1).
type LagRow struct {
	Date  time.Time
	Value float64
	Lags  []float64
}

// LagTable is a series reshaped into lagged observations.
type LagTable struct {
	Depth int
	Rows  []LagRow
}

// BuildLags derives the lag table of depth k. Rows whose window would reach
// before the series start are dropped, so the table has s.Len()-k rows.
func BuildLags(s timeseries.Series, k int) (LagTable, error) {
	if k < 1 {
		return LagTable{}, fmt.Errorf("lag depth must be >= 1, got %d", k)
	}
	if s.Len() <= k {
		return LagTable{}, &InsufficientDataError{Series: s.Name, Need: k + 1, Got: s.Len()}
	}

	rows := make([]LagRow, 0, s.Len()-k)
	for i := k; i < s.Len(); i++ {
		lags := make([]float64, k)
		for j := range k {
			lags[j] = s.Points[i-j-1].Value
		}
		rows = append(rows, LagRow{
			Date:  s.Points[i].Date,
			Value: s.Points[i].Value,
			Lags:  lags,
		})
	}
	return LagTable{Depth: k, Rows: rows}, nil
}

// Columns returns the feature names lag_1 … lag_k.
func (t LagTable) Columns() []string {
	cols := make([]string, t.Depth)
	for i := range t.Depth {
		cols[i] = fmt.Sprintf("lag_%d", i+1)
	}
	return cols
}

// SplitAt partitions rows into those dated strictly before cut and the rest.
func (t LagTable) SplitAt(cut time.Time) (before, from LagTable) {
	before = LagTable{Depth: t.Depth}
	from = LagTable{Depth: t.Depth}
	for _, row := range t.Rows {
		if row.Date.Before(cut) {
			before.Rows = append(before.Rows, row)
		} else {
			from.Rows = append(from.Rows, row)
		}
	}
	return before, from
}

// X returns the feature matrix, one row per example.
func (t LagTable) X() [][]float64 {
	x := make([][]float64, len(t.Rows))
	for i, row := range t.Rows {
		x[i] = row.Lags
	}
	return x
}

// Y returns the target values.
func (t LagTable) Y() []float64 {
	y := make([]float64, len(t.Rows))
	for i, row := range t.Rows {
		y[i] = row.Value
	}
	return y
}
