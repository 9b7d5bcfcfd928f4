// Package timeseries defines the daily series shared by the feature builder,
// the candidate models, and the forecasting pipeline.
package timeseries

import (
	"time"
)

// Day is the spacing between consecutive points of a Series.
const Day = 24 * time.Hour

// Point is a single daily observation.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is an ordered daily series with exactly one point per calendar day.
// Dates are UTC midnights and strictly increasing without gaps.
type Series struct {
	Name   string
	Points []Point
}

// New creates a Series from already regularised points.
func New(name string, points []Point) Series {
	return Series{Name: name, Points: points}
}

// FromValues builds a Series of consecutive days starting at start.
func FromValues(name string, start time.Time, values []float64) Series {
	start = Truncate(start)
	points := make([]Point, len(values))
	for i, v := range values {
		points[i] = Point{Date: start.AddDate(0, 0, i), Value: v}
	}
	return Series{Name: name, Points: points}
}

// Len returns the number of points.
func (s Series) Len() int {
	return len(s.Points)
}

// Values extracts the values in date order.
func (s Series) Values() []float64 {
	values := make([]float64, len(s.Points))
	for i, p := range s.Points {
		values[i] = p.Value
	}
	return values
}

// Dates extracts the dates in order.
func (s Series) Dates() []time.Time {
	dates := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		dates[i] = p.Date
	}
	return dates
}

// First returns the earliest point. It panics on an empty series.
func (s Series) First() Point {
	return s.Points[0]
}

// Last returns the latest point. It panics on an empty series.
func (s Series) Last() Point {
	return s.Points[len(s.Points)-1]
}

// Tail returns the last n values (all values if n exceeds the length).
func (s Series) Tail(n int) []float64 {
	if n > len(s.Points) {
		n = len(s.Points)
	}
	values := make([]float64, n)
	for i, p := range s.Points[len(s.Points)-n:] {
		values[i] = p.Value
	}
	return values
}

// SplitHoldout splits the series into a training prefix and the last holdout
// points. When holdout covers the whole series the prefix is empty.
func (s Series) SplitHoldout(holdout int) (train, test Series) {
	cut := len(s.Points) - holdout
	if cut < 0 {
		cut = 0
	}
	train = Series{Name: s.Name, Points: s.Points[:cut]}
	test = Series{Name: s.Name, Points: s.Points[cut:]}
	return train, test
}

// NextDates returns the n consecutive days following after.
func NextDates(after time.Time, n int) []time.Time {
	dates := make([]time.Time, n)
	for i := range n {
		dates[i] = after.AddDate(0, 0, i+1)
	}
	return dates
}

// Truncate normalises t to midnight UTC of its calendar day.
func Truncate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
