// Package features turns raw adapter rows into regularised daily series and
// derives the supervised tables the candidate models train on.
package features

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/HatiCode/demandcast/pkg/adapters"
	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// DefaultLags is the lag depth used when none is configured.
const DefaultLags = 7

// InsufficientDataError reports that a series is too short for the requested
// window or lag depth.
type InsufficientDataError struct {
	Series string
	Need   int
	Got    int
}

func (e *InsufficientDataError) Error() string {
	name := e.Series
	if name == "" {
		name = "series"
	}
	return fmt.Sprintf("insufficient data for %q: need at least %d points, got %d", name, e.Need, e.Got)
}

// IsInsufficientData reports whether err wraps an InsufficientDataError.
func IsInsufficientData(err error) bool {
	var target *InsufficientDataError
	return errors.As(err, &target)
}

// Builder converts DataFrames into daily series.
type Builder struct{}

// NewBuilder creates a new feature builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildSeries converts adapter rows into a daily series:
//   - rows need a "ts" (time.Time, RFC3339/ISO date string or unix seconds)
//     and a numeric "value"; rows missing either are skipped
//   - timestamps are truncated to the UTC day and duplicates summed
//   - NaN and infinite values are ignored in the sum; a day with no finite
//     value is missing
//   - missing days are forward-filled, leading gaps zero-filled
func (b *Builder) BuildSeries(name string, df adapters.DataFrame) (timeseries.Series, error) {
	if len(df.Rows) == 0 {
		return timeseries.Series{}, fmt.Errorf("dataframe is empty")
	}

	type bucket struct {
		sum   float64
		valid bool
	}
	days := make(map[time.Time]*bucket)

	for _, row := range df.Rows {
		value, ok := toFloat64(row["value"])
		if !ok {
			continue
		}
		tsRaw, hasTs := row["ts"]
		if !hasTs {
			continue
		}
		ts, err := parseTimestamp(tsRaw)
		if err != nil {
			continue
		}

		day := timeseries.Truncate(ts)
		bkt, exists := days[day]
		if !exists {
			bkt = &bucket{}
			days[day] = bkt
		}
		if !math.IsNaN(value) && !math.IsInf(value, 0) {
			bkt.sum += value
			bkt.valid = true
		}
	}

	if len(days) == 0 {
		return timeseries.Series{}, fmt.Errorf("no valid rows with 'ts' and 'value' fields")
	}

	dates := make([]time.Time, 0, len(days))
	for d := range days {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	first, last := dates[0], dates[len(dates)-1]
	n := int(last.Sub(first)/timeseries.Day) + 1
	points := make([]timeseries.Point, n)
	for i := range n {
		day := first.AddDate(0, 0, i)
		value := math.NaN()
		if bkt, ok := days[day]; ok && bkt.valid {
			value = bkt.sum
		}
		points[i] = timeseries.Point{Date: day, Value: value}
	}

	return timeseries.New(name, FillMissingValues(points)), nil
}

// FillMissingValues replaces NaN values with the last valid value seen.
// Values before the first valid one become zero.
func FillMissingValues(points []timeseries.Point) []timeseries.Point {
	lastValid := 0.0
	for i := range points {
		if math.IsNaN(points[i].Value) {
			points[i].Value = lastValid
			continue
		}
		lastValid = points[i].Value
	}
	return points
}

// toFloat64 attempts to convert any numeric type to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	default:
		return 0, false
	}
}

// parseTimestamp attempts to parse a timestamp from various formats.
// Supports:
//   - time.Time values
//   - date strings accepted by adapters.ParseDate
//   - Unix timestamps as float64, int, int64
func parseTimestamp(v any) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		return adapters.ParseDate(val)
	case float64:
		return time.Unix(int64(val), 0), nil
	case int:
		return time.Unix(int64(val), 0), nil
	case int64:
		return time.Unix(val, 0), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp type: %T", v)
	}
}
