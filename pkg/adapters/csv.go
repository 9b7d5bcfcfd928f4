package adapters

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// DateAliases and ValueAliases are the lower-cased header names recognised
// when no explicit column is configured, in priority order.
var (
	DateAliases  = []string{"date", "ds", "ts", "timestamp", "day"}
	ValueAliases = []string{"sales", "units_sold", "value", "y", "demand", "close"}
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
}

// ErrMissingColumns is returned when a CSV has no recognisable date or value column.
var ErrMissingColumns = errors.New("csv must contain a date column and a value column")

// CSVAdapter reads a sales export. Headers are matched case-insensitively.
// Rows are emitted as {"ts": time.Time, "value": float64, <other columns>: string};
// an empty or unparsable value cell becomes NaN so the builder can treat the
// day as missing.
type CSVAdapter struct {
	// Path is read on every Collect. Ignored when Reader is set.
	Path string
	// Reader is consumed by the first Collect.
	Reader io.Reader
	// DateColumn and ValueColumn override alias detection.
	DateColumn  string
	ValueColumn string
	// Filters keeps only rows whose column equals the given value,
	// e.g. {"store_id": "S1", "product_id": "P9"}.
	Filters map[string]string
}

// NewCSVAdapter creates an adapter over r with alias-based column detection.
func NewCSVAdapter(r io.Reader) *CSVAdapter {
	return &CSVAdapter{Reader: r}
}

func (c *CSVAdapter) Name() string { return "csv" }

// Collect parses the CSV. When windowSeconds > 0 only rows within that window
// of the latest date are kept.
func (c *CSVAdapter) Collect(ctx context.Context, windowSeconds int) (*DataFrame, error) {
	r := c.Reader
	if r == nil {
		if c.Path == "" {
			return &DataFrame{}, errors.New("csv adapter: Path or Reader is required")
		}
		f, err := os.Open(c.Path)
		if err != nil {
			return &DataFrame{}, fmt.Errorf("open csv: %w", err)
		}
		defer f.Close()
		r = f
	} else {
		c.Reader = nil
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return &DataFrame{}, errors.New("csv is empty")
		}
		return &DataFrame{}, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	dateIdx := columnIndex(header, c.DateColumn, DateAliases)
	valueIdx := columnIndex(header, c.ValueColumn, ValueAliases)
	if dateIdx < 0 || valueIdx < 0 {
		return &DataFrame{}, fmt.Errorf("%w (header: %s)", ErrMissingColumns, strings.Join(header, ","))
	}

	filters := make(map[int]string, len(c.Filters))
	for col, want := range c.Filters {
		idx := columnIndex(header, col, nil)
		if idx < 0 {
			return &DataFrame{}, fmt.Errorf("filter column %q not found", col)
		}
		filters[idx] = want
	}

	var rows []Row
	var latest time.Time
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return &DataFrame{}, err
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return &DataFrame{}, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if dateIdx >= len(record) {
			continue
		}
		if !matches(record, filters) {
			continue
		}

		ts, err := ParseDate(record[dateIdx])
		if err != nil {
			return &DataFrame{}, fmt.Errorf("line %d: %w", line, err)
		}

		value := math.NaN()
		if valueIdx < len(record) {
			if v, err := strconv.ParseFloat(strings.TrimSpace(record[valueIdx]), 64); err == nil && !math.IsInf(v, 0) {
				value = v
			}
		}

		row := Row{"ts": ts, "value": value}
		for i, col := range header {
			if i == dateIdx || i == valueIdx || i >= len(record) {
				continue
			}
			row[col] = record[i]
		}
		rows = append(rows, row)
		if ts.After(latest) {
			latest = ts
		}
	}

	if windowSeconds > 0 && len(rows) > 0 {
		cutoff := latest.Add(-time.Duration(windowSeconds) * time.Second)
		kept := rows[:0]
		for _, row := range rows {
			if !row["ts"].(time.Time).Before(cutoff) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}

	return &DataFrame{Rows: rows}, nil
}

// ParseDate accepts ISO dates, RFC3339 timestamps and a few common layouts.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func columnIndex(header []string, explicit string, aliases []string) int {
	if explicit != "" {
		explicit = strings.ToLower(explicit)
		for i, h := range header {
			if h == explicit {
				return i
			}
		}
		return -1
	}
	for _, alias := range aliases {
		for i, h := range header {
			if h == alias {
				return i
			}
		}
	}
	return -1
}

func matches(record []string, filters map[int]string) bool {
	for idx, want := range filters {
		if idx >= len(record) || strings.TrimSpace(record[idx]) != want {
			return false
		}
	}
	return true
}
