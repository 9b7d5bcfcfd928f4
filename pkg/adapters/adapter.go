package adapters

import (
	"context"
	"time"
)

// Row represents a single raw observation before daily regularisation.
// Example: {"ts": "2025-10-25", "value": 312.4, "store_id": "S1"}
type Row map[string]any

// DataFrame is a lightweight structure for tabular data returned by adapters.
// Each adapter collects data over a time window and returns it in this format.
type DataFrame struct {
	Rows []Row
}

// Adapter is the interface that all demandcast data sources implement.
//
// Adapters fetch raw observations from an external system (a CSV export,
// Prometheus, ...), shape them into a DataFrame, and leave regularisation and
// feature building to the features package.
//
// The Collect() call is synchronous and should respect context cancellation
// and deadlines.
type Adapter interface {
	// Collect fetches observations for the last windowSeconds and returns them
	// as a DataFrame. windowSeconds <= 0 means the full history.
	Collect(ctx context.Context, windowSeconds int) (*DataFrame, error)

	// Name returns a short, unique identifier for the adapter.
	// Example: "csv", "prometheus".
	Name() string
}

// AlignTimestamp truncates ts to a consistent step duration.
func AlignTimestamp(ts time.Time, stepSec int) time.Time {
	return ts.Truncate(time.Duration(stepSec) * time.Second)
}
