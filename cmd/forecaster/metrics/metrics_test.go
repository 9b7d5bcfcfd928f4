package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New("test-new")

	collectors := map[string]prometheus.Collector{
		"AdapterCollectSeconds": m.AdapterCollectSeconds,
		"TrainSeconds":          m.TrainSeconds,
		"ForecastSeconds":       m.ForecastSeconds,
		"CandidateMAE":          m.CandidateMAE,
		"CandidateSeconds":      m.CandidateSeconds,
		"CandidateFailures":     m.CandidateFailures,
		"SelectedModel":         m.SelectedModel,
		"ForecastAgeSeconds":    m.ForecastAgeSeconds,
		"ErrorsTotal":           m.ErrorsTotal,
		"GRPCRequestsTotal":     m.GRPCRequestsTotal,
	}
	for name, c := range collectors {
		if c == nil {
			t.Errorf("%s should not be nil", name)
		}
	}
}

func TestRecordDurations(t *testing.T) {
	m := New("test-record-durations")

	m.RecordCollect(0.123)
	m.RecordTrain(1.5)
	m.RecordForecast(0.02)

	for name, h := range map[string]prometheus.Histogram{
		"collect":  m.AdapterCollectSeconds,
		"train":    m.TrainSeconds,
		"forecast": m.ForecastSeconds,
	} {
		if count := testutil.CollectAndCount(h); count != 1 {
			t.Errorf("%s: expected 1 metric, got %d", name, count)
		}
	}
}

func TestSetForecastAge(t *testing.T) {
	m := New("test-set-forecast-age")

	m.SetForecastAge(120.5)

	if got := testutil.ToFloat64(m.ForecastAgeSeconds); got != 120.5 {
		t.Errorf("forecast age = %v, want 120.5", got)
	}
}

func TestRecordError(t *testing.T) {
	m := New("test-record-error")

	tests := []struct {
		component string
		reason    string
	}{
		{"adapter", "collect_failed"},
		{"features", "build_failed"},
		{"trainer", "no_model"},
		{"store", "put_failed"},
	}

	for _, tt := range tests {
		m.RecordError(tt.component, tt.reason)
	}

	if count := testutil.CollectAndCount(m.ErrorsTotal); count != len(tests) {
		t.Errorf("expected %d error metrics, got %d", len(tests), count)
	}

	m.RecordError("adapter", "collect_failed")
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("adapter", "collect_failed")); got != 2 {
		t.Errorf("adapter/collect_failed = %v, want 2", got)
	}
}

func TestObserver(t *testing.T) {
	m := New("test-observer")

	m.CandidateScored("RandomForest", 2.5, 30*time.Millisecond)
	m.CandidateScored("Prophet", 3.25, 10*time.Millisecond)
	m.CandidateFailed("Baseline", errors.New("too short"))
	m.ModelSelected("RandomForest")

	if got := testutil.ToFloat64(m.CandidateMAE.WithLabelValues("Prophet")); got != 3.25 {
		t.Errorf("Prophet MAE = %v, want 3.25", got)
	}
	if got := testutil.ToFloat64(m.CandidateFailures.WithLabelValues("Baseline")); got != 1 {
		t.Errorf("Baseline failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SelectedModel.WithLabelValues("RandomForest")); got != 1 {
		t.Errorf("RandomForest selected = %v, want 1", got)
	}

	m.ModelSelected("Prophet")
	if got := testutil.ToFloat64(m.SelectedModel.WithLabelValues("RandomForest")); got != 0 {
		t.Errorf("RandomForest selected after switch = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.SelectedModel.WithLabelValues("Prophet")); got != 1 {
		t.Errorf("Prophet selected = %v, want 1", got)
	}
}

func TestRecordGRPCRequest(t *testing.T) {
	m := New("test-grpc")

	m.RecordGRPCRequest("Train", "OK")
	m.RecordGRPCRequest("Train", "OK")
	m.RecordGRPCRequest("Forecast", "NotFound")

	if got := testutil.ToFloat64(m.GRPCRequestsTotal.WithLabelValues("Train", "OK")); got != 2 {
		t.Errorf("Train/OK = %v, want 2", got)
	}
	if count := testutil.CollectAndCount(m.GRPCRequestsTotal); count != 2 {
		t.Errorf("expected 2 label sets, got %d", count)
	}
}

func TestMetrics_GatheredFromDefaultRegistry(t *testing.T) {
	m := New("test-gather")
	m.RecordTrain(0.5)

	count, err := testutil.GatherAndCount(prometheus.DefaultGatherer, "demandcast_train_seconds")
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	if count == 0 {
		t.Error("expected demandcast_train_seconds to be registered")
	}
}
