// Package metrics provides Prometheus instrumentation for the forecaster.
//
// Metrics exposed (all carry a constant "series" label):
//   - demandcast_adapter_collect_seconds: time spent collecting source data
//   - demandcast_train_seconds: duration of a full model selection run
//   - demandcast_forecast_seconds: duration of a forecast request
//   - demandcast_candidate_mae: last holdout MAE per candidate
//   - demandcast_candidate_failures_total: candidates that could not be scored
//   - demandcast_selected_model: 1 for the model currently persisted, 0 otherwise
//   - demandcast_forecast_age_seconds: age of the latest snapshot
//   - demandcast_errors_total: errors by component and reason
//   - demandcast_grpc_requests_total: gRPC requests by method and status code
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the forecaster collectors. It satisfies training.Observer.
type Metrics struct {
	AdapterCollectSeconds prometheus.Histogram
	TrainSeconds          prometheus.Histogram
	ForecastSeconds       prometheus.Histogram
	CandidateMAE          *prometheus.GaugeVec
	CandidateSeconds      *prometheus.HistogramVec
	CandidateFailures     *prometheus.CounterVec
	SelectedModel         *prometheus.GaugeVec
	ForecastAgeSeconds    prometheus.Gauge
	ErrorsTotal           *prometheus.CounterVec
	GRPCRequestsTotal     *prometheus.CounterVec

	selected string
}

// New registers the collectors for series with the default registry.
func New(series string) *Metrics {
	labels := prometheus.Labels{"series": series}

	return &Metrics{
		AdapterCollectSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "demandcast_adapter_collect_seconds",
			Help:        "Time spent collecting data from the source adapter",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		TrainSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "demandcast_train_seconds",
			Help:        "Duration of a model selection run",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		ForecastSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "demandcast_forecast_seconds",
			Help:        "Duration of a forecast request",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		CandidateMAE: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "demandcast_candidate_mae",
			Help:        "Holdout mean absolute error of each candidate in the last run",
			ConstLabels: labels,
		}, []string{"model"}),
		CandidateSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "demandcast_candidate_seconds",
			Help:        "Time spent fitting and scoring a candidate",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"model"}),
		CandidateFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "demandcast_candidate_failures_total",
			Help:        "Candidates that failed to fit or score",
			ConstLabels: labels,
		}, []string{"model"}),
		SelectedModel: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "demandcast_selected_model",
			Help:        "1 for the model persisted by the last successful run",
			ConstLabels: labels,
		}, []string{"model"}),
		ForecastAgeSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "demandcast_forecast_age_seconds",
			Help:        "Age of the latest forecast snapshot in seconds",
			ConstLabels: labels,
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "demandcast_errors_total",
			Help:        "Total number of errors by component and reason",
			ConstLabels: labels,
		}, []string{"component", "reason"}),
		GRPCRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "demandcast_grpc_requests_total",
			Help:        "Total number of gRPC requests by method and status",
			ConstLabels: labels,
		}, []string{"method", "code"}),
	}
}

func (m *Metrics) RecordCollect(seconds float64) {
	m.AdapterCollectSeconds.Observe(seconds)
}

func (m *Metrics) RecordTrain(seconds float64) {
	m.TrainSeconds.Observe(seconds)
}

func (m *Metrics) RecordForecast(seconds float64) {
	m.ForecastSeconds.Observe(seconds)
}

func (m *Metrics) SetForecastAge(seconds float64) {
	m.ForecastAgeSeconds.Set(seconds)
}

func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func (m *Metrics) RecordGRPCRequest(method, code string) {
	m.GRPCRequestsTotal.WithLabelValues(method, code).Inc()
}

// CandidateScored implements training.Observer.
func (m *Metrics) CandidateScored(name string, mae float64, took time.Duration) {
	m.CandidateMAE.WithLabelValues(name).Set(mae)
	m.CandidateSeconds.WithLabelValues(name).Observe(took.Seconds())
}

// CandidateFailed implements training.Observer.
func (m *Metrics) CandidateFailed(name string, _ error) {
	m.CandidateFailures.WithLabelValues(name).Inc()
}

// ModelSelected implements training.Observer. Runs are serialised by the
// caller, so selected needs no lock.
func (m *Metrics) ModelSelected(name string) {
	if m.selected != "" && m.selected != name {
		m.SelectedModel.WithLabelValues(m.selected).Set(0)
	}
	m.SelectedModel.WithLabelValues(name).Set(1)
	m.selected = name
}
