package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/HatiCode/demandcast/cmd/forecaster/metrics"
	"github.com/HatiCode/demandcast/pkg/adapters"
	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/forecasting"
	"github.com/HatiCode/demandcast/pkg/models"
	"github.com/HatiCode/demandcast/pkg/storage"
	"github.com/HatiCode/demandcast/pkg/timeseries"
	"github.com/HatiCode/demandcast/pkg/training"
)

// Service wires training, forecasting and snapshots together. It backs the
// HTTP and gRPC APIs and, with an adapter, the scheduled loop:
// collect → build series → train → forecast → store snapshot.
type Service struct {
	series      string
	adapter     adapters.Adapter
	builder     *features.Builder
	trainer     *training.Trainer
	forecaster  *forecasting.Forecaster
	snapshots   storage.SnapshotStore
	horizonDays int
	window      time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger

	// Serialises training runs so the artifact and selection metrics move together.
	trainMu sync.Mutex
}

// New creates a Service. adapter may be nil when only the APIs are served.
func New(
	series string,
	adapter adapters.Adapter,
	modelStore storage.ModelStore,
	snapshots storage.SnapshotStore,
	trainCfg training.Config,
	horizonDays int,
	window time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		series:      series,
		adapter:     adapter,
		builder:     features.NewBuilder(),
		trainer:     training.New(modelStore, trainCfg, logger).WithObserver(m),
		forecaster:  forecasting.New(modelStore, logger),
		snapshots:   snapshots,
		horizonDays: horizonDays,
		window:      window,
		metrics:     m,
		logger:      logger,
	}
}

// Train runs model selection on s and persists the winner.
func (s *Service) Train(ctx context.Context, series timeseries.Series) (*training.Result, error) {
	s.trainMu.Lock()
	defer s.trainMu.Unlock()

	start := time.Now()
	res, err := s.trainer.Train(ctx, series)
	s.metrics.RecordTrain(time.Since(start).Seconds())
	if err != nil {
		s.recordError("trainer", err)
		return nil, err
	}
	return res, nil
}

// Forecast predicts days values continuing series with the stored best model.
func (s *Service) Forecast(ctx context.Context, series timeseries.Series, days int) (*models.Forecast, error) {
	start := time.Now()
	fc, err := s.forecaster.Forecast(ctx, series, days)
	s.metrics.RecordForecast(time.Since(start).Seconds())
	if err != nil {
		s.recordError("forecaster", err)
		return nil, err
	}
	return fc, nil
}

// Put stores a snapshot.
func (s *Service) Put(snap storage.Snapshot) error {
	return s.snapshots.Put(snap)
}

// GetLatest returns the latest snapshot for series and refreshes the
// forecast age gauge for the scheduled series.
func (s *Service) GetLatest(series string) (storage.Snapshot, bool, error) {
	snap, found, err := s.snapshots.GetLatest(series)
	if err == nil && found && series == s.series {
		s.metrics.SetForecastAge(time.Since(snap.GeneratedAt).Seconds())
	}
	return snap, found, err
}

// Run executes Tick at regular intervals until ctx is canceled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	if s.adapter == nil {
		return errors.New("scheduled mode needs a data source")
	}
	s.logger.Info("starting forecast loop", "interval", interval, "adapter", s.adapter.Name())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.Tick(ctx); err != nil {
		s.logger.Error("forecast tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("forecast loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.Error("forecast tick failed", "error", err)
			}
		}
	}
}

// Tick performs one scheduled cycle. A failed training run keeps the
// previously stored model; the forecast still runs against it.
func (s *Service) Tick(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("starting forecast tick")

	series, collectDuration, err := s.collect(ctx)
	if err != nil {
		return err
	}

	trainStart := time.Now()
	if res, err := s.Train(ctx, series); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Warn("training failed, keeping stored model", "error", err)
	} else {
		s.logger.Debug("trained", "model", res.BestName, "run_id", res.RunID)
	}
	trainDuration := time.Since(trainStart)

	predictStart := time.Now()
	fc, err := s.Forecast(ctx, series, s.horizonDays)
	if err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	predictDuration := time.Since(predictStart)

	snap := storage.Snapshot{Series: s.series, GeneratedAt: time.Now().UTC(), Forecast: *fc}
	if err := s.Put(snap); err != nil {
		s.metrics.RecordError("store", "put_failed")
		return fmt.Errorf("store: %w", err)
	}
	s.metrics.SetForecastAge(0)

	s.logger.Info("forecast tick complete",
		"series", s.series,
		"model", fc.Model,
		"points", series.Len(),
		"forecast_points", len(fc.Points),
		"collect_ms", collectDuration.Milliseconds(),
		"train_ms", trainDuration.Milliseconds(),
		"predict_ms", predictDuration.Milliseconds(),
		"total_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// collect retrieves raw rows from the adapter and regularises them.
func (s *Service) collect(ctx context.Context) (timeseries.Series, time.Duration, error) {
	start := time.Now()

	df, err := s.adapter.Collect(ctx, int(s.window.Seconds()))
	if err != nil {
		s.metrics.RecordError("adapter", "collect_failed")
		return timeseries.Series{}, 0, fmt.Errorf("collect: %w", err)
	}

	series, err := s.builder.BuildSeries(s.series, *df)
	if err != nil {
		s.metrics.RecordError("features", "build_failed")
		return timeseries.Series{}, 0, fmt.Errorf("build series: %w", err)
	}

	duration := time.Since(start)
	s.metrics.RecordCollect(duration.Seconds())
	s.logger.Debug("collected series",
		"adapter", s.adapter.Name(),
		"rows", len(df.Rows),
		"points", series.Len(),
		"duration_ms", duration.Milliseconds(),
	)
	return series, duration, nil
}

func (s *Service) recordError(component string, err error) {
	reason := "failed"
	switch {
	case errors.Is(err, storage.ErrModelNotFound):
		reason = "model_not_found"
	case errors.Is(err, forecasting.ErrInvalidHorizon):
		reason = "invalid_horizon"
	case training.IsNoModelTrained(err):
		reason = "no_model_trained"
	case features.IsInsufficientData(err):
		reason = "insufficient_data"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		reason = "canceled"
	}
	s.metrics.RecordError(component, reason)
}
