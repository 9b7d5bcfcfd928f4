package models

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/HatiCode/demandcast/pkg/features"
	"github.com/HatiCode/demandcast/pkg/timeseries"
)

func TestLagEnsemble_Evaluate_Constant(t *testing.T) {
	m := NewLagEnsemble(Options{})
	eval, err := m.Evaluate(context.Background(), syntheticConstant(40, 100), 30)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if len(eval.Predicted) != 30 || len(eval.Actual) != 30 {
		t.Errorf("scored %d/%d rows, want 30", len(eval.Predicted), len(eval.Actual))
	}
	if eval.MAE > 1e-9 {
		t.Errorf("MAE = %v, want 0", eval.MAE)
	}
}

func TestLagEnsemble_Forecast_Constant(t *testing.T) {
	ctx := context.Background()
	s := syntheticConstant(40, 100)
	m := NewLagEnsemble(Options{})
	if _, err := m.Evaluate(ctx, s, 30); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	fc, err := m.Forecast(ctx, s, 14)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	if fc.Model != RandomForestName || fc.HasBounds {
		t.Errorf("Forecast() model = %q bounds = %v", fc.Model, fc.HasBounds)
	}
	if len(fc.Points) != 14 {
		t.Fatalf("len(Points) = %d, want 14", len(fc.Points))
	}
	for i, p := range fc.Points {
		if math.Abs(p.Value-100) > 1e-6 {
			t.Errorf("Points[%d] = %v, want ~100", i, p.Value)
		}
	}
}

func TestLagEnsemble_Forecast_LinearTrend(t *testing.T) {
	ctx := context.Background()
	s := syntheticLinear(40, 1, 1, 0)
	m := NewLagEnsemble(Options{})
	if _, err := m.Evaluate(ctx, s, 30); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	fc, err := m.Forecast(ctx, s, 10)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}

	last := s.Last().Value
	values := fc.Values()
	for i, v := range values {
		if v < last {
			t.Errorf("value[%d] = %.2f < %.2f (last input), want >= last", i, v, last)
		}
		if i > 0 && v < values[i-1] {
			t.Errorf("values not non-decreasing: value[%d]=%.2f < value[%d]=%.2f", i, v, i-1, values[i-1])
		}
	}
}

func TestLagEnsemble_Forecast_Dates(t *testing.T) {
	ctx := context.Background()
	s := syntheticLinear(60, 2, 10, 5)
	m := NewLagEnsemble(Options{Trees: 10})
	if _, err := m.Evaluate(ctx, s, 30); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	fc, err := m.Forecast(ctx, s, 7)
	if err != nil {
		t.Fatalf("Forecast() error = %v", err)
	}
	prev := s.Last().Date
	for i, p := range fc.Points {
		if !p.Date.After(s.Last().Date) {
			t.Errorf("Points[%d].Date = %v, not after last history date %v", i, p.Date, s.Last().Date)
		}
		if p.Date.Sub(prev) != timeseries.Day {
			t.Errorf("Points[%d].Date = %v, want the day after %v", i, p.Date, prev)
		}
		prev = p.Date
	}
}

func TestLagEnsemble_Forecast_ShortHistory(t *testing.T) {
	ctx := context.Background()
	m := NewLagEnsemble(Options{Trees: 5})
	if _, err := m.Evaluate(ctx, syntheticConstant(40, 1), 30); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	_, err := m.Forecast(ctx, syntheticConstant(5, 1), 3)
	var ide *features.InsufficientDataError
	if !errors.As(err, &ide) {
		t.Fatalf("Forecast() error = %v, want InsufficientDataError", err)
	}
	if ide.Need != 7 {
		t.Errorf("Need = %d, want 7", ide.Need)
	}
}

func TestLagEnsemble_Forecast_NotFitted(t *testing.T) {
	m := NewLagEnsemble(Options{})
	if _, err := m.Forecast(context.Background(), syntheticConstant(40, 1), 3); err == nil {
		t.Error("Forecast() error = nil, want error for unfitted model")
	}
}

func TestLagEnsemble_Evaluate_NoTrainingRows(t *testing.T) {
	// 35 points: the first held-out day is index 5, before any lag row exists.
	_, err := NewLagEnsemble(Options{}).Evaluate(context.Background(), syntheticConstant(35, 1), 30)
	if !features.IsInsufficientData(err) {
		t.Errorf("Evaluate() error = %v, want InsufficientDataError", err)
	}
}

func TestLagEnsemble_Forecast_ContextCancellation(t *testing.T) {
	s := syntheticConstant(40, 100)
	m := NewLagEnsemble(Options{Trees: 5})
	if _, err := m.Evaluate(context.Background(), s, 30); err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Forecast(ctx, s, 3); !errors.Is(err, context.Canceled) {
		t.Errorf("Forecast() error = %v, want %v", err, context.Canceled)
	}
}
