package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HatiCode/demandcast/pkg/models"
)

func sampleArtifact() Artifact {
	return Artifact{
		RunID:     "run-1",
		Model:     models.RandomForestName,
		TrainedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Scores: []Score{
			{Model: models.RandomForestName, MAE: 1.5},
			{Model: models.ProphetName, MAE: 2.25},
		},
		State: []byte(`{"lags":7}`),
		Candidates: map[string][]byte{
			models.RandomForestName: []byte(`{"lags":7}`),
			models.ProphetName:      []byte(`{"size":10}`),
		},
	}
}

func TestMemoryStore_LoadEmpty(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Load(context.Background()); !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Load() error = %v, want ErrModelNotFound", err)
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := sampleArtifact()

	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	// Mutating the caller's artifact must not leak into the store.
	in.State[0] = 'X'

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Model != models.RandomForestName || got.RunID != "run-1" {
		t.Errorf("Load() = %+v", got)
	}
	if string(got.State) != `{"lags":7}` {
		t.Errorf("State = %s, want original bytes", got.State)
	}
	if len(got.Scores) != 2 || got.Scores[1].MAE != 2.25 {
		t.Errorf("Scores = %+v", got.Scores)
	}

	replacement := sampleArtifact()
	replacement.Model = models.ProphetName
	replacement.Candidates = nil
	if err := s.Save(ctx, replacement); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, _ = s.Load(ctx)
	if got.Model != models.ProphetName || got.Candidates != nil {
		t.Errorf("second Save() did not replace the artifact: %+v", got)
	}
}

func TestMemoryStore_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := NewMemoryStore()
	if err := s.Save(ctx, sampleArtifact()); !errors.Is(err, context.Canceled) {
		t.Errorf("Save() error = %v, want context.Canceled", err)
	}
}

func TestMemoryStore_Snapshots(t *testing.T) {
	s := NewMemoryStore()

	if _, found, err := s.GetLatest("sales"); err != nil || found {
		t.Fatalf("GetLatest() on empty store = found %v, err %v", found, err)
	}

	snap := Snapshot{
		Series:      "sales",
		GeneratedAt: time.Now(),
		Forecast: models.Forecast{
			Model:  models.RandomForestName,
			Points: []models.ForecastPoint{{Date: time.Now(), Value: 3}},
		},
	}
	if err := s.Put(snap); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, found, err := s.GetLatest("sales")
	if err != nil || !found {
		t.Fatalf("GetLatest() found %v, err %v", found, err)
	}
	if got.Forecast.Points[0].Value != 3 {
		t.Errorf("GetLatest() = %+v", got)
	}
	if _, found, _ := s.GetLatest("other"); found {
		t.Error("GetLatest(other) found a snapshot")
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			_ = s.Save(ctx, sampleArtifact())
			_, _ = s.Load(ctx)
			_ = s.Put(Snapshot{Series: "sales"})
			_, _, _ = s.GetLatest("sales")
		})
	}
	wg.Wait()

	if _, err := s.Load(ctx); err != nil {
		t.Errorf("Load() error = %v", err)
	}
}
