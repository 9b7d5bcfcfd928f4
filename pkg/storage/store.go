// Package storage persists the best-model artifact and the latest forecast
// snapshot per series.
package storage

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/HatiCode/demandcast/pkg/models"
)

// ErrModelNotFound is returned by Load when no artifact has been saved.
var ErrModelNotFound = errors.New("model not found")

// Score is one candidate's holdout MAE.
type Score struct {
	Model string  `json:"model"`
	MAE   float64 `json:"mae"`
}

// Artifact is the persisted outcome of a training run.
type Artifact struct {
	RunID     string    `json:"run_id"`
	Model     string    `json:"model"`
	TrainedAt time.Time `json:"trained_at"`
	Scores    []Score   `json:"scores"`
	// State is the encoded best model, decodable with models.Decode(Model, State).
	State []byte `json:"-"`
	// Candidates holds every successful candidate's state when requested.
	Candidates map[string][]byte `json:"-"`
}

// ModelStore saves and loads the single best-model artifact. Save replaces
// whatever was stored before.
type ModelStore interface {
	Save(ctx context.Context, a Artifact) error
	Load(ctx context.Context) (Artifact, error)
}

// Snapshot is the latest forecast produced for a series.
type Snapshot struct {
	Series      string          `json:"series"`
	GeneratedAt time.Time       `json:"generated_at"`
	Forecast    models.Forecast `json:"forecast"`
}

// SnapshotStore keeps the latest snapshot per series.
type SnapshotStore interface {
	Put(Snapshot) error
	GetLatest(series string) (Snapshot, bool, error)
}

// meta is the artifact metadata written next to the encoded model.
type meta struct {
	Artifact
	CandidateNames []string `json:"candidates,omitempty"`
}

func metaOf(a Artifact) meta {
	return meta{Artifact: a, CandidateNames: slices.Sorted(maps.Keys(a.Candidates))}
}
