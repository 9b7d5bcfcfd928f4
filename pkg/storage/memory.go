package storage

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps the artifact and snapshots in process memory.
// Data is lost on restart.
type MemoryStore struct {
	mu        sync.RWMutex
	artifact  *Artifact
	snapshots map[string]Snapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string]Snapshot)}
}

// Save replaces the stored artifact with a copy of a.
func (s *MemoryStore) Save(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.State = append([]byte(nil), a.State...)
	a.Scores = append([]Score(nil), a.Scores...)
	a.Candidates = maps.Clone(a.Candidates)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifact = &a
	return nil
}

// Load returns the stored artifact or ErrModelNotFound.
func (s *MemoryStore) Load(ctx context.Context) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifact == nil {
		return Artifact{}, ErrModelNotFound
	}
	return *s.artifact, nil
}

// Put stores snap as the latest snapshot for its series.
func (s *MemoryStore) Put(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Series] = snap
	return nil
}

// GetLatest returns the latest snapshot for series, if any.
func (s *MemoryStore) GetLatest(series string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[series]
	return snap, ok, nil
}
