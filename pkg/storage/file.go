package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Artifact file names inside a FileStore directory.
const (
	BestModelFile = "best_model.sz"
	ModelNameFile = "model_name"
	MetaFile      = "meta.json"
	CandidatesDir = "candidates"
)

// FileStore persists the artifact under a fixed directory. Each file is
// replaced atomically, but a concurrent reader may observe files from two
// different saves.
type FileStore struct {
	Dir string
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

// Save writes the encoded model, its name, metadata and optional candidates.
func (s *FileStore) Save(ctx context.Context, a Artifact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	metaJSON, err := json.MarshalIndent(metaOf(a), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	if err := writeFileAtomic(filepath.Join(s.Dir, BestModelFile), compress(a.State)); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(s.Dir, ModelNameFile), []byte(a.Model)); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(s.Dir, MetaFile), metaJSON); err != nil {
		return err
	}

	candDir := filepath.Join(s.Dir, CandidatesDir)
	if err := os.RemoveAll(candDir); err != nil {
		return fmt.Errorf("clear candidates: %w", err)
	}
	if len(a.Candidates) == 0 {
		return nil
	}
	if err := os.MkdirAll(candDir, 0o755); err != nil {
		return fmt.Errorf("create candidates dir: %w", err)
	}
	for name, state := range a.Candidates {
		if err := writeFileAtomic(filepath.Join(candDir, name+".sz"), compress(state)); err != nil {
			return err
		}
	}
	return nil
}

// Load reads the artifact back. A directory without a model name or encoded
// model yields ErrModelNotFound.
func (s *FileStore) Load(ctx context.Context) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	name, err := os.ReadFile(filepath.Join(s.Dir, ModelNameFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, ErrModelNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("read model name: %w", err)
	}

	raw, err := os.ReadFile(filepath.Join(s.Dir, BestModelFile))
	if errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, ErrModelNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("read model: %w", err)
	}
	state, err := decompress(raw)
	if err != nil {
		return Artifact{}, err
	}

	var m meta
	metaJSON, err := os.ReadFile(filepath.Join(s.Dir, MetaFile))
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Artifact{}, fmt.Errorf("read meta: %w", err)
	default:
		if err := json.Unmarshal(metaJSON, &m); err != nil {
			return Artifact{}, fmt.Errorf("parse meta: %w", err)
		}
	}

	a := m.Artifact
	a.Model = strings.TrimSpace(string(name))
	a.State = state

	entries, err := os.ReadDir(filepath.Join(s.Dir, CandidatesDir))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Artifact{}, fmt.Errorf("read candidates: %w", err)
	}
	for _, e := range entries {
		cand, ok := strings.CutSuffix(e.Name(), ".sz")
		if e.IsDir() || !ok {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.Dir, CandidatesDir, e.Name()))
		if err != nil {
			return Artifact{}, fmt.Errorf("read candidate %s: %w", cand, err)
		}
		data, err := decompress(raw)
		if err != nil {
			return Artifact{}, fmt.Errorf("candidate %s: %w", cand, err)
		}
		if a.Candidates == nil {
			a.Candidates = make(map[string][]byte)
		}
		a.Candidates[cand] = data
	}
	return a, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
