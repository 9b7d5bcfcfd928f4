// Package training evaluates candidate models on a holdout split, selects
// the one with the lowest mean absolute error and persists it.
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HatiCode/demandcast/pkg/models"
	"github.com/HatiCode/demandcast/pkg/storage"
	"github.com/HatiCode/demandcast/pkg/timeseries"
)

// DefaultHoldout is the number of trailing points held out for scoring.
const DefaultHoldout = 30

// DefaultCandidates is the evaluation order used when none is configured.
// Ties in MAE go to the earlier candidate.
var DefaultCandidates = []string{models.RandomForestName, models.ProphetName}

// ErrNonFiniteScore marks a candidate whose holdout MAE is NaN or infinite.
var ErrNonFiniteScore = errors.New("non-finite score")

// CandidateFailure records why a candidate could not be scored.
type CandidateFailure struct {
	Candidate string
	Err       error
}

func (f *CandidateFailure) Error() string {
	return fmt.Sprintf("candidate %s failed: %v", f.Candidate, f.Err)
}

func (f *CandidateFailure) Unwrap() error {
	return f.Err
}

// NoModelTrainedError is returned when every candidate failed.
type NoModelTrainedError struct {
	Failures []CandidateFailure
}

func (e *NoModelTrainedError) Error() string {
	if len(e.Failures) == 0 {
		return "no model trained: no candidates configured"
	}
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return "no model trained: " + strings.Join(parts, "; ")
}

func (e *NoModelTrainedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i := range e.Failures {
		errs[i] = &e.Failures[i]
	}
	return errs
}

// IsNoModelTrained reports whether err wraps a NoModelTrainedError.
func IsNoModelTrained(err error) bool {
	var target *NoModelTrainedError
	return errors.As(err, &target)
}

// Result describes a completed training run.
type Result struct {
	RunID     string
	TrainedAt time.Time
	Best      models.Model
	BestName  string
	// Scores are in evaluation order.
	Scores   []storage.Score
	Failures []CandidateFailure
}

// Observer is notified about each candidate outcome. Metrics hook in here.
type Observer interface {
	CandidateScored(name string, mae float64, took time.Duration)
	CandidateFailed(name string, err error)
	ModelSelected(name string)
}

// Config controls a Trainer.
type Config struct {
	// Candidates lists registered model names in evaluation order.
	Candidates []string
	Options    models.Options
	Holdout    int
	// KeepCandidates persists every successful candidate alongside the winner.
	KeepCandidates bool
}

// Trainer runs model selection and persists the winner.
type Trainer struct {
	store    storage.ModelStore
	cfg      Config
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// New creates a trainer writing to store.
func New(store storage.ModelStore, cfg Config, logger *slog.Logger) *Trainer {
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = DefaultCandidates
	}
	if cfg.Holdout <= 0 {
		cfg.Holdout = DefaultHoldout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{
		store:  store,
		cfg:    cfg,
		logger: logger.With("component", "trainer"),
		now:    time.Now,
	}
}

// WithObserver attaches an observer and returns the trainer.
func (t *Trainer) WithObserver(o Observer) *Trainer {
	t.observer = o
	return t
}

// Train evaluates every candidate on s, keeps the lowest MAE and saves it.
// Candidate errors are collected, not returned, unless all candidates fail;
// then a NoModelTrainedError is returned and the store is left untouched.
func (t *Trainer) Train(ctx context.Context, s timeseries.Series) (*Result, error) {
	res := &Result{
		RunID:     uuid.NewString(),
		TrainedAt: t.now().UTC(),
	}
	logger := t.logger.With("run_id", res.RunID, "series", s.Name)
	logger.Info("training started", "points", s.Len(), "holdout", t.cfg.Holdout, "candidates", t.cfg.Candidates)

	fitted := make(map[string]models.Model, len(t.cfg.Candidates))
	bestMAE := 0.0

	for _, name := range t.cfg.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		m, eval, err := t.evaluate(ctx, name, s)
		took := time.Since(start)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failure := CandidateFailure{Candidate: name, Err: err}
			res.Failures = append(res.Failures, failure)
			logger.Warn("candidate failed", "candidate", name, "error", err)
			if t.observer != nil {
				t.observer.CandidateFailed(name, err)
			}
			continue
		}

		logger.Info("candidate scored", "candidate", name, "mae", eval.MAE, "duration_ms", took.Milliseconds())
		if t.observer != nil {
			t.observer.CandidateScored(name, eval.MAE, took)
		}
		res.Scores = append(res.Scores, storage.Score{Model: name, MAE: eval.MAE})
		fitted[name] = m

		if res.Best == nil || eval.MAE < bestMAE {
			res.Best = m
			res.BestName = name
			bestMAE = eval.MAE
		}
	}

	if res.Best == nil {
		err := &NoModelTrainedError{Failures: res.Failures}
		logger.Error("training failed", "error", err)
		return nil, err
	}

	if err := t.persist(ctx, res, fitted); err != nil {
		return nil, err
	}

	logger.Info("model selected", "model", res.BestName, "mae", bestMAE)
	if t.observer != nil {
		t.observer.ModelSelected(res.BestName)
	}
	return res, nil
}

func (t *Trainer) evaluate(ctx context.Context, name string, s timeseries.Series) (models.Model, models.Evaluation, error) {
	m, err := models.New(name, t.cfg.Options)
	if err != nil {
		return nil, models.Evaluation{}, err
	}
	eval, err := m.Evaluate(ctx, s, t.cfg.Holdout)
	if err != nil {
		return nil, models.Evaluation{}, err
	}
	if math.IsNaN(eval.MAE) || math.IsInf(eval.MAE, 0) {
		return nil, models.Evaluation{}, fmt.Errorf("%w: holdout MAE is %v", ErrNonFiniteScore, eval.MAE)
	}
	return m, eval, nil
}

func (t *Trainer) persist(ctx context.Context, res *Result, fitted map[string]models.Model) error {
	state, err := models.Encode(res.Best)
	if err != nil {
		return err
	}

	artifact := storage.Artifact{
		RunID:     res.RunID,
		Model:     res.BestName,
		TrainedAt: res.TrainedAt,
		Scores:    res.Scores,
		State:     state,
	}
	if t.cfg.KeepCandidates {
		artifact.Candidates = make(map[string][]byte, len(fitted))
		for name, m := range fitted {
			data, err := models.Encode(m)
			if err != nil {
				return err
			}
			artifact.Candidates[name] = data
		}
	}

	if err := t.store.Save(ctx, artifact); err != nil {
		return fmt.Errorf("save model: %w", err)
	}
	return nil
}
