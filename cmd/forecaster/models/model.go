// Package models turns forecaster configuration into a training setup,
// validating candidate names against the model registry.
package models

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/HatiCode/demandcast/cmd/forecaster/config"
	"github.com/HatiCode/demandcast/pkg/models"
	"github.com/HatiCode/demandcast/pkg/training"
)

// New returns the training configuration for cfg. It exits when a
// configured candidate is not registered.
func New(cfg *config.Config, logger *slog.Logger) training.Config {
	tc, err := TrainingConfig(cfg)
	if err != nil {
		logger.Error("invalid model configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("model candidates configured",
		"candidates", tc.Candidates,
		"holdout", tc.Holdout,
		"lags", tc.Options.Lags,
		"trees", tc.Options.Trees,
		"seed", tc.Options.Seed,
	)
	return tc
}

// TrainingConfig builds and validates the training configuration.
func TrainingConfig(cfg *config.Config) (training.Config, error) {
	known := models.Names()
	for _, name := range cfg.Candidates {
		if !slices.Contains(known, name) {
			return training.Config{}, fmt.Errorf("%w %q (registered: %v)", models.ErrUnknownModel, name, known)
		}
	}
	if dup := duplicate(cfg.Candidates); dup != "" {
		return training.Config{}, fmt.Errorf("candidate %q listed twice", dup)
	}

	return training.Config{
		Candidates: slices.Clone(cfg.Candidates),
		Options: models.Options{
			Lags:          cfg.Lags,
			Trees:         cfg.Trees,
			Seed:          cfg.Seed,
			IntervalWidth: cfg.IntervalWidth,
		},
		Holdout:        cfg.Holdout,
		KeepCandidates: cfg.KeepCandidates,
	}, nil
}

func duplicate(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}
