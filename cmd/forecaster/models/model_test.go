package models

import (
	"errors"
	"slices"
	"testing"

	"github.com/HatiCode/demandcast/cmd/forecaster/config"
	"github.com/HatiCode/demandcast/pkg/models"
)

func TestTrainingConfig(t *testing.T) {
	cfg := &config.Config{
		Candidates:     []string{models.ProphetName, models.RandomForestName},
		Holdout:        14,
		Lags:           5,
		Trees:          50,
		Seed:           9,
		IntervalWidth:  0.9,
		KeepCandidates: true,
	}

	tc, err := TrainingConfig(cfg)
	if err != nil {
		t.Fatalf("TrainingConfig() error = %v", err)
	}
	if !slices.Equal(tc.Candidates, cfg.Candidates) {
		t.Errorf("Candidates = %v", tc.Candidates)
	}
	if tc.Holdout != 14 || !tc.KeepCandidates {
		t.Errorf("Holdout = %d KeepCandidates = %v", tc.Holdout, tc.KeepCandidates)
	}
	want := models.Options{Lags: 5, Trees: 50, Seed: 9, IntervalWidth: 0.9}
	if tc.Options != want {
		t.Errorf("Options = %+v, want %+v", tc.Options, want)
	}

	cfg.Candidates[0] = "mutated"
	if tc.Candidates[0] != models.ProphetName {
		t.Error("Candidates shares the config slice")
	}
}

func TestTrainingConfig_Errors(t *testing.T) {
	tests := []struct {
		name       string
		candidates []string
		unknown    bool
	}{
		{"unregistered", []string{"LSTM"}, true},
		{"duplicate", []string{models.ProphetName, models.ProphetName}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := TrainingConfig(&config.Config{Candidates: tt.candidates})
			if err == nil {
				t.Fatal("TrainingConfig() returned nil error")
			}
			if errors.Is(err, models.ErrUnknownModel) != tt.unknown {
				t.Errorf("errors.Is(ErrUnknownModel) = %v, want %v (%v)", !tt.unknown, tt.unknown, err)
			}
		})
	}
}
