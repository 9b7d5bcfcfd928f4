// Package store provides storage backend initialization for the forecaster.
//
// This package is a factory for the two stores the service needs: the model
// store holding the best-model artifact and the snapshot store holding the
// latest forecast per series. Three backends are supported:
//
//   - memory: both stores in process. Everything is lost on restart.
//   - file: artifacts under a directory, snapshots in memory. The default,
//     and what the demandctl CLI reads and writes locally.
//   - redis: both stores in Redis, shared across replicas.
//
// Initialization is fail-fast: an unreachable backend exits the process.
package store

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/HatiCode/demandcast/cmd/forecaster/config"
	"github.com/HatiCode/demandcast/pkg/storage"
)

// Stores bundles the backends selected by configuration.
type Stores struct {
	Models    storage.ModelStore
	Snapshots storage.SnapshotStore
	close     func() error
}

// Close releases backend connections.
func (s Stores) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// Ready reports whether the backend is reachable, for health checks.
func (s Stores) Ready() error {
	if p, ok := s.Models.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return p.Ping(ctx)
	}
	return nil
}

// New creates the stores selected by cfg.Storage. It calls os.Exit(1) when
// the backend cannot be initialized.
func New(cfg *config.Config, logger *slog.Logger) Stores {
	stores, err := Open(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize storage", "storage", cfg.Storage, "error", err)
		os.Exit(1)
	}
	return stores
}

// Open is New without the exit.
func Open(cfg *config.Config, logger *slog.Logger) (Stores, error) {
	switch cfg.Storage {
	case "redis":
		logger.Info("initializing redis storage",
			"addr", cfg.RedisAddr,
			"db", cfg.RedisDB,
			"ttl", cfg.RedisTTL,
		)
		redisStore, err := storage.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		if err != nil {
			return Stores{}, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisStore.Ping(ctx); err != nil {
			_ = redisStore.Close()
			return Stores{}, err
		}
		logger.Info("redis storage initialized successfully")
		return Stores{Models: redisStore, Snapshots: redisStore, close: redisStore.Close}, nil

	case "file":
		logger.Info("initializing file storage", "dir", cfg.ModelDir)
		if err := os.MkdirAll(cfg.ModelDir, 0o755); err != nil {
			return Stores{}, err
		}
		return Stores{Models: storage.NewFileStore(cfg.ModelDir), Snapshots: storage.NewMemoryStore()}, nil

	case "memory":
		logger.Info("initializing in-memory storage")
		mem := storage.NewMemoryStore()
		return Stores{Models: mem, Snapshots: mem}, nil

	default:
		return Stores{}, &UnknownBackendError{Name: cfg.Storage}
	}
}

// UnknownBackendError names an unsupported storage backend.
type UnknownBackendError struct {
	Name string
}

func (e *UnknownBackendError) Error() string {
	return "unknown storage backend " + e.Name
}
