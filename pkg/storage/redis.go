package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by RedisStore.
const DefaultRedisPrefix = "demandcast:"

// RedisStore shares the artifact and snapshots between forecaster instances.
// Artifact keys mirror the FileStore layout; snapshots expire after ttl.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to addr. The connection is lazy; call Ping to verify it.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreWithClient(client, DefaultRedisPrefix, ttl), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(name string) string {
	return s.prefix + name
}

// Save replaces the artifact in a single MULTI/EXEC transaction.
func (s *RedisStore) Save(ctx context.Context, a Artifact) error {
	metaJSON, err := json.Marshal(metaOf(a))
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(BestModelFile), compress(a.State), 0)
		pipe.Set(ctx, s.key(ModelNameFile), a.Model, 0)
		pipe.Set(ctx, s.key(MetaFile), metaJSON, 0)
		pipe.Del(ctx, s.key(CandidatesDir))
		if len(a.Candidates) > 0 {
			fields := make(map[string]any, len(a.Candidates))
			for name, state := range a.Candidates {
				fields[name] = compress(state)
			}
			pipe.HSet(ctx, s.key(CandidatesDir), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save artifact: %w", err)
	}
	return nil
}

// Load reads the artifact or returns ErrModelNotFound.
func (s *RedisStore) Load(ctx context.Context) (Artifact, error) {
	name, err := s.client.Get(ctx, s.key(ModelNameFile)).Result()
	if errors.Is(err, redis.Nil) {
		return Artifact{}, ErrModelNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("redis get model name: %w", err)
	}

	raw, err := s.client.Get(ctx, s.key(BestModelFile)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Artifact{}, ErrModelNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("redis get model: %w", err)
	}
	state, err := decompress(raw)
	if err != nil {
		return Artifact{}, err
	}

	var m meta
	metaJSON, err := s.client.Get(ctx, s.key(MetaFile)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return Artifact{}, fmt.Errorf("redis get meta: %w", err)
	default:
		if err := json.Unmarshal(metaJSON, &m); err != nil {
			return Artifact{}, fmt.Errorf("parse meta: %w", err)
		}
	}

	a := m.Artifact
	a.Model = name
	a.State = state

	cands, err := s.client.HGetAll(ctx, s.key(CandidatesDir)).Result()
	if err != nil {
		return Artifact{}, fmt.Errorf("redis get candidates: %w", err)
	}
	for cand, raw := range cands {
		data, err := decompress([]byte(raw))
		if err != nil {
			return Artifact{}, fmt.Errorf("candidate %s: %w", cand, err)
		}
		if a.Candidates == nil {
			a.Candidates = make(map[string][]byte, len(cands))
		}
		a.Candidates[cand] = data
	}
	return a, nil
}

func (s *RedisStore) snapshotKey(series string) string {
	return s.prefix + "snapshot:" + series
}

// Put stores snap as JSON under the series key with the configured TTL.
func (s *RedisStore) Put(snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, s.snapshotKey(snap.Series), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis put snapshot: %w", err)
	}
	return nil
}

// GetLatest returns the snapshot for series if present and not expired.
func (s *RedisStore) GetLatest(series string) (Snapshot, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := s.client.Get(ctx, s.snapshotKey(series)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("redis get snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("parse snapshot: %w", err)
	}
	return snap, true, nil
}
