package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "inkroom"

// RedisStoreConfig describes the dependencies of a RedisStore.
type RedisStoreConfig struct {
	Client    redis.UniversalClient
	KeyPrefix string
}

// RedisStore keeps one JSON value per room under "<prefix>:room:<roomID>".
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore constructs a store over a connected client.
func NewRedisStore(cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("persistence: redis client is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	return &RedisStore{client: cfg.Client, prefix: prefix}, nil
}

// Ping verifies that the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Load returns the stored snapshot for roomID.
func (s *RedisStore) Load(ctx context.Context, roomID string) (drawing.Snapshot, bool, error) {
	payload, err := s.client.Get(ctx, s.key(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return drawing.Snapshot{}, false, nil
	}
	if err != nil {
		return drawing.Snapshot{}, false, fmt.Errorf("persistence: load room %q: %w", roomID, err)
	}
	snapshot, err := decodeSnapshot(payload)
	if err != nil {
		return drawing.Snapshot{}, false, err
	}
	return snapshot, true, nil
}

// Save replaces the stored value for roomID.
func (s *RedisStore) Save(ctx context.Context, roomID string, snapshot drawing.Snapshot) error {
	payload, err := encodeSnapshot(snapshot)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(roomID), payload, 0).Err(); err != nil {
		return fmt.Errorf("persistence: save room %q: %w", roomID, err)
	}
	return nil
}

func (s *RedisStore) key(roomID string) string {
	return s.prefix + ":room:" + roomID
}
