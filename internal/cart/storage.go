package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// snapshotVersion tags the persisted shape. A stored snapshot with a different
// version is discarded and the cart starts empty.
const snapshotVersion = 1

// snapshot is the persisted form of a cart: the lines only, derived totals are
// recomputed on load.
type snapshot struct {
	Version int    `json:"version"`
	Lines   []Line `json:"lines"`
}

// ErrSnapshotMiss is returned when no snapshot exists for a session
var ErrSnapshotMiss = errors.New("cart snapshot miss")

// Storage persists cart snapshots per session
type Storage interface {
	Load(ctx context.Context, sessionID string) ([]Line, error)
	Save(ctx context.Context, sessionID string, lines []Line) error
	Delete(ctx context.Context, sessionID string) error
}

// RedisStorage keeps cart snapshots in redis
type RedisStorage struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStorage creates a redis-backed cart storage
func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{
		client: client,
		ttl:    30 * 24 * time.Hour,
	}
}

func (r *RedisStorage) Load(ctx context.Context, sessionID string) ([]Line, error) {
	data, err := r.client.Get(ctx, storageKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	return decodeSnapshot(data)
}

func (r *RedisStorage) Save(ctx context.Context, sessionID string, lines []Line) error {
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Lines: lines})
	if err != nil {
		return fmt.Errorf("marshal cart snapshot failed: %w", err)
	}

	if err := r.client.Set(ctx, storageKey(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, storageKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func storageKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// decodeSnapshot parses a stored snapshot. An undecodable or version-mismatched
// snapshot resets to an empty cart rather than failing.
func decodeSnapshot(data []byte) ([]Line, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil
	}
	if snap.Version != snapshotVersion {
		return nil, nil
	}
	return snap.Lines, nil
}

// MemoryStorage keeps cart snapshots in process memory. Used when redis is not
// configured and in tests.
type MemoryStorage struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemoryStorage creates an in-process cart storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		snaps: make(map[string][]byte),
	}
}

func (m *MemoryStorage) Load(_ context.Context, sessionID string) ([]Line, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.snaps[sessionID]
	if !ok {
		return nil, ErrSnapshotMiss
	}
	return decodeSnapshot(data)
}

func (m *MemoryStorage) Save(_ context.Context, sessionID string, lines []Line) error {
	data, err := json.Marshal(snapshot{Version: snapshotVersion, Lines: lines})
	if err != nil {
		return fmt.Errorf("marshal cart snapshot failed: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[sessionID] = data
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, sessionID)
	return nil
}
