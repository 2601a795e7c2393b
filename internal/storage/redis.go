package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// RedisConfig holds connection settings for the redis-backed store
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Prefix namespaces every key, so several agents can share one server
	Prefix string
}

// RedisStore implements Store on a redis server.
// States and conflict entries are JSON strings; the conflict queue is a
// sorted set scored by archive time and the snapshot log is a list.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "assessment-engine:"
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) stateKey(key string) string { return s.prefix + "state:" + key }
func (s *RedisStore) conflictKey(key string) string { return s.prefix + "conflict:" + key }
func (s *RedisStore) conflictQueue() string { return s.prefix + "conflicts" }
func (s *RedisStore) snapshotLog() string { return s.prefix + "snapshots" }
func (s *RedisStore) metaKey(name string) string { return s.prefix + "meta:" + name }

// Ping checks redis connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// GetState retrieves the state stored under key
func (s *RedisStore) GetState(ctx context.Context, key string) (*models.AssessmentState, error) {
	return getRedisState(ctx, s.client, s.stateKey(key), key)
}

// ListStates scans every state key
func (s *RedisStore) ListStates(ctx context.Context) ([]*models.AssessmentState, error) {
	var states []*models.AssessmentState
	pattern := s.stateKey("*")
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		rkey := iter.Val()
		key := strings.TrimPrefix(rkey, s.stateKey(""))
		st, err := getRedisState(ctx, s.client, rkey, key)
		if err != nil {
			if errors.Is(err, ErrCorruptRecord) {
				slog.Warn("skipping corrupt state", "key", key, "error", err)
				continue
			}
			return nil, err
		}
		if st != nil {
			states = append(states, st)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan states: %w", err)
	}
	return states, nil
}

// Update watches the slot key and commits the buffered writes in MULTI/EXEC,
// retrying when another client touched the slot in between.
func (s *RedisStore) Update(ctx context.Context, key string, fn func(tx Txn) error) error {
	rkey := s.stateKey(key)
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err := s.client.Watch(ctx, func(rtx *redis.Tx) error {
			t := &redisTxn{store: s, ctx: ctx, rtx: rtx, key: key}
			if err := fn(t); err != nil {
				return err
			}
			if len(t.ops) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, op := range t.ops {
					op(pipe)
				}
				return nil
			})
			return err
		}, rkey, s.conflictQueue())
		if errors.Is(err, redis.TxFailedErr) {
			slog.Debug("retrying store update after conflict", "key", key, "attempt", attempt+1)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrTxnConflict, key)
}

// GetConflict retrieves a queued conflict by its archive key
func (s *RedisStore) GetConflict(ctx context.Context, archiveKey string) (*models.ConflictEntry, error) {
	data, err := s.client.Get(ctx, s.conflictKey(archiveKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}
	return decodeConflict(archiveKey, data)
}

// ListConflicts returns queued conflicts, newest first
func (s *RedisStore) ListConflicts(ctx context.Context) ([]models.ConflictEntry, error) {
	keys, err := s.client.ZRevRange(ctx, s.conflictQueue(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}

	entries := []models.ConflictEntry{}
	for _, k := range keys {
		entry, err := s.GetConflict(ctx, k)
		if err != nil {
			slog.Warn("unreadable conflict entry", "key", k, "error", err)
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// AppendSnapshot pushes an entry onto the snapshot log
func (s *RedisStore) AppendSnapshot(ctx context.Context, snap models.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, s.snapshotLog(), data).Err(); err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

// ListSnapshots returns the snapshot log in insertion order
func (s *RedisStore) ListSnapshots(ctx context.Context) ([]models.Snapshot, error) {
	raw, err := s.client.LRange(ctx, s.snapshotLog(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	snaps := make([]models.Snapshot, 0, len(raw))
	for i, r := range raw {
		var snap models.Snapshot
		if err := json.Unmarshal([]byte(r), &snap); err != nil {
			slog.Warn("skipping corrupt snapshot", "index", i, "error", err)
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// LastContext returns the last active context, nil when none was recorded
func (s *RedisStore) LastContext(ctx context.Context) (*models.AssessmentContext, error) {
	data, err := s.client.Get(ctx, s.metaKey("last-context")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last context: %w", err)
	}
	var c models.AssessmentContext
	if err := json.Unmarshal(data, &c); err != nil {
		slog.Warn("discarding corrupt last context", "error", err)
		return nil, nil
	}
	return &c, nil
}

// SetLastContext records the last active context
func (s *RedisStore) SetLastContext(ctx context.Context, c models.AssessmentContext) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.metaKey("last-context"), data, 0).Err()
}

// LastSyncTimestamp returns the sync checkpoint, empty when never synced
func (s *RedisStore) LastSyncTimestamp(ctx context.Context) (string, error) {
	ts, err := s.client.Get(ctx, s.metaKey("last-sync")).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get last sync timestamp: %w", err)
	}
	return ts, nil
}

// SetLastSyncTimestamp advances the sync checkpoint
func (s *RedisStore) SetLastSyncTimestamp(ctx context.Context, ts string) error {
	return s.client.Set(ctx, s.metaKey("last-sync"), ts, 0).Err()
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// redisTxn reads through the watched connection and buffers writes for EXEC
type redisTxn struct {
	store *RedisStore
	ctx   context.Context
	rtx   *redis.Tx
	key   string
	ops   []func(pipe redis.Pipeliner)
}

func (t *redisTxn) State() (*models.AssessmentState, error) {
	return getRedisState(t.ctx, t.rtx, t.store.stateKey(t.key), t.key)
}

func (t *redisTxn) PutState(st *models.AssessmentState) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	rkey := t.store.stateKey(t.key)
	t.ops = append(t.ops, func(pipe redis.Pipeliner) {
		pipe.Set(t.ctx, rkey, data, 0)
	})
	return nil
}

func (t *redisTxn) ArchiveConflict(entry models.ConflictEntry) error {
	data, err := encode(entry)
	if err != nil {
		return err
	}
	member := entry.Record.Key
	score := float64(entry.Record.Date.UnixMilli())
	t.ops = append(t.ops, func(pipe redis.Pipeliner) {
		pipe.Set(t.ctx, t.store.conflictKey(member), data, 0)
		pipe.ZAdd(t.ctx, t.store.conflictQueue(), redis.Z{Score: score, Member: member})
	})
	return nil
}

func (t *redisTxn) DeleteConflict(archiveKey string) error {
	n, err := t.rtx.Exists(t.ctx, t.store.conflictKey(archiveKey)).Result()
	if err != nil {
		return fmt.Errorf("failed to check conflict: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	t.ops = append(t.ops, func(pipe redis.Pipeliner) {
		pipe.Del(t.ctx, t.store.conflictKey(archiveKey))
		pipe.ZRem(t.ctx, t.store.conflictQueue(), archiveKey)
	})
	return nil
}

func getRedisState(ctx context.Context, c stringGetter, rkey, key string) (*models.AssessmentState, error) {
	data, err := c.Get(ctx, rkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return decodeState(key, data)
}
