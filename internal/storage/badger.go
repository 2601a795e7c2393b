package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/terra-clan/assessment-engine/internal/models"
)

const (
	statePrefix    = "state/"
	conflictPrefix = "conflict/"
	snapshotPrefix = "snapshot/"
	lastContextKey = "meta/last-context"
	lastSyncKey    = "meta/last-sync"
)

// BadgerConfig holds embedded store configuration
type BadgerConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *slog.Logger
}

// BadgerStore implements Store on an embedded BadgerDB
type BadgerStore struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens the store at cfg.Path, or in memory
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// NewInMemoryBadgerStore opens a throwaway store, mostly for tests
func NewInMemoryBadgerStore() (*BadgerStore, error) {
	return NewBadgerStore(BadgerConfig{InMemory: true})
}

// Ping checks the database is open
func (s *BadgerStore) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return nil
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// GetState retrieves the state stored under key
func (s *BadgerStore) GetState(ctx context.Context, key string) (*models.AssessmentState, error) {
	var st *models.AssessmentState
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		st, err = readState(txn, key)
		return err
	})
	return st, err
}

// ListStates returns every decodable state
func (s *BadgerStore) ListStates(ctx context.Context) ([]*models.AssessmentState, error) {
	var states []*models.AssessmentState
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(statePrefix), PrefetchValues: true, PrefetchSize: 50})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key()[len(statePrefix):])
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read state %s: %w", key, err)
			}
			st, err := decodeState(key, data)
			if err != nil {
				slog.Warn("skipping corrupt state", "key", key, "error", err)
				continue
			}
			states = append(states, st)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// Update runs fn in a badger read-write transaction, retrying on write conflicts.
// fn may run more than once and must derive its writes from tx.State().
func (s *BadgerStore) Update(ctx context.Context, key string, fn func(tx Txn) error) error {
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			return fn(&badgerTxn{txn: txn, key: key})
		})
		if errors.Is(err, badger.ErrConflict) {
			slog.Debug("retrying store update after conflict", "key", key, "attempt", attempt+1)
			continue
		}
		return err
	}
	return fmt.Errorf("%w: %s", ErrTxnConflict, key)
}

// GetConflict retrieves a queued conflict by its archive key
func (s *BadgerStore) GetConflict(ctx context.Context, archiveKey string) (*models.ConflictEntry, error) {
	rec, err := models.ParseConflictKey(archiveKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}

	var entry *models.ConflictEntry
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(conflictQueueKey(rec))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to get conflict: %w", err)
		}
		return item.Value(func(val []byte) error {
			entry, err = decodeConflict(archiveKey, val)
			return err
		})
	})
	return entry, err
}

// ListConflicts returns queued conflicts, newest first
func (s *BadgerStore) ListConflicts(ctx context.Context) ([]models.ConflictEntry, error) {
	entries := []models.ConflictEntry{}
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(conflictPrefix)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix, Reverse: true, PrefetchValues: true, PrefetchSize: 20})
		defer it.Close()

		for it.Seek(append(prefix, 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := string(item.Key())
			data, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("failed to read conflict %s: %w", key, err)
			}
			entry, err := decodeConflict(key, data)
			if err != nil {
				// Kept in the queue so it is never silently dropped
				slog.Warn("unreadable conflict entry", "key", key, "error", err)
				continue
			}
			entries = append(entries, *entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendSnapshot adds an entry to the global snapshot log
func (s *BadgerStore) AppendSnapshot(ctx context.Context, snap models.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%020d-%s", snapshotPrefix, snap.Date.UnixNano(), snap.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// ListSnapshots returns the snapshot log in chronological order
func (s *BadgerStore) ListSnapshots(ctx context.Context) ([]models.Snapshot, error) {
	snaps := []models.Snapshot{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(snapshotPrefix), PrefetchValues: true})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var snap models.Snapshot
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			})
			if err != nil {
				slog.Warn("skipping corrupt snapshot", "key", string(it.Item().Key()), "error", err)
				continue
			}
			snaps = append(snaps, snap)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snaps, nil
}

// LastContext returns the last active context, nil when none was recorded
func (s *BadgerStore) LastContext(ctx context.Context) (*models.AssessmentContext, error) {
	var c *models.AssessmentContext
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastContextKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get last context: %w", err)
		}
		return item.Value(func(val []byte) error {
			var decoded models.AssessmentContext
			if err := json.Unmarshal(val, &decoded); err != nil {
				// A bad pointer only loses the resume hint
				slog.Warn("discarding corrupt last context", "error", err)
				return nil
			}
			c = &decoded
			return nil
		})
	})
	return c, err
}

// SetLastContext records the last active context
func (s *BadgerStore) SetLastContext(ctx context.Context, c models.AssessmentContext) error {
	data, err := encode(c)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lastContextKey), data)
	})
}

// LastSyncTimestamp returns the sync checkpoint, empty when never synced
func (s *BadgerStore) LastSyncTimestamp(ctx context.Context) (string, error) {
	var ts string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(lastSyncKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get last sync timestamp: %w", err)
		}
		val, err := item.ValueCopy(nil)
		ts = string(val)
		return err
	})
	return ts, err
}

// SetLastSyncTimestamp advances the sync checkpoint
func (s *BadgerStore) SetLastSyncTimestamp(ctx context.Context, ts string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(lastSyncKey), []byte(ts))
	})
}

// badgerTxn implements Txn over a badger read-write transaction
type badgerTxn struct {
	txn *badger.Txn
	key string
}

func (t *badgerTxn) State() (*models.AssessmentState, error) {
	return readState(t.txn, t.key)
}

func (t *badgerTxn) PutState(st *models.AssessmentState) error {
	data, err := encode(st)
	if err != nil {
		return err
	}
	return t.txn.Set([]byte(statePrefix+t.key), data)
}

func (t *badgerTxn) ArchiveConflict(entry models.ConflictEntry) error {
	data, err := encode(entry)
	if err != nil {
		return err
	}
	return t.txn.Set(conflictQueueKey(entry.Record), data)
}

func (t *badgerTxn) DeleteConflict(archiveKey string) error {
	rec, err := models.ParseConflictKey(archiveKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	key := conflictQueueKey(rec)
	if _, err := t.txn.Get(key); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get conflict: %w", err)
	}
	return t.txn.Delete(key)
}

func readState(txn *badger.Txn, key string) (*models.AssessmentState, error) {
	item, err := txn.Get([]byte(statePrefix + key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return decodeState(key, data)
}

// conflictQueueKey orders the queue by archive time
func conflictQueueKey(rec models.ConflictRecord) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s", conflictPrefix, rec.Date.UnixNano(), rec.Key))
}
