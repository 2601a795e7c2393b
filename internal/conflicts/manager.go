// Package conflicts keeps local edits that a remote update would overwrite.
// Each archived state sits in an explicit queue until the user restores or
// discards it.
package conflicts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/terra-clan/assessment-engine/internal/history"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

// ErrConflictNotFound is returned when an archive key is not queued
var ErrConflictNotFound = errors.New("conflict not found")

// RestoredFunc is called after an archive was copied back into its slot
type RestoredFunc func(ctx context.Context, key string) error

// Manager archives, lists and resolves conflicts
type Manager struct {
	store      storage.Store
	identity   models.IdentityProvider
	now        func() time.Time
	onRestored RestoredFunc
}

// NewManager creates a conflict manager over store
func NewManager(store storage.Store, identity models.IdentityProvider) *Manager {
	if identity == nil {
		identity = models.StaticIdentity{}
	}
	return &Manager{
		store:    store,
		identity: identity,
		now:      time.Now,
	}
}

// WithClock replaces the time source
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// OnRestored registers the callback run after a successful Restore,
// typically the session reload of the active assessment.
func (m *Manager) OnRestored(fn RestoredFunc) {
	m.onRestored = fn
}

// Archive queues local verbatim inside tx and records a CONFLICT entry on
// incoming, the version about to replace it. It must run in the same
// transaction as the overwrite.
func (m *Manager) Archive(tx storage.Txn, local, incoming *models.AssessmentState) (models.ConflictRecord, error) {
	now := m.now()
	rec := models.NewConflictRecord(local.Key(), now)
	if err := tx.ArchiveConflict(models.ConflictEntry{Record: rec, State: local.Clone()}); err != nil {
		return models.ConflictRecord{}, fmt.Errorf("failed to archive conflict %s: %w", rec.Key, err)
	}

	details := fmt.Sprintf("Unsynced local changes archived as %s", rec.Key)
	history.Append(incoming, models.ActionConflict, details, m.actor(), incoming.ScoreValue(), now)

	slog.Warn("local changes archived before remote overwrite", "key", rec.OriginalKey, "archive", rec.Key)
	return rec, nil
}

// List returns every queued conflict, newest first
func (m *Manager) List(ctx context.Context) ([]models.ConflictEntry, error) {
	entries, err := m.store.ListConflicts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	return entries, nil
}

// Get returns one queued conflict
func (m *Manager) Get(ctx context.Context, archiveKey string) (*models.ConflictEntry, error) {
	entry, err := m.store.GetConflict(ctx, archiveKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, archiveKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict %s: %w", archiveKey, err)
	}
	return entry, nil
}

// Restore copies the archived content back into its primary slot as an
// unsynced edit, records RESOLVED and removes the archive. The history of
// the replaced record is kept and merged with the archived one.
func (m *Manager) Restore(ctx context.Context, archiveKey string) (*models.AssessmentState, error) {
	entry, err := m.Get(ctx, archiveKey)
	if err != nil {
		return nil, err
	}
	if entry.State == nil {
		return nil, fmt.Errorf("%w: %s has no archived state", storage.ErrCorruptRecord, archiveKey)
	}

	key := entry.Record.OriginalKey
	var restored *models.AssessmentState
	err = m.store.Update(ctx, key, func(tx storage.Txn) error {
		next := entry.State.Clone()
		next.Normalize()

		cur, err := tx.State()
		if err != nil && !errors.Is(err, storage.ErrCorruptRecord) {
			return err
		}
		if cur != nil {
			next.History = history.Merge(cur.History, next.History)
			if next.ID == "" {
				next.ID = cur.ID
			}
		}

		now := m.now()
		next.Synced = false
		next.UpdatedAt = now
		history.Append(next, models.ActionResolved, fmt.Sprintf("Restored archived version %s", archiveKey), m.actor(), next.ScoreValue(), now)

		if err := tx.PutState(next); err != nil {
			return err
		}
		restored = next
		return tx.DeleteConflict(archiveKey)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrConflictNotFound, archiveKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to restore conflict %s: %w", archiveKey, err)
	}

	slog.Info("conflict restored", "key", key, "archive", archiveKey)

	if m.onRestored != nil {
		if err := m.onRestored(ctx, key); err != nil {
			slog.Error("failed to reload restored assessment", "key", key, "error", err)
		}
	}
	return restored.Clone(), nil
}

// Discard removes an archive without touching the primary slot
func (m *Manager) Discard(ctx context.Context, archiveKey string) error {
	rec, err := models.ParseConflictKey(archiveKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConflictNotFound, err)
	}

	err = m.store.Update(ctx, rec.OriginalKey, func(tx storage.Txn) error {
		return tx.DeleteConflict(archiveKey)
	})
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrConflictNotFound, archiveKey)
	}
	if err != nil {
		return fmt.Errorf("failed to discard conflict %s: %w", archiveKey, err)
	}

	slog.Info("conflict discarded", "key", rec.OriginalKey, "archive", archiveKey)
	return nil
}

func (m *Manager) actor() string {
	return history.Actor(m.identity.CurrentUser())
}
