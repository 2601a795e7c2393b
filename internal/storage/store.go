package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/terra-clan/assessment-engine/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrCorruptRecord is returned when a stored record cannot be decoded
	ErrCorruptRecord = errors.New("corrupt record")
	// ErrTxnConflict is returned when an update kept losing to concurrent writers
	ErrTxnConflict = errors.New("transaction conflict")
)

// maxTxnRetries bounds optimistic transaction retries
const maxTxnRetries = 5

// Store is the local, offline-first persistence of assessment slots.
// One state is kept per context key, plus the conflict queue, the
// global snapshot log and a few metadata pointers.
type Store interface {
	// GetState returns nil, nil when the key has no state.
	// An undecodable record yields an error wrapping ErrCorruptRecord.
	GetState(ctx context.Context, key string) (*models.AssessmentState, error)
	// ListStates returns every decodable state; corrupt records are skipped.
	ListStates(ctx context.Context) ([]*models.AssessmentState, error)
	// Update runs fn as one atomic read-modify-write on the slot for key.
	// Writes made through tx are committed together or not at all.
	Update(ctx context.Context, key string, fn func(tx Txn) error) error

	// Conflicts. GetConflict returns ErrNotFound for an unknown archive key.
	GetConflict(ctx context.Context, archiveKey string) (*models.ConflictEntry, error)
	ListConflicts(ctx context.Context) ([]models.ConflictEntry, error)

	// Snapshots
	AppendSnapshot(ctx context.Context, snap models.Snapshot) error
	ListSnapshots(ctx context.Context) ([]models.Snapshot, error)

	// Metadata
	LastContext(ctx context.Context) (*models.AssessmentContext, error)
	SetLastContext(ctx context.Context, c models.AssessmentContext) error
	LastSyncTimestamp(ctx context.Context) (string, error)
	SetLastSyncTimestamp(ctx context.Context, ts string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// Txn is the view of one slot inside Store.Update
type Txn interface {
	// State returns the current state, nil when absent
	State() (*models.AssessmentState, error)
	PutState(st *models.AssessmentState) error
	// ArchiveConflict enqueues a conflict entry
	ArchiveConflict(entry models.ConflictEntry) error
	// DeleteConflict removes a queued conflict; ErrNotFound if absent
	DeleteConflict(archiveKey string) error
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}

func decodeState(key string, data []byte) (*models.AssessmentState, error) {
	var st models.AssessmentState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	st.Normalize()
	return &st, nil
}

func decodeConflict(key string, data []byte) (*models.ConflictEntry, error) {
	var entry models.ConflictEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, key, err)
	}
	if entry.State != nil {
		entry.State.Normalize()
	}
	return &entry, nil
}
