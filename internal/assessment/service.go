// Package assessment holds the active assessment session: loading and saving
// slots, the lifecycle state machine and every guarded content mutation.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/assessment-engine/internal/history"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/scoring"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

// Common errors
var (
	ErrLocked            = errors.New("assessment is locked")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNoActiveContext   = errors.New("no active assessment")
	ErrInvalidContext    = errors.New("invalid assessment context")
	ErrInvalidAnswer     = errors.New("invalid answer value")
	ErrUnknownQuestion   = errors.New("unknown question")
	ErrActionNotFound    = errors.New("action not found")
	ErrInvalidAction     = errors.New("invalid action")
	ErrPlanNotConfirmed  = errors.New("action plan preview not confirmed")
	ErrPlanMismatch      = errors.New("action plan preview belongs to another assessment")
)

// SyncTrigger is invoked after transitions that should reach the remote promptly
type SyncTrigger func(ctx context.Context)

// ListEntry is one persisted slot as returned by ListAll
type ListEntry struct {
	Key     string                   `json:"key"`
	Context models.AssessmentContext `json:"context"`
	State   *models.AssessmentState  `json:"state"`
}

// Service owns the active assessment session
type Service struct {
	store    storage.Store
	tree     *models.QuestionTree
	identity models.IdentityProvider
	now      func() time.Time
	newID    func() string
	onSync   SyncTrigger

	mu     sync.Mutex
	active *models.AssessmentState
}

// Option configures a Service
type Option func(*Service)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDSource replaces the identifier source used for actions and snapshots
func WithIDSource(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithSyncTrigger sets the hook run after submit, validate and reset
func WithSyncTrigger(fn SyncTrigger) Option {
	return func(s *Service) { s.onSync = fn }
}

// NewService creates a Service. identity may return nil for offline use.
func NewService(store storage.Store, tree *models.QuestionTree, identity models.IdentityProvider, opts ...Option) *Service {
	if identity == nil {
		identity = models.StaticIdentity{}
	}
	s := &Service{
		store:    store,
		tree:     tree,
		identity: identity,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetSyncTrigger installs the sync hook after construction
func (s *Service) SetSyncTrigger(fn SyncTrigger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSync = fn
}

// Tree returns the questionnaire in use
func (s *Service) Tree() *models.QuestionTree {
	return s.tree
}

// Load opens the slot for c, creating and persisting a fresh DRAFT exactly once
// when none exists. A corrupt record is replaced by a fresh DRAFT.
func (s *Service) Load(ctx context.Context, c models.AssessmentContext) (*models.AssessmentState, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.Key()
	var loaded *models.AssessmentState
	err := s.store.Update(ctx, key, func(tx storage.Txn) error {
		cur, err := tx.State()
		switch {
		case errors.Is(err, storage.ErrCorruptRecord):
			slog.Warn("discarding corrupt assessment", "key", key, "error", err)
		case err != nil:
			return err
		case cur != nil:
			loaded = cur
			return nil
		}

		fresh := models.NewAssessmentState(c, s.now())
		fresh.Score = models.IntPtr(0)
		history.Append(fresh, models.ActionCreated, "Assessment created", s.actor(), 0, fresh.CreatedAt)
		loaded = fresh
		return tx.PutState(fresh)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load assessment %s: %w", key, err)
	}

	if err := s.store.SetLastContext(ctx, c); err != nil {
		slog.Warn("failed to record last context", "key", key, "error", err)
	}

	s.active = loaded
	slog.Debug("assessment loaded", "key", key, "status", loaded.Status)
	return loaded.Clone(), nil
}

// ResumeLast loads the last active context; nil when none was recorded
func (s *Service) ResumeLast(ctx context.Context) (*models.AssessmentState, error) {
	last, err := s.store.LastContext(ctx)
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, nil
	}
	return s.Load(ctx, *last)
}

// Save persists st as a local edit: the score is recomputed, updatedAt
// advanced and the record marked unsynced. The context becomes last active.
// A locked record is rejected with ErrLocked. Status, lifecycle metadata and
// history always come from the stored record; only transitions change them.
func (s *Service) Save(ctx context.Context, st *models.AssessmentState) (*models.AssessmentState, error) {
	if err := st.Context.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := st.Clone()
	next.Normalize()

	key := next.Key()
	err := s.store.Update(ctx, key, func(tx storage.Txn) error {
		cur, err := tx.State()
		if errors.Is(err, storage.ErrCorruptRecord) {
			slog.Warn("overwriting corrupt assessment", "key", key, "error", err)
			cur, err = nil, nil
		}
		if err != nil {
			return err
		}
		if cur == nil {
			cur = &models.AssessmentState{Status: models.StatusDraft, History: next.History}
		}
		if !cur.CanEdit() {
			return ErrLocked
		}

		next.Status = cur.Status
		next.SubmittedBy, next.SubmittedAt = cur.SubmittedBy, cur.SubmittedAt
		next.ValidatedBy, next.ValidatedAt = cur.ValidatedBy, cur.ValidatedAt
		next.History = cur.History
		s.touch(next)
		return tx.PutState(next)
	})
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to save assessment %s: %w", key, err)
	}

	if err := s.store.SetLastContext(ctx, next.Context); err != nil {
		slog.Warn("failed to record last context", "key", key, "error", err)
	}

	if s.active != nil && s.active.Key() == key {
		s.active = next
	}
	return next.Clone(), nil
}

// ClearActiveContext closes the session; the persisted record is untouched
func (s *Service) ClearActiveContext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = nil
}

// Active returns a copy of the active state, nil when no session is open
func (s *Service) Active() *models.AssessmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active.Clone()
}

// ActiveKey returns the key of the active session, empty when none
func (s *Service) ActiveKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return ""
	}
	return s.active.Key()
}

// CanEdit reports whether content mutations are currently accepted
func (s *Service) CanEdit() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && s.active.CanEdit()
}

// Refresh reloads the active session from the store when it matches key.
// Called after the record was replaced underneath the session.
func (s *Service) Refresh(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil || s.active.Key() != key {
		return nil
	}
	st, err := s.store.GetState(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to refresh assessment %s: %w", key, err)
	}
	if st != nil {
		s.active = st
		slog.Debug("active assessment refreshed", "key", key)
	}
	return nil
}

// ListAll returns every persisted slot visible to user, most recently updated first
func (s *Service) ListAll(ctx context.Context, user *models.User) ([]ListEntry, error) {
	states, err := s.store.ListStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}

	entries := make([]ListEntry, 0, len(states))
	for _, st := range states {
		if !user.CanAccess(st.Context) {
			continue
		}
		entries = append(entries, ListEntry{Key: st.Key(), Context: st.Context, State: st})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].State.UpdatedAt.After(entries[j].State.UpdatedAt)
	})
	return entries, nil
}

// Summary returns score, progress and N/A rate of the active session
func (s *Service) Summary() (scoring.Summary, error) {
	st := s.Active()
	if st == nil {
		return scoring.Summary{}, ErrNoActiveContext
	}
	return scoring.Summarize(s.tree, st.Answers), nil
}

// mutate applies fn to the active slot in one store transaction.
// With guarded set, a locked state is rejected with ErrLocked before fn runs.
func (s *Service) mutate(ctx context.Context, guarded bool, fn func(st *models.AssessmentState) error) (*models.AssessmentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return nil, ErrNoActiveContext
	}

	key := s.active.Key()
	var result *models.AssessmentState
	err := s.store.Update(ctx, key, func(tx storage.Txn) error {
		cur, err := tx.State()
		if errors.Is(err, storage.ErrCorruptRecord) {
			slog.Warn("stored assessment corrupt, using session copy", "key", key, "error", err)
			cur, err = s.active.Clone(), nil
		}
		if err != nil {
			return err
		}
		if cur == nil {
			cur = s.active.Clone()
		}
		if guarded && !cur.CanEdit() {
			return ErrLocked
		}

		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		s.touch(next)
		result = next
		return tx.PutState(next)
	})
	if err != nil {
		if errors.Is(err, ErrLocked) {
			slog.Debug("mutation rejected on locked assessment", "key", key)
		}
		return nil, err
	}

	s.active = result
	return result.Clone(), nil
}

// touch marks st as a fresh local edit
func (s *Service) touch(st *models.AssessmentState) {
	st.UpdatedAt = s.now()
	st.Synced = false
	st.Score = models.IntPtr(scoring.ScoreTree(s.tree, st.Answers))
}

func (s *Service) score(st *models.AssessmentState) int {
	return scoring.ScoreTree(s.tree, st.Answers)
}

func (s *Service) actor() string {
	return history.Actor(s.identity.CurrentUser())
}

func (s *Service) triggerSync(ctx context.Context) {
	s.mu.Lock()
	fn := s.onSync
	s.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}
