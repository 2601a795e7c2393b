// Package syncer pushes locally dirty assessments to the remote store and
// applies the remote updates it returns.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/terra-clan/assessment-engine/internal/conflicts"
	"github.com/terra-clan/assessment-engine/internal/history"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/scoring"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

// Remote is the remote persistence API
type Remote interface {
	Sync(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error)
}

// Connectivity reports whether the remote is reachable
type Connectivity interface {
	Online() bool
}

// ReplacedFunc is called after a local record was overwritten by a server version
type ReplacedFunc func(ctx context.Context, key string) error

// Result summarizes one sync round-trip
type Result struct {
	Skipped   bool     `json:"skipped"`
	Shared    bool     `json:"shared,omitempty"`
	Pushed    int      `json:"pushed"`
	Applied   int      `json:"applied"`
	Rejected  int      `json:"rejected"`
	Pulled    int      `json:"pulled"`
	Conflicts []string `json:"conflicts,omitempty"`
	Timestamp string   `json:"timestamp,omitempty"`
}

// pushed remembers the version of a record sent to the remote
type pushed struct {
	key       string
	updatedAt time.Time
}

// Engine runs sync round-trips. Concurrent calls to Sync share one round-trip.
type Engine struct {
	store      storage.Store
	remote     Remote
	conn       Connectivity
	conflicts  *conflicts.Manager
	identity   models.IdentityProvider
	tree       *models.QuestionTree
	now        func() time.Time
	newID      func() string
	onReplaced ReplacedFunc

	group singleflight.Group
}

// NewEngine creates a sync engine
func NewEngine(store storage.Store, remote Remote, conn Connectivity, cm *conflicts.Manager, identity models.IdentityProvider, tree *models.QuestionTree) *Engine {
	if identity == nil {
		identity = models.StaticIdentity{}
	}
	return &Engine{
		store:     store,
		remote:    remote,
		conn:      conn,
		conflicts: cm,
		identity:  identity,
		tree:      tree,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock replaces the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithIDSource replaces the generator of remote identifiers
func (e *Engine) WithIDSource(newID func() string) *Engine {
	e.newID = newID
	return e
}

// OnReplaced registers the callback run after a server version was written locally
func (e *Engine) OnReplaced(fn ReplacedFunc) {
	e.onReplaced = fn
}

// Trigger runs a sync and only logs its outcome; used as a fire-and-forget hook
func (e *Engine) Trigger(ctx context.Context) {
	res, err := e.Sync(ctx)
	if err != nil {
		slog.Error("sync failed", "error", err)
		return
	}
	if !res.Skipped {
		slog.Info("sync completed", "pushed", res.Pushed, "applied", res.Applied, "pulled", res.Pulled, "conflicts", len(res.Conflicts))
	}
}

// Sync pushes dirty records and pulls remote updates. It is a silent no-op
// when offline. On failure nothing is marked synced, so a retry is safe.
func (e *Engine) Sync(ctx context.Context) (*Result, error) {
	if e.conn != nil && !e.conn.Online() {
		slog.Debug("sync skipped: offline")
		syncRuns.WithLabelValues("skipped").Inc()
		return &Result{Skipped: true}, nil
	}

	v, err, shared := e.group.Do("sync", func() (interface{}, error) {
		return e.run(ctx)
	})
	if err != nil {
		return nil, err
	}
	res := *v.(*Result)
	res.Shared = shared
	return &res, nil
}

func (e *Engine) run(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer func() {
		syncDuration.Observe(time.Since(start).Seconds())
	}()

	changes, versions, err := e.collect(ctx)
	if err != nil {
		syncRuns.WithLabelValues("error").Inc()
		return nil, err
	}

	lastSync, err := e.store.LastSyncTimestamp(ctx)
	if err != nil {
		syncRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to read last sync timestamp: %w", err)
	}
	req := &models.SyncRequest{Changes: changes}
	if lastSync != "" {
		req.LastSyncTimestamp = &lastSync
	}

	slog.Debug("pushing changes", "count", len(changes), "last_sync", lastSync)
	resp, err := e.remote.Sync(ctx, req)
	if err != nil {
		syncRuns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("sync request failed: %w", err)
	}

	res := &Result{Pushed: len(changes), Timestamp: resp.Timestamp}
	syncPushed.Add(float64(len(changes)))

	for _, id := range resp.Applied {
		p, ok := versions[id]
		if !ok {
			slog.Warn("remote applied an unknown id", "id", id)
			continue
		}
		if err := e.markSynced(ctx, id, p); err != nil {
			slog.Error("failed to mark assessment synced", "key", p.key, "id", id, "error", err)
			continue
		}
		res.Applied++
	}

	for _, se := range resp.Errors {
		slog.Warn("remote rejected change", "id", se.ID, "error", se.Error)
		res.Rejected++
	}
	syncRejected.Add(float64(res.Rejected))

	for _, incoming := range resp.ServerUpdates {
		if incoming == nil {
			continue
		}
		archived, err := e.applyServerUpdate(ctx, incoming)
		if err != nil {
			slog.Error("failed to apply server update", "id", incoming.ID, "error", err)
			continue
		}
		res.Pulled++
		if archived != "" {
			res.Conflicts = append(res.Conflicts, archived)
		}
	}
	syncPulled.Add(float64(res.Pulled))
	syncConflicts.Add(float64(len(res.Conflicts)))

	if resp.Timestamp != "" {
		if err := e.store.SetLastSyncTimestamp(ctx, resp.Timestamp); err != nil {
			syncRuns.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to store last sync timestamp: %w", err)
		}
	}

	syncRuns.WithLabelValues("ok").Inc()
	return res, nil
}

// collect returns the dirty records visible to the current user. Missing
// identifiers and scores are assigned and persisted first.
func (e *Engine) collect(ctx context.Context) ([]*models.AssessmentState, map[string]pushed, error) {
	states, err := e.store.ListStates(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list assessments: %w", err)
	}

	user := e.identity.CurrentUser()
	changes := []*models.AssessmentState{}
	versions := make(map[string]pushed)
	for _, st := range states {
		if st.Synced || !user.CanAccess(st.Context) {
			continue
		}
		if st.ID == "" || st.Score == nil {
			prepared, err := e.prepare(ctx, st.Key())
			if err != nil {
				return nil, nil, err
			}
			if prepared == nil {
				continue
			}
			st = prepared
		}
		changes = append(changes, st)
		versions[st.ID] = pushed{key: st.Key(), updatedAt: st.UpdatedAt}
	}
	return changes, versions, nil
}

// prepare assigns a stable identifier and a score without touching updatedAt
func (e *Engine) prepare(ctx context.Context, key string) (*models.AssessmentState, error) {
	var out *models.AssessmentState
	err := e.store.Update(ctx, key, func(tx storage.Txn) error {
		cur, err := tx.State()
		if err != nil || cur == nil || cur.Synced {
			return err
		}
		if cur.ID == "" {
			cur.ID = e.newID()
		}
		if cur.Score == nil {
			cur.Score = models.IntPtr(scoring.ScoreTree(e.tree, cur.Answers))
		}
		out = cur
		return tx.PutState(cur)
	})
	if errors.Is(err, storage.ErrCorruptRecord) {
		slog.Warn("skipping corrupt assessment", "key", key, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to prepare assessment %s: %w", key, err)
	}
	return out, nil
}

// markSynced flags the record synced when it was not edited after the push
func (e *Engine) markSynced(ctx context.Context, id string, p pushed) error {
	return e.store.Update(ctx, p.key, func(tx storage.Txn) error {
		cur, err := tx.State()
		if err != nil || cur == nil {
			return err
		}
		cur.ID = id
		if !cur.UpdatedAt.Equal(p.updatedAt) {
			slog.Debug("assessment edited during sync, kept dirty", "key", p.key)
			return tx.PutState(cur)
		}
		cur.Synced = true
		return tx.PutState(cur)
	})
}

// applyServerUpdate overwrites the local record with the server version.
// Unsynced local changes are archived first; the archive key is returned.
func (e *Engine) applyServerUpdate(ctx context.Context, incoming *models.AssessmentState) (string, error) {
	next := incoming.Clone()
	next.Normalize()
	if err := next.Context.Validate(); err != nil {
		return "", fmt.Errorf("invalid context on server update: %w", err)
	}
	key := next.Key()

	var archived string
	var current bool
	err := e.store.Update(ctx, key, func(tx storage.Txn) error {
		cur, err := tx.State()
		if errors.Is(err, storage.ErrCorruptRecord) {
			slog.Warn("replacing corrupt assessment with server version", "key", key, "error", err)
			cur, err = nil, nil
		}
		if err != nil {
			return err
		}
		if sameVersion(cur, next) {
			current = true
			return nil
		}

		out := next.Clone()
		if out.Score == nil {
			out.Score = models.IntPtr(scoring.ScoreTree(e.tree, out.Answers))
		}
		if cur != nil && !cur.Synced {
			rec, err := e.conflicts.Archive(tx, cur, out)
			if err != nil {
				return err
			}
			archived = rec.Key
		}
		// Records new to this device keep the server history as is
		if cur != nil {
			history.Append(out, models.ActionSync, "Updated from server", history.Actor(e.identity.CurrentUser()), out.ScoreValue(), e.now())
		}
		out.Synced = true
		return tx.PutState(out)
	})
	if err != nil {
		return "", err
	}
	if current {
		slog.Debug("server update already applied", "key", key, "id", next.ID)
		return "", nil
	}

	slog.Debug("server update applied", "key", key, "id", next.ID, "conflict", archived != "")
	if e.onReplaced != nil {
		if err := e.onReplaced(ctx, key); err != nil {
			slog.Error("failed to reload replaced assessment", "key", key, "error", err)
		}
	}
	return archived, nil
}

// sameVersion reports whether cur is an untouched copy of the server version incoming
func sameVersion(cur, incoming *models.AssessmentState) bool {
	return cur != nil && cur.Synced &&
		cur.ID != "" && cur.ID == incoming.ID &&
		cur.UpdatedAt.Equal(incoming.UpdatedAt)
}
