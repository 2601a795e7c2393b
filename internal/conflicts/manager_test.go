package conflicts

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/assessment-engine/internal/history"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

var chad = models.AssessmentContext{Country: "Chad", Base: "Abeche", EvaluationMonth: "2024-03"}

type stepClock struct{ t time.Time }

func (c *stepClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

func newTestManager(t *testing.T) (*Manager, storage.Store) {
	t.Helper()
	store, err := storage.NewInMemoryBadgerStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := &stepClock{t: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	user := &models.User{Name: "Ada", Role: models.RoleUser}
	return NewManager(store, models.StaticIdentity{User: user}).WithClock(c.Now), store
}

func localDraft(answer float64) *models.AssessmentState {
	st := models.NewAssessmentState(chad, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	st.ID = "local-1"
	st.Answers["q1"] = answer
	st.Comments["q1"] = "local note"
	history.Append(st, models.ActionCreated, "Assessment created", models.SystemActor, 0, st.CreatedAt)
	return st
}

// overwrite runs the archive-then-overwrite sequence the sync engine performs
func overwrite(t *testing.T, m *Manager, store storage.Store, local, server *models.AssessmentState) models.ConflictRecord {
	t.Helper()
	var rec models.ConflictRecord
	err := store.Update(context.Background(), chad.Key(), func(tx storage.Txn) error {
		var err error
		rec, err = m.Archive(tx, local, server)
		if err != nil {
			return err
		}
		server.Synced = true
		return tx.PutState(server)
	})
	require.NoError(t, err)
	return rec
}

func TestArchiveQueuesLocalVerbatim(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	local := localDraft(0.25)
	server := models.NewAssessmentState(chad, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))
	server.Answers["q1"] = 1

	rec := overwrite(t, m, store, local, server)
	assert.Equal(t, chad.Key(), rec.OriginalKey)
	assert.Contains(t, rec.Key, chad.Key()+"_CONFLICT_")

	entries, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, rec.Key, entries[0].Record.Key)
	assert.Equal(t, local, entries[0].State)

	primary, err := store.GetState(ctx, chad.Key())
	require.NoError(t, err)
	assert.True(t, primary.Synced)
	assert.Equal(t, 1.0, primary.Answers["q1"])
	last := primary.History[len(primary.History)-1]
	assert.Equal(t, models.ActionConflict, last.Action)
	assert.Contains(t, last.Details, rec.Key)
	assert.Equal(t, "Ada (USER)", last.User)
}

func TestListNewestFirst(t *testing.T) {
	m, store := newTestManager(t)
	first := overwrite(t, m, store, localDraft(0.1), models.NewAssessmentState(chad, time.Now()))
	second := overwrite(t, m, store, localDraft(0.2), models.NewAssessmentState(chad, time.Now()))

	entries, err := m.List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.Key, entries[0].Record.Key)
	assert.Equal(t, first.Key, entries[1].Record.Key)
}

func TestRestoreRoundTrip(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	local := localDraft(0.25)
	server := models.NewAssessmentState(chad, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))
	server.Answers["q1"] = 1
	rec := overwrite(t, m, store, local, server)

	var reloaded []string
	m.OnRestored(func(ctx context.Context, key string) error {
		reloaded = append(reloaded, key)
		return nil
	})

	restored, err := m.Restore(ctx, rec.Key)
	require.NoError(t, err)
	assert.Equal(t, []string{chad.Key()}, reloaded)
	assert.False(t, restored.Synced)

	st, err := store.GetState(ctx, chad.Key())
	require.NoError(t, err)
	assert.False(t, st.Synced)
	assert.Equal(t, local.Answers, st.Answers)
	assert.Equal(t, local.Comments, st.Comments)
	assert.Equal(t, "local-1", st.ID)

	assert.Equal(t, 1, history.Count(st.History, models.ActionConflict))
	assert.Equal(t, 1, history.Count(st.History, models.ActionCreated))
	resolved, ok := history.Last(st.History, models.ActionResolved)
	require.True(t, ok)
	assert.Contains(t, resolved.Details, rec.Key)
	assert.Equal(t, models.ActionResolved, st.History[len(st.History)-1].Action)

	entries, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = m.Restore(ctx, rec.Key)
	assert.ErrorIs(t, err, ErrConflictNotFound)
}

func TestDiscardKeepsPrimary(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	server := models.NewAssessmentState(chad, time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC))
	server.Answers["q1"] = 1
	rec := overwrite(t, m, store, localDraft(0.25), server)

	require.NoError(t, m.Discard(ctx, rec.Key))

	entries, err := m.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)

	st, err := store.GetState(ctx, chad.Key())
	require.NoError(t, err)
	assert.True(t, st.Synced)
	assert.Equal(t, 1.0, st.Answers["q1"])

	assert.ErrorIs(t, m.Discard(ctx, rec.Key), ErrConflictNotFound)
	assert.ErrorIs(t, m.Discard(ctx, "not-a-conflict"), ErrConflictNotFound)
	_, err = m.Get(ctx, rec.Key)
	assert.ErrorIs(t, err, ErrConflictNotFound)
}
