package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/assessment-engine/internal/models"
)

var testContext = models.AssessmentContext{Country: "Chad", Base: "Abeche", EvaluationMonth: "2024-03"}

// runStoreSuite exercises the Store contract against any backend
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()
	key := testContext.Key()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("missing state", func(t *testing.T) {
		st, err := s.GetState(ctx, "assessment-nowhere")
		require.NoError(t, err)
		assert.Nil(t, st)
	})

	t.Run("put and get", func(t *testing.T) {
		st := models.NewAssessmentState(testContext, now)
		st.Answers["q1"] = 0.5
		st.Score = models.IntPtr(50)

		err := s.Update(ctx, key, func(tx Txn) error {
			cur, err := tx.State()
			require.NoError(t, err)
			assert.Nil(t, cur)
			return tx.PutState(st)
		})
		require.NoError(t, err)

		got, err := s.GetState(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 0.5, got.Answers["q1"])
		assert.Equal(t, 50, *got.Score)
		assert.True(t, now.Equal(got.UpdatedAt))

		all, err := s.ListStates(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("failed update writes nothing", func(t *testing.T) {
		boom := errors.New("boom")
		err := s.Update(ctx, key, func(tx Txn) error {
			cur, err := tx.State()
			if err != nil {
				return err
			}
			cur.Answers["q1"] = 1
			if err := tx.PutState(cur); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.GetState(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 0.5, got.Answers["q1"])
	})

	t.Run("conflict queue", func(t *testing.T) {
		older := models.NewConflictRecord(key, now)
		newer := models.NewConflictRecord(key, now.Add(time.Minute))

		err := s.Update(ctx, key, func(tx Txn) error {
			cur, err := tx.State()
			if err != nil {
				return err
			}
			if err := tx.ArchiveConflict(models.ConflictEntry{Record: older, State: cur}); err != nil {
				return err
			}
			return tx.ArchiveConflict(models.ConflictEntry{Record: newer, State: cur})
		})
		require.NoError(t, err)

		list, err := s.ListConflicts(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.Key, list[0].Record.Key)
		assert.Equal(t, older.Key, list[1].Record.Key)
		assert.Equal(t, 0.5, list[0].State.Answers["q1"])

		entry, err := s.GetConflict(ctx, older.Key)
		require.NoError(t, err)
		assert.Equal(t, key, entry.Record.OriginalKey)

		err = s.Update(ctx, key, func(tx Txn) error {
			return tx.DeleteConflict(older.Key)
		})
		require.NoError(t, err)

		_, err = s.GetConflict(ctx, older.Key)
		assert.ErrorIs(t, err, ErrNotFound)

		err = s.Update(ctx, key, func(tx Txn) error {
			return tx.DeleteConflict(older.Key)
		})
		assert.ErrorIs(t, err, ErrNotFound)

		list, err = s.ListConflicts(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("snapshots", func(t *testing.T) {
		for i, name := range []string{"Submission", "Validation"} {
			err := s.AppendSnapshot(ctx, models.Snapshot{
				ID:      name,
				Date:    now.Add(time.Duration(i) * time.Hour),
				Name:    name,
				Score:   60 + i,
				Country: "Chad",
			})
			require.NoError(t, err)
		}
		snaps, err := s.ListSnapshots(ctx)
		require.NoError(t, err)
		require.Len(t, snaps, 2)
		assert.Equal(t, "Submission", snaps[0].Name)
		assert.Equal(t, 61, snaps[1].Score)
	})

	t.Run("metadata", func(t *testing.T) {
		last, err := s.LastContext(ctx)
		require.NoError(t, err)
		assert.Nil(t, last)

		require.NoError(t, s.SetLastContext(ctx, testContext))
		last, err = s.LastContext(ctx)
		require.NoError(t, err)
		require.NotNil(t, last)
		assert.Equal(t, testContext, *last)

		ts, err := s.LastSyncTimestamp(ctx)
		require.NoError(t, err)
		assert.Empty(t, ts)

		require.NoError(t, s.SetLastSyncTimestamp(ctx, "2024-03-01T10:00:00Z"))
		ts, err = s.LastSyncTimestamp(ctx)
		require.NoError(t, err)
		assert.Equal(t, "2024-03-01T10:00:00Z", ts)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, s.Ping(ctx))
	})
}
