package assessment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/assessment-engine/internal/actionplan"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

var chad = models.AssessmentContext{Country: "Chad", Base: "Abeche", EvaluationMonth: "2024-03"}

func testTree() *models.QuestionTree {
	return &models.QuestionTree{Sections: []models.Section{
		{ID: "s1", Title: "Warehouse", Questions: []models.Question{
			{ID: "q1", Text: "Stock rotated", Weight: 1},
			{ID: "q2", Text: "Extinguishers checked", Weight: 1},
			{ID: "q3", Text: "Pallets safe", Weight: 2},
		}},
	}}
}

type fixture struct {
	svc   *Service
	store *corruptibleStore
	clock *testClock
	syncs int
}

// corruptibleStore makes chosen slots decode as corrupt until rewritten
type corruptibleStore struct {
	storage.Store
	corrupt map[string]bool
}

func (s *corruptibleStore) GetState(ctx context.Context, key string) (*models.AssessmentState, error) {
	if s.corrupt[key] {
		return nil, fmt.Errorf("%w: %s", storage.ErrCorruptRecord, key)
	}
	return s.Store.GetState(ctx, key)
}

func (s *corruptibleStore) Update(ctx context.Context, key string, fn func(tx storage.Txn) error) error {
	return s.Store.Update(ctx, key, func(tx storage.Txn) error {
		return fn(&corruptibleTxn{Txn: tx, store: s, key: key})
	})
}

type corruptibleTxn struct {
	storage.Txn
	store *corruptibleStore
	key   string
}

func (t *corruptibleTxn) State() (*models.AssessmentState, error) {
	if t.store.corrupt[t.key] {
		return nil, fmt.Errorf("%w: %s", storage.ErrCorruptRecord, t.key)
	}
	return t.Txn.State()
}

func (t *corruptibleTxn) PutState(st *models.AssessmentState) error {
	delete(t.store.corrupt, t.key)
	return t.Txn.PutState(st)
}

func (f *fixture) corrupt(t *testing.T, key string) {
	t.Helper()
	f.store.corrupt[key] = true
}

func newFixture(t *testing.T, user *models.User) *fixture {
	t.Helper()
	badger, err := storage.NewInMemoryBadgerStore()
	require.NoError(t, err)
	t.Cleanup(func() { badger.Close() })
	store := &corruptibleStore{Store: badger, corrupt: map[string]bool{}}

	f := &fixture{store: store, clock: &testClock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}}
	n := 0
	f.svc = NewService(store, testTree(), models.StaticIdentity{User: user},
		WithClock(f.clock.Now),
		WithIDSource(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}),
		WithSyncTrigger(func(ctx context.Context) { f.syncs++ }),
	)
	return f
}

func TestLoadCreatesOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, st.Status)
	assert.Empty(t, st.Answers)
	require.Len(t, st.History, 1)
	assert.Equal(t, models.ActionCreated, st.History[0].Action)
	assert.Equal(t, models.SystemActor, st.History[0].User)
	assert.False(t, st.Synced)

	again, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)
	assert.Len(t, again.History, 1)

	last, err := f.store.LastContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, chad, *last)
}

func TestLoadRejectsInvalidContext(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.Load(context.Background(), models.AssessmentContext{Country: "Chad"})
	assert.ErrorIs(t, err, ErrInvalidContext)
}

func TestLoadRecoversFromCorruption(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)
	_, err = f.svc.SetAnswer(ctx, "q1", 1)
	require.NoError(t, err)

	f.corrupt(t, chad.Key())

	st, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)
	assert.Empty(t, st.Answers)
	assert.Equal(t, models.StatusDraft, st.Status)
	require.Len(t, st.History, 1)
	assert.Equal(t, models.ActionCreated, st.History[0].Action)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	st, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)

	st.Answers["q1"] = 1
	st.Comments["q1"] = "checked on site"
	saved, err := f.svc.Save(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, 100, *saved.Score)

	f.svc.ClearActiveContext()
	assert.Nil(t, f.svc.Active())

	loaded, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)
	loaded.UpdatedAt = saved.UpdatedAt
	assert.Equal(t, saved, loaded)
	assert.True(t, st.CreatedAt.Equal(loaded.CreatedAt))
}

func TestSaveRespectsLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)
	_, err = f.svc.SetAnswer(ctx, "q1", 1)
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx)
	require.NoError(t, err)
	require.False(t, f.svc.CanEdit())

	st := f.svc.Active()
	st.Answers["q1"] = 0
	st.Status = models.StatusValidated
	_, err = f.svc.Save(ctx, st)
	assert.ErrorIs(t, err, ErrLocked)

	stored, err := f.store.GetState(ctx, chad.Key())
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, stored.Status)
	assert.Equal(t, 1.0, stored.Answers["q1"])
	assert.Empty(t, stored.ValidatedBy)
	assert.Nil(t, stored.ValidatedAt)
}

func TestSaveKeepsLifecycleFields(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	loaded, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)

	st := loaded.Clone()
	now := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	st.Answers["q1"] = 1
	st.Status = models.StatusValidated
	st.ValidatedBy = "someone"
	st.ValidatedAt = &now
	st.History = append(st.History, models.HistoryItem{Action: models.ActionValidated})

	saved, err := f.svc.Save(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, saved.Status)
	assert.Empty(t, saved.ValidatedBy)
	assert.Nil(t, saved.ValidatedAt)
	assert.Equal(t, loaded.History, saved.History)
	assert.Equal(t, 1.0, saved.Answers["q1"])
	assert.True(t, f.svc.CanEdit())

	// A slot with no record yet starts as a draft
	other := models.NewAssessmentState(models.AssessmentContext{Country: "Mali", Base: "Gao", EvaluationMonth: "2024-03"}, now)
	other.Status = models.StatusSubmitted
	other.SubmittedBy = "someone"
	saved, err = f.svc.Save(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, saved.Status)
	assert.Empty(t, saved.SubmittedBy)
}

func TestClearActiveContextKeepsRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)

	f.svc.ClearActiveContext()
	_, err = f.svc.SetAnswer(ctx, "q1", 1)
	assert.ErrorIs(t, err, ErrNoActiveContext)
	assert.False(t, f.svc.CanEdit())

	st, err := f.store.GetState(ctx, chad.Key())
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestResumeLast(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	st, err := f.svc.ResumeLast(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = f.svc.Load(ctx, chad)
	require.NoError(t, err)
	f.svc.ClearActiveContext()

	st, err = f.svc.ResumeLast(ctx)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, chad.Key(), f.svc.ActiveKey())
}

func TestSetAnswerUpdatesScoreAndDirtyFlag(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)

	_, err = f.svc.SetAnswer(ctx, "q1", 1)
	require.NoError(t, err)
	_, err = f.svc.SetAnswer(ctx, "q2", 0)
	require.NoError(t, err)
	st, err := f.svc.SetAnswer(ctx, "q3", models.NotApplicable)
	require.NoError(t, err)

	assert.Equal(t, 50, *st.Score)
	assert.False(t, st.Synced)

	sum, err := f.svc.Summary()
	require.NoError(t, err)
	assert.Equal(t, 50, sum.Score)
	assert.Equal(t, 100, sum.Progress)

	_, err = f.svc.SetAnswer(ctx, "q1", 1.5)
	assert.ErrorIs(t, err, ErrInvalidAnswer)
	_, err = f.svc.SetAnswer(ctx, "nope", 1)
	assert.ErrorIs(t, err, ErrUnknownQuestion)

	st, err = f.svc.ClearAnswer(ctx, "q3")
	require.NoError(t, err)
	assert.NotContains(t, st.Answers, "q3")
}

func TestCommentAndProofs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)

	_, err = f.svc.SetComment(ctx, "q1", "ok")
	require.NoError(t, err)
	_, err = f.svc.SetProofLink(ctx, "q1", "https://docs.example/1")
	require.NoError(t, err)
	st, err := f.svc.SetProofPhoto(ctx, "q1", "photo.jpg")
	require.NoError(t, err)

	assert.Equal(t, "ok", st.Comments["q1"])
	assert.Equal(t, "https://docs.example/1", st.ProofLinks["q1"])
	assert.Equal(t, "photo.jpg", st.ProofPhotos["q1"])

	st, err = f.svc.SetComment(ctx, "q1", "")
	require.NoError(t, err)
	assert.NotContains(t, st.Comments, "q1")
}

func TestListAllScopedAndSorted(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	faya := models.AssessmentContext{Country: "Chad", Base: "Faya", EvaluationMonth: "2024-03"}
	gao := models.AssessmentContext{Country: "Mali", Base: "Gao", EvaluationMonth: "2024-03"}
	for _, c := range []models.AssessmentContext{chad, faya, gao} {
		_, err := f.svc.Load(ctx, c)
		require.NoError(t, err)
	}
	// Touch chad last so it sorts first
	_, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)
	_, err = f.svc.SetAnswer(ctx, "q1", 1)
	require.NoError(t, err)

	all, err := f.svc.ListAll(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, chad.Key(), all[0].Key)
	assert.Equal(t, gao.Key(), all[1].Key)
	assert.Equal(t, faya, all[2].Context)

	field := &models.User{Name: "Di", Role: models.RoleUser, AssignedCountry: "Chad", AssignedBase: "Faya"}
	own, err := f.svc.ListAll(ctx, field)
	require.NoError(t, err)
	require.Len(t, own, 1)
	assert.Equal(t, faya.Key(), own[0].Key)

	coord := &models.User{Name: "Bo", Role: models.RoleCountryCoordinator, AssignedCountries: []string{"Chad"}}
	country, err := f.svc.ListAll(ctx, coord)
	require.NoError(t, err)
	assert.Len(t, country, 2)

	admin := &models.User{Name: "Ada", Role: models.RoleSuperAdmin}
	everything, err := f.svc.ListAll(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, everything, 3)
}

func TestActionEdits(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)

	for _, q := range []string{"q1", "q2", "q3"} {
		_, err := f.svc.AddAction(ctx, models.ActionItem{QuestionID: q, Priority: models.PriorityMedium})
		require.NoError(t, err)
	}
	st := f.svc.Active()
	require.Len(t, st.ActionPlan, 3)
	first := st.ActionPlan[0]
	assert.Equal(t, models.ActionTodo, first.Status)
	assert.NotEmpty(t, first.ID)

	owner := "Eve"
	status := models.ActionDoing
	st, err = f.svc.UpdateAction(ctx, first.ID, models.ActionUpdate{Owner: &owner, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "Eve", st.ActionPlan[0].Owner)
	assert.Equal(t, models.ActionDoing, st.ActionPlan[0].Status)

	bad := models.Priority("URGENT")
	_, err = f.svc.UpdateAction(ctx, first.ID, models.ActionUpdate{Priority: &bad})
	assert.ErrorIs(t, err, ErrInvalidAction)

	st, err = f.svc.MoveAction(ctx, first.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, first.ID, st.ActionPlan[2].ID)
	assert.Equal(t, "q2", st.ActionPlan[0].QuestionID)

	st, err = f.svc.MoveAction(ctx, first.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"q1", "q2", "q3"}, questionIDs(st.ActionPlan))

	st, err = f.svc.DeleteAction(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"q2", "q3"}, questionIDs(st.ActionPlan))

	_, err = f.svc.DeleteAction(ctx, "missing")
	assert.ErrorIs(t, err, ErrActionNotFound)
}

func TestCommitPlanRequiresConfirmation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.svc.Load(ctx, chad)
	require.NoError(t, err)
	_, err = f.svc.SetAnswer(ctx, "q1", 0.4)
	require.NoError(t, err)
	_, err = f.svc.SetAnswer(ctx, "q2", 0.9)
	require.NoError(t, err)
	_, err = f.svc.AddAction(ctx, models.ActionItem{QuestionID: "q3", Priority: models.PriorityLow, Owner: "Eve"})
	require.NoError(t, err)

	gen, err := actionplan.NewGenerator(actionplan.DefaultPolicy())
	require.NoError(t, err)
	preview, err := f.svc.PreviewPlan(gen)
	require.NoError(t, err)
	require.Len(t, preview.Actions, 1)
	assert.Equal(t, 1, preview.Replaces)

	_, err = f.svc.CommitPlan(ctx, preview)
	assert.ErrorIs(t, err, ErrPlanNotConfirmed)
	assert.Len(t, f.svc.Active().ActionPlan, 1)
	assert.Equal(t, "Eve", f.svc.Active().ActionPlan[0].Owner)

	preview.Confirm()
	st, err := f.svc.CommitPlan(ctx, preview)
	require.NoError(t, err)
	require.Len(t, st.ActionPlan, 1)
	assert.Equal(t, "q1", st.ActionPlan[0].QuestionID)
	assert.Equal(t, models.PriorityCritical, st.ActionPlan[0].Priority)

	other := &actionplan.Preview{Key: "assessment-Mali-Gao-2024-03"}
	other.Confirm()
	_, err = f.svc.CommitPlan(ctx, other)
	assert.ErrorIs(t, err, ErrPlanMismatch)
}

func questionIDs(plan []models.ActionItem) []string {
	ids := make([]string, len(plan))
	for i, a := range plan {
		ids[i] = a.QuestionID
	}
	return ids
}
