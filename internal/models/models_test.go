package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextKey(t *testing.T) {
	ctx := AssessmentContext{Country: "Chad", Base: "Log Base", EvaluationMonth: "2024-03"}
	assert.Equal(t, "assessment-Chad-Log_Base-2024-03", ctx.Key())

	// Whitespace is replaced one-for-one, never collapsed
	double := AssessmentContext{Country: "Chad", Base: "Log  Base", EvaluationMonth: "2024-03"}
	assert.Equal(t, "assessment-Chad-Log__Base-2024-03", double.Key())
	assert.NotEqual(t, ctx.Key(), double.Key())

	tab := AssessmentContext{Country: "Chad", Base: "Log\tBase", EvaluationMonth: "2024-03"}
	assert.Equal(t, ctx.Key(), tab.Key())

	// Date does not take part in the key
	dated := ctx
	dated.Date = "2024-03-12"
	assert.Equal(t, ctx.Key(), dated.Key())
}

func TestContextValidate(t *testing.T) {
	valid := AssessmentContext{Country: "Chad", Base: "Abeche", EvaluationMonth: "2024-03"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name string
		ctx  AssessmentContext
	}{
		{"missing country", AssessmentContext{Base: "Abeche", EvaluationMonth: "2024-03"}},
		{"missing base", AssessmentContext{Country: "Chad", EvaluationMonth: "2024-03"}},
		{"bad month", AssessmentContext{Country: "Chad", Base: "Abeche", EvaluationMonth: "March 2024"}},
		{"month out of range", AssessmentContext{Country: "Chad", Base: "Abeche", EvaluationMonth: "2024-13"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.ctx.Validate())
		})
	}
}

func TestStatusLock(t *testing.T) {
	assert.False(t, StatusDraft.IsLocked())
	assert.True(t, StatusSubmitted.IsLocked())
	assert.True(t, StatusValidated.IsLocked())
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	st := NewAssessmentState(AssessmentContext{Country: "Chad", Base: "Abeche", EvaluationMonth: "2024-03"}, now)
	st.Answers["q1"] = 1
	st.Score = IntPtr(80)
	st.SubmittedAt = &now
	st.History = append(st.History, HistoryItem{Date: now, Action: ActionCreated, Score: IntPtr(0)})
	st.ActionPlan = append(st.ActionPlan, ActionItem{ID: "a1", QuestionID: "q1"})

	c := st.Clone()
	c.Answers["q1"] = 0
	*c.Score = 10
	*c.History[0].Score = 5
	c.ActionPlan[0].Owner = "someone"
	later := now.Add(time.Hour)
	*c.SubmittedAt = later

	assert.Equal(t, 1.0, st.Answers["q1"])
	assert.Equal(t, 80, *st.Score)
	assert.Equal(t, 0, *st.History[0].Score)
	assert.Empty(t, st.ActionPlan[0].Owner)
	assert.Equal(t, now, *st.SubmittedAt)

	var nilState *AssessmentState
	assert.Nil(t, nilState.Clone())
}

func TestNormalize(t *testing.T) {
	st := &AssessmentState{}
	st.Normalize()
	assert.Equal(t, StatusDraft, st.Status)
	assert.NotNil(t, st.Answers)
	assert.NotNil(t, st.Comments)
	assert.NotNil(t, st.History)
	assert.NotNil(t, st.ActionPlan)
}

func TestConflictKeyRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 123, time.UTC)
	rec := NewConflictRecord("assessment-Chad-Abeche-2024-03", at)
	assert.Equal(t, "assessment-Chad-Abeche-2024-03_CONFLICT_1709287200000000123", rec.Key)

	parsed, err := ParseConflictKey(rec.Key)
	require.NoError(t, err)
	assert.Equal(t, rec.OriginalKey, parsed.OriginalKey)
	assert.True(t, at.Equal(parsed.Date))

	_, err = ParseConflictKey("assessment-Chad-Abeche-2024-03")
	assert.Error(t, err)
	_, err = ParseConflictKey("x_CONFLICT_abc")
	assert.Error(t, err)
}

func TestUserAccess(t *testing.T) {
	chad := AssessmentContext{Country: "Chad", Base: "Abeche", EvaluationMonth: "2024-03"}
	mali := AssessmentContext{Country: "Mali", Base: "Gao", EvaluationMonth: "2024-03"}

	var offline *User
	assert.True(t, offline.CanAccess(chad))
	assert.Equal(t, SystemActor, offline.DisplayName())

	admin := &User{Name: "Ada", Role: RoleSuperAdmin}
	assert.True(t, admin.CanAccess(mali))
	assert.Equal(t, "Ada (SUPER_ADMIN)", admin.DisplayName())

	coord := &User{Name: "Bo", Role: RoleCountryCoordinator, AssignedCountry: "Chad"}
	assert.True(t, coord.IsCoordinator())
	assert.True(t, coord.CanAccess(chad))
	assert.False(t, coord.CanAccess(mali))

	pool := &User{Name: "Cy", Role: RolePoolCoordinator, AssignedCountries: []string{"Mali", "Niger"}, AssignedCountry: "Chad"}
	assert.Equal(t, []string{"Mali", "Niger"}, pool.Countries())
	assert.True(t, pool.CanAccess(mali))
	assert.False(t, pool.CanAccess(chad))

	field := &User{Name: "Di", Role: RoleUser, AssignedCountry: "Chad", AssignedBase: "Abeche"}
	assert.True(t, field.CanAccess(chad))
	other := chad
	other.Base = "Faya"
	assert.False(t, field.CanAccess(other))
}

func TestMaskedAPIKey(t *testing.T) {
	assert.Equal(t, "***", (&User{APIKey: "short"}).MaskedAPIKey())
	assert.Equal(t, "abcdefgh...", (&User{APIKey: "abcdefghijkl"}).MaskedAPIKey())
}

func TestActionUpdateApply(t *testing.T) {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	a := ActionItem{ID: "a1", QuestionID: "q1", Priority: PriorityHigh, Status: ActionTodo, StartDate: start, DueDate: start.AddDate(0, 3, 0)}

	prio := PriorityLow
	status := ActionDoing
	owner := "Eve"
	updated := ActionUpdate{Priority: &prio, Status: &status, Owner: &owner}.Apply(a)

	assert.Equal(t, PriorityLow, updated.Priority)
	assert.Equal(t, ActionDoing, updated.Status)
	assert.Equal(t, "Eve", updated.Owner)
	assert.Equal(t, a.DueDate, updated.DueDate)
	assert.Equal(t, PriorityHigh, a.Priority)
	require.NoError(t, updated.Validate())

	bad := a
	bad.DueDate = start.AddDate(0, -1, 0)
	assert.Error(t, bad.Validate())
}

func TestValidateChange(t *testing.T) {
	st := NewAssessmentState(AssessmentContext{Country: "Chad", Base: "Abeche", EvaluationMonth: "2024-03"}, time.Now())
	require.NoError(t, ValidateChange(st))

	st.Status = "ARCHIVED"
	assert.Error(t, ValidateChange(st))

	st.Status = StatusDraft
	st.Context.EvaluationMonth = "2024/03"
	assert.Error(t, ValidateChange(st))
}
