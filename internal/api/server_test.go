package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/assessment-engine/internal/config"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/storage/storagetest"
)

var (
	admin = &models.User{ID: "u-admin", Name: "Ada", Role: models.RoleSuperAdmin, APIKey: "key-admin-0001"}
	coord = &models.User{ID: "u-coord", Name: "Cole", Role: models.RoleCountryCoordinator, AssignedCountry: "Chad", APIKey: "key-coord-0001"}
	field = &models.User{ID: "u-field", Name: "Fay", Role: models.RoleUser, AssignedCountry: "Chad", AssignedBase: "Abeche", APIKey: "key-field-0001"}
	other = &models.User{ID: "u-other", Name: "Otto", Role: models.RoleUser, AssignedCountry: "Mali", AssignedBase: "Gao", APIKey: "key-other-0001"}
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	server *Server
	repo   *storagetest.MemoryRepository
	now    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	repo := storagetest.NewMemoryRepository()
	for _, u := range []*models.User{admin, coord, field, other} {
		require.NoError(t, repo.CreateUser(context.Background(), u))
	}
	env := &testEnv{repo: repo, now: t0}
	env.server = NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 8080}, repo, NewHub())
	env.server.now = func() time.Time { return env.now }
	return env
}

func (e *testEnv) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	e.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var resp struct {
		Success bool      `json:"success"`
		Data    T         `json:"data"`
		Error   *apiError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success, rec.Body.String())
	return resp.Data
}

func draft(id, country, base, month string) *models.AssessmentState {
	st := models.NewAssessmentState(models.AssessmentContext{Country: country, Base: base, EvaluationMonth: month}, t0)
	st.ID = id
	st.Answers["q1"] = 1
	return st
}

func (e *testEnv) sync(t *testing.T, key string, req models.SyncRequest) models.SyncResponse {
	t.Helper()
	rec := e.do(t, "POST", "/api/v1/assessments/sync", key, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decodeData[models.SyncResponse](t, rec)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeData[map[string]string](t, rec)["status"])
}

func TestReady(t *testing.T) {
	env := newTestEnv(t)
	assert.Equal(t, http.StatusOK, env.do(t, "GET", "/ready", "", nil).Code)

	env.repo.PingErr = assert.AnError
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, "GET", "/ready", "", nil).Code)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, "GET", "/api/v1/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, "GET", "/api/v1/me", "nope", nil).Code)

	rec := env.do(t, "GET", "/api/v1/me", field.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decodeData[models.User](t, rec)
	assert.Equal(t, field.ID, me.ID)
	assert.Empty(t, me.APIKey)

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("X-API-Key", admin.APIKey)
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSyncAppliesChanges(t *testing.T) {
	env := newTestEnv(t)

	resp := env.sync(t, field.APIKey, models.SyncRequest{
		Changes: []*models.AssessmentState{draft("a1", "Chad", "Abeche", "2024-03")},
	})

	assert.Equal(t, []string{"a1"}, resp.Applied)
	assert.Empty(t, resp.Errors)
	assert.Empty(t, resp.ServerUpdates)
	assert.Equal(t, t0.Format(time.RFC3339Nano), resp.Timestamp)
	assert.Equal(t, field.ID, env.repo.Owner("a1"))

	stored, err := env.repo.GetAssessment(context.Background(), "a1")
	require.NoError(t, err)
	assert.True(t, stored.State.Synced)
	assert.Equal(t, t0, stored.State.UpdatedAt)
}

func TestSyncPullsOthersUpdates(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t, field.APIKey, models.SyncRequest{
		Changes: []*models.AssessmentState{draft("a1", "Chad", "Abeche", "2024-03")},
	})
	first := t0.Format(time.RFC3339Nano)

	// A coordinator edits the field user's record later on
	env.now = t0.Add(time.Hour)
	edited := draft("a1", "Chad", "Abeche", "2024-03")
	edited.Answers["q2"] = 0.5
	resp := env.sync(t, coord.APIKey, models.SyncRequest{Changes: []*models.AssessmentState{edited}})
	require.Equal(t, []string{"a1"}, resp.Applied)
	assert.Equal(t, field.ID, env.repo.Owner("a1"))

	env.now = t0.Add(2 * time.Hour)
	resp = env.sync(t, field.APIKey, models.SyncRequest{LastSyncTimestamp: &first})
	require.Len(t, resp.ServerUpdates, 1)
	assert.Equal(t, 0.5, resp.ServerUpdates[0].Answers["q2"])

	// Nothing newer than the last round-trip
	last := resp.Timestamp
	resp = env.sync(t, field.APIKey, models.SyncRequest{LastSyncTimestamp: &last})
	assert.Empty(t, resp.ServerUpdates)
}

func TestSyncRejectsPerItem(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t, other.APIKey, models.SyncRequest{
		Changes: []*models.AssessmentState{draft("m1", "Mali", "Gao", "2024-03")},
	})

	bad := draft("a2", "Chad", "Abeche", "March")
	resp := env.sync(t, field.APIKey, models.SyncRequest{
		Changes: []*models.AssessmentState{
			draft("", "Chad", "Abeche", "2024-03"),
			bad,
			draft("m1", "Mali", "Gao", "2024-03"),
			draft("a3", "Chad", "Abeche", "2024-04"),
		},
	})

	assert.Equal(t, []string{"a3"}, resp.Applied)
	require.Len(t, resp.Errors, 3)
	assert.Equal(t, errMissingID.Error(), resp.Errors[0].Error)
	assert.Equal(t, "a2", resp.Errors[1].ID)
	assert.Equal(t, models.SyncError{ID: "m1", Error: errNotAuthorized.Error()}, resp.Errors[2])
	assert.Equal(t, other.ID, env.repo.Owner("m1"))
}

func TestSyncInvalidTimestamp(t *testing.T) {
	env := newTestEnv(t)
	ts := "yesterday"
	rec := env.do(t, "POST", "/api/v1/assessments/sync", field.APIKey, models.SyncRequest{LastSyncTimestamp: &ts})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest("POST", "/api/v1/assessments/sync", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+field.APIKey)
	rr := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHistoryScopes(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t, field.APIKey, models.SyncRequest{
		Changes: []*models.AssessmentState{draft("a1", "Chad", "Abeche", "2024-03")},
	})
	env.sync(t, other.APIKey, models.SyncRequest{
		Changes: []*models.AssessmentState{draft("m1", "Mali", "Gao", "2024-03")},
	})

	count := func(key, query string) int {
		rec := env.do(t, "GET", "/api/v1/assessments/history"+query, key, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		return decodeData[struct {
			Total int `json:"total"`
		}](t, rec).Total
	}

	assert.Equal(t, 2, count(admin.APIKey, ""))
	assert.Equal(t, 1, count(admin.APIKey, "?country=Mali"))
	assert.Equal(t, 1, count(admin.APIKey, "?limit=1"))
	assert.Equal(t, 1, count(coord.APIKey, ""))
	assert.Equal(t, 1, count(field.APIKey, ""))
	assert.Equal(t, 0, count(field.APIKey, "?country=Mali"))
	assert.Equal(t, 0, count(admin.APIKey, "?updated_after="+t0.Format(time.RFC3339)))

	assert.Equal(t, http.StatusForbidden, env.do(t, "GET", "/api/v1/assessments/history?country=Mali", coord.APIKey, nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/v1/assessments/history?updated_after=x", admin.APIKey, nil).Code)
}

func TestDeleteAssessment(t *testing.T) {
	env := newTestEnv(t)
	env.sync(t, field.APIKey, models.SyncRequest{
		Changes: []*models.AssessmentState{
			draft("a1", "Chad", "Abeche", "2024-03"),
			draft("a2", "Chad", "Abeche", "2024-04"),
		},
	})

	assert.Equal(t, http.StatusForbidden, env.do(t, "DELETE", "/api/v1/assessments/a1", coord.APIKey, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, "DELETE", "/api/v1/assessments/a1", field.APIKey, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, "DELETE", "/api/v1/assessments/a2", admin.APIKey, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, "DELETE", "/api/v1/assessments/a2", admin.APIKey, nil).Code)
	assert.Equal(t, 0, env.repo.Len())
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	scored := draft("a1", "Chad", "Abeche", "2024-03")
	scored.Score = models.IntPtr(80)
	env.sync(t, field.APIKey, models.SyncRequest{Changes: []*models.AssessmentState{scored}})
	env.sync(t, other.APIKey, models.SyncRequest{
		Changes: []*models.AssessmentState{draft("m1", "Mali", "Gao", "2024-03")},
	})

	rec := env.do(t, "GET", "/api/v1/dashboard", coord.APIKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	m := decodeData[struct {
		TotalAssessments int `json:"totalAssessments"`
		AverageScore     int `json:"averageScore"`
	}](t, rec)
	assert.Equal(t, 1, m.TotalAssessments)
	assert.Equal(t, 80, m.AverageScore)
}

func TestEventsFeed(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Router())
	defer ts.Close()
	defer env.server.Hub().Close()

	dial := func(key string) *websocket.Conn {
		header := http.Header{}
		header.Set("X-API-Key", key)
		conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/v1/events", header)
		require.NoError(t, err)
		var hello models.Event
		require.NoError(t, conn.ReadJSON(&hello))
		assert.Equal(t, "connected", hello.Type)
		return conn
	}

	chad := dial(coord.APIKey)
	defer chad.Close()
	mali := dial(other.APIKey)
	defer mali.Close()

	require.Eventually(t, func() bool { return env.server.Hub().Len() == 2 }, time.Second, 10*time.Millisecond)

	env.sync(t, field.APIKey, models.SyncRequest{
		Changes: []*models.AssessmentState{draft("a1", "Chad", "Abeche", "2024-03")},
	})

	chad.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev models.Event
	require.NoError(t, chad.ReadJSON(&ev))
	assert.Equal(t, models.EventAssessmentsUpdated, ev.Type)
	assert.Equal(t, []string{"a1"}, ev.IDs)
	assert.Equal(t, []string{"Chad"}, ev.Countries)

	mali.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	assert.Error(t, mali.ReadJSON(&ev))
}

func TestWantsEvent(t *testing.T) {
	assert.True(t, wantsEvent(admin, []string{"Mali"}))
	assert.True(t, wantsEvent(coord, []string{"Mali", "Chad"}))
	assert.False(t, wantsEvent(coord, []string{"Mali"}))
	assert.True(t, wantsEvent(field, []string{"Chad"}))
	assert.False(t, wantsEvent(field, []string{"Mali"}))
	assert.True(t, wantsEvent(field, nil))
}
