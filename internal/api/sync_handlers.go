package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

// Sync handlers

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	var req models.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var since *time.Time
	if req.LastSyncTimestamp != nil && *req.LastSyncTimestamp != "" {
		t, err := time.Parse(time.RFC3339, *req.LastSyncTimestamp)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "lastSyncTimestamp must be an RFC 3339 timestamp")
			return
		}
		since = &t
	}

	syncRequests.Inc()

	// Taken before the pull; also the updated_at of every change applied here
	now := s.now().UTC()

	resp := models.SyncResponse{
		Applied:       []string{},
		Errors:        []models.SyncError{},
		ServerUpdates: []*models.AssessmentState{},
		Timestamp:     now.Format(time.RFC3339Nano),
	}
	var countries []string

	for _, change := range req.Changes {
		if err := s.applyChange(r, user, change, now); err != nil {
			id := ""
			if change != nil {
				id = change.ID
			}
			syncChanges.WithLabelValues("rejected").Inc()
			slog.Warn("sync change rejected", "id", id, "user", user.Name, "error", err)
			resp.Errors = append(resp.Errors, models.SyncError{ID: id, Error: err.Error()})
			continue
		}
		syncChanges.WithLabelValues("applied").Inc()
		resp.Applied = append(resp.Applied, change.ID)
		if !slices.Contains(countries, change.Context.Country) {
			countries = append(countries, change.Context.Country)
		}
	}

	filter := scopeFilter(user)
	filter.UpdatedAfter = since
	filter.ExcludeIDs = resp.Applied

	updates, err := s.repo.ListAssessments(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list server updates", "error", err, "user", user.Name)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to collect server updates")
		return
	}
	resp.ServerUpdates = updates

	if len(resp.Applied) > 0 {
		s.hub.Broadcast(models.Event{
			Type:      models.EventAssessmentsUpdated,
			IDs:       resp.Applied,
			Countries: countries,
			Timestamp: resp.Timestamp,
		})
	}

	slog.Info("sync completed",
		"user", user.Name,
		"applied", len(resp.Applied),
		"errors", len(resp.Errors),
		"server_updates", len(resp.ServerUpdates),
	)

	respondJSON(w, http.StatusOK, resp)
}

var (
	errMissingID     = errors.New("id is required")
	errNotAuthorized = errors.New("not authorized")
)

// applyChange stores one pushed state. An existing record keeps its owner.
func (s *Server) applyChange(r *http.Request, user *models.User, change *models.AssessmentState, now time.Time) error {
	if change == nil || change.ID == "" {
		return errMissingID
	}
	change.Normalize()
	if err := models.ValidateChange(change); err != nil {
		return err
	}

	existing, err := s.repo.GetAssessment(r.Context(), change.ID)
	if err != nil {
		return err
	}

	owner := user.ID
	if existing != nil {
		owner = existing.OwnerID
		if owner != user.ID && !canOverwrite(user, existing.State) {
			return errNotAuthorized
		}
	}

	change.UpdatedAt = now
	change.Synced = true
	if change.CreatedAt.IsZero() {
		change.CreatedAt = now
	}

	return s.repo.UpsertAssessment(r.Context(), change, owner)
}

// canOverwrite reports whether the user may replace a record owned by someone else
func canOverwrite(u *models.User, st *models.AssessmentState) bool {
	if u.Role == models.RoleSuperAdmin {
		return true
	}
	return u.IsCoordinator() && st != nil && u.CanAccess(st.Context)
}

// Assessment handlers

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	filter := scopeFilter(user)

	if country := r.URL.Query().Get("country"); country != "" {
		if filter.Countries != nil && !slices.Contains(filter.Countries, country) {
			respondError(w, http.StatusForbidden, "forbidden", "country is outside your assignment")
			return
		}
		filter.Countries = []string{country}
	}

	if after := r.URL.Query().Get("updated_after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			respondError(w, http.StatusBadRequest, "validation_error", "updated_after must be an RFC 3339 timestamp")
			return
		}
		filter.UpdatedAfter = &t
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}

	states, err := s.repo.ListAssessments(r.Context(), filter)
	if err != nil {
		slog.Error("failed to list assessments", "error", err, "user", user.Name)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to list assessments")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": states,
		"total":       len(states),
	})
}

func (s *Server) handleDeleteAssessment(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "validation_error", "assessment id is required")
		return
	}

	existing, err := s.repo.GetAssessment(r.Context(), id)
	if err != nil {
		slog.Error("failed to get assessment", "error", err, "id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to delete assessment")
		return
	}
	if existing == nil {
		respondError(w, http.StatusNotFound, "not_found", "assessment not found")
		return
	}

	if user.Role != models.RoleSuperAdmin && existing.OwnerID != user.ID {
		slog.Warn("delete denied", "id", id, "user", user.Name, "owner", existing.OwnerID)
		respondError(w, http.StatusForbidden, "forbidden", "only the owner or a super admin may delete an assessment")
		return
	}

	if err := s.repo.DeleteAssessment(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "not_found", "assessment not found")
			return
		}
		slog.Error("failed to delete assessment", "error", err, "id", id)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to delete assessment")
		return
	}

	slog.Info("assessment deleted", "id", id, "user", user.Name)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "assessment deleted",
	})
}
