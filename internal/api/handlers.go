package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/terra-clan/assessment-engine/internal/dashboard"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

// Response helpers

type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: status >= 200 && status < 300,
		Data:    data,
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := apiResponse{
		Success: false,
		Error: &apiError{
			Code:    code,
			Message: message,
		},
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode error response", "error", err)
	}
}

// scopeFilter restricts queries to what the user may see:
// everything for admins, assigned countries for coordinators, own records otherwise.
func scopeFilter(u *models.User) storage.AssessmentFilter {
	switch {
	case u.Role == models.RoleSuperAdmin:
		return storage.AssessmentFilter{}
	case u.IsCoordinator():
		countries := append([]string{}, u.Countries()...)
		return storage.AssessmentFilter{Countries: countries}
	default:
		return storage.AssessmentFilter{OwnerID: u.ID}
	}
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(r.Context()); err != nil {
		slog.Warn("readiness check failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "not_ready", "service not ready")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

// User handlers

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// Dashboard handlers

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	states, err := s.repo.ListAssessments(r.Context(), scopeFilter(user))
	if err != nil {
		slog.Error("failed to list assessments", "error", err, "user", user.Name)
		respondError(w, http.StatusInternalServerError, "internal_error", "failed to compute dashboard")
		return
	}

	respondJSON(w, http.StatusOK, dashboard.Compute(states))
}
