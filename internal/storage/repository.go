package storage

import (
	"context"
	"time"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// AssessmentFilter scopes server-side assessment queries.
// Empty fields do not restrict.
type AssessmentFilter struct {
	OwnerID      string
	Countries    []string
	UpdatedAfter *time.Time
	ExcludeIDs   []string
	Limit        int
}

// StoredAssessment is a server record with its ownership
type StoredAssessment struct {
	State   *models.AssessmentState
	OwnerID string
}

// Repository defines the interface for server-side persistence
type Repository interface {
	// Assessments
	UpsertAssessment(ctx context.Context, st *models.AssessmentState, ownerID string) error
	GetAssessment(ctx context.Context, id string) (*StoredAssessment, error)
	ListAssessments(ctx context.Context, filter AssessmentFilter) ([]*models.AssessmentState, error)
	DeleteAssessment(ctx context.Context, id string) error

	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error)
	UpdateUserLastSeen(ctx context.Context, apiKey string) error

	// Health
	Ping(ctx context.Context) error
	Close() error
}
