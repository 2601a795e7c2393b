// Package storagetest provides an in-memory Repository for tests.
package storagetest

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/storage"
)

// MemoryRepository implements storage.Repository with maps
type MemoryRepository struct {
	mu          sync.Mutex
	assessments map[string]storage.StoredAssessment
	users       map[string]*models.User
	lastSeen    map[string]int
	PingErr     error
}

var _ storage.Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		assessments: make(map[string]storage.StoredAssessment),
		users:       make(map[string]*models.User),
		lastSeen:    make(map[string]int),
	}
}

func (m *MemoryRepository) UpsertAssessment(ctx context.Context, st *models.AssessmentState, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.assessments[st.ID]; ok {
		ownerID = cur.OwnerID
	}
	m.assessments[st.ID] = storage.StoredAssessment{State: st.Clone(), OwnerID: ownerID}
	return nil
}

func (m *MemoryRepository) GetAssessment(ctx context.Context, id string) (*storage.StoredAssessment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.assessments[id]
	if !ok {
		return nil, nil
	}
	return &storage.StoredAssessment{State: cur.State.Clone(), OwnerID: cur.OwnerID}, nil
}

func (m *MemoryRepository) ListAssessments(ctx context.Context, filter storage.AssessmentFilter) ([]*models.AssessmentState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*models.AssessmentState, 0)
	for id, rec := range m.assessments {
		switch {
		case filter.OwnerID != "" && rec.OwnerID != filter.OwnerID:
			continue
		case filter.Countries != nil && !slices.Contains(filter.Countries, rec.State.Context.Country):
			continue
		case filter.UpdatedAfter != nil && !rec.State.UpdatedAt.After(*filter.UpdatedAfter):
			continue
		case slices.Contains(filter.ExcludeIDs, id):
			continue
		}
		out = append(out, rec.State.Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRepository) DeleteAssessment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assessments[id]; !ok {
		return fmt.Errorf("%w: assessment %s", storage.ErrNotFound, id)
	}
	delete(m.assessments, id)
	return nil
}

func (m *MemoryRepository) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.APIKey]; ok {
		return nil
	}
	c := *u
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	m.users[u.APIKey] = &c
	return nil
}

func (m *MemoryRepository) GetUserByAPIKey(ctx context.Context, apiKey string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[apiKey]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (m *MemoryRepository) UpdateUserLastSeen(ctx context.Context, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen[apiKey]++
	return nil
}

// Owner returns the owner of a stored assessment
func (m *MemoryRepository) Owner(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assessments[id].OwnerID
}

// Len returns the number of stored assessments
func (m *MemoryRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.assessments)
}

func (m *MemoryRepository) Ping(ctx context.Context) error {
	return m.PingErr
}

func (m *MemoryRepository) Close() error {
	return nil
}
