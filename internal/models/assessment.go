package models

import (
	"time"
)

// AssessmentStatus represents the lifecycle state of an assessment
type AssessmentStatus string

const (
	StatusDraft     AssessmentStatus = "DRAFT"
	StatusSubmitted AssessmentStatus = "SUBMITTED"
	StatusValidated AssessmentStatus = "VALIDATED"
)

// IsLocked returns true if the status rejects content mutations
func (s AssessmentStatus) IsLocked() bool {
	return s == StatusSubmitted || s == StatusValidated
}

// HistoryAction is the kind of event recorded in an assessment history
type HistoryAction string

const (
	ActionCreated   HistoryAction = "CREATED"
	ActionSubmitted HistoryAction = "SUBMITTED"
	ActionValidated HistoryAction = "VALIDATED"
	ActionReset     HistoryAction = "RESET"
	ActionUnlocked  HistoryAction = "UNLOCKED"
	ActionSync      HistoryAction = "SYNC"
	ActionConflict  HistoryAction = "CONFLICT"
	ActionResolved  HistoryAction = "RESOLVED"
)

// HistoryItem is one append-only audit entry
type HistoryItem struct {
	Date    time.Time     `json:"date"`
	User    string        `json:"user"`
	Action  HistoryAction `json:"action"`
	Details string        `json:"details,omitempty"`
	Score   *int          `json:"score,omitempty"`
}

// AssessmentState is the full persisted state of one assessment slot
type AssessmentState struct {
	ID          string             `json:"id,omitempty"`
	Status      AssessmentStatus   `json:"status" validate:"required,oneof=DRAFT SUBMITTED VALIDATED"`
	Answers     map[string]float64 `json:"answers"`
	Comments    map[string]string  `json:"comments"`
	ProofLinks  map[string]string  `json:"proofLinks,omitempty"`
	ProofPhotos map[string]string  `json:"proofPhotos,omitempty"`
	Context     AssessmentContext  `json:"context"`

	Score *int `json:"score,omitempty"`

	SubmittedBy string     `json:"submittedBy,omitempty"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
	ValidatedBy string     `json:"validatedBy,omitempty"`
	ValidatedAt *time.Time `json:"validatedAt,omitempty"`

	History    []HistoryItem `json:"history"`
	ActionPlan []ActionItem  `json:"actionPlan"`

	Synced    bool      `json:"synced"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewAssessmentState returns an empty DRAFT state for the context
func NewAssessmentState(ctx AssessmentContext, now time.Time) *AssessmentState {
	return &AssessmentState{
		Status:      StatusDraft,
		Answers:     make(map[string]float64),
		Comments:    make(map[string]string),
		ProofLinks:  make(map[string]string),
		ProofPhotos: make(map[string]string),
		Context:     ctx,
		History:     []HistoryItem{},
		ActionPlan:  []ActionItem{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Key returns the storage key of the state's context
func (s *AssessmentState) Key() string {
	return s.Context.Key()
}

// CanEdit reports whether content mutations are currently allowed
func (s *AssessmentState) CanEdit() bool {
	return !s.Status.IsLocked()
}

// Normalize replaces nil maps and slices left by older or foreign records
func (s *AssessmentState) Normalize() {
	if s.Status == "" {
		s.Status = StatusDraft
	}
	if s.Answers == nil {
		s.Answers = make(map[string]float64)
	}
	if s.Comments == nil {
		s.Comments = make(map[string]string)
	}
	if s.ProofLinks == nil {
		s.ProofLinks = make(map[string]string)
	}
	if s.ProofPhotos == nil {
		s.ProofPhotos = make(map[string]string)
	}
	if s.History == nil {
		s.History = []HistoryItem{}
	}
	if s.ActionPlan == nil {
		s.ActionPlan = []ActionItem{}
	}
}

// Clone returns a deep copy of the state
func (s *AssessmentState) Clone() *AssessmentState {
	if s == nil {
		return nil
	}
	c := *s
	c.Answers = cloneMap(s.Answers)
	c.Comments = cloneMap(s.Comments)
	c.ProofLinks = cloneMap(s.ProofLinks)
	c.ProofPhotos = cloneMap(s.ProofPhotos)
	if s.Score != nil {
		v := *s.Score
		c.Score = &v
	}
	if s.SubmittedAt != nil {
		t := *s.SubmittedAt
		c.SubmittedAt = &t
	}
	if s.ValidatedAt != nil {
		t := *s.ValidatedAt
		c.ValidatedAt = &t
	}
	if s.History != nil {
		c.History = make([]HistoryItem, len(s.History))
		for i, h := range s.History {
			if h.Score != nil {
				v := *h.Score
				h.Score = &v
			}
			c.History[i] = h
		}
	}
	if s.ActionPlan != nil {
		c.ActionPlan = make([]ActionItem, len(s.ActionPlan))
		copy(c.ActionPlan, s.ActionPlan)
	}
	return &c
}

// ScoreValue returns the cached score, or 0 when none was computed
func (s *AssessmentState) ScoreValue() int {
	if s.Score == nil {
		return 0
	}
	return *s.Score
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int {
	return &v
}

func cloneMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
