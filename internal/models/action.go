package models

import (
	"time"
)

// Priority is the urgency level of a corrective action
type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityMedium   Priority = "MEDIUM"
	PriorityLow      Priority = "LOW"
)

// ActionStatus is the progress state of a corrective action
type ActionStatus string

const (
	ActionTodo  ActionStatus = "TODO"
	ActionDoing ActionStatus = "DOING"
	ActionDone  ActionStatus = "DONE"
)

// ActionItem is one corrective task of an action plan
type ActionItem struct {
	ID           string       `json:"id" validate:"required"`
	QuestionID   string       `json:"questionId" validate:"required"`
	QuestionText string       `json:"questionText"` // snapshot, survives questionnaire edits
	Category     string       `json:"category"`
	Section      string       `json:"section,omitempty"`
	Priority     Priority     `json:"priority" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	Status       ActionStatus `json:"status" validate:"required,oneof=TODO DOING DONE"`
	Owner        string       `json:"owner,omitempty"`
	Comments     string       `json:"comments,omitempty"`
	StartDate    time.Time    `json:"startDate"`
	DueDate      time.Time    `json:"dueDate" validate:"gtefield=StartDate"`
	ProofLink    string       `json:"proofLink,omitempty"`
	ProofPhoto   string       `json:"proofPhoto,omitempty"`
}

// Validate checks the action fields
func (a ActionItem) Validate() error {
	return validate.Struct(a)
}

// ActionUpdate carries the user-editable fields of an action; nil fields are left untouched
type ActionUpdate struct {
	Priority  *Priority
	Status    *ActionStatus
	Owner     *string
	Comments  *string
	StartDate *time.Time
	DueDate   *time.Time
}

// Apply returns a copy of the action with the update applied
func (u ActionUpdate) Apply(a ActionItem) ActionItem {
	if u.Priority != nil {
		a.Priority = *u.Priority
	}
	if u.Status != nil {
		a.Status = *u.Status
	}
	if u.Owner != nil {
		a.Owner = *u.Owner
	}
	if u.Comments != nil {
		a.Comments = *u.Comments
	}
	if u.StartDate != nil {
		a.StartDate = *u.StartDate
	}
	if u.DueDate != nil {
		a.DueDate = *u.DueDate
	}
	return a
}
