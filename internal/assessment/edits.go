package assessment

import (
	"context"
	"fmt"

	"github.com/terra-clan/assessment-engine/internal/actionplan"
	"github.com/terra-clan/assessment-engine/internal/models"
)

// SetAnswer records an answer: -1 for not applicable, otherwise within [0, 1]
func (s *Service) SetAnswer(ctx context.Context, questionID string, value float64) (*models.AssessmentState, error) {
	if value != models.NotApplicable && (value < 0 || value > 1) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAnswer, value)
	}
	if err := s.checkQuestion(questionID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		st.Answers[questionID] = value
		return nil
	})
}

// ClearAnswer removes an answer so the question counts as unanswered again
func (s *Service) ClearAnswer(ctx context.Context, questionID string) (*models.AssessmentState, error) {
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		delete(st.Answers, questionID)
		return nil
	})
}

// SetComment sets the comment of a question; an empty text removes it
func (s *Service) SetComment(ctx context.Context, questionID, text string) (*models.AssessmentState, error) {
	if err := s.checkQuestion(questionID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		setOrDelete(st.Comments, questionID, text)
		return nil
	})
}

// SetProofLink sets the proof link of a question
func (s *Service) SetProofLink(ctx context.Context, questionID, link string) (*models.AssessmentState, error) {
	if err := s.checkQuestion(questionID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		setOrDelete(st.ProofLinks, questionID, link)
		return nil
	})
}

// SetProofPhoto sets the proof photo reference of a question
func (s *Service) SetProofPhoto(ctx context.Context, questionID, ref string) (*models.AssessmentState, error) {
	if err := s.checkQuestion(questionID); err != nil {
		return nil, err
	}
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		setOrDelete(st.ProofPhotos, questionID, ref)
		return nil
	})
}

// AddAction appends a manual action; the ID is assigned here
func (s *Service) AddAction(ctx context.Context, item models.ActionItem) (*models.AssessmentState, error) {
	item.ID = s.newID()
	if item.Status == "" {
		item.Status = models.ActionTodo
	}
	if item.StartDate.IsZero() {
		item.StartDate = s.now()
	}
	if item.DueDate.IsZero() {
		item.DueDate = item.StartDate
	}
	if err := item.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		st.ActionPlan = append(st.ActionPlan, item)
		return nil
	})
}

// UpdateAction edits one action in place
func (s *Service) UpdateAction(ctx context.Context, actionID string, upd models.ActionUpdate) (*models.AssessmentState, error) {
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		i := findAction(st.ActionPlan, actionID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
		}
		updated := upd.Apply(st.ActionPlan[i])
		if err := updated.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAction, err)
		}
		st.ActionPlan[i] = updated
		return nil
	})
}

// DeleteAction removes one action
func (s *Service) DeleteAction(ctx context.Context, actionID string) (*models.AssessmentState, error) {
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		i := findAction(st.ActionPlan, actionID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
		}
		st.ActionPlan = append(st.ActionPlan[:i], st.ActionPlan[i+1:]...)
		return nil
	})
}

// MoveAction moves an action to position to, clamped to the plan bounds
func (s *Service) MoveAction(ctx context.Context, actionID string, to int) (*models.AssessmentState, error) {
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		from := findAction(st.ActionPlan, actionID)
		if from < 0 {
			return fmt.Errorf("%w: %s", ErrActionNotFound, actionID)
		}
		if to < 0 {
			to = 0
		}
		if to >= len(st.ActionPlan) {
			to = len(st.ActionPlan) - 1
		}
		item := st.ActionPlan[from]
		plan := append(st.ActionPlan[:from:from], st.ActionPlan[from+1:]...)
		plan = append(plan[:to], append([]models.ActionItem{item}, plan[to:]...)...)
		st.ActionPlan = plan
		return nil
	})
}

// PreviewPlan computes a replacement plan for the active session without changing it
func (s *Service) PreviewPlan(gen *actionplan.Generator) (*actionplan.Preview, error) {
	st := s.Active()
	if st == nil {
		return nil, ErrNoActiveContext
	}
	return gen.Preview(st, s.tree), nil
}

// CommitPlan replaces the whole action plan with the preview's actions.
// Every existing action, including manual edits, is discarded; the preview
// must have been confirmed.
func (s *Service) CommitPlan(ctx context.Context, preview *actionplan.Preview) (*models.AssessmentState, error) {
	if !preview.Confirmed() {
		return nil, ErrPlanNotConfirmed
	}
	return s.mutate(ctx, true, func(st *models.AssessmentState) error {
		if st.Key() != preview.Key {
			return fmt.Errorf("%w: %s", ErrPlanMismatch, preview.Key)
		}
		plan := make([]models.ActionItem, len(preview.Actions))
		copy(plan, preview.Actions)
		st.ActionPlan = plan
		return nil
	})
}

func (s *Service) checkQuestion(questionID string) error {
	if s.tree == nil {
		return nil
	}
	if _, _, ok := s.tree.Lookup(questionID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	return nil
}

func findAction(plan []models.ActionItem, id string) int {
	for i, a := range plan {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func setOrDelete(m map[string]string, key, value string) {
	if value == "" {
		delete(m, key)
		return
	}
	m[key] = value
}
