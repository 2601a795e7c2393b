package assessment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/terra-clan/assessment-engine/internal/history"
	"github.com/terra-clan/assessment-engine/internal/models"
)

// Snapshot names recorded in the global snapshot log
const (
	SnapshotSubmission = "Submission"
	SnapshotValidation = "Validation"
	SnapshotReset      = "Reset"
)

// Submit moves DRAFT to SUBMITTED and locks content
func (s *Service) Submit(ctx context.Context) (*models.AssessmentState, error) {
	st, err := s.mutate(ctx, false, func(st *models.AssessmentState) error {
		if st.Status != models.StatusDraft {
			return fmt.Errorf("%w: submit from %s", ErrInvalidTransition, st.Status)
		}
		now := s.now()
		st.Status = models.StatusSubmitted
		st.SubmittedBy = s.actor()
		st.SubmittedAt = &now
		history.Append(st, models.ActionSubmitted, "Assessment submitted for validation", st.SubmittedBy, s.score(st), now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("assessment submitted", "key", st.Key(), "by", st.SubmittedBy, "score", st.ScoreValue())
	s.capture(ctx, st, SnapshotSubmission)
	s.triggerSync(ctx)
	return st, nil
}

// Validate moves SUBMITTED to VALIDATED
func (s *Service) Validate(ctx context.Context) (*models.AssessmentState, error) {
	st, err := s.mutate(ctx, false, func(st *models.AssessmentState) error {
		if st.Status != models.StatusSubmitted {
			return fmt.Errorf("%w: validate from %s", ErrInvalidTransition, st.Status)
		}
		now := s.now()
		st.Status = models.StatusValidated
		st.ValidatedBy = s.actor()
		st.ValidatedAt = &now
		history.Append(st, models.ActionValidated, "Assessment validated and finalized", st.ValidatedBy, s.score(st), now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("assessment validated", "key", st.Key(), "by", st.ValidatedBy, "score", st.ScoreValue())
	s.capture(ctx, st, SnapshotValidation)
	s.triggerSync(ctx)
	return st, nil
}

// Unlock reverts SUBMITTED or VALIDATED to DRAFT. The submission and
// validation metadata are cleared from the state and kept only in the
// details of the UNLOCKED history entry.
func (s *Service) Unlock(ctx context.Context) (*models.AssessmentState, error) {
	st, err := s.mutate(ctx, false, func(st *models.AssessmentState) error {
		if !st.Status.IsLocked() {
			return fmt.Errorf("%w: unlock from %s", ErrInvalidTransition, st.Status)
		}
		details := unlockDetails(st)
		st.Status = models.StatusDraft
		st.SubmittedBy = ""
		st.SubmittedAt = nil
		st.ValidatedBy = ""
		st.ValidatedAt = nil
		history.Append(st, models.ActionUnlocked, details, s.actor(), s.score(st), s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("assessment unlocked", "key", st.Key())
	return st, nil
}

// Reset clears every answer of a DRAFT assessment and records a snapshot
func (s *Service) Reset(ctx context.Context) (*models.AssessmentState, error) {
	st, err := s.mutate(ctx, true, func(st *models.AssessmentState) error {
		st.Answers = make(map[string]float64)
		st.Status = models.StatusDraft
		history.Append(st, models.ActionReset, "All answers cleared", s.actor(), 0, s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("assessment reset", "key", st.Key())
	s.capture(ctx, st, SnapshotReset)
	s.triggerSync(ctx)
	return st, nil
}

// Snapshots returns the global snapshot log
func (s *Service) Snapshots(ctx context.Context) ([]models.Snapshot, error) {
	return s.store.ListSnapshots(ctx)
}

// capture appends a named snapshot; failures only lose the log entry
func (s *Service) capture(ctx context.Context, st *models.AssessmentState, name string) {
	plan := make([]models.ActionItem, len(st.ActionPlan))
	copy(plan, st.ActionPlan)
	answers := make(map[string]float64, len(st.Answers))
	for k, v := range st.Answers {
		answers[k] = v
	}

	snap := models.Snapshot{
		ID:              s.newID(),
		Date:            s.now(),
		Name:            name,
		Score:           s.score(st),
		Answers:         answers,
		Country:         st.Context.Country,
		Base:            st.Context.Base,
		EvaluationMonth: st.Context.EvaluationMonth,
		ActionPlan:      plan,
	}
	if err := s.store.AppendSnapshot(ctx, snap); err != nil {
		slog.Error("failed to record snapshot", "key", st.Key(), "name", name, "error", err)
	}
}

func unlockDetails(st *models.AssessmentState) string {
	parts := []string{"Assessment unlocked (reverted to Draft)"}
	if st.SubmittedBy != "" || st.SubmittedAt != nil {
		parts = append(parts, fmt.Sprintf("previously submitted by %s at %s", st.SubmittedBy, formatTime(st.SubmittedAt)))
	}
	if st.ValidatedBy != "" || st.ValidatedAt != nil {
		parts = append(parts, fmt.Sprintf("validated by %s at %s", st.ValidatedBy, formatTime(st.ValidatedAt)))
	}
	return strings.Join(parts, "; ")
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "unknown time"
	}
	return t.UTC().Format(time.RFC3339)
}
