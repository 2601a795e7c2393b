// Package actionplan derives corrective actions from low-scoring answers.
//
// Regeneration is split in two steps. Preview is pure and never touches the
// state; committing a preview replaces the whole action plan, discarding every
// manual edit (owner, status, dates, comments, custom actions). Callers must
// call Confirm on the preview before handing it to a commit.
package actionplan

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// Due offsets applied from the generation time
const (
	CriticalDueMonths = 1
	HighDueMonths     = 3
)

// ErrInvalidPolicy is returned when thresholds are out of order or range
var ErrInvalidPolicy = errors.New("invalid action plan policy")

// Policy holds the percentage thresholds below which an action is generated
type Policy struct {
	CriticalPercent float64 `json:"criticalPercent"`
	HighPercent     float64 `json:"highPercent"`
}

// DefaultPolicy returns the 50/80 thresholds
func DefaultPolicy() Policy {
	return Policy{CriticalPercent: 50, HighPercent: 80}
}

// Validate checks 0 <= critical <= high <= 100
func (p Policy) Validate() error {
	if p.CriticalPercent < 0 || p.HighPercent > 100 || p.CriticalPercent > p.HighPercent {
		return fmt.Errorf("%w: critical=%v high=%v", ErrInvalidPolicy, p.CriticalPercent, p.HighPercent)
	}
	return nil
}

// Classify returns the priority and due offset for an answer value.
// ok is false when no action is warranted.
func (p Policy) Classify(value float64) (priority models.Priority, dueMonths int, ok bool) {
	pct := value * 100
	switch {
	case pct < p.CriticalPercent:
		return models.PriorityCritical, CriticalDueMonths, true
	case pct < p.HighPercent:
		return models.PriorityHigh, HighDueMonths, true
	default:
		return "", 0, false
	}
}

// Preview is a proposed replacement for an assessment's action plan
type Preview struct {
	Key         string              `json:"key"`
	Actions     []models.ActionItem `json:"actions"`
	GeneratedAt time.Time           `json:"generatedAt"`
	// Replaces is the number of existing actions the commit would discard
	Replaces  int `json:"replaces"`
	confirmed bool
}

// Confirm acknowledges that committing discards the current plan
func (p *Preview) Confirm() {
	p.confirmed = true
}

// Confirmed reports whether Confirm was called
func (p *Preview) Confirmed() bool {
	return p != nil && p.confirmed
}

// Generator builds previews; clock and id source are replaceable for tests
type Generator struct {
	policy Policy
	now    func() time.Time
	newID  func() string
}

// NewGenerator creates a generator with the given policy
func NewGenerator(policy Policy) (*Generator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Generator{
		policy: policy,
		now:    time.Now,
		newID:  uuid.NewString,
	}, nil
}

// WithClock replaces the time source
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithIDSource replaces the identifier source
func (g *Generator) WithIDSource(newID func() string) *Generator {
	g.newID = newID
	return g
}

// Policy returns the thresholds in use
func (g *Generator) Policy() Policy {
	return g.policy
}

// Preview computes the actions for the state's current answers without mutating it
func (g *Generator) Preview(st *models.AssessmentState, tree *models.QuestionTree) *Preview {
	now := g.now()
	p := &Preview{
		Key:         st.Key(),
		Actions:     []models.ActionItem{},
		GeneratedAt: now,
		Replaces:    len(st.ActionPlan),
	}
	if tree == nil {
		return p
	}

	for _, section := range tree.Sections {
		for _, q := range section.Questions {
			v, answered := st.Answers[q.ID]
			if !answered || v == models.NotApplicable {
				continue
			}
			priority, months, ok := g.policy.Classify(v)
			if !ok {
				continue
			}
			category := q.Category
			if category == "" {
				category = section.Title
			}
			p.Actions = append(p.Actions, models.ActionItem{
				ID:           g.newID(),
				QuestionID:   q.ID,
				QuestionText: q.Text,
				Category:     category,
				Section:      section.Title,
				Priority:     priority,
				Status:       models.ActionTodo,
				StartDate:    now,
				DueDate:      now.AddDate(0, months, 0),
				ProofLink:    st.ProofLinks[q.ID],
				ProofPhoto:   st.ProofPhotos[q.ID],
			})
		}
	}
	return p
}
