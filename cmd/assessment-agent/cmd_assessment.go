package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/terra-clan/assessment-engine/internal/history"
	"github.com/terra-clan/assessment-engine/internal/models"
	"github.com/terra-clan/assessment-engine/internal/scoring"
)

var (
	openCountry string
	openBase    string
	openMonth   string
	openDate    string
	openResume  bool

	proofLink  string
	proofPhoto string

	historyTrend bool
)

// stateView is the short form printed after every mutation
type stateView struct {
	Key        string                  `json:"key"`
	ID         string                  `json:"id,omitempty"`
	Status     models.AssessmentStatus `json:"status"`
	Score      int                     `json:"score"`
	Answered   int                     `json:"answered"`
	Actions    int                     `json:"actions"`
	Synced     bool                    `json:"synced"`
	UpdatedAt  time.Time               `json:"updatedAt"`
	Unanswered []string                `json:"unanswered,omitempty"`
}

func view(st *models.AssessmentState) stateView {
	return stateView{
		Key:       st.Key(),
		ID:        st.ID,
		Status:    st.Status,
		Score:     st.ScoreValue(),
		Answered:  len(st.Answers),
		Actions:   len(st.ActionPlan),
		Synced:    st.Synced,
		UpdatedAt: st.UpdatedAt,
	}
}

func printState(st *models.AssessmentState, err error) error {
	if err != nil {
		return err
	}
	return printJSON(view(st))
}

func runOpen(ctx context.Context, a *app, args []string) error {
	if openResume {
		return printState(a.active(ctx))
	}
	if openMonth == "" {
		openMonth = time.Now().Format(models.MonthLayout)
	}
	return printState(a.service.Load(ctx, models.AssessmentContext{
		Country:         openCountry,
		Base:            openBase,
		EvaluationMonth: openMonth,
		Date:            openDate,
	}))
}

func runAnswer(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}

	questionID, raw := args[0], strings.ToLower(args[1])
	switch raw {
	case "clear":
		return printState(a.service.ClearAnswer(ctx, questionID))
	case "na", "n/a":
		return printState(a.service.SetAnswer(ctx, questionID, -1))
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid answer %q: use a number between 0 and 1, \"na\" or \"clear\"", args[1])
	}
	return printState(a.service.SetAnswer(ctx, questionID, value))
}

func runComment(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	text := ""
	if len(args) > 1 {
		text = args[1]
	}
	return printState(a.service.SetComment(ctx, args[0], text))
}

func runProof(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	// Without flags both proofs are cleared
	clearAll := proofLink == "" && proofPhoto == ""
	var st *models.AssessmentState
	var err error
	if proofLink != "" || clearAll {
		if st, err = a.service.SetProofLink(ctx, args[0], proofLink); err != nil {
			return err
		}
	}
	if proofPhoto != "" || clearAll {
		st, err = a.service.SetProofPhoto(ctx, args[0], proofPhoto)
	}
	return printState(st, err)
}

func runStatus(ctx context.Context, a *app, args []string) error {
	st, err := a.active(ctx)
	if err != nil {
		return err
	}
	summary, err := a.service.Summary()
	if err != nil {
		return err
	}

	v := view(st)
	for _, sec := range a.tree.Sections {
		for _, q := range sec.Questions {
			if _, ok := st.Answers[q.ID]; !ok {
				v.Unanswered = append(v.Unanswered, q.ID)
			}
		}
	}

	return printJSON(struct {
		stateView
		Summary scoring.Summary `json:"summary"`
	}{v, summary})
}

func runList(ctx context.Context, a *app, args []string) error {
	entries, err := a.service.ListAll(ctx, a.identity.CurrentUser())
	if err != nil {
		return err
	}
	views := make([]stateView, 0, len(entries))
	for _, e := range entries {
		views = append(views, view(e.State))
	}
	return printJSON(views)
}

func runHistory(ctx context.Context, a *app, args []string) error {
	st, err := a.active(ctx)
	if err != nil {
		return err
	}
	if historyTrend {
		return printJSON(history.Trend(st.History))
	}
	return printJSON(st.History)
}

func runSnapshots(ctx context.Context, a *app, args []string) error {
	snaps, err := a.service.Snapshots(ctx)
	if err != nil {
		return err
	}
	return printJSON(snaps)
}

func runSubmit(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	return printState(a.service.Submit(ctx))
}

func runValidate(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	return printState(a.service.Validate(ctx))
}

func runUnlock(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	return printState(a.service.Unlock(ctx))
}

func runReset(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	return printState(a.service.Reset(ctx))
}
