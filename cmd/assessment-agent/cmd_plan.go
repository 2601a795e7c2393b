package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/terra-clan/assessment-engine/internal/models"
)

const dateLayout = "2006-01-02"

// clearValue resets a text field of an action on update
const clearValue = "-"

var (
	planConfirm bool

	addPriority string
	addOwner    string
	addComments string
	addDue      string

	actionPriority string
	actionStatus   string
	actionOwner    string
	actionComments string
	actionStart    string
	actionDue      string
)

func runPlanPreview(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	preview, err := a.service.PreviewPlan(a.generator)
	if err != nil {
		return err
	}
	return printJSON(preview)
}

func runPlanCommit(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	preview, err := a.service.PreviewPlan(a.generator)
	if err != nil {
		return err
	}
	if !planConfirm {
		return fmt.Errorf("commit replaces %d existing actions with %d generated ones: rerun with --yes", preview.Replaces, len(preview.Actions))
	}
	preview.Confirm()

	st, err := a.service.CommitPlan(ctx, preview)
	if err != nil {
		return err
	}
	return printJSON(st.ActionPlan)
}

func runActionAdd(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}

	item := models.ActionItem{
		QuestionID: args[0],
		Priority:   models.Priority(strings.ToUpper(addPriority)),
		Owner:      addOwner,
		Comments:   addComments,
	}
	if q, sec, ok := a.tree.Lookup(args[0]); ok {
		item.QuestionText = q.Text
		item.Category = q.Category
		item.Section = sec.Title
	}
	if addDue != "" {
		due, err := time.Parse(dateLayout, addDue)
		if err != nil {
			return fmt.Errorf("invalid due date %q: %w", addDue, err)
		}
		item.StartDate = time.Now()
		if due.Before(item.StartDate) {
			item.StartDate = due
		}
		item.DueDate = due
	}

	st, err := a.service.AddAction(ctx, item)
	if err != nil {
		return err
	}
	return printJSON(st.ActionPlan)
}

func runActionUpdate(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}

	var upd models.ActionUpdate
	if actionPriority != "" {
		p := models.Priority(strings.ToUpper(actionPriority))
		upd.Priority = &p
	}
	if actionStatus != "" {
		s := models.ActionStatus(strings.ToUpper(actionStatus))
		upd.Status = &s
	}
	upd.Owner = textUpdate(actionOwner)
	upd.Comments = textUpdate(actionComments)

	var err error
	if upd.StartDate, err = dateUpdate(actionStart); err != nil {
		return err
	}
	if upd.DueDate, err = dateUpdate(actionDue); err != nil {
		return err
	}

	st, err := a.service.UpdateAction(ctx, args[0], upd)
	if err != nil {
		return err
	}
	return printJSON(st.ActionPlan)
}

func runActionDelete(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	st, err := a.service.DeleteAction(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(st.ActionPlan)
}

func runActionMove(ctx context.Context, a *app, args []string) error {
	if _, err := a.active(ctx); err != nil {
		return err
	}
	to, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid position %q: %w", args[1], err)
	}
	st, err := a.service.MoveAction(ctx, args[0], to)
	if err != nil {
		return err
	}
	return printJSON(st.ActionPlan)
}

// textUpdate maps an empty flag to "no change" and "-" to an empty value
func textUpdate(v string) *string {
	switch v {
	case "":
		return nil
	case clearValue:
		empty := ""
		return &empty
	default:
		return &v
	}
}

func dateUpdate(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q: %w", v, err)
	}
	return &t, nil
}
