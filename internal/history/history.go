// Package history maintains the append-only audit trail of an assessment.
package history

import (
	"sort"
	"time"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// Actor returns the display name stamped on entries recorded by u
func Actor(u *models.User) string {
	return u.DisplayName()
}

// Append records an entry on the state. Prior entries are never touched.
func Append(st *models.AssessmentState, action models.HistoryAction, details, actor string, score int, at time.Time) models.HistoryItem {
	item := models.HistoryItem{
		Date:    at,
		User:    actor,
		Action:  action,
		Details: details,
		Score:   models.IntPtr(score),
	}
	st.History = append(st.History, item)
	return item
}

// Last returns the most recent entry with the given action
func Last(items []models.HistoryItem, action models.HistoryAction) (models.HistoryItem, bool) {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Action == action {
			return items[i], true
		}
	}
	return models.HistoryItem{}, false
}

// Count returns how many entries carry the action
func Count(items []models.HistoryItem, action models.HistoryAction) int {
	n := 0
	for _, it := range items {
		if it.Action == action {
			n++
		}
	}
	return n
}

// TrendPoint is one point of a score-over-time series
type TrendPoint struct {
	Date   time.Time            `json:"date"`
	Score  int                  `json:"score"`
	Action models.HistoryAction `json:"action"`
}

// Trend keeps entries carrying a score and a date, in chronological order
func Trend(items []models.HistoryItem) []TrendPoint {
	points := make([]TrendPoint, 0, len(items))
	for _, it := range items {
		if it.Score == nil || it.Date.IsZero() {
			continue
		}
		points = append(points, TrendPoint{Date: it.Date, Score: *it.Score, Action: it.Action})
	}
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	return points
}

// Merge returns the entries of base followed by those of other not already
// present in base, ordered by date. Entries are equal when date, action,
// user and details match.
func Merge(base, other []models.HistoryItem) []models.HistoryItem {
	seen := make(map[string]struct{}, len(base))
	out := make([]models.HistoryItem, 0, len(base)+len(other))
	for _, it := range base {
		seen[entryKey(it)] = struct{}{}
		out = append(out, it)
	}
	for _, it := range other {
		if _, ok := seen[entryKey(it)]; ok {
			continue
		}
		seen[entryKey(it)] = struct{}{}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

func entryKey(it models.HistoryItem) string {
	return it.Date.UTC().Format(time.RFC3339Nano) + "|" + string(it.Action) + "|" + it.User + "|" + it.Details
}
