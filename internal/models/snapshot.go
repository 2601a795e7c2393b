package models

import (
	"time"
)

// Snapshot is one entry of the global append-only snapshot log
type Snapshot struct {
	ID              string             `json:"id"`
	Date            time.Time          `json:"date"`
	Name            string             `json:"name"`
	Score           int                `json:"score"`
	Answers         map[string]float64 `json:"answers"`
	Country         string             `json:"country"`
	Base            string             `json:"base"`
	EvaluationMonth string             `json:"evaluationMonth"`
	ActionPlan      []ActionItem       `json:"actionPlan"`
}
