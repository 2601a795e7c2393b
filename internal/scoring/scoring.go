// Package scoring computes weighted compliance scores, completion progress and
// not-applicable rates. Every function is pure and returns 0 on empty input.
package scoring

import (
	"math"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// Score returns round(100 * Σ(value*weight) / Σweight) over answered, non-N/A questions
func Score(questions []models.Question, answers map[string]float64) int {
	var num, den float64
	for _, q := range questions {
		v, ok := answers[q.ID]
		if !ok || v == models.NotApplicable {
			continue
		}
		num += v * q.Weight
		den += q.Weight
	}
	if den == 0 {
		return 0
	}
	return int(math.Round(100 * num / den))
}

// Progress returns the percentage of questions with any answer, N/A included
func Progress(questions []models.Question, answers map[string]float64) int {
	if len(questions) == 0 {
		return 0
	}
	answered := 0
	for _, q := range questions {
		if _, ok := answers[q.ID]; ok {
			answered++
		}
	}
	return percent(answered, len(questions))
}

// NARate returns the percentage of questions answered as not applicable
func NARate(questions []models.Question, answers map[string]float64) int {
	if len(questions) == 0 {
		return 0
	}
	na := 0
	for _, q := range questions {
		if v, ok := answers[q.ID]; ok && v == models.NotApplicable {
			na++
		}
	}
	return percent(na, len(questions))
}

// ScoreTree scores the whole questionnaire
func ScoreTree(tree *models.QuestionTree, answers map[string]float64) int {
	return Score(tree.Questions(), answers)
}

func percent(n, total int) int {
	return int(math.Round(100 * float64(n) / float64(total)))
}
