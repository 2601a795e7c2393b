package scoring

import (
	"github.com/terra-clan/assessment-engine/internal/models"
)

// Breakdown holds the derived values for one subset of questions
type Breakdown struct {
	ID        string `json:"id"`
	Title     string `json:"title,omitempty"`
	Questions int    `json:"questions"`
	Score     int    `json:"score"`
	Progress  int    `json:"progress"`
	NARate    int    `json:"naRate"`
}

// Summary is the full read-only view handed to rendering and export layers
type Summary struct {
	Score    int         `json:"score"`
	Progress int         `json:"progress"`
	NARate   int         `json:"naRate"`
	Sections []Breakdown `json:"sections"`
	Tags     []Breakdown `json:"tags"`
}

func breakdown(id, title string, questions []models.Question, answers map[string]float64) Breakdown {
	return Breakdown{
		ID:        id,
		Title:     title,
		Questions: len(questions),
		Score:     Score(questions, answers),
		Progress:  Progress(questions, answers),
		NARate:    NARate(questions, answers),
	}
}

// SectionScore scores one section; 0 when the section does not exist
func SectionScore(tree *models.QuestionTree, sectionID string, answers map[string]float64) int {
	s := tree.Section(sectionID)
	if s == nil {
		return 0
	}
	return Score(s.Questions, answers)
}

// SectionProgress returns completion progress of one section
func SectionProgress(tree *models.QuestionTree, sectionID string, answers map[string]float64) int {
	s := tree.Section(sectionID)
	if s == nil {
		return 0
	}
	return Progress(s.Questions, answers)
}

// TagScore scores the questions carrying a transversal tag
func TagScore(tree *models.QuestionTree, tag string, answers map[string]float64) int {
	return Score(tree.WithTag(tag), answers)
}

// Summarize computes overall, per-section and per-tag values.
// Tags follow the tree's declared transversal components.
func Summarize(tree *models.QuestionTree, answers map[string]float64) Summary {
	all := tree.Questions()
	sum := Summary{
		Score:    Score(all, answers),
		Progress: Progress(all, answers),
		NARate:   NARate(all, answers),
		Sections: []Breakdown{},
		Tags:     []Breakdown{},
	}
	if tree == nil {
		return sum
	}
	for _, s := range tree.Sections {
		sum.Sections = append(sum.Sections, breakdown(s.ID, s.Title, s.Questions, answers))
	}
	for _, tag := range tree.TransversalComponents {
		sum.Tags = append(sum.Tags, breakdown(tag, "", tree.WithTag(tag), answers))
	}
	return sum
}
