// Package questions loads the questionnaire used to score assessments.
package questions

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// ErrInvalidQuestionnaire is returned when a questionnaire fails validation
var ErrInvalidQuestionnaire = errors.New("invalid questionnaire")

// LoadFile reads a questionnaire from a YAML (.yaml, .yml) or JSON (.json) file
func LoadFile(path string) (*models.QuestionTree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	tree, err := Parse(data, strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	slog.Info("questionnaire loaded",
		"file", path,
		"sections", len(tree.Sections),
		"questions", len(tree.Questions()),
	)
	return tree, nil
}

// Parse decodes and validates a questionnaire. ext selects the format and
// defaults to YAML.
func Parse(data []byte, ext string) (*models.QuestionTree, error) {
	var tree models.QuestionTree
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := Validate(&tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// Validate checks section and question identifiers, weights and option values
func Validate(tree *models.QuestionTree) error {
	if tree == nil || len(tree.Sections) == 0 {
		return fmt.Errorf("%w: no sections", ErrInvalidQuestionnaire)
	}

	sections := make(map[string]bool)
	seen := make(map[string]bool)
	for _, s := range tree.Sections {
		if s.ID == "" {
			return fmt.Errorf("%w: section id is required", ErrInvalidQuestionnaire)
		}
		if sections[s.ID] {
			return fmt.Errorf("%w: duplicate section %s", ErrInvalidQuestionnaire, s.ID)
		}
		sections[s.ID] = true

		for _, q := range s.Questions {
			if q.ID == "" {
				return fmt.Errorf("%w: question id is required in section %s", ErrInvalidQuestionnaire, s.ID)
			}
			if seen[q.ID] {
				return fmt.Errorf("%w: duplicate question %s", ErrInvalidQuestionnaire, q.ID)
			}
			seen[q.ID] = true

			if q.Weight <= 0 {
				return fmt.Errorf("%w: question %s weight must be positive", ErrInvalidQuestionnaire, q.ID)
			}
			for _, o := range q.Options {
				if o.Value != models.NotApplicable && (o.Value < 0 || o.Value > 1) {
					return fmt.Errorf("%w: question %s option %q value %v out of range", ErrInvalidQuestionnaire, q.ID, o.Label, o.Value)
				}
			}
		}
	}
	return nil
}
