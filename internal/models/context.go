package models

import (
	"strings"
	"unicode"
)

// KeyPrefix prefixes every assessment slot key
const KeyPrefix = "assessment-"

// AssessmentContext identifies one assessment slot (one per country+base+month)
type AssessmentContext struct {
	Country         string `json:"country" validate:"required"`
	Base            string `json:"base" validate:"required"`
	EvaluationMonth string `json:"evaluationMonth" validate:"required,yearmonth"`
	Date            string `json:"date,omitempty"`
}

// Key derives the stable storage key for the context.
// Each whitespace rune becomes a single '_' so that "Log Base" and "Log  Base" never collide.
func (c AssessmentContext) Key() string {
	raw := KeyPrefix + c.Country + "-" + c.Base + "-" + c.EvaluationMonth
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return '_'
		}
		return r
	}, raw)
}

// IsZero reports whether the context carries no slot information
func (c AssessmentContext) IsZero() bool {
	return c.Country == "" && c.Base == "" && c.EvaluationMonth == ""
}

// Validate checks the context fields
func (c AssessmentContext) Validate() error {
	return validate.Struct(c)
}
