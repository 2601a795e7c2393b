package models

// NotApplicable is the reserved answer value meaning "not applicable"
const NotApplicable = -1.0

// QuestionTree is the questionnaire: ordered sections of ordered questions
type QuestionTree struct {
	GeneratedAt           string    `yaml:"generated_at" json:"generatedAt"`
	Sections              []Section `yaml:"sections" json:"sections"`
	TransversalComponents []string  `yaml:"transversal_components" json:"transversalComponents"`
}

// Section groups questions under a title
type Section struct {
	ID        string     `yaml:"id" json:"id"`
	Title     string     `yaml:"title" json:"title"`
	Questions []Question `yaml:"questions" json:"questions"`
}

// Question is a single weighted questionnaire item
type Question struct {
	ID              string           `yaml:"id" json:"id"`
	Category        string           `yaml:"category" json:"category"`
	Text            string           `yaml:"text" json:"text"`
	Verification    string           `yaml:"verification" json:"verification,omitempty"`
	Weight          float64          `yaml:"weight" json:"weight"`
	ResponseType    string           `yaml:"response_type" json:"responseType,omitempty"`
	TransversalTags []string         `yaml:"transversal_tags" json:"transversalTags"`
	Options         []ResponseOption `yaml:"options" json:"options,omitempty"`
}

// ResponseOption is one discrete answer value
type ResponseOption struct {
	Label string  `yaml:"label" json:"label"`
	Value float64 `yaml:"value" json:"value"`
	Color string  `yaml:"color" json:"color,omitempty"`
}

// HasTag reports whether the question carries the transversal tag
func (q Question) HasTag(tag string) bool {
	for _, t := range q.TransversalTags {
		if t == tag {
			return true
		}
	}
	return false
}

// Questions returns every question of the tree in order
func (t *QuestionTree) Questions() []Question {
	if t == nil {
		return nil
	}
	var out []Question
	for _, s := range t.Sections {
		out = append(out, s.Questions...)
	}
	return out
}

// Section returns the section with the given ID, or nil
func (t *QuestionTree) Section(id string) *Section {
	if t == nil {
		return nil
	}
	for i := range t.Sections {
		if t.Sections[i].ID == id {
			return &t.Sections[i]
		}
	}
	return nil
}

// Lookup finds a question and the section containing it
func (t *QuestionTree) Lookup(questionID string) (Question, *Section, bool) {
	if t == nil {
		return Question{}, nil, false
	}
	for i := range t.Sections {
		for _, q := range t.Sections[i].Questions {
			if q.ID == questionID {
				return q, &t.Sections[i], true
			}
		}
	}
	return Question{}, nil, false
}

// WithTag returns the questions carrying the transversal tag
func (t *QuestionTree) WithTag(tag string) []Question {
	var out []Question
	for _, q := range t.Questions() {
		if q.HasTag(tag) {
			out = append(out, q)
		}
	}
	return out
}
