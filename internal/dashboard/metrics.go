// Package dashboard aggregates assessment scores for coordination views.
package dashboard

import (
	"math"
	"sort"

	"github.com/terra-clan/assessment-engine/internal/models"
)

// unknown labels a missing country, base or month
const unknown = "Unknown"

// Group is the count and average score of one country or base
type Group struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
	Score int    `json:"score"`
}

// Point is the average score of one evaluation month
type Point struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Metrics is the dashboard view over a set of assessments
type Metrics struct {
	TotalAssessments int     `json:"totalAssessments"`
	AverageScore     int     `json:"averageScore"`
	ActiveCountries  int     `json:"activeCountries"`
	ByCountry        []Group `json:"byCountry"`
	ByBase           []Group `json:"byBase"`
	Evolution        []Point `json:"evolution"`
}

type acc struct {
	count int
	sum   int
}

func (a acc) avg() int {
	if a.count == 0 {
		return 0
	}
	return int(math.Round(float64(a.sum) / float64(a.count)))
}

// Compute aggregates states. Groups keep first-seen order; evolution is
// sorted by month. A missing score counts as 0.
func Compute(states []*models.AssessmentState) Metrics {
	m := Metrics{ByCountry: []Group{}, ByBase: []Group{}, Evolution: []Point{}}
	if len(states) == 0 {
		return m
	}

	var total acc
	countries, countryOrder := map[string]*acc{}, []string{}
	bases, baseOrder := map[string]*acc{}, []string{}
	months := map[string]*acc{}

	add := func(groups map[string]*acc, order *[]string, name string, score int) {
		if name == "" {
			name = unknown
		}
		g, ok := groups[name]
		if !ok {
			g = &acc{}
			groups[name] = g
			if order != nil {
				*order = append(*order, name)
			}
		}
		g.count++
		g.sum += score
	}

	for _, st := range states {
		if st == nil {
			continue
		}
		score := st.ScoreValue()
		total.count++
		total.sum += score
		add(countries, &countryOrder, st.Context.Country, score)
		add(bases, &baseOrder, st.Context.Base, score)
		add(months, nil, st.Context.EvaluationMonth, score)
	}

	m.TotalAssessments = total.count
	m.AverageScore = total.avg()
	for _, name := range countryOrder {
		m.ByCountry = append(m.ByCountry, Group{Name: name, Count: countries[name].count, Score: countries[name].avg()})
	}
	for _, name := range baseOrder {
		m.ByBase = append(m.ByBase, Group{Name: name, Count: bases[name].count, Score: bases[name].avg()})
	}
	m.ActiveCountries = len(m.ByCountry)

	for name, a := range months {
		m.Evolution = append(m.Evolution, Point{Name: name, Value: a.avg()})
	}
	sort.Slice(m.Evolution, func(i, j int) bool {
		return m.Evolution[i].Name < m.Evolution[j].Name
	})
	return m
}
