// Package classifier routes a query to the corpus that should answer it.
package classifier

import (
	"fmt"
	"strings"

	"github.com/orgai/backend/internal/metrics"
)

type Category string

const (
	CategoryPolicy        Category = "policy"
	CategorySchema        Category = "schema"
	CategoryData          Category = "data"
	CategoryDocumentation Category = "documentation"
	CategoryGeneral       Category = "general"
)

type Mode string

const (
	ModeAuto         Mode = "auto"
	ModePolicy       Mode = "policy"
	ModeDataAnalysis Mode = "data-analysis"

	// ModeETL is the console client's name for ModeDataAnalysis.
	ModeETL Mode = "etl"
)

const (
	// Threshold is the minimum winning score; below it the query is general.
	Threshold = 2

	// DataPrecedenceScore wins the data category regardless of other scores.
	DataPrecedenceScore = 4

	SQLPatternWeight  = 4
	DataRequestWeight = 2
)

// ParseMode accepts the empty string as auto and folds etl into
// data-analysis.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModePolicy:
		return ModePolicy, nil
	case ModeDataAnalysis, ModeETL:
		return ModeDataAnalysis, nil
	}
	return "", fmt.Errorf("unknown mode %q: must be one of policy, data-analysis, auto", s)
}

// Scores are the raw per-category sums behind an auto classification.
type Scores struct {
	Policy        int `json:"policy"`
	Schema        int `json:"schema"`
	Data          int `json:"data"`
	Documentation int `json:"documentation"`
}

func (s Scores) Max() int {
	return max(s.Policy, s.Schema, s.Data, s.Documentation)
}

type Result struct {
	Category Category
	Mode     Mode
	Scores   Scores
}

// Classify picks the category for query. The mode is assumed to be parsed
// already; an unknown mode classifies as auto.
func Classify(query string, mode Mode) Result {
	lower := strings.ToLower(query)

	var res Result
	switch mode {
	case ModePolicy:
		res = Result{Mode: ModePolicy, Category: CategoryPolicy}
		if containsAny(lower, TechnicalKeywords) {
			res.Category = CategoryGeneral
		}
	case ModeDataAnalysis, ModeETL:
		res = Result{Mode: ModeDataAnalysis, Category: CategorySchema}
		switch {
		case containsAny(lower, HRKeywords):
			res.Category = CategoryGeneral
		case containsAny(lower, DirectDataKeywords):
			res.Category = CategoryData
		}
	default:
		scores := Score(lower)
		res = Result{Mode: ModeAuto, Scores: scores, Category: Decide(scores)}
	}

	metrics.ClassificationTotal.WithLabelValues(string(res.Mode), string(res.Category)).Inc()
	return res
}

// Score sums dictionary weights (one hit per distinct phrase) and pattern
// bonuses over the lowercased query.
func Score(lower string) Scores {
	s := Scores{
		Policy:        sum(lower, PolicyKeywords),
		Schema:        sum(lower, SchemaKeywords),
		Data:          sum(lower, DataKeywords),
		Documentation: sum(lower, DocumentationKeywords),
	}
	for _, re := range SQLPatterns {
		if re.MatchString(lower) {
			s.Data += SQLPatternWeight
		}
	}
	for _, re := range DataRequestPatterns {
		if re.MatchString(lower) {
			s.Data += DataRequestWeight
		}
	}
	return s
}

// Decide applies the fixed precedence: data wins at DataPrecedenceScore or
// any tie it is part of, policy wins ties with schema or documentation,
// schema wins ties with documentation.
func Decide(s Scores) Category {
	top := s.Max()
	switch {
	case top < Threshold:
		return CategoryGeneral
	case s.Data >= DataPrecedenceScore || s.Data == top:
		return CategoryData
	case s.Policy == top:
		return CategoryPolicy
	case s.Schema == top:
		return CategorySchema
	default:
		return CategoryDocumentation
	}
}

func sum(lower string, dict map[string]int) int {
	total := 0
	for phrase, weight := range dict {
		if strings.Contains(lower, phrase) {
			total += weight
		}
	}
	return total
}

func containsAny(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
