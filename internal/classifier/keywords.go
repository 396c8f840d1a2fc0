package classifier

import "regexp"

// Weights: 3 strong signal, 2 medium, 1 weak.
// PolicyKeywords carries no bare "procedure" so that "stored procedure"
// questions are not pulled into the policy corpus.
var PolicyKeywords = map[string]int{
	"policy":            3,
	"policies":          3,
	"procedures manual": 3,
	"handbook":          3,
	"vacation":          3,
	"pto":               3,
	"paid time off":     3,
	"sick leave":        3,
	"dress code":        3,
	"code of conduct":   3,
	"harassment":        3,
	"human resources":   3,
	"benefits":          2,
	"holiday":           2,
	"leave":             2,
	"remote work":       2,
	"overtime":          2,
	"guideline":         2,
	"compliance":        2,
	"rule":              1,
	"rules":             1,
}

var SchemaKeywords = map[string]int{
	"table":            3,
	"tables":           3,
	"column":           3,
	"columns":          3,
	"schema":           3,
	"database":         3,
	"stored procedure": 3,
	"primary key":      3,
	"foreign key":      3,
	"data dictionary":  3,
	"which table":      3,
	"view":             2,
	"field":            2,
	"fields":           2,
	"data type":        2,
	"etl":              2,
	"metadata":         2,
	"index":            1,
	"relationship":     1,
}

var DataKeywords = map[string]int{
	"sql":            3,
	"how many":       3,
	"count":          2,
	"total":          2,
	"average":        2,
	"sum of":         2,
	"list all":       2,
	"top 10":         2,
	"query":          2,
	"rows":           2,
	"number of":      2,
	"breakdown":      2,
	"per department": 2,
	"show me":        1,
	"records":        1,
	"trend":          1,
}

var DocumentationKeywords = map[string]int{
	"documentation": 3,
	"docs":          3,
	"guide":         3,
	"manual":        3,
	"tutorial":      3,
	"readme":        3,
	"how do i":      2,
	"how to":        2,
	"setup":         2,
	"set up":        2,
	"install":       2,
	"configure":     2,
	"configuration": 2,
	"tool":          2,
	"instructions":  2,
	"troubleshoot":  2,
	"use the":       1,
	"steps":         1,
	"error":         1,
}

// Each match adds SQLPatternWeight to the data score.
var SQLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bselect\b[\s\S]+?\bfrom\b`),
	regexp.MustCompile(`\bgroup\s+by\b`),
	regexp.MustCompile(`\border\s+by\b`),
	regexp.MustCompile(`\b(inner|left|right|full|outer|cross)\s+join\b|\bjoin\s+\S+\s+on\b`),
	regexp.MustCompile(`\bwhere\s+\w+\s*(=|<>|!=|<=|>=|<|>|\blike\b|\bin\b)`),
	regexp.MustCompile(`\bcount\s*\(`),
}

// Each match adds DataRequestWeight to the data score.
var DataRequestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bshow\s+me\s+all\b`),
	regexp.MustCompile(`\bhow\s+many\b.*\bare\s+there\b`),
	regexp.MustCompile(`\blist\s+(all|every)\b`),
	regexp.MustCompile(`\bgive\s+me\s+(all|the\s+list)\b`),
	regexp.MustCompile(`\bwhat\s+(is|are)\s+the\s+(total|average|count)\b`),
}

// TechnicalKeywords send a policy-mode query to the general path.
var TechnicalKeywords = []string{
	"sql", "select", "table", "database", "query", "column", "schema",
	"etl", "join", "stored procedure",
}

// HRKeywords send a data-analysis-mode query to the general path.
var HRKeywords = []string{
	"policy", "vacation", "benefits", "pto", "leave", "holiday",
	"harassment", "handbook", "dress code",
}

// DirectDataKeywords route a data-analysis-mode query to data instead of
// schema.
var DirectDataKeywords = []string{
	"show me", "how many", "list", "count", "total", "select", "average", "top",
}
