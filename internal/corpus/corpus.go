// Package corpus holds the pieces shared by the policy, schema, and
// documentation searches: result type, query tokenization, and ordering.
package corpus

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

type ObjectType string

const (
	TypePolicy          ObjectType = "policy"
	TypeTable           ObjectType = "table"
	TypeView            ObjectType = "view"
	TypeColumn          ObjectType = "column"
	TypeStoredProcedure ObjectType = "stored_procedure"
	TypeDocument        ObjectType = "document"
)

// Result is one ranked hit. Item holds the corpus-specific payload
// (*policy.Record, schema hits, *docs.Snippet). Score is a weighted
// similarity plus bonuses and may exceed 1.
type Result struct {
	Source string
	Type   ObjectType
	Item   any
	Score  float64
}

// Searcher is implemented by every corpus. Search never fails: problems are
// logged by the corpus and surface as an empty result.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) []Result
}

// StopWords are dropped from queries before scoring.
var StopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true, "were": true,
	"be": true, "been": true, "what": true, "which": true, "who": true, "whom": true,
	"how": true, "when": true, "where": true, "why": true, "do": true, "does": true,
	"did": true, "i": true, "me": true, "my": true, "we": true, "our": true, "us": true,
	"you": true, "your": true, "it": true, "its": true, "of": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "with": true, "about": true, "tell": true,
	"show": true, "give": true, "can": true, "could": true, "would": true, "should": true,
	"please": true, "and": true, "or": true, "any": true, "all": true, "there": true,
	"this": true, "that": true, "these": true, "those": true, "from": true, "by": true,
	"as": true, "get": true, "find": true, "list": true, "know": true, "have": true,
	"has": true, "some": true, "need": true, "want": true, "use": true,
}

// Terms lowercases and splits query on whitespace, trims surrounding
// punctuation, and removes stop words. If nothing but stop words remains the
// unfiltered terms are returned instead.
func Terms(query string) []string {
	var all, filtered []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		term := strings.TrimFunc(field, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if term == "" {
			continue
		}
		all = append(all, term)
		if !StopWords[term] {
			filtered = append(filtered, term)
		}
	}
	if len(filtered) == 0 {
		return all
	}
	return filtered
}

// ContainsAny reports whether the lowercased text contains any of the
// phrases as a substring.
func ContainsAny(text string, phrases []string) bool {
	lower := strings.ToLower(text)
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// AnyTermIn reports whether any term occurs literally inside field.
func AnyTermIn(terms []string, field string) bool {
	lower := strings.ToLower(field)
	for _, t := range terms {
		if t != "" && strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// Sort orders results by descending score, keeping encounter order among
// equal scores.
func Sort(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// Top returns at most n results.
func Top(results []Result, n int) []Result {
	if len(results) > n {
		return results[:n]
	}
	return results
}
