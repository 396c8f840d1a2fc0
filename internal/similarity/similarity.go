// Package similarity implements the string similarity used by every corpus
// search: a Ratcliff/Obershelp ratio (2*M/T where M is the total size of the
// matching blocks and T the combined length).
package similarity

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Ratio compares a and b case-insensitively and returns a score in [0,1].
// Two empty strings are identical.
func Ratio(a, b string) float64 {
	ra := splitRunes(strings.ToLower(a))
	rb := splitRunes(strings.ToLower(b))

	// The matcher's junk heuristic and tie-breaking depend on which side is
	// indexed, so the pair is ordered canonically to keep Ratio symmetric.
	if len(ra) > len(rb) || (len(ra) == len(rb) && strings.Join(ra, "") > strings.Join(rb, "")) {
		ra, rb = rb, ra
	}

	return difflib.NewMatcher(ra, rb).Ratio()
}

// BestOf returns the highest Ratio of any term against field, or 0 when
// there are no terms.
func BestOf(terms []string, field string) float64 {
	best := 0.0
	for _, term := range terms {
		if r := Ratio(term, field); r > best {
			best = r
		}
	}
	return best
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
