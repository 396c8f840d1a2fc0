package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// HashString returns the hex SHA-256 of input.
func HashString(input string) string {
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}

// StatementFingerprint hashes a SQL statement after collapsing whitespace and
// case, so cosmetic rewrites of the same query share an audit key.
func StatementFingerprint(stmt string) string {
	normalized := whitespaceRun.ReplaceAllString(strings.TrimSpace(strings.ToLower(stmt)), " ")
	return HashString(normalized)[:16]
}
