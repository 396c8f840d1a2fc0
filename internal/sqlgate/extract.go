package sqlgate

import (
	"regexp"
	"strings"
)

var (
	fencedRe  = regexp.MustCompile("(?s)```(.*?)```")
	langTagRe = regexp.MustCompile(`^[\w+#.-]*$`)
	bareRe    = regexp.MustCompile(`(?im)^[ \t]*(select\b.+?\bfrom\b.*)$`)
)

// Extract finds a literal statement in text: the first fenced code block
// that is untagged or tagged sql, else the first line reading
// SELECT ... FROM. Trailing semicolons are dropped.
func Extract(text string) (string, bool) {
	for _, m := range fencedRe.FindAllStringSubmatch(text, -1) {
		body, ok := fencedBody(m[1])
		if !ok {
			continue
		}
		if stmt := clean(body); stmt != "" {
			return stmt, true
		}
	}
	if m := bareRe.FindStringSubmatch(text); m != nil {
		if stmt := clean(m[1]); stmt != "" {
			return stmt, true
		}
	}
	return "", false
}

// fencedBody strips a language tag line and rejects blocks tagged with
// anything but sql.
func fencedBody(block string) (string, bool) {
	first, rest, multiline := strings.Cut(block, "\n")
	if !multiline {
		return block, true
	}
	tag := strings.TrimSpace(first)
	switch {
	case !langTagRe.MatchString(tag), strings.EqualFold(tag, "select"), strings.EqualFold(tag, "with"):
		return block, true
	case tag == "", strings.EqualFold(tag, "sql"):
		return rest, true
	default:
		return "", false
	}
}

func clean(stmt string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(stmt), "; \t\r\n"))
}
