// Package parsers turns raw model text into the output shape a pathway
// declares. Model output is only approximately structured, so every
// parser here is tolerant: items that cannot be interpreted are dropped
// or passed through rather than failing the request.
package parsers

import (
	"regexp"
	"strconv"
	"strings"
)

// listMarker matches a numbered-item prefix at the start of a line.
// Models emit any of `1.`, `1)`, `1-`, `1:` depending on the prompt.
var listMarker = regexp.MustCompile(`(?m)^[ \t]*\d+[.)\-:][ \t]*`)

// NumberedList splits text into numbered items. An item runs from its
// marker to the next marker, so items may span lines. Text without any
// markers falls back to one item per non-empty line.
func NumberedList(text string) []string {
	marks := listMarker.FindAllStringIndex(text, -1)
	if len(marks) == 0 {
		return nonEmptyLines(text)
	}

	items := make([]string, 0, len(marks))
	for i, m := range marks {
		end := len(text)
		if i+1 < len(marks) {
			end = marks[i+1][0]
		}
		if item := strings.TrimSpace(text[m[1]:end]); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// CommaList splits text on commas outside quoted runs. Items are
// trimmed; an item fully enclosed in matching quotes is unquoted.
func CommaList(text string) []string {
	var items []string
	var sb strings.Builder
	var quote rune

	flush := func() {
		if item := trimItem(sb.String()); item != "" {
			items = append(items, item)
		}
		sb.Reset()
	}

	for _, r := range text {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
			sb.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			sb.WriteRune(r)
		case r == ',':
			flush()
		default:
			sb.WriteRune(r)
		}
	}
	flush()
	return items
}

// trimItem strips whitespace and one pair of enclosing quotes.
func trimItem(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		if first := s[0]; (first == '"' || first == '\'') && s[len(s)-1] == first {
			s = s[1 : len(s)-1]
		}
	}
	return s
}

func nonEmptyLines(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			items = append(items, line)
		}
	}
	return items
}

// coerce converts a scalar string to the narrowest JSON-representable
// type, so downstream consumers see numbers as numbers.
func coerce(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
