package parsers

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONDocument extracts the largest balanced JSON object or array from
// text, repairing common model faults (trailing commas, single quotes,
// unquoted keys, unclosed brackets). Unrepairable input yields "{}" so
// callers always receive valid JSON.
func JSONDocument(text string) string {
	candidate := largestBalanced(text)
	if candidate == "" {
		// A truncated stream never closes its outer bracket. Hand the
		// tail to the repairer, which can close it.
		if i := strings.IndexAny(text, "{["); i >= 0 {
			candidate = strings.TrimSpace(text[i:])
		}
	}
	if candidate == "" {
		return "{}"
	}

	if jsonFast.Valid([]byte(candidate)) {
		return candidate
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil || !jsonFast.Valid([]byte(repaired)) {
		return "{}"
	}
	return repaired
}

// largestBalanced returns the largest substring opening with `{` or `[`
// and closing at matching depth. String literals and escapes are
// honored so brackets inside values do not count. Returns "" when no
// bracket closes.
func largestBalanced(text string) string {
	var best string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch c {
		case '"':
			// Quotes in surrounding prose stay prose; only quotes inside
			// an open bracket start a JSON string.
			if depth > 0 {
				inString = true
			}
		case '{', '[':
			if depth == 0 {
				start = i
			}
			depth++
		case '}', ']':
			if depth == 0 {
				continue // stray closer in prose
			}
			depth--
			if depth == 0 && start >= 0 {
				if n := i + 1 - start; n > len(best) {
					best = text[start : i+1]
				}
				start = -1
			}
		}
	}
	return best
}
