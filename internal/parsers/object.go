package parsers

import (
	"regexp"
	"sort"
	"strings"
)

// ObjectList parses numbered items into objects described by a
// space-separated field spec such as "name age". Within an item, field
// names match case-insensitively and any of `:`, `-`, `,` may separate
// a name from its value; values run to the next field name, so they may
// contain commas. Items that name no field at all are mapped
// positionally by splitting on commas. Fields absent from an item are
// omitted; text naming undeclared fields is ignored.
func ObjectList(text, fieldSpec string) []map[string]any {
	fields := strings.Fields(fieldSpec)
	if len(fields) == 0 {
		return nil
	}

	patterns := make([]*regexp.Regexp, len(fields))
	for i, f := range fields {
		patterns[i] = fieldPattern(f)
	}

	items := NumberedList(text)
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj := parseObjectItem(item, fields, patterns); len(obj) > 0 {
			out = append(out, obj)
		}
	}
	return out
}

// fieldPattern matches the first occurrence of a field name followed by
// a splitter. The name must not continue a longer word.
func fieldPattern(field string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\pL\pN_])` + regexp.QuoteMeta(field) + `[ \t]*[:\-,][ \t]*`)
}

type fieldMatch struct {
	field      string
	start      int
	valueStart int
}

func parseObjectItem(item string, fields []string, patterns []*regexp.Regexp) map[string]any {
	matches := make([]fieldMatch, 0, len(fields))
	for i, re := range patterns {
		if loc := re.FindStringIndex(item); loc != nil {
			matches = append(matches, fieldMatch{field: fields[i], start: loc[0], valueStart: loc[1]})
		}
	}

	// No field names present: map values onto the declared fields in order.
	if len(matches) == 0 {
		obj := make(map[string]any)
		for i, v := range CommaList(item) {
			if i >= len(fields) {
				break
			}
			obj[fields[i]] = coerce(v)
		}
		return obj
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })

	obj := make(map[string]any, len(matches))
	for i, m := range matches {
		end := len(item)
		if i+1 < len(matches) {
			end = matches[i+1].start
		}
		value := strings.Trim(item[m.valueStart:end], " \t\n,;")
		if value != "" {
			obj[m.field] = coerce(value)
		}
	}
	return obj
}
