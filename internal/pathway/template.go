package pathway

import (
	"fmt"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cast"
	"golang.org/x/net/html"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// Template is a compiled prompt template. Substitution is name-based:
// {{var}} inserts a variable, {{helper var}} (or {{helper(var)}}) passes
// it through a helper first, and {{now}} takes no argument. Unknown
// variables render empty and surface as render warnings rather than
// errors, matching how pathway authors iterate on prompts.
type Template struct {
	src      string
	segments []segment
}

type segment struct {
	literal  string
	variable string
	helper   string
}

// helperFunc transforms a variable value during rendering.
type helperFunc func(any) string

var helpers = map[string]helperFunc{
	"stripHTML":  func(v any) string { return stripHTML(stringify(v)) },
	"toJSON":     toJSONHelper,
	"ctoW":       ctoW,
	"toMarkdown": toMarkdownHelper,
}

// zeroArgHelpers take no variable; their token renders the helper output.
var zeroArgHelpers = map[string]func() string{
	"now": func() string { return time.Now().UTC().Format(time.RFC3339) },
}

// CompileTemplate parses the {{...}} tokens of a template source. An
// unterminated token or a reference to an unknown helper is a compile
// error; variable names are only checked at render time.
func CompileTemplate(src string) (*Template, error) {
	t := &Template{src: src}
	rest := src
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			if rest != "" {
				t.segments = append(t.segments, segment{literal: rest})
			}
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			return nil, fmt.Errorf("unterminated {{ at offset %d", len(src)-len(rest)+start)
		}
		end += start

		if start > 0 {
			t.segments = append(t.segments, segment{literal: rest[:start]})
		}
		token := strings.TrimSpace(rest[start+2 : end])
		seg, err := parseToken(token)
		if err != nil {
			return nil, err
		}
		t.segments = append(t.segments, seg)
		rest = rest[end+2:]
	}
	return t, nil
}

// MustCompileTemplate is CompileTemplate for statically known sources.
func MustCompileTemplate(src string) *Template {
	t, err := CompileTemplate(src)
	if err != nil {
		panic(err)
	}
	return t
}

func parseToken(token string) (segment, error) {
	if token == "" {
		return segment{}, fmt.Errorf("empty {{}} token")
	}

	// Function-call spelling: helper(var) or helper().
	if open := strings.IndexByte(token, '('); open != -1 {
		if !strings.HasSuffix(token, ")") {
			return segment{}, fmt.Errorf("malformed token %q", token)
		}
		name := strings.TrimSpace(token[:open])
		arg := strings.TrimSpace(token[open+1 : len(token)-1])
		return resolveToken(name, arg)
	}

	fields := strings.Fields(token)
	switch len(fields) {
	case 1:
		if _, ok := zeroArgHelpers[fields[0]]; ok {
			return segment{helper: fields[0]}, nil
		}
		return segment{variable: fields[0]}, nil
	case 2:
		return resolveToken(fields[0], fields[1])
	default:
		return segment{}, fmt.Errorf("malformed token %q", token)
	}
}

func resolveToken(helper, arg string) (segment, error) {
	if _, ok := zeroArgHelpers[helper]; ok {
		if arg != "" {
			return segment{}, fmt.Errorf("helper %q takes no argument", helper)
		}
		return segment{helper: helper}, nil
	}
	if _, ok := helpers[helper]; !ok {
		return segment{}, fmt.Errorf("unknown helper %q", helper)
	}
	if arg == "" {
		return segment{}, fmt.Errorf("helper %q requires an argument", helper)
	}
	return segment{variable: arg, helper: helper}, nil
}

// Source returns the original template text.
func (t *Template) Source() string {
	return t.src
}

// Variables lists the variable names the template references, in order of
// first appearance.
func (t *Template) Variables() []string {
	var names []string
	seen := make(map[string]bool)
	for _, seg := range t.segments {
		if seg.variable == "" || seen[seg.variable] {
			continue
		}
		seen[seg.variable] = true
		names = append(names, seg.variable)
	}
	return names
}

// Render substitutes vars into the template. Missing variables render as
// the empty string; each distinct miss produces one warning.
func (t *Template) Render(vars map[string]any) (string, []string) {
	var b strings.Builder
	var warnings []string
	warned := make(map[string]bool)

	for _, seg := range t.segments {
		switch {
		case seg.variable == "" && seg.helper == "":
			b.WriteString(seg.literal)
		case seg.variable == "":
			b.WriteString(zeroArgHelpers[seg.helper]())
		default:
			value, ok := vars[seg.variable]
			if !ok {
				if !warned[seg.variable] {
					warned[seg.variable] = true
					warnings = append(warnings, fmt.Sprintf("template references undefined variable %q", seg.variable))
				}
				continue
			}
			if seg.helper != "" {
				b.WriteString(helpers[seg.helper](value))
			} else {
				b.WriteString(stringify(value))
			}
		}
	}
	return b.String(), warnings
}

// stringify renders a variable value for prompt insertion. Scalars keep
// their natural formatting; composite values serialize as JSON.
func stringify(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	if s, err := jsonFast.MarshalToString(v); err == nil {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toJSONHelper(v any) string {
	s, err := jsonFast.MarshalToString(v)
	if err != nil {
		return ""
	}
	return s
}

// ctoW converts a character count into an approximate word count
// (chars/6, floored). Non-numeric values pass through unchanged.
func ctoW(v any) string {
	n, err := cast.ToFloat64E(v)
	if err != nil {
		return stringify(v)
	}
	return cast.ToString(int(n / 6))
}

func toMarkdownHelper(v any) string {
	md, err := htmltomarkdown.ConvertString(stringify(v))
	if err != nil {
		return stringify(v)
	}
	return md
}

// stripHTML removes markup, keeping text content. Script and style
// bodies are dropped with their elements.
func stripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skipDepth := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.StartTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if tag := string(name); tag == "script" || tag == "style" {
				if skipDepth > 0 {
					skipDepth--
				}
			}
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		}
	}
}
