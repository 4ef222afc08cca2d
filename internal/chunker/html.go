package chunker

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/cortexgw/cortex/internal/fault"
)

// voidElements never take a closing tag, so they complete a top-level
// unit on their own.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

type unitKind int

const (
	unitText unitKind = iota
	unitElement
)

// htmlUnit is one top-level span of the document: either an element
// (atomic) or the text between elements (splittable).
type htmlUnit struct {
	kind unitKind
	raw  string
}

// splitHTML divides markup so that every top-level element stays whole.
// Text between elements is split with the plain-text cascade. An element
// that alone exceeds the budget is unsplittable and reported as such.
func (c *Chunker) splitHTML(text string, budget int) ([]string, error) {
	units := topLevelUnits(text)
	var pieces []string
	for _, u := range units {
		if u.kind == unitElement {
			if n := c.engine.Count(u.raw); n > budget {
				return nil, fault.Newf(fault.KindOversizedAtom,
					"html element of %d tokens exceeds chunk budget %d", n, budget)
			}
			pieces = append(pieces, u.raw)
			continue
		}
		pieces = append(pieces, c.splitText(u.raw, budget, 0)...)
	}
	return pieces, nil
}

// topLevelUnits walks the token stream and groups raw bytes into
// depth-zero spans. Raw token bytes are taken verbatim so the
// concatenation of all units reproduces the input exactly. Unbalanced
// markup degrades gracefully: an unclosed element swallows the remainder
// of the input as one unit.
func topLevelUnits(text string) []htmlUnit {
	z := html.NewTokenizer(strings.NewReader(text))
	var units []htmlUnit
	var textBuf, elemBuf strings.Builder
	depth := 0

	flushText := func() {
		if textBuf.Len() > 0 {
			units = append(units, htmlUnit{kind: unitText, raw: textBuf.String()})
			textBuf.Reset()
		}
	}
	flushElem := func() {
		if elemBuf.Len() > 0 {
			units = append(units, htmlUnit{kind: unitElement, raw: elemBuf.String()})
			elemBuf.Reset()
		}
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// At EOF the tokenizer may still hold unconsumed bytes,
			// such as a tag cut off mid-input. Keep them verbatim.
			if leftover := z.Raw(); len(leftover) > 0 {
				if depth > 0 {
					elemBuf.Write(leftover)
				} else {
					textBuf.Write(leftover)
				}
			}
			break
		}
		raw := string(z.Raw())
		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			if depth == 0 {
				flushText()
			}
			elemBuf.WriteString(raw)
			if !voidElements[string(name)] {
				depth++
			} else if depth == 0 {
				flushElem()
			}
		case html.SelfClosingTagToken:
			if depth == 0 {
				flushText()
			}
			elemBuf.WriteString(raw)
			if depth == 0 {
				flushElem()
			}
		case html.EndTagToken:
			if depth == 0 {
				flushText()
			}
			elemBuf.WriteString(raw)
			if depth > 0 {
				depth--
			}
			if depth == 0 {
				flushElem()
			}
		default: // text, comments, doctypes
			if depth > 0 {
				elemBuf.WriteString(raw)
			} else {
				textBuf.WriteString(raw)
			}
		}
	}
	flushText()
	flushElem()
	return units
}
