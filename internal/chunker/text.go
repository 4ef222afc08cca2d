package chunker

import (
	"regexp"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// listItemPattern marks the start of a numbered list item on a new line.
var listItemPattern = regexp.MustCompile(`\n[0-9]+[.)\-:]`)

// splitter cuts text into consecutive segments whose concatenation equals
// the input. A splitter that finds no boundary returns a single segment.
type splitter func(text string) []string

// cascade orders the boundary strategies from coarsest to finest. Grapheme
// clusters are the implicit final level handled by packGraphemes.
var cascade = []splitter{
	splitParagraphs,
	splitSentences,
	splitListItems,
	splitWhitespace,
}

// splitText recursively divides text until every piece fits the budget.
// level indexes into the cascade; when the cascade is exhausted the text is
// packed from grapheme clusters so combining marks never separate from
// their base character.
func (c *Chunker) splitText(text string, budget, level int) []string {
	if text == "" {
		return nil
	}
	if c.engine.Count(text) <= budget {
		return []string{text}
	}
	for ; level < len(cascade); level++ {
		segs := cascade[level](text)
		if len(segs) > 1 {
			return c.pack(segs, budget, level+1)
		}
	}
	return c.packGraphemes(text, budget)
}

// pack greedily merges consecutive segments into pieces of at most budget
// tokens. A single segment over budget is re-split at the next cascade
// level and its pieces emitted as-is.
func (c *Chunker) pack(segs []string, budget, nextLevel int) []string {
	var pieces []string
	current := ""
	flush := func() {
		if current != "" {
			pieces = append(pieces, current)
			current = ""
		}
	}
	for _, seg := range segs {
		if current != "" && c.engine.Count(current+seg) <= budget {
			current += seg
			continue
		}
		flush()
		if c.engine.Count(seg) <= budget {
			current = seg
			continue
		}
		pieces = append(pieces, c.splitText(seg, budget, nextLevel)...)
	}
	flush()
	return pieces
}

// splitParagraphs cuts after each blank-line run, keeping the separator
// attached to the preceding segment.
func splitParagraphs(text string) []string {
	var segs []string
	start := 0
	i := 0
	for i < len(text) {
		if text[i] == '\n' && i+1 < len(text) && text[i+1] == '\n' {
			j := i
			for j < len(text) && text[j] == '\n' {
				j++
			}
			segs = append(segs, text[start:j])
			start = j
			i = j
			continue
		}
		i++
	}
	if start < len(text) {
		segs = append(segs, text[start:])
	}
	return segs
}

// sentence terminators across scripts. U+06D4 is the Arabic-script full
// stop, U+3002 the ideographic one.
func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '۔', '。':
		return true
	}
	return false
}

func isTerminatorTail(r rune) bool {
	return isTerminator(r) || r == '…'
}

// splitSentences cuts after sentence-ending punctuation, keeping the
// terminator run and any adjacent ellipsis with the preceding segment.
// Latin-script terminators only count when followed by whitespace or end
// of input, so decimals and abbreviations stay intact; the ideographic
// full stop is a boundary unconditionally.
func splitSentences(text string) []string {
	var segs []string
	start := 0
	for i, r := range text {
		if !isTerminator(r) {
			continue
		}
		end := i + utf8.RuneLen(r)
		for end < len(text) {
			nr, size := utf8.DecodeRuneInString(text[end:])
			if !isTerminatorTail(nr) {
				break
			}
			end += size
		}
		if end <= start {
			continue
		}
		if r != '。' && end < len(text) {
			nr, _ := utf8.DecodeRuneInString(text[end:])
			if !unicode.IsSpace(nr) {
				continue
			}
		}
		if end < len(text) {
			segs = append(segs, text[start:end])
			start = end
		}
	}
	if start < len(text) {
		segs = append(segs, text[start:])
	}
	return segs
}

// splitListItems cuts before each newline that starts a numbered item, so
// items like "\n2. step" begin their own segment.
func splitListItems(text string) []string {
	locs := listItemPattern.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return []string{text}
	}
	var segs []string
	start := 0
	for _, loc := range locs {
		if loc[0] > start {
			segs = append(segs, text[start:loc[0]])
			start = loc[0]
		}
	}
	if start < len(text) {
		segs = append(segs, text[start:])
	}
	return segs
}

// splitWhitespace cuts at every whitespace-to-text transition, keeping
// trailing whitespace with the word before it.
func splitWhitespace(text string) []string {
	var segs []string
	start := 0
	inSpace := false
	for i, r := range text {
		s := unicode.IsSpace(r)
		if inSpace && !s && i > start {
			segs = append(segs, text[start:i])
			start = i
		}
		inSpace = s
	}
	if start < len(text) {
		segs = append(segs, text[start:])
	}
	return segs
}

// packGraphemes emits budget-sized pieces of whole grapheme clusters. A
// cluster whose own count exceeds the budget is emitted intact: combining
// marks must never detach from their base character.
func (c *Chunker) packGraphemes(text string, budget int) []string {
	var pieces []string
	current := ""
	for len(text) > 0 {
		n := norm.NFC.NextBoundaryInString(text, true)
		if n <= 0 {
			n = len(text)
		}
		cluster := text[:n]
		text = text[n:]
		if current != "" && c.engine.Count(current+cluster) <= budget {
			current += cluster
			continue
		}
		if current != "" {
			pieces = append(pieces, current)
		}
		current = cluster
	}
	if current != "" {
		pieces = append(pieces, current)
	}
	return pieces
}
