// Package chunker splits text into token-bounded pieces that respect
// semantic structure. Concatenating the pieces always reproduces the input
// byte for byte; only piece boundaries move.
//
// Two formats are handled. Plain text splits along a boundary cascade:
// paragraphs, sentence terminators (including script-specific variants),
// numbered-list item starts, whitespace runs, and finally grapheme
// clusters. HTML treats every top-level element as an atomic unit and
// recursively splits only the text between elements.
package chunker

import (
	"regexp"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/internal/tokenizer"
)

// ErrInvalidMaxToken rejects non-positive chunk budgets.
var ErrInvalidMaxToken = fault.New(fault.KindInputValidation, "maxChunkToken must be a positive integer")

// tagPattern detects any HTML tag: open, close, or self-closing.
var tagPattern = regexp.MustCompile(`</?[a-zA-Z][^<>]*/?>`)

// Chunker is the semantic splitter. Safe for concurrent use; all state
// lives in the shared token engine's cache.
type Chunker struct {
	engine *tokenizer.Engine
}

// New builds a chunker over the given token engine.
func New(engine *tokenizer.Engine) *Chunker {
	return &Chunker{engine: engine}
}

// Format is the detected input format.
type Format string

const (
	FormatText Format = "text"
	FormatHTML Format = "html"
)

// DetectFormat reports html when the text contains any tag, else text.
func DetectFormat(text string) Format {
	if tagPattern.MatchString(text) {
		return FormatHTML
	}
	return FormatText
}

// Split divides text into ordered pieces of at most maxChunkToken tokens
// each, choosing the splitting strategy from the detected format.
func (c *Chunker) Split(text string, maxChunkToken int) ([]string, error) {
	if maxChunkToken <= 0 {
		return nil, ErrInvalidMaxToken
	}
	if text == "" {
		return nil, nil
	}
	if DetectFormat(text) == FormatHTML {
		return c.splitHTML(text, maxChunkToken)
	}
	return c.splitText(text, maxChunkToken, 0), nil
}

// Count exposes the engine's token count, for budget math at call sites.
func (c *Chunker) Count(text string) int { return c.engine.Count(text) }
