// Package tokenizer provides the token engine: text/token conversion with
// a shared, hash-keyed count cache, and single-token prefix splitting.
package tokenizer

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/pkoukk/tiktoken-go"

	"github.com/cortexgw/cortex/pkg/models"
)

// Codec converts between text and token ids. Implementations must be safe
// for concurrent use.
type Codec interface {
	Name() string
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

// tiktokenCodec wraps a tiktoken encoding.
type tiktokenCodec struct {
	name string
	tkm  *tiktoken.Tiktoken
}

// NewTiktokenCodec resolves the encoding for a model name, falling back to
// cl100k_base for unknown models.
func NewTiktokenCodec(model string) (Codec, error) {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("tokenizer: no encoding for %q: %w", model, err)
		}
	}
	return &tiktokenCodec{name: model, tkm: tkm}, nil
}

func (c *tiktokenCodec) Name() string { return c.name }

func (c *tiktokenCodec) Encode(text string) []int {
	return c.tkm.Encode(text, nil, nil)
}

func (c *tiktokenCodec) Decode(tokens []int) string {
	return c.tkm.Decode(tokens)
}

func (c *tiktokenCodec) Count(text string) int {
	return len(c.tkm.Encode(text, nil, nil))
}

// approxCodec estimates roughly four characters per token. Used when the
// tiktoken vocabularies cannot be loaded; counting stays deterministic so
// chunk budgets remain stable.
type approxCodec struct{}

// NewApproxCodec returns the estimation codec.
func NewApproxCodec() Codec { return approxCodec{} }

func (approxCodec) Name() string { return "approx" }

func (approxCodec) Encode(text string) []int {
	n := approxCodec{}.Count(text)
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (approxCodec) Decode(tokens []int) string { return "" }

func (approxCodec) Count(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

// perMessageOverhead approximates the per-turn framing tokens of the chat
// wire format.
const perMessageOverhead = 4

// Engine is the shared token engine: a codec plus a read-mostly count
// cache keyed by text hash.
type Engine struct {
	codec      Codec
	maxEntries int

	mu     sync.RWMutex
	counts map[uint64]int
}

// NewEngine wraps a codec with a count cache.
func NewEngine(codec Codec) *Engine {
	return &Engine{
		codec:      codec,
		maxEntries: 8192,
		counts:     make(map[uint64]int),
	}
}

// Codec exposes the underlying codec.
func (e *Engine) Codec() Codec { return e.codec }

// Count returns the token count of text, consulting the cache first.
func (e *Engine) Count(text string) int {
	key := xxhash.Sum64String(text)

	e.mu.RLock()
	n, ok := e.counts[key]
	e.mu.RUnlock()
	if ok {
		return n
	}

	n = e.codec.Count(text)

	e.mu.Lock()
	if len(e.counts) >= e.maxEntries {
		// Reset rather than evict; the cache is an accelerator, not a store.
		e.counts = make(map[uint64]int)
	}
	e.counts[key] = n
	e.mu.Unlock()
	return n
}

// Encode converts text to token ids.
func (e *Engine) Encode(text string) []int { return e.codec.Encode(text) }

// Decode converts token ids back to text.
func (e *Engine) Decode(tokens []int) string { return e.codec.Decode(tokens) }

// Fits reports whether text encodes to at most budget tokens.
func (e *Engine) Fits(text string, budget int) bool {
	return e.Count(text) <= budget
}

// CountHistory sums the token counts of a chat history, including a small
// per-message framing overhead and tool-call payloads.
func (e *Engine) CountHistory(history []models.ChatMessage) int {
	total := 0
	for _, m := range history {
		total += perMessageOverhead
		total += e.Count(m.ContentText())
		for _, tc := range m.ToolCalls {
			total += e.Count(tc.Function.Name)
			total += e.Count(tc.Function.Arguments)
		}
	}
	return total
}

// singleTokenScanWindow bounds the prefix search; BPE merges never span
// more than a handful of runes.
const singleTokenScanWindow = 8

// SingleTokenChunks splits s into pieces where each piece is the shortest
// non-empty prefix the codec encodes as a single token. Concatenating the
// pieces reproduces s exactly. A rune that never encodes alone to one
// token is emitted as its own piece so the walk always advances.
func (e *Engine) SingleTokenChunks(s string) []string {
	var out []string
	for len(s) > 0 {
		runes := []rune(s)
		limit := len(runes)
		if limit > singleTokenScanWindow {
			limit = singleTokenScanWindow
		}
		emitted := false
		for i := 1; i <= limit; i++ {
			prefix := string(runes[:i])
			if len(e.codec.Encode(prefix)) == 1 {
				out = append(out, prefix)
				s = s[len(prefix):]
				emitted = true
				break
			}
		}
		if !emitted {
			first := string(runes[:1])
			out = append(out, first)
			s = s[len(first):]
		}
	}
	return out
}
