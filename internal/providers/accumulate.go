package providers

import (
	"strconv"
	"strings"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/pkg/models"
)

// toolCallKey identifies one streamed tool call within a request.
type toolCallKey struct {
	Choice int
	Index  int
}

// toolCallState buffers one call's fragments. The argument buffer is plain
// bytes until assembly; fragments are not valid JSON in isolation and must
// never be parsed mid-stream.
type toolCallState struct {
	id   string
	name string
	args strings.Builder
}

// Accumulator reassembles streamed tool calls keyed by
// (choice index, tool call index). Id and name stick on first sight;
// argument fragments append in arrival order.
type Accumulator struct {
	order []toolCallKey
	calls map[toolCallKey]*toolCallState
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[toolCallKey]*toolCallState)}
}

// Observe folds one tool-call delta in. Empty id/name fields leave the
// recorded values alone; the arguments fragment is appended verbatim.
func (a *Accumulator) Observe(choice, index int, id, name, fragment string) {
	key := toolCallKey{Choice: choice, Index: index}
	st, ok := a.calls[key]
	if !ok {
		st = &toolCallState{}
		a.calls[key] = st
		a.order = append(a.order, key)
	}
	if st.id == "" && id != "" {
		st.id = id
	}
	if st.name == "" && name != "" {
		st.name = name
	}
	if fragment != "" {
		st.args.WriteString(fragment)
	}
}

// Len reports how many distinct calls have been seen.
func (a *Accumulator) Len() int { return len(a.order) }

// Assembled returns the completed calls in first-appearance order.
func (a *Accumulator) Assembled() []models.ToolCall {
	if len(a.order) == 0 {
		return nil
	}
	out := make([]models.ToolCall, 0, len(a.order))
	for _, key := range a.order {
		st := a.calls[key]
		idx := key.Index
		out = append(out, models.ToolCall{
			Index: &idx,
			ID:    st.id,
			Type:  "function",
			Function: models.FunctionCall{
				Name:      st.name,
				Arguments: st.args.String(),
			},
		})
	}
	return out
}

// emitter is the shared output side of every plugin: it stamps chunks with
// a stable id and the advertised model name, forwards them to the request
// sink, and aggregates text, tool calls, citations, and usage into the
// final Result. It also enforces the stream invariants: the first chunk
// carries the assistant role, and exactly one terminal chunk has a non-nil
// finish reason.
type emitter struct {
	id     string
	model  string
	sink   func(*models.ChatCompletionChunk)
	role   bool // assistant role already sent
	text   strings.Builder
	acc    *Accumulator
	cits   []models.Citation
	seen   map[string]int // citation url -> 1-based index
	usage  *models.Usage
	finish *models.FinishReason
}

func newEmitter(req *Request) *emitter {
	e := &emitter{
		id:    models.NewChunkID(),
		model: req.chunkModel(),
		acc:   NewAccumulator(),
		seen:  make(map[string]int),
	}
	if req.Stream && req.Emit != nil {
		e.sink = req.Emit
	}
	return e
}

func (e *emitter) send(delta models.ChunkDelta, choice int, reason *models.FinishReason) {
	if e.sink == nil {
		return
	}
	if !e.role && (delta.Content != "" || len(delta.ToolCalls) > 0) {
		delta.Role = string(models.RoleAssistant)
		e.role = true
	}
	c := models.NewChunk(e.id, e.model, delta)
	c.Choices[0].Index = choice
	c.Choices[0].FinishReason = reason
	e.sink(c)
}

// Text emits a content delta and aggregates the first choice's text.
func (e *emitter) Text(choice int, s string) {
	if s == "" || e.Finished() {
		return
	}
	if choice == 0 {
		e.text.WriteString(s)
	}
	e.send(models.ChunkDelta{Content: s}, choice, nil)
}

// ToolDelta records a tool-call fragment and emits the matching delta.
// id and name ride only their first delta; later deltas carry fragments.
func (e *emitter) ToolDelta(choice, index int, id, name, fragment string) {
	if e.Finished() {
		return
	}
	e.acc.Observe(choice, index, id, name, fragment)
	idx := index
	tc := models.ToolCall{Index: &idx, ID: id, Function: models.FunctionCall{Name: name, Arguments: fragment}}
	if id != "" || name != "" {
		tc.Type = "function"
	}
	e.send(models.ChunkDelta{ToolCalls: []models.ToolCall{tc}}, choice, nil)
}

// Citation records a source reference. First appearance of a URL emits an
// inline markdown marker [[n]](url) alongside the citation object; repeat
// URLs are ignored.
func (e *emitter) Citation(url, title string) {
	if url == "" || e.Finished() {
		return
	}
	if _, ok := e.seen[url]; ok {
		return
	}
	n := len(e.cits) + 1
	e.seen[url] = n
	cit := models.Citation{Index: n, URL: url, Title: title}
	e.cits = append(e.cits, cit)
	marker := " [[" + strconv.Itoa(n) + "]](" + url + ")"
	e.text.WriteString(marker)
	e.send(models.ChunkDelta{Content: marker, Citations: []models.Citation{cit}}, 0, nil)
}

// SetUsage records token accounting for the terminal chunk and Result.
func (e *emitter) SetUsage(prompt, completion int) {
	if prompt == 0 && completion == 0 {
		return
	}
	if e.usage == nil {
		e.usage = &models.Usage{}
	}
	if prompt > 0 {
		e.usage.PromptTokens = prompt
	}
	if completion > 0 {
		e.usage.CompletionTokens = completion
	}
	e.usage.TotalTokens = e.usage.PromptTokens + e.usage.CompletionTokens
}

// Finish emits the terminal chunk. Only the first call wins; later calls
// report false and emit nothing.
func (e *emitter) Finish(reason models.FinishReason) bool {
	if e.finish != nil {
		return false
	}
	e.finish = &reason
	if e.sink != nil {
		c := models.NewTerminalChunk(e.id, e.model, reason)
		c.Usage = e.usage
		e.sink(c)
	}
	return true
}

// Finished reports whether the terminal chunk went out.
func (e *emitter) Finished() bool { return e.finish != nil }

// Chunk passes a pre-built OpenAI-wire chunk through: it is re-stamped
// with the stream id and advertised model, folded into the aggregates, and
// forwarded. Chunks with no choices and no usage are rejected.
func (e *emitter) Chunk(c *models.ChatCompletionChunk) error {
	if c == nil {
		return fault.New(fault.KindNonRetryable, "nil chunk from upstream")
	}
	if len(c.Choices) == 0 {
		if c.Usage != nil {
			// Usage-only frame trailing the terminal chunk; record it and
			// pass it through so wire-compatible clients still see it.
			e.SetUsage(c.Usage.PromptTokens, c.Usage.CompletionTokens)
			c.ID = e.id
			c.Object = models.ChunkObject
			c.Model = e.model
			if e.sink != nil {
				e.sink(c)
			}
			return nil
		}
		return fault.New(fault.KindNonRetryable, "upstream chunk has no choices")
	}
	if e.Finished() {
		return nil
	}
	c.ID = e.id
	c.Object = models.ChunkObject
	c.Model = e.model
	if c.Usage != nil {
		e.SetUsage(c.Usage.PromptTokens, c.Usage.CompletionTokens)
	}
	var terminal *models.FinishReason
	for i := range c.Choices {
		ch := &c.Choices[i]
		if ch.Delta.Role != "" {
			e.role = true
		}
		if ch.Index == 0 && ch.Delta.Content != "" {
			e.text.WriteString(ch.Delta.Content)
		}
		for _, tc := range ch.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			e.acc.Observe(ch.Index, idx, tc.ID, tc.Function.Name, tc.Function.Arguments)
		}
		if ch.FinishReason != nil {
			terminal = ch.FinishReason
		}
	}
	if terminal != nil {
		e.finish = terminal
		if c.Usage == nil {
			c.Usage = e.usage
		}
	}
	if e.sink != nil {
		e.sink(c)
	}
	return nil
}

// Result folds the aggregates into the final outcome. A stream that never
// produced a terminal chunk reports finish reason stop.
func (e *emitter) Result() *Result {
	reason := models.FinishStop
	if e.finish != nil {
		reason = *e.finish
	}
	return &Result{
		Text:         e.text.String(),
		ToolCalls:    e.acc.Assembled(),
		Citations:    e.cits,
		FinishReason: reason,
		Usage:        e.usage,
	}
}
