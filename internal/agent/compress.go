package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/cortexgw/cortex/internal/observability"
	"github.com/cortexgw/cortex/internal/tokenizer"
	"github.com/cortexgw/cortex/pkg/models"
)

// Summarize runs the summarization prompt through a model and returns
// the summary text. Supplied by the executor, typically bound to the
// pathway's own model or a configured compression model.
type Summarize func(ctx context.Context, prompt string) (string, error)

// CompressorConfig tunes when and how hard history is compressed.
type CompressorConfig struct {
	// TriggerRatio is the share of the model token budget at which
	// compression runs. Zero selects 0.6.
	TriggerRatio float64

	// TargetReduction is the requested token reduction. Zero selects 0.7.
	TargetReduction float64

	// KeepRecentTurns is how many trailing user and assistant turns stay
	// verbatim. Zero selects 2.
	KeepRecentTurns int
}

// Compressor replaces older conversation turns with a model-produced
// summary that preserves the facts later turns may depend on.
type Compressor struct {
	cfg       CompressorConfig
	summarize Summarize
	tokens    *tokenizer.Engine
	logger    *observability.Logger
}

// NewCompressor wires a compressor. The logger may be nil.
func NewCompressor(cfg CompressorConfig, summarize Summarize, tokens *tokenizer.Engine, logger *observability.Logger) *Compressor {
	if cfg.TriggerRatio <= 0 {
		cfg.TriggerRatio = 0.6
	}
	if cfg.TargetReduction <= 0 {
		cfg.TargetReduction = 0.7
	}
	if cfg.KeepRecentTurns <= 0 {
		cfg.KeepRecentTurns = 2
	}
	return &Compressor{cfg: cfg, summarize: summarize, tokens: tokens, logger: logger}
}

// ShouldCompress reports whether the history has grown past the trigger
// share of the model's token budget.
func (c *Compressor) ShouldCompress(history []models.ChatMessage, tokenBudget int) bool {
	if c.summarize == nil || tokenBudget <= 0 {
		return false
	}
	return float64(c.tokens.CountHistory(history)) > c.cfg.TriggerRatio*float64(tokenBudget)
}

// Compress replaces older turns with a single summary message, keeping
// the most recent user/assistant turns verbatim. It never fails: provider
// errors substitute the fallback stub, reported through the second return.
func (c *Compressor) Compress(ctx context.Context, history []models.ChatMessage) ([]models.ChatMessage, bool) {
	head, tail := c.split(history)
	if len(head) == 0 {
		return history, false
	}

	summary, fellBack := c.summarizeHead(ctx, head)

	out := make([]models.ChatMessage, 0, len(tail)+1)
	out = append(out, models.NewTextMessage(models.RoleSystem, "Conversation so far (compressed): "+summary))
	out = append(out, tail...)
	return out, fellBack
}

// split partitions the history into the turns to summarize and the
// trailing turns kept verbatim. A leading system prompt always stays out
// of the summarized head; tool messages travel with the assistant turn
// that produced them.
func (c *Compressor) split(history []models.ChatMessage) (head, tail []models.ChatMessage) {
	msgs := history
	var lead []models.ChatMessage
	if len(msgs) > 0 && msgs[0].Role == models.RoleSystem {
		lead = msgs[:1]
		msgs = msgs[1:]
	}

	// Walk back over KeepRecentTurns user and assistant turns.
	keepFrom := len(msgs)
	seen := 0
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser || msgs[i].Role == models.RoleAssistant {
			seen++
			if seen > c.cfg.KeepRecentTurns*2 {
				break
			}
			keepFrom = i
		}
	}
	if keepFrom == 0 {
		return nil, history
	}

	head = msgs[:keepFrom]
	tail = append(append([]models.ChatMessage(nil), lead...), msgs[keepFrom:]...)
	return head, tail
}

func (c *Compressor) summarizeHead(ctx context.Context, head []models.ChatMessage) (string, bool) {
	transcript := renderTranscript(head)
	prompt := buildCompressionPrompt(transcript, c.cfg.TargetReduction)

	summary, err := c.summarize(ctx, prompt)
	if err != nil || strings.TrimSpace(summary) == "" {
		if c.logger != nil {
			c.logger.Warn(ctx, "history compression fell back", "error", err)
		}
		return fallbackStub(head, err), true
	}
	return strings.TrimSpace(summary), false
}

// buildCompressionPrompt instructs the summarizer on what must survive
// verbatim: user questions, tool names and arguments, citation URLs and
// titles, numeric facts, and the fact-to-tool ordering.
func buildCompressionPrompt(transcript string, targetReduction float64) string {
	var b strings.Builder
	b.WriteString("Summarize the conversation transcript below into a compact brief. Requirements:\n")
	b.WriteString("- Quote every distinct user question verbatim.\n")
	b.WriteString("- Keep the name and the literal arguments of every tool call.\n")
	b.WriteString("- Keep the URL and title of every citation found in tool results.\n")
	b.WriteString("- Keep every numeric fact exactly (amounts, percentages, magnitudes with units).\n")
	b.WriteString("- Keep the order between each fact and the tool that produced it.\n")
	fmt.Fprintf(&b, "- Target about %d%% fewer tokens than the transcript.\n", int(targetReduction*100))
	b.WriteString("\nTranscript:\n")
	b.WriteString(transcript)
	return b.String()
}

// fallbackStub is the summary substituted when the provider call fails.
// It begins with "Compression failed" and preserves the most recent user
// message verbatim so the conversation can continue.
func fallbackStub(head []models.ChatMessage, err error) string {
	var lastUser string
	for i := len(head) - 1; i >= 0; i-- {
		if head[i].Role == models.RoleUser {
			lastUser = head[i].ContentText()
			break
		}
	}
	var b strings.Builder
	b.WriteString("Compression failed")
	if err != nil {
		b.WriteString(": ")
		b.WriteString(err.Error())
	}
	b.WriteString(". Earlier turns were dropped.")
	if lastUser != "" {
		b.WriteString(" Most recent user message: ")
		b.WriteString(lastUser)
	}
	return b.String()
}

// renderTranscript flattens messages into the textual transcript handed
// to the summarizer, including tool calls and results.
func renderTranscript(history []models.ChatMessage) string {
	var b strings.Builder
	for _, m := range history {
		switch m.Role {
		case models.RoleTool:
			fmt.Fprintf(&b, "[tool result %s]: %s\n", m.ToolCallID, m.ContentText())
		case models.RoleAssistant:
			if text := m.ContentText(); text != "" {
				fmt.Fprintf(&b, "assistant: %s\n", text)
			}
			for _, call := range m.ToolCalls {
				fmt.Fprintf(&b, "[tool call %s] %s(%s)\n", call.ID, call.Function.Name, call.Function.Arguments)
			}
		default:
			fmt.Fprintf(&b, "%s: %s\n", m.Role, m.ContentText())
		}
	}
	return b.String()
}

// numericFactPattern matches the facts a summary must preserve: currency
// amounts, percentages, and magnitudes with units.
var numericFactPattern = regexp.MustCompile(
	`[$€£¥]\s?\d[\d,.]*|\d[\d,.]*\s?%|\d[\d,.]*\s?(?:km|mi|kg|lb|GB|MB|TB|ms|s|min|h|hours?|days?|years?)\b`)

// NumericFacts extracts the numeric facts from text, in order. Exposed
// for tests asserting the preservation contract.
func NumericFacts(text string) []string {
	return numericFactPattern.FindAllString(text, -1)
}
