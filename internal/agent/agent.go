// Package agent drives a model through multi-turn tool invocations under
// one logical request. The loop invokes the model, executes the tool calls
// it emits, appends the synthetic assistant and tool messages, and
// re-drives until a stop emission or the iteration cap. Chat history is
// compressed ahead of context exhaustion so long tool sessions keep
// fitting the model window.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/internal/observability"
	"github.com/cortexgw/cortex/internal/providers"
	"github.com/cortexgw/cortex/internal/tokenizer"
	"github.com/cortexgw/cortex/pkg/models"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultMaxIterations caps model round trips per run.
const DefaultMaxIterations = 16

// Invoker runs one model invocation over the current history and returns
// the aggregated provider result. Supplied by the executor so the loop
// stays decoupled from endpoint selection and retry policy.
type Invoker func(ctx context.Context, history []models.ChatMessage) (*providers.Result, error)

// ToolRunner executes one named tool with parsed arguments and returns
// its textual result. The executor resolves built-in tools first, then
// pathways named sys_tool_<name> (case-insensitive).
type ToolRunner func(ctx context.Context, name string, args map[string]any) (string, error)

// LoopConfig tunes the loop.
type LoopConfig struct {
	// MaxIterations caps model round trips. Zero selects the default.
	MaxIterations int
}

// Loop is the bounded tool-invocation driver.
type Loop struct {
	cfg        LoopConfig
	tokens     *tokenizer.Engine
	compressor *Compressor
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// NewLoop wires a loop. The compressor may be nil to disable history
// compression; metrics and logger may be nil.
func NewLoop(cfg LoopConfig, tokens *tokenizer.Engine, compressor *Compressor, metrics *observability.Metrics, logger *observability.Logger) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Loop{cfg: cfg, tokens: tokens, compressor: compressor, metrics: metrics, logger: logger}
}

// RunRequest is one loop execution.
type RunRequest struct {
	// History is the starting chat history, already normalized and
	// file-stripped. The loop appends to a private clone.
	History []models.ChatMessage

	// Tools are the schemas advertised to the model. Declared parameter
	// schemas also validate the model's arguments before execution.
	Tools []models.ToolDefinition

	Invoke  Invoker
	RunTool ToolRunner

	// TokenBudget is the model's maxTokenLength, driving the compression
	// threshold. Zero disables compression for this run.
	TokenBudget int

	// Progress, when non-nil, receives the conservative completion
	// estimate after each iteration: it advances by min(0.1, remaining/2)
	// per round trip and never reaches 1 from inside the loop.
	Progress func(estimate float64)
}

// RunResult is the loop outcome.
type RunResult struct {
	// Text is the model's final aggregated answer.
	Text string

	// History is the full conversation including tool turns.
	History []models.ChatMessage

	Citations []models.Citation
	Usage     *models.Usage

	Iterations   int
	ToolCalls    int
	Compressions int

	// Warnings carries non-fatal diagnostics (compression fallbacks,
	// argument rejections fed back to the model).
	Warnings []string
}

// Run drives the model until a non-tool finish reason or the iteration
// cap. Tool failures are fed back to the model as structured results;
// only provider errors and context termination abort the run.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Invoke == nil {
		return nil, fault.New(fault.KindInputValidation, "agent loop requires an invoker")
	}

	schemas, err := compileToolSchemas(req.Tools)
	if err != nil {
		return nil, err
	}

	res := &RunResult{History: models.CloneHistory(req.History)}
	estimate := 0.0

	for res.Iterations < l.cfg.MaxIterations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res.Iterations++

		out, err := req.Invoke(ctx, res.History)
		if err != nil {
			return nil, err
		}
		res.Citations = append(res.Citations, out.Citations...)
		mergeUsage(res, out.Usage)

		if out.FinishReason != models.FinishToolCalls || len(out.ToolCalls) == 0 {
			res.Text = out.Text
			return res, nil
		}

		if req.RunTool == nil {
			return nil, fault.New(fault.KindNonRetryable, "model requested tools but no runner is wired")
		}

		// The assistant turn that requested the tools. Content stays null
		// unless the model also produced text alongside the calls.
		assistant := models.ChatMessage{Role: models.RoleAssistant, ToolCalls: out.ToolCalls}
		if out.Text != "" {
			assistant.Content = models.StringContent(out.Text)
		}
		res.History = append(res.History, assistant)

		for _, call := range out.ToolCalls {
			result := l.executeCall(ctx, req, schemas, call, res)
			res.History = append(res.History, models.ChatMessage{
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Content:    models.StringContent(result),
			})
		}

		if l.compressor != nil && req.TokenBudget > 0 && l.compressor.ShouldCompress(res.History, req.TokenBudget) {
			compressed, fellBack := l.compressor.Compress(ctx, res.History)
			res.History = compressed
			res.Compressions++
			if fellBack {
				res.Warnings = append(res.Warnings, "history compression failed; substituted fallback summary")
			}
			l.observeCompression(fellBack)
		}

		estimate += min(0.1, (1-estimate)/2)
		if req.Progress != nil {
			req.Progress(estimate)
		}
	}

	return nil, fault.Newf(fault.KindNonRetryable, "tool loop exceeded %d iterations", l.cfg.MaxIterations)
}

// executeCall runs one tool call, converting argument and execution
// failures into the structured payload the model sees.
func (l *Loop) executeCall(ctx context.Context, req RunRequest, schemas map[string]*compiledSchema, call models.ToolCall, res *RunResult) string {
	res.ToolCalls++
	name := call.Function.Name
	start := time.Now()

	args, err := parseToolArguments(call.Function.Arguments)
	if err == nil {
		err = validateToolArguments(schemas, name, args)
	}
	if err != nil {
		res.Warnings = append(res.Warnings, fmt.Sprintf("tool %s: %v", name, err))
		l.observeTool(name, "invalid_arguments", time.Since(start))
		return toolErrorPayload(err)
	}

	result, err := req.RunTool(ctx, name, args)
	if err != nil {
		if fault.IsTerminalKind(err) {
			// Context termination propagates; the loop's caller owns the
			// terminal publish.
			l.observeTool(name, "cancelled", time.Since(start))
			return toolErrorPayload(err)
		}
		res.Warnings = append(res.Warnings, fmt.Sprintf("tool %s: %v", name, err))
		l.observeTool(name, "error", time.Since(start))
		return toolErrorPayload(err)
	}

	l.observeTool(name, "success", time.Since(start))
	return result
}

// parseToolArguments decodes the accumulated arguments string. Malformed
// JSON is a ToolArgument fault surfaced to the model, never fatal.
func parseToolArguments(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := jsonFast.UnmarshalFromString(trimmed, &args); err != nil {
		return nil, fault.Wrap(fault.KindToolArgument, "arguments are not valid JSON", err)
	}
	return args, nil
}

// toolErrorPayload renders a failure as the JSON envelope fed back to the
// model in the tool-result message.
func toolErrorPayload(err error) string {
	payload, merr := jsonFast.MarshalToString(models.ToolResultPayload{Success: false, Error: err.Error()})
	if merr != nil {
		return `{"success":false,"error":"tool failed"}`
	}
	return payload
}

func mergeUsage(res *RunResult, u *models.Usage) {
	if u == nil {
		return
	}
	if res.Usage == nil {
		res.Usage = &models.Usage{}
	}
	res.Usage.PromptTokens += u.PromptTokens
	res.Usage.CompletionTokens += u.CompletionTokens
	res.Usage.TotalTokens = res.Usage.PromptTokens + res.Usage.CompletionTokens
}

func (l *Loop) observeTool(name, status string, d time.Duration) {
	if l.metrics != nil {
		l.metrics.RecordToolExecution(name, status, d.Seconds())
	}
}

func (l *Loop) observeCompression(fellBack bool) {
	if l.metrics == nil {
		return
	}
	outcome := "success"
	if fellBack {
		outcome = "fallback"
	}
	l.metrics.RecordCompression("agent", outcome)
}
