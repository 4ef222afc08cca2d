package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.opentelemetry.io/otel/trace"

	"github.com/cortexgw/cortex/internal/agent"
	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/internal/pathway"
	"github.com/cortexgw/cortex/internal/providers"
	"github.com/cortexgw/cortex/internal/ratelimit"
	"github.com/cortexgw/cortex/pkg/models"
)

// runState carries one request through the pipeline phases.
type runState struct {
	req     RunRequest
	pathway *pathway.Pathway
	model   models.Model

	// args is the merged parameter set handed to templates.
	args map[string]any

	// history is the normalized, file-stripped chat history.
	history []models.ChatMessage

	// tools is the pathway's declared tools plus any caller-supplied
	// definitions.
	tools []models.ToolDefinition

	// files are the records visible to this request after sync.
	files []models.FileRecord

	warnings []string
}

// runPipeline is the state machine body: prepare, dispatch (chunked or
// whole, tool loop when declared), finalize through the output parser.
func (e *Executor) runPipeline(ctx context.Context, p *pathway.Pathway, req RunRequest) (*RunResponse, error) {
	st, err := e.prepare(ctx, p, req)
	if err != nil {
		return nil, err
	}

	var text string
	var clientTool string
	switch {
	case p.Execute != nil:
		text, err = p.Execute(ctx, st.args, func(ctx context.Context, args map[string]any) (string, error) {
			sub := *st
			sub.args = st.pathway.MergeArgs(args)
			return e.runTemplates(ctx, &sub)
		})
	case p.UseInputChunking:
		text, err = e.runChunked(ctx, st)
	case len(st.tools) > 0:
		text, clientTool, err = e.runWithTools(ctx, st)
	default:
		text, err = e.runTemplates(ctx, st)
	}
	if err != nil {
		return nil, err
	}

	resp := &RunResponse{
		RequestID: req.RequestID,
		ContextID: req.ContextID,
		Warnings:  st.warnings,
	}
	if clientTool != "" {
		resp.Tool = clientTool
		resp.Result = text
		return resp, nil
	}
	resp.Result = parseOutput(p, text)
	return resp, nil
}

// prepare resolves the model, merges arguments, and syncs chat history
// against the file substrate.
func (e *Executor) prepare(ctx context.Context, p *pathway.Pathway, req RunRequest) (*runState, error) {
	m, ok := e.models[p.Model]
	if !ok {
		return nil, fault.Newf(fault.KindNonRetryable, "pathway %q references unknown model %q", p.Name, p.Model)
	}

	st := &runState{req: req, pathway: p, model: m}
	st.args = p.MergeArgs(req.Args)
	if req.Text != "" {
		st.args["text"] = req.Text
	}

	history := req.ChatHistory
	if e.files != nil && len(req.AgentContext) > 0 && len(history) > 0 {
		stripped, files, err := e.files.SyncAndStrip(ctx, history, req.AgentContext, req.ChatID)
		if err != nil {
			return nil, fault.Wrap(fault.KindNonRetryable, "file sync failed", err)
		}
		history = stripped
		st.files = files
	}
	st.history = providers.NormalizeHistory(history)

	st.tools = p.Tools
	if len(req.Tools) > 0 {
		st.tools = make([]models.ToolDefinition, 0, len(p.Tools)+len(req.Tools))
		st.tools = append(st.tools, p.Tools...)
		st.tools = append(st.tools, req.Tools...)
	}

	if _, declared := st.args["messages"]; !declared && len(st.history) > 0 {
		st.args["messages"] = renderMessages(st.history)
	}
	return st, nil
}

// runTemplates renders and executes each prompt template in order. The
// output of template i is available to template i+1 as {{previousOutput}};
// the last template's output is the pathway result. Only that final
// invocation streams: intermediate outputs are pipeline-internal.
func (e *Executor) runTemplates(ctx context.Context, st *runState) (string, error) {
	var out string
	for i, tmpl := range st.pathway.Templates {
		prompt, warns := tmpl.Render(st.args)
		st.warnings = append(st.warnings, warns...)

		var emit func(*models.ChatCompletionChunk)
		if i == len(st.pathway.Templates)-1 {
			emit = st.emitFunc(e)
		}
		res, err := e.invokeModel(ctx, st, prompt, st.history, nil, emit)
		if err != nil {
			return "", err
		}
		out = res.Text
		st.args["previousOutput"] = out

		if len(st.pathway.Templates) > 1 {
			e.bus.Update(st.req.RequestID, float64(i+1)/float64(len(st.pathway.Templates)), "")
		}
	}
	return out, nil
}

// runChunked splits the text input to fit the model window and runs one
// sub-request per chunk, sequentially, joining the outputs. Progress is
// completed/total.
func (e *Executor) runChunked(ctx context.Context, st *runState) (string, error) {
	text, _ := st.args["text"].(string)
	if text == "" {
		return e.runTemplates(ctx, st)
	}
	if len(st.pathway.Templates) == 0 {
		return "", fault.Newf(fault.KindNonRetryable, "pathway %q has no templates", st.pathway.Name)
	}
	tmpl := st.pathway.Templates[0]

	// Prompt overhead is the rendered template without the text input.
	skeletonArgs := make(map[string]any, len(st.args))
	for k, v := range st.args {
		skeletonArgs[k] = v
	}
	skeletonArgs["text"] = ""
	skeleton, warns := tmpl.Render(skeletonArgs)
	st.warnings = append(st.warnings, warns...)

	budget := st.model.ContextBudget(e.tokens.Count(skeleton))
	if budget <= 0 {
		return "", fault.Newf(fault.KindOversizedAtom,
			"prompt overhead exhausts the %d-token window of %s", st.model.MaxTokenLength, st.model.Name)
	}

	chunks, err := e.chunk.Split(text, budget)
	if err != nil {
		return "", fault.Wrap(fault.KindOversizedAtom, "input chunking failed", err)
	}
	e.logDebug(ctx, "chunked input",
		"pathway", st.pathway.Name, "request_id", st.req.RequestID, "chunks", len(chunks))

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		chunkArgs := make(map[string]any, len(st.args))
		for k, v := range st.args {
			chunkArgs[k] = v
		}
		chunkArgs["text"] = chunk
		prompt, _ := tmpl.Render(chunkArgs)

		res, err := e.invokeModel(ctx, st, prompt, st.history, nil, nil)
		if err != nil {
			return "", fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
		}
		parts = append(parts, res.Text)
		e.bus.Update(st.req.RequestID, float64(i+1)/float64(len(chunks)), "")
	}
	return strings.Join(parts, "\n"), nil
}

// runWithTools drives the agent loop when at least one declared tool
// resolves locally (built-in file tools or a sys_tool_ pathway). When
// none do, the request degrades to a single invocation and a tool_calls
// finish hands the call back to the caller through RunResponse.Tool.
func (e *Executor) runWithTools(ctx context.Context, st *runState) (text, clientTool string, err error) {
	prompt, warns := renderFirstTemplate(st)
	st.warnings = append(st.warnings, warns...)

	toolset := e.toolsetFor(st)
	if !e.anyToolResolvable(st.tools, toolset) {
		res, ierr := e.invokeModel(ctx, st, prompt, st.history, st.tools, st.emitFunc(e))
		if ierr != nil {
			return "", "", ierr
		}
		if res.FinishReason == models.FinishToolCalls && len(res.ToolCalls) > 0 {
			call := res.ToolCalls[0]
			return call.Function.Arguments, call.Function.Name, nil
		}
		return res.Text, "", nil
	}

	system, history := promptAsSystem(prompt, st.history)

	loop := agent.NewLoop(
		agent.LoopConfig{MaxIterations: e.agentCfg.MaxIterations},
		e.tokens,
		e.compressorFor(st),
		e.metrics,
		e.logger,
	)

	out, err := loop.Run(ctx, agent.RunRequest{
		History: history,
		Tools:   st.tools,
		Invoke: func(ctx context.Context, h []models.ChatMessage) (*providers.Result, error) {
			return e.invokeModel(ctx, st, system, h, st.tools, st.emitFunc(e))
		},
		RunTool:     e.toolRunner(st, toolset),
		TokenBudget: st.model.MaxTokenLength,
		Progress: func(estimate float64) {
			e.bus.Update(st.req.RequestID, estimate, "")
		},
	})
	if err != nil {
		return "", "", err
	}
	if out.Compressions > 0 {
		e.events.Compressed(ctx, out.Compressions)
	}
	st.warnings = append(st.warnings, out.Warnings...)
	return out.Text, "", nil
}

// toolsetFor builds the built-in file tools for this request, nil when
// the file substrate or agent context is absent.
func (e *Executor) toolsetFor(st *runState) *agent.Toolset {
	if e.files == nil || len(st.req.AgentContext) == 0 {
		return nil
	}
	return agent.FileToolset(e.files, st.req.AgentContext, st.req.ChatID)
}

func (e *Executor) anyToolResolvable(tools []models.ToolDefinition, toolset *agent.Toolset) bool {
	for _, t := range tools {
		if _, ok := toolset.Lookup(t.Name); ok {
			return true
		}
		if _, ok := e.pathways.ResolveTool(t.Name); ok {
			return true
		}
	}
	return false
}

// toolRunner resolves tool calls: built-in file tools first, then
// sys_tool_<name> pathways (case-insensitive). Unresolvable names are
// ToolArgument faults the loop feeds back to the model.
func (e *Executor) toolRunner(st *runState, toolset *agent.Toolset) agent.ToolRunner {
	return func(ctx context.Context, name string, args map[string]any) (string, error) {
		start := time.Now()
		if builtin, ok := toolset.Lookup(name); ok {
			out, err := builtin.Run(ctx, args)
			e.events.ToolRan(ctx, name, time.Since(start), err)
			return out, err
		}
		tp, ok := e.pathways.ResolveTool(name)
		if !ok {
			return "", fault.Newf(fault.KindToolArgument, "tool %q is not available", name)
		}

		sub, err := e.runPipeline(ctx, tp, RunRequest{
			Pathway:      tp.Name,
			Args:         args,
			ContextID:    st.req.ContextID,
			AgentContext: st.req.AgentContext,
			ChatID:       st.req.ChatID,
			RequestID:    st.req.RequestID + ":" + tp.Name,
		})
		e.events.ToolRan(ctx, name, time.Since(start), err)
		if err != nil {
			return "", err
		}
		if s, ok := sub.Result.(string); ok {
			return s, nil
		}
		raw, merr := jsonFast.MarshalToString(sub.Result)
		if merr != nil {
			return "", fmt.Errorf("encode tool result: %w", merr)
		}
		return raw, nil
	}
}

// compressorFor wires history compression against the configured
// summarization model, defaulting to the pathway's own model.
func (e *Executor) compressorFor(st *runState) *agent.Compressor {
	cc := e.agentCfg.Compression
	if !cc.IsEnabled() {
		return nil
	}
	m := st.model
	if cc.Model != "" {
		if override, ok := e.models[cc.Model]; ok {
			m = override
		}
	}

	cfg := agent.CompressorConfig{}
	if cc.TriggerRatio != nil {
		cfg.TriggerRatio = *cc.TriggerRatio
	}
	if cc.TargetReduction != nil {
		cfg.TargetReduction = *cc.TargetReduction
	}
	if cc.KeepRecentTurns != nil {
		cfg.KeepRecentTurns = *cc.KeepRecentTurns
	}

	summarize := func(ctx context.Context, prompt string) (string, error) {
		res, err := e.invokeFor(ctx, st, m, "", []models.ChatMessage{
			models.NewTextMessage(models.RoleUser, prompt),
		}, nil, nil)
		if err != nil {
			return "", err
		}
		return res.Text, nil
	}
	return agent.NewCompressor(cfg, summarize, e.tokens, e.logger)
}

// invokeModel runs one invocation of the request's model.
func (e *Executor) invokeModel(ctx context.Context, st *runState, system string, history []models.ChatMessage, tools []models.ToolDefinition, emit func(*models.ChatCompletionChunk)) (*providers.Result, error) {
	return e.invokeFor(ctx, st, st.model, system, history, tools, emit)
}

// invokeFor drives one invocation of an arbitrary model through its
// endpoint pool: rate admission, retry with endpoint re-selection on
// retryable faults, provider metrics.
func (e *Executor) invokeFor(ctx context.Context, st *runState, m models.Model, system string, history []models.ChatMessage, tools []models.ToolDefinition, emit func(*models.ChatCompletionChunk)) (*providers.Result, error) {
	plugin, err := e.plugins.For(m.Family)
	if err != nil {
		return nil, fault.Wrap(fault.KindNonRetryable, "no plugin for model "+m.Name, err)
	}
	pool, ok := e.pools[m.Name]
	if !ok {
		return nil, fault.Newf(fault.KindNonRetryable, "model %q has no endpoint pool", m.Name)
	}

	// Empty history cannot ride the system prompt alone: the prompt
	// becomes the sole user message.
	if len(history) == 0 && system != "" {
		history = []models.ChatMessage{models.NewTextMessage(models.RoleUser, system)}
		system = ""
	}

	retries := st.pathway.Retries
	if retries <= 0 {
		retries = e.cfg.DefaultRetries
	}
	timeout := time.Duration(st.pathway.Timeout(int(e.cfg.DefaultTimeout.Seconds()))) * time.Second

	var out *providers.Result
	err = pool.Execute(ctx, retries, func(ctx context.Context, ep *ratelimit.Endpoint) error {
		endpoint := m.Endpoints[ep.Index()]
		start := time.Now()
		var span trace.Span
		if e.tracer != nil {
			ctx, span = e.tracer.TraceProviderRequest(ctx, string(m.Family), m.Name)
			defer span.End()
		}
		res, perr := plugin.Execute(ctx, &providers.Request{
			RequestID:    st.req.RequestID,
			Model:        m,
			Endpoint:     endpoint,
			System:       system,
			Messages:     history,
			Tools:        tools,
			Params:       endpointParams(endpoint, m),
			Stream:       emit != nil,
			EmulateModel: st.pathway.EmulateOpenAIChatModel,
			Timeout:      timeout,
			Emit:         emit,
		})
		e.events.ProviderCall(ctx, string(m.Family), m.Name, time.Since(start), perr)
		if e.metrics != nil {
			status := "success"
			prompt, completion := 0, 0
			if perr != nil {
				status = "error"
			} else if res.Usage != nil {
				prompt, completion = res.Usage.PromptTokens, res.Usage.CompletionTokens
			}
			e.metrics.RecordProviderRequest(string(m.Family), m.Name, status, time.Since(start).Seconds(), prompt, completion)
			if perr != nil && fault.IsRetryable(perr) {
				e.metrics.RecordProviderRetry(string(m.Family), m.Name)
			}
		}
		if perr != nil {
			if e.tracer != nil {
				e.tracer.RecordError(span, perr)
			}
			return perr
		}
		out = res
		return nil
	})
	return out, err
}

// endpointParams maps the endpoint's configured parameter table onto the
// common generation knobs; everything unrecognized travels in Extra.
func endpointParams(ep models.Endpoint, m models.Model) providers.Params {
	p := providers.Params{MaxTokens: m.MaxReturnTokens}
	if len(ep.Params) == 0 {
		return p
	}
	extra := make(map[string]any)
	for key, value := range ep.Params {
		switch key {
		case "temperature":
			if f, err := cast.ToFloat64E(value); err == nil {
				p.Temperature = &f
			}
		case "top_p", "topP":
			if f, err := cast.ToFloat64E(value); err == nil {
				p.TopP = &f
			}
		case "frequency_penalty":
			if f, err := cast.ToFloat64E(value); err == nil {
				p.FrequencyPenalty = &f
			}
		case "presence_penalty":
			if f, err := cast.ToFloat64E(value); err == nil {
				p.PresencePenalty = &f
			}
		case "max_tokens", "maxTokens":
			if n, err := cast.ToIntE(value); err == nil {
				p.MaxTokens = n
			}
		case "stop":
			if ss, err := cast.ToStringSliceE(value); err == nil {
				p.Stop = ss
			}
		default:
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		p.Extra = extra
	}
	return p
}

// promptAsSystem places the rendered prompt: system slot when history
// exists, sole user message otherwise.
func promptAsSystem(prompt string, history []models.ChatMessage) (string, []models.ChatMessage) {
	if len(history) > 0 {
		return prompt, history
	}
	return "", []models.ChatMessage{models.NewTextMessage(models.RoleUser, prompt)}
}

func renderFirstTemplate(st *runState) (string, []string) {
	if len(st.pathway.Templates) == 0 {
		return "", nil
	}
	return st.pathway.Templates[0].Render(st.args)
}

// emitFunc mirrors normalized chunks into the bus data field for
// streaming requests.
func (st *runState) emitFunc(e *Executor) func(*models.ChatCompletionChunk) {
	if !st.req.Stream {
		return nil
	}
	return func(chunk *models.ChatCompletionChunk) {
		raw, err := chunk.JSON()
		if err != nil {
			return
		}
		e.bus.Publish(models.ProgressEvent{
			RequestID: st.req.RequestID,
			Data:      string(raw),
		})
	}
}

// renderMessages flattens chat history for {{messages}} template
// expansion.
func renderMessages(history []models.ChatMessage) string {
	var b strings.Builder
	for _, m := range history {
		text := m.ContentText()
		if text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, text)
	}
	return b.String()
}
