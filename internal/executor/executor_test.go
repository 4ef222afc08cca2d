package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cortexgw/cortex/internal/config"
	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/internal/observability"
	"github.com/cortexgw/cortex/internal/pathway"
	"github.com/cortexgw/cortex/internal/progress"
	"github.com/cortexgw/cortex/internal/providers"
	"github.com/cortexgw/cortex/internal/tokenizer"
	"github.com/cortexgw/cortex/pkg/models"
)

// scriptPlugin replays canned steps in call order and records every
// request it served. An exhausted script answers with a default result;
// fail, when set, overrides everything.
type scriptPlugin struct {
	mu    sync.Mutex
	steps []scriptStep
	calls []capturedCall
	fail  error

	// emitChunks, when set, streams one content chunk plus the terminal
	// chunk before returning the scripted result.
	emitChunks bool
}

type scriptStep struct {
	res *providers.Result
	err error
}

type capturedCall struct {
	system   string
	messages []models.ChatMessage
	tools    []models.ToolDefinition
	stream   bool
}

func (p *scriptPlugin) Family() models.ProviderFamily { return models.FamilyLocal }

func (p *scriptPlugin) Execute(_ context.Context, req *providers.Request) (*providers.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, capturedCall{
		system:   req.System,
		messages: models.CloneHistory(req.Messages),
		tools:    req.Tools,
		stream:   req.Stream,
	})
	if p.fail != nil {
		return nil, p.fail
	}

	out := &providers.Result{Text: "default answer", FinishReason: models.FinishStop}
	if len(p.steps) > 0 {
		step := p.steps[0]
		p.steps = p.steps[1:]
		if step.err != nil {
			return nil, step.err
		}
		out = step.res
	}

	if p.emitChunks && req.Stream && req.Emit != nil {
		id := models.NewChunkID()
		req.Emit(models.NewChunk(id, req.Model.Name, models.ChunkDelta{Content: out.Text}))
		req.Emit(models.NewTerminalChunk(id, req.Model.Name, models.FinishStop))
	}
	return out, nil
}

func (p *scriptPlugin) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func testModel(maxTokens int) models.Model {
	return models.Model{
		Name:   "test-model",
		Family: models.FamilyLocal,
		Endpoints: []models.Endpoint{
			{Name: "primary", URL: "http://backend.local", RequestsPerSecond: 1000},
		},
		MaxTokenLength:    maxTokens,
		MaxReturnTokens:   50,
		SupportsStreaming: true,
	}
}

func mustCompile(t *testing.T, spec pathway.Spec) *pathway.Pathway {
	t.Helper()
	p, err := pathway.Compile(spec)
	if err != nil {
		t.Fatalf("compile pathway %s: %v", spec.Name, err)
	}
	return p
}

type fixture struct {
	exec   *Executor
	bus    *progress.Bus
	plugin *scriptPlugin
}

func newFixture(t *testing.T, plugin *scriptPlugin, model models.Model, specs ...pathway.Spec) *fixture {
	t.Helper()

	registry := pathway.NewRegistry(nil)
	for _, spec := range specs {
		if err := registry.Register(mustCompile(t, spec)); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	plugins := providers.NewRegistry()
	plugins.Register(plugin)

	bus := progress.NewBus(time.Minute)
	exec, err := New(Options{
		Config: config.ExecutorConfig{
			Workers:        2,
			DefaultTimeout: 5 * time.Second,
			DefaultRetries: 1,
			Cache:          config.ExecutorCacheConfig{TTL: time.Minute, SweepSchedule: "@every 1h"},
		},
		Agent:    config.AgentConfig{MaxIterations: 8},
		Models:   []models.Model{model},
		Pathways: registry,
		Plugins:  plugins,
		Bus:      bus,
		Tokens:   tokenizer.NewEngine(tokenizer.NewApproxCodec()),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(exec.Close)
	return &fixture{exec: exec, bus: bus, plugin: plugin}
}

func TestRun_TextPathway(t *testing.T) {
	plugin := &scriptPlugin{steps: []scriptStep{
		{res: &providers.Result{Text: "a short summary", FinishReason: models.FinishStop}},
	}}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:     "summarize",
		Model:    "test-model",
		Template: "Summarize the following.\n\n{{text}}",
	})

	resp, err := f.exec.Run(context.Background(), RunRequest{
		Pathway: "summarize",
		Text:    "a very long article",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Result != "a short summary" {
		t.Errorf("Result = %v", resp.Result)
	}
	if resp.RequestID == "" {
		t.Error("RequestID not assigned")
	}

	sent := plugin.calls[0]
	if len(sent.messages) != 1 || sent.messages[0].Role != models.RoleUser {
		t.Fatalf("provider messages = %+v, want single user message", sent.messages)
	}
	if !strings.Contains(sent.messages[0].ContentText(), "a very long article") {
		t.Errorf("prompt missing text input: %q", sent.messages[0].ContentText())
	}

	// Admission + terminal events on the bus.
	last, ok := f.bus.Last(resp.RequestID)
	if !ok || !last.Terminal() {
		t.Errorf("bus last = %+v ok=%v, want terminal", last, ok)
	}
	if !strings.Contains(last.Data, "a short summary") {
		t.Errorf("terminal data = %q", last.Data)
	}
}

func TestRun_UnknownPathway(t *testing.T) {
	f := newFixture(t, &scriptPlugin{}, testModel(8000))
	_, err := f.exec.Run(context.Background(), RunRequest{Pathway: "nope"})
	if fault.KindOf(err) != fault.KindInputValidation {
		t.Errorf("KindOf(err) = %v (%v)", fault.KindOf(err), err)
	}
}

func TestRun_NumberedListOutput(t *testing.T) {
	plugin := &scriptPlugin{steps: []scriptStep{
		{res: &providers.Result{Text: "1. red\n2. green\n3. blue", FinishReason: models.FinishStop}},
	}}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:     "colors",
		Model:    "test-model",
		Template: "List colors in {{text}}",
		Output:   "list",
	})

	resp, err := f.exec.Run(context.Background(), RunRequest{Pathway: "colors", Text: "the image"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	items, ok := resp.Result.([]string)
	if !ok || len(items) != 3 || items[0] != "red" || items[2] != "blue" {
		t.Errorf("Result = %#v", resp.Result)
	}
}

func TestRun_ChunkedMapping(t *testing.T) {
	plugin := &scriptPlugin{steps: []scriptStep{
		{res: &providers.Result{Text: "part-one", FinishReason: models.FinishStop}},
		{res: &providers.Result{Text: "part-two", FinishReason: models.FinishStop}},
		{res: &providers.Result{Text: "part-three", FinishReason: models.FinishStop}},
	}}
	// Small window forces the input to split.
	f := newFixture(t, plugin, testModel(150), pathway.Spec{
		Name:             "digest",
		Model:            "test-model",
		Template:         "Digest:\n{{text}}",
		UseInputChunking: true,
	})

	var para strings.Builder
	for i := 0; i < 30; i++ {
		para.WriteString("This sentence pads the input with enough tokens to overflow one window.\n\n")
	}

	requestID := "req-chunked-1"
	events, cancelSub := f.bus.Subscribe(requestID)
	defer cancelSub()

	resp, err := f.exec.Run(context.Background(), RunRequest{
		Pathway:   "digest",
		Text:      para.String(),
		RequestID: requestID,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	n := plugin.callCount()
	if n < 2 {
		t.Fatalf("provider invoked %d times, want one per chunk (>=2)", n)
	}
	text, _ := resp.Result.(string)
	if !strings.Contains(text, "part-one") || !strings.Contains(text, "part-two") {
		t.Errorf("joined result = %q", text)
	}

	// Progress is monotone and finishes at 1.
	prev := -1.0
	sawTerminal := false
	for done := false; !done; {
		select {
		case ev := <-events:
			if ev.Progress < prev {
				t.Errorf("progress went backwards: %v after %v", ev.Progress, prev)
			}
			prev = ev.Progress
			if ev.Terminal() {
				sawTerminal = true
				done = true
			}
		case <-time.After(2 * time.Second):
			done = true
		}
	}
	if !sawTerminal {
		t.Error("no terminal progress event observed")
	}
}

func TestRun_AsyncPublishesResultOnBus(t *testing.T) {
	plugin := &scriptPlugin{steps: []scriptStep{
		{res: &providers.Result{Text: "deferred answer", FinishReason: models.FinishStop}},
	}}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:     "bg",
		Model:    "test-model",
		Template: "{{text}}",
	})

	requestID := "req-async-1"
	events, cancelSub := f.bus.Subscribe(requestID)
	defer cancelSub()

	resp, err := f.exec.Run(context.Background(), RunRequest{
		Pathway:   "bg",
		Text:      "x",
		Async:     true,
		RequestID: requestID,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.RequestID != requestID || resp.Result != nil {
		t.Errorf("async admission = %+v, want id only", resp)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Terminal() {
				if !strings.Contains(ev.Data, "deferred answer") {
					t.Errorf("terminal data = %q", ev.Data)
				}
				return
			}
		case <-deadline:
			t.Fatal("no terminal event within deadline")
		}
	}
}

func TestRun_DuplicateRequestsCoalesce(t *testing.T) {
	plugin := &scriptPlugin{steps: []scriptStep{
		{res: &providers.Result{Text: "cached answer", FinishReason: models.FinishStop}},
	}}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:     "dedupe",
		Model:    "test-model",
		Template: "{{text}}",
	})

	req := RunRequest{Pathway: "dedupe", Text: "same input"}
	first, err := f.exec.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	second, err := f.exec.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if plugin.callCount() != 1 {
		t.Errorf("provider invoked %d times, want 1", plugin.callCount())
	}
	if first.Result != "cached answer" || second.Result != "cached answer" {
		t.Errorf("results = %v / %v", first.Result, second.Result)
	}
	if second.RequestID == first.RequestID {
		t.Error("duplicate admissions must keep distinct request ids")
	}
	// Each admission still closes its own bus stream.
	if !f.bus.Finished(first.RequestID) || !f.bus.Finished(second.RequestID) {
		t.Error("both request streams must reach the terminal event")
	}
}

func TestRun_DuplicateCacheOptOut(t *testing.T) {
	plugin := &scriptPlugin{}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:                    "fresh",
		Model:                   "test-model",
		Template:                "{{text}}",
		EnableDuplicateRequests: true,
	})

	req := RunRequest{Pathway: "fresh", Text: "same input"}
	for i := 0; i < 2; i++ {
		if _, err := f.exec.Run(context.Background(), req); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}
	if plugin.callCount() != 2 {
		t.Errorf("provider invoked %d times, want 2", plugin.callCount())
	}
}

func TestRun_FallbackPathway(t *testing.T) {
	plugin := &scriptPlugin{steps: []scriptStep{
		{err: fault.New(fault.KindNonRetryable, "backend rejected the request")},
		{res: &providers.Result{Text: "fallback answer", FinishReason: models.FinishStop}},
	}}

	f := newFixture(t, plugin, testModel(8000),
		pathway.Spec{
			Name:            "primary",
			Model:           "test-model",
			Template:        "{{text}}",
			FallbackPathway: "backup",
		},
		pathway.Spec{
			Name:     "backup",
			Model:    "test-model",
			Template: "fallback: {{text}}",
		},
	)

	resp, err := f.exec.Run(context.Background(), RunRequest{Pathway: "primary", Text: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Result != "fallback answer" {
		t.Errorf("Result = %v", resp.Result)
	}
	found := false
	for _, w := range resp.Warnings {
		if strings.Contains(w, "backup") {
			found = true
		}
	}
	if !found {
		t.Errorf("Warnings = %v, want fallback notice", resp.Warnings)
	}
}

func TestRun_ToolLoopThroughToolPathway(t *testing.T) {
	plugin := &scriptPlugin{steps: []scriptStep{
		{res: &providers.Result{
			FinishReason: models.FinishToolCalls,
			ToolCalls: []models.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: models.FunctionCall{
					Name:      "lookup",
					Arguments: `{"query":"tides"}`,
				},
			}},
		}},
		{res: &providers.Result{Text: "tide table", FinishReason: models.FinishStop}}, // sys_tool_lookup run
		{res: &providers.Result{Text: "high tide at noon", FinishReason: models.FinishStop}},
	}}

	f := newFixture(t, plugin, testModel(8000),
		pathway.Spec{
			Name:     "assistant",
			Model:    "test-model",
			Template: "You are a helpful assistant. {{text}}",
			Tools: []pathway.ToolSpec{{
				Name: "lookup",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"query": map[string]any{"type": "string"}},
				},
			}},
		},
		pathway.Spec{
			Name:     "sys_tool_lookup",
			Model:    "test-model",
			Template: "Look up {{query}}",
		},
	)

	resp, err := f.exec.Run(context.Background(), RunRequest{Pathway: "assistant", Text: "when is high tide?"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Result != "high tide at noon" {
		t.Errorf("Result = %v", resp.Result)
	}
	if plugin.callCount() != 3 {
		t.Fatalf("provider invoked %d times, want 3", plugin.callCount())
	}

	// The tool pathway saw the call arguments as template variables.
	toolCall := plugin.calls[1]
	if !strings.Contains(toolCall.messages[0].ContentText(), "tides") {
		t.Errorf("tool pathway prompt = %q", toolCall.messages[0].ContentText())
	}

	// The final invocation carried the tool exchange in history.
	final := plugin.calls[2].messages
	var sawToolResult bool
	for _, m := range final {
		if m.Role == models.RoleTool && strings.Contains(m.ContentText(), "tide table") {
			sawToolResult = true
		}
	}
	if !sawToolResult {
		t.Errorf("final history missing tool result: %+v", final)
	}
}

func TestRun_UnresolvableToolHandsBack(t *testing.T) {
	plugin := &scriptPlugin{steps: []scriptStep{
		{res: &providers.Result{
			FinishReason: models.FinishToolCalls,
			ToolCalls: []models.ToolCall{{
				ID:   "call_1",
				Type: "function",
				Function: models.FunctionCall{
					Name:      "open_browser",
					Arguments: `{"url":"https://example.com"}`,
				},
			}},
		}},
	}}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:     "navigator",
		Model:    "test-model",
		Template: "{{text}}",
		Tools:    []pathway.ToolSpec{{Name: "open_browser"}},
	})

	resp, err := f.exec.Run(context.Background(), RunRequest{Pathway: "navigator", Text: "go"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if resp.Tool != "open_browser" {
		t.Errorf("Tool = %q, want open_browser", resp.Tool)
	}
	args, _ := resp.Result.(string)
	if !strings.Contains(args, "example.com") {
		t.Errorf("Result = %v, want raw call arguments", resp.Result)
	}
}

func TestRun_StreamMirrorsChunksToBus(t *testing.T) {
	plugin := &scriptPlugin{
		steps: []scriptStep{
			{res: &providers.Result{Text: "streamed answer", FinishReason: models.FinishStop}},
		},
		emitChunks: true,
	}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:     "live",
		Model:    "test-model",
		Template: "{{text}}",
	})

	requestID := "req-stream-1"
	events, cancelSub := f.bus.Subscribe(requestID)
	defer cancelSub()

	if _, err := f.exec.Run(context.Background(), RunRequest{
		Pathway:   "live",
		Text:      "x",
		Stream:    true,
		RequestID: requestID,
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	sawChunk := false
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-events:
			if strings.Contains(ev.Data, "chat.completion.chunk") {
				sawChunk = true
			}
			if ev.Terminal() {
				done = true
			}
		case <-deadline:
			done = true
		}
	}
	if !sawChunk {
		t.Error("no chunk frame observed in bus data")
	}
	if !plugin.calls[0].stream {
		t.Error("provider request did not ask for streaming")
	}
}

func TestRun_FailurePublishesErrorTerminal(t *testing.T) {
	plugin := &scriptPlugin{fail: fault.New(fault.KindNonRetryable, "model melted")}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:     "doomed",
		Model:    "test-model",
		Template: "{{text}}",
	})

	requestID := "req-fail-1"
	_, err := f.exec.Run(context.Background(), RunRequest{
		Pathway:   "doomed",
		Text:      "x",
		RequestID: requestID,
	})
	if err == nil {
		t.Fatal("Run() succeeded, want provider failure")
	}
	last, ok := f.bus.Last(requestID)
	if !ok || !last.Terminal() {
		t.Fatalf("bus last = %+v ok=%v", last, ok)
	}
	if !strings.Contains(last.Info, "ERROR:") {
		t.Errorf("terminal info = %q, want ERROR: prefix", last.Info)
	}
}

func TestEndpointParams(t *testing.T) {
	ep := models.Endpoint{Params: map[string]any{
		"temperature": 0.2,
		"top_p":       0.9,
		"max_tokens":  128,
		"seed":        7,
	}}
	p := endpointParams(ep, testModel(8000))
	if p.Temperature == nil || *p.Temperature != 0.2 {
		t.Errorf("Temperature = %v", p.Temperature)
	}
	if p.TopP == nil || *p.TopP != 0.9 {
		t.Errorf("TopP = %v", p.TopP)
	}
	if p.MaxTokens != 128 {
		t.Errorf("MaxTokens = %d", p.MaxTokens)
	}
	if p.Extra["seed"] != 7 {
		t.Errorf("Extra = %v", p.Extra)
	}
}

func TestRun_RecordsTimelineEvents(t *testing.T) {
	plugin := &scriptPlugin{steps: []scriptStep{
		{res: &providers.Result{Text: "done", FinishReason: models.FinishStop}},
	}}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:     "summarize",
		Model:    "test-model",
		Template: "Summarize.\n\n{{text}}",
	})
	store := observability.NewEventStore(32)
	f.exec.events = observability.NewEventRecorder(store, nil)

	resp, err := f.exec.Run(context.Background(), RunRequest{
		Pathway: "summarize",
		Text:    "input",
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	evs := store.ByRequestID(resp.RequestID)
	types := make([]observability.EventType, 0, len(evs))
	for _, ev := range evs {
		types = append(types, ev.Type)
		if ev.Pathway != "summarize" {
			t.Errorf("event %s pathway = %q", ev.Type, ev.Pathway)
		}
	}
	want := []observability.EventType{
		observability.EventExecStart,
		observability.EventProviderCall,
		observability.EventExecEnd,
	}
	if len(types) != len(want) {
		t.Fatalf("event types = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event types = %v, want %v", types, want)
		}
	}
}

func TestRun_StreamOnlyFinalTemplate(t *testing.T) {
	plugin := &scriptPlugin{
		steps: []scriptStep{
			{res: &providers.Result{Text: "draft", FinishReason: models.FinishStop}},
			{res: &providers.Result{Text: "polished", FinishReason: models.FinishStop}},
		},
		emitChunks: true,
	}
	f := newFixture(t, plugin, testModel(8000), pathway.Spec{
		Name:      "two-pass",
		Model:     "test-model",
		Templates: []string{"Draft: {{text}}", "Polish: {{previousOutput}}"},
	})

	if _, err := f.exec.Run(context.Background(), RunRequest{
		Pathway:   "two-pass",
		Text:      "x",
		Stream:    true,
		RequestID: "req-stream-2",
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(plugin.calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(plugin.calls))
	}
	if plugin.calls[0].stream {
		t.Error("intermediate template asked for streaming")
	}
	if !plugin.calls[1].stream {
		t.Error("final template did not ask for streaming")
	}
}
