// Package executor runs pathways end to end: it admits typed query
// requests, prepares prompts and chat history, dispatches model
// invocations through the provider plugins under per-endpoint rate
// limits, drives the tool loop when a pathway declares tools, and
// finalizes the aggregated text through the pathway's output parser.
// Every request publishes its lifecycle on the progress bus.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/robfig/cron/v3"

	"github.com/cortexgw/cortex/internal/chunker"
	"github.com/cortexgw/cortex/internal/config"
	"github.com/cortexgw/cortex/internal/fault"
	"github.com/cortexgw/cortex/internal/fileset"
	"github.com/cortexgw/cortex/internal/observability"
	"github.com/cortexgw/cortex/internal/pathway"
	"github.com/cortexgw/cortex/internal/progress"
	"github.com/cortexgw/cortex/internal/providers"
	"github.com/cortexgw/cortex/internal/ratelimit"
	"github.com/cortexgw/cortex/internal/tokenizer"
	"github.com/cortexgw/cortex/pkg/models"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// RunRequest is one typed query against a named pathway.
type RunRequest struct {
	// Pathway names the pathway to execute.
	Pathway string `json:"pathway"`

	// Args are the caller's parameter values, overlaid on the pathway's
	// declared defaults. Unknown keys pass through to the template.
	Args map[string]any `json:"args,omitempty"`

	// Text is the primary input, shorthand for args["text"].
	Text string `json:"text,omitempty"`

	// ChatHistory is the prior conversation for chat-shaped pathways.
	ChatHistory []models.ChatMessage `json:"chatHistory,omitempty"`

	ContextID    string              `json:"contextId,omitempty"`
	AgentContext models.AgentContext `json:"agentContext,omitempty"`
	ChatID       string              `json:"chatId,omitempty"`

	// Tools are caller-supplied definitions merged with the pathway's
	// declared tools for this run. A call to a tool the gateway cannot
	// run locally hands back through RunResponse.Tool.
	Tools []models.ToolDefinition `json:"tools,omitempty"`

	// Stream mirrors each normalized chunk into the progress bus data
	// field as it arrives.
	Stream bool `json:"stream,omitempty"`

	// Async returns the request id immediately and runs in the
	// background; results arrive on the progress bus.
	Async bool `json:"async,omitempty"`

	// RequestID correlates progress events. Generated when empty.
	RequestID string `json:"requestId,omitempty"`
}

// RunResponse is the typed query outcome.
type RunResponse struct {
	RequestID string `json:"requestId"`

	// Result is the parsed output: a string for text pathways, a slice
	// or map for typed outputs. Nil for async admissions.
	Result any `json:"result,omitempty"`

	ContextID string `json:"contextId,omitempty"`

	// Tool is set when the model requested a tool the gateway cannot run
	// locally; Result then carries the raw argument JSON for the caller.
	Tool string `json:"tool,omitempty"`

	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// Options wires an executor.
type Options struct {
	Config config.ExecutorConfig
	Agent  config.AgentConfig

	Models   []models.Model
	Pathways *pathway.Registry
	Plugins  *providers.Registry
	Bus      *progress.Bus

	// Files enables history file sync and the built-in file tools. Nil
	// disables the file substrate.
	Files *fileset.Manager

	Tokens  *tokenizer.Engine
	Metrics *observability.Metrics
	Logger  *observability.Logger
	Tracer  *observability.Tracer

	// Events feeds the in-memory request timeline. Nil disables it.
	Events *observability.EventRecorder
}

// Executor is the request execution engine.
type Executor struct {
	cfg      config.ExecutorConfig
	agentCfg config.AgentConfig

	pathways *pathway.Registry
	plugins  *providers.Registry
	bus      *progress.Bus
	files    *fileset.Manager
	tokens   *tokenizer.Engine
	chunk    *chunker.Chunker

	models map[string]models.Model
	pools  map[string]*ratelimit.Pool

	cache *resultCache
	cron  *cron.Cron

	// sem is the worker pool: one slot per concurrently executing
	// request, sync and async alike.
	sem chan struct{}

	metrics *observability.Metrics
	logger  *observability.Logger
	tracer  *observability.Tracer
	events  *observability.EventRecorder

	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
}

// New builds an executor over the given model table and pathway registry.
// Call Close to stop background work.
func New(opts Options) (*Executor, error) {
	if opts.Pathways == nil || opts.Plugins == nil || opts.Bus == nil || opts.Tokens == nil {
		return nil, fmt.Errorf("executor requires pathways, plugins, bus, and tokens")
	}
	if opts.Config.Workers <= 0 {
		opts.Config.Workers = 4
	}
	if opts.Config.DefaultTimeout <= 0 {
		opts.Config.DefaultTimeout = 60 * time.Second
	}
	if opts.Config.DefaultRetries <= 0 {
		opts.Config.DefaultRetries = 3
	}

	table := make(map[string]models.Model, len(opts.Models))
	pools := make(map[string]*ratelimit.Pool, len(opts.Models))
	for _, m := range opts.Models {
		if _, dup := table[m.Name]; dup {
			return nil, fmt.Errorf("model %q declared twice", m.Name)
		}
		table[m.Name] = m
		specs := make([]ratelimit.EndpointSpec, 0, len(m.Endpoints))
		for _, ep := range m.Endpoints {
			specs = append(specs, ratelimit.EndpointSpec{
				Name:              ep.Name,
				RequestsPerSecond: ep.RequestsPerSecond,
			})
		}
		pools[m.Name] = ratelimit.NewPool(ratelimit.DefaultPoolConfig(), specs...)
	}

	baseCtx, stop := context.WithCancel(context.Background())
	e := &Executor{
		cfg:      opts.Config,
		agentCfg: opts.Agent,
		pathways: opts.Pathways,
		plugins:  opts.Plugins,
		bus:      opts.Bus,
		files:    opts.Files,
		tokens:   opts.Tokens,
		chunk:    chunker.New(opts.Tokens),
		models:   table,
		pools:    pools,
		sem:      make(chan struct{}, opts.Config.Workers),
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
		events:   opts.Events,
		baseCtx:  baseCtx,
		stop:     stop,
	}

	if opts.Config.Cache.IsEnabled() {
		e.cache = newResultCache(opts.Config.Cache.TTL)
		e.cron = cron.New()
		if _, err := e.cron.AddFunc(opts.Config.Cache.SweepSchedule, func() {
			e.cache.Sweep(time.Now())
			e.bus.Sweep()
		}); err != nil {
			stop()
			return nil, fmt.Errorf("invalid cache sweep schedule %q: %w", opts.Config.Cache.SweepSchedule, err)
		}
		e.cron.Start()
	}

	return e, nil
}

// Close stops background workers and waits for in-flight async requests.
func (e *Executor) Close() {
	e.stop()
	if e.cron != nil {
		e.cron.Stop()
	}
	e.wg.Wait()
}

// Model returns the model table entry by name.
func (e *Executor) Model(name string) (models.Model, bool) {
	m, ok := e.models[name]
	return m, ok
}

// Models lists the model table.
func (e *Executor) Models() []models.Model {
	out := make([]models.Model, 0, len(e.models))
	for _, m := range e.models {
		out = append(out, m)
	}
	return out
}

// Pathways exposes the registry for surface layers.
func (e *Executor) Pathways() *pathway.Registry { return e.pathways }

// EndpointSnapshot reports rate-limit status per model endpoint.
func (e *Executor) EndpointSnapshot() map[string][]ratelimit.EndpointStatus {
	out := make(map[string][]ratelimit.EndpointStatus, len(e.pools))
	for name, pool := range e.pools {
		out[name] = pool.Snapshot()
	}
	return out
}

// Run executes one typed query. Sync requests block until the terminal
// result; async requests return the request id immediately and publish
// their outcome on the progress bus.
func (e *Executor) Run(ctx context.Context, req RunRequest) (*RunResponse, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	req.RequestID = requestID

	p, ok := e.pathways.Get(req.Pathway)
	if !ok {
		return nil, fault.Newf(fault.KindInputValidation, "unknown pathway %q", req.Pathway)
	}

	if req.Async {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			select {
			case e.sem <- struct{}{}:
			case <-e.baseCtx.Done():
				e.bus.Fail(requestID, "gateway shutting down")
				return
			}
			defer func() { <-e.sem }()
			if _, err := e.runManaged(e.baseCtx, p, req); err != nil {
				e.logWarn(e.baseCtx, "async request failed",
					"pathway", p.Name, "request_id", requestID, "error", err)
			}
		}()
		return &RunResponse{RequestID: requestID, ContextID: req.ContextID}, nil
	}

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()

	return e.runManaged(ctx, p, req)
}

// runManaged owns one request's lifecycle: deadline, tracing, metrics,
// fallback pathway, and the terminal bus event.
func (e *Executor) runManaged(ctx context.Context, p *pathway.Pathway, req RunRequest) (*RunResponse, error) {
	start := time.Now()
	mode := "sync"
	if req.Async {
		mode = "async"
	}
	ctx = observability.AddRequestID(ctx, req.RequestID)
	ctx = observability.AddPathway(ctx, p.Name)
	if req.ContextID != "" {
		ctx = observability.AddTenantID(ctx, req.ContextID)
	}
	if e.metrics != nil {
		e.metrics.RequestStarted(p.Name)
		defer e.metrics.RequestEnded(p.Name)
	}
	timeout := time.Duration(p.Timeout(int(e.cfg.DefaultTimeout.Seconds()))) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if e.tracer != nil {
		tctx, span := e.tracer.TracePathwayExecution(ctx, p.Name, mode, req.RequestID)
		defer span.End()
		ctx = tctx
	}

	// Admission event. Every request publishes at least this plus the
	// terminal event.
	e.bus.Update(req.RequestID, 0.01, "")
	e.events.ExecutionStarted(ctx, mode)

	resp, err := e.runCached(ctx, p, req)

	if err != nil && p.FallbackPathway != "" && fault.KindOf(err) == fault.KindNonRetryable {
		if fb, ok := e.pathways.Get(p.FallbackPathway); ok {
			e.logWarn(ctx, "pathway failed, invoking fallback",
				"pathway", p.Name, "fallback", fb.Name, "request_id", req.RequestID, "error", err)
			fbResp, fbErr := e.runCached(ctx, fb, req)
			if fbErr == nil {
				fbResp.Warnings = append(fbResp.Warnings,
					fmt.Sprintf("pathway %s failed (%v); answered by fallback %s", p.Name, err, fb.Name))
				resp, err = fbResp, nil
			}
		}
	}

	status := "success"
	if err != nil {
		status = "error"
		e.bus.Fail(req.RequestID, err.Error())
		if e.metrics != nil {
			e.metrics.RecordError("executor", string(fault.KindOf(err)))
		}
	} else {
		data, merr := jsonFast.MarshalToString(resp.Result)
		if merr != nil {
			data = ""
		}
		e.bus.Complete(req.RequestID, data)
	}
	if e.metrics != nil {
		e.metrics.RecordPathwayRequest(p.Name, mode, status, time.Since(start).Seconds())
	}
	e.events.ExecutionEnded(ctx, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// runCached wraps the pipeline with duplicate-request coalescing. The
// cache is skipped when disabled globally or when the pathway opts out
// with enableDuplicateRequests, and always for streaming requests whose
// value is the live chunk feed.
func (e *Executor) runCached(ctx context.Context, p *pathway.Pathway, req RunRequest) (*RunResponse, error) {
	if e.cache == nil || p.EnableDuplicateRequests || req.Stream {
		return e.runPipeline(ctx, p, req)
	}

	key := requestFingerprint(p, req)
	resp, err := e.cache.Do(ctx, key, func() (*RunResponse, error) {
		return e.runPipeline(ctx, p, req)
	})
	if err != nil {
		return nil, err
	}
	// Duplicate admissions share the computed result but keep their own
	// request id and bus stream.
	if resp.RequestID != req.RequestID {
		dup := *resp
		dup.RequestID = req.RequestID
		return &dup, nil
	}
	return resp, nil
}

func (e *Executor) logWarn(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(ctx, msg, args...)
	}
}

func (e *Executor) logDebug(ctx context.Context, msg string, args ...any) {
	if e.logger != nil {
		e.logger.Debug(ctx, msg, args...)
	}
}
