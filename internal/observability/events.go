package observability

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// EventType labels timeline entries.
type EventType string

const (
	EventExecStart     EventType = "execution.start"
	EventExecEnd       EventType = "execution.end"
	EventExecError     EventType = "execution.error"
	EventToolRun       EventType = "tool.run"
	EventToolError     EventType = "tool.error"
	EventProviderCall  EventType = "llm.call"
	EventProviderError EventType = "llm.error"
	EventCompression   EventType = "history.compressed"
)

// Event is one entry in a request's timeline. Trace and span IDs are
// stamped from the context so the timeline joins against exported
// traces.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	TenantID  string         `json:"tenant_id,omitempty"`
	Pathway   string         `json:"pathway,omitempty"`
	Name      string         `json:"name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Duration  time.Duration  `json:"duration_ns,omitempty"`
	Error     string         `json:"error,omitempty"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

// EventStore keeps recent events in memory, indexed by request ID.
// When the cap is reached the oldest events fall off.
type EventStore struct {
	mu        sync.Mutex
	order     []*Event
	byRequest map[string][]*Event
	maxSize   int
}

// NewEventStore returns a store holding at most maxSize events.
// Non-positive sizes get a default of 4096.
func NewEventStore(maxSize int) *EventStore {
	if maxSize <= 0 {
		maxSize = 4096
	}
	return &EventStore{
		byRequest: make(map[string][]*Event),
		maxSize:   maxSize,
	}
}

// Record appends ev, evicting the oldest event when full.
func (s *EventStore) Record(ev *Event) {
	if ev == nil {
		return
	}
	if ev.ID == "" {
		ev.ID = nextEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) >= s.maxSize {
		s.dropOldestLocked()
	}
	s.order = append(s.order, ev)
	if ev.RequestID != "" {
		s.byRequest[ev.RequestID] = append(s.byRequest[ev.RequestID], ev)
	}
}

// ByRequestID returns a request's events ordered by time.
func (s *EventStore) ByRequestID(requestID string) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.byRequest[requestID]
	out := make([]*Event, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// Recent returns up to limit events, newest first.
func (s *EventStore) Recent(limit int) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.order)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Event, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.order[i])
	}
	return out
}

// Prune drops events older than the retention window and returns how
// many were removed.
func (s *EventStore) Prune(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	dropped := 0
	for _, ev := range s.order {
		if ev.Timestamp.Before(cutoff) {
			s.unindexLocked(ev)
			dropped++
			continue
		}
		kept = append(kept, ev)
	}
	s.order = kept
	return dropped
}

func (s *EventStore) dropOldestLocked() {
	oldest := s.order[0]
	s.order = s.order[1:]
	s.unindexLocked(oldest)
}

func (s *EventStore) unindexLocked(ev *Event) {
	if ev.RequestID == "" {
		return
	}
	evs := s.byRequest[ev.RequestID]
	for i, e := range evs {
		if e == ev {
			evs = append(evs[:i], evs[i+1:]...)
			break
		}
	}
	if len(evs) == 0 {
		delete(s.byRequest, ev.RequestID)
	} else {
		s.byRequest[ev.RequestID] = evs
	}
}

// EventRecorder stamps correlation fields from the context and writes
// to the store. A nil recorder is safe to call.
type EventRecorder struct {
	store  *EventStore
	logger *Logger
}

// NewEventRecorder wraps store. The logger, when non-nil, mirrors each
// event at debug level.
func NewEventRecorder(store *EventStore, logger *Logger) *EventRecorder {
	return &EventRecorder{store: store, logger: logger}
}

func (r *EventRecorder) record(ctx context.Context, typ EventType, name string, dur time.Duration, err error, data map[string]any) {
	if r == nil || r.store == nil {
		return
	}
	ev := &Event{
		Type:      typ,
		RequestID: GetRequestID(ctx),
		TenantID:  GetTenantID(ctx),
		Pathway:   GetPathway(ctx),
		Name:      name,
		Data:      data,
		Duration:  dur,
		TraceID:   GetTraceID(ctx),
		SpanID:    GetSpanID(ctx),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	r.store.Record(ev)
	if r.logger != nil {
		r.logger.Debug(ctx, "timeline event", "event_type", string(typ), "event_name", name)
	}
}

// ExecutionStarted marks the admission of one pathway run.
func (r *EventRecorder) ExecutionStarted(ctx context.Context, mode string) {
	r.record(ctx, EventExecStart, mode, 0, nil, nil)
}

// ExecutionEnded marks the terminal outcome of one pathway run.
func (r *EventRecorder) ExecutionEnded(ctx context.Context, dur time.Duration, err error) {
	typ := EventExecEnd
	if err != nil {
		typ = EventExecError
	}
	r.record(ctx, typ, "", dur, err, nil)
}

// ProviderCall marks one backend invocation attempt.
func (r *EventRecorder) ProviderCall(ctx context.Context, family, model string, dur time.Duration, err error) {
	typ := EventProviderCall
	if err != nil {
		typ = EventProviderError
	}
	r.record(ctx, typ, family, dur, err, map[string]any{"model": model})
}

// ToolRan marks one tool invocation inside the agent loop.
func (r *EventRecorder) ToolRan(ctx context.Context, tool string, dur time.Duration, err error) {
	typ := EventToolRun
	if err != nil {
		typ = EventToolError
	}
	r.record(ctx, typ, tool, dur, err, nil)
}

// Compressed marks history compression during an agent run.
func (r *EventRecorder) Compressed(ctx context.Context, passes int) {
	r.record(ctx, EventCompression, "", 0, nil, map[string]any{"passes": passes})
}

// Timeline is the JSON shape the debug endpoint serves for one request.
type Timeline struct {
	RequestID string          `json:"request_id"`
	Pathway   string          `json:"pathway,omitempty"`
	StartTime time.Time       `json:"start_time"`
	EndTime   time.Time       `json:"end_time"`
	Duration  time.Duration   `json:"duration_ns"`
	Events    []*Event        `json:"events"`
	Summary   TimelineSummary `json:"summary"`
}

// TimelineSummary aggregates a timeline's events.
type TimelineSummary struct {
	TotalEvents   int `json:"total_events"`
	Errors        int `json:"errors"`
	ToolRuns      int `json:"tool_runs"`
	ProviderCalls int `json:"provider_calls"`
}

// BuildTimeline assembles the timeline for time-ordered events.
func BuildTimeline(events []*Event) *Timeline {
	tl := &Timeline{Events: events}
	if len(events) == 0 {
		return tl
	}
	tl.StartTime = events[0].Timestamp
	tl.EndTime = events[len(events)-1].Timestamp
	tl.Duration = tl.EndTime.Sub(tl.StartTime)

	for _, ev := range events {
		if tl.RequestID == "" {
			tl.RequestID = ev.RequestID
		}
		if tl.Pathway == "" {
			tl.Pathway = ev.Pathway
		}
		tl.Summary.TotalEvents++
		if ev.Error != "" {
			tl.Summary.Errors++
		}
		switch ev.Type {
		case EventToolRun, EventToolError:
			tl.Summary.ToolRuns++
		case EventProviderCall, EventProviderError:
			tl.Summary.ProviderCalls++
		}
	}
	return tl
}

var eventSeq atomic.Int64

func nextEventID() string {
	return "evt_" + strconv.FormatInt(time.Now().UnixNano(), 36) + "_" + strconv.FormatInt(eventSeq.Add(1), 10)
}
