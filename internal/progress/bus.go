// Package progress implements the keyed publish/subscribe bus carrying
// per-request progress events. Progress per request is monotonically
// non-decreasing on [0,1]; the bus clamps regressions and guarantees
// exactly one terminal event per request.
package progress

import (
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/cortexgw/cortex/pkg/models"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultRetention is how long terminal request state is kept so that late
// subscribers still observe the final event.
const DefaultRetention = 60 * time.Second

const subscriberBuffer = 16

// state is the per-request high-water mark and last event.
type state struct {
	high      float64
	terminal  bool
	last      models.ProgressEvent
	updatedAt time.Time
}

// Bus fans progress events out to subscribers keyed by request ID.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan models.ProgressEvent]struct{}
	states      map[string]*state
	retention   time.Duration
	now         func() time.Time
}

// NewBus creates a bus. retention <= 0 selects DefaultRetention.
func NewBus(retention time.Duration) *Bus {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Bus{
		subscribers: make(map[string]map[chan models.ProgressEvent]struct{}),
		states:      make(map[string]*state),
		retention:   retention,
		now:         time.Now,
	}
}

// Subscribe registers a listener for one or more request IDs and returns
// the event channel plus a cancel function. If a request already has
// recorded state its last event is replayed into the fresh channel, so
// late subscribers see the current position immediately.
func (b *Bus) Subscribe(requestIDs ...string) (<-chan models.ProgressEvent, func()) {
	ch := make(chan models.ProgressEvent, subscriberBuffer)

	b.mu.Lock()
	for _, id := range requestIDs {
		listeners := b.subscribers[id]
		if listeners == nil {
			listeners = make(map[chan models.ProgressEvent]struct{})
			b.subscribers[id] = listeners
		}
		listeners[ch] = struct{}{}
		if st, ok := b.states[id]; ok {
			select {
			case ch <- st.last:
			default:
			}
		}
	}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			for _, id := range requestIDs {
				listeners := b.subscribers[id]
				if listeners != nil {
					delete(listeners, ch)
					if len(listeners) == 0 {
						delete(b.subscribers, id)
					}
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber of its request ID.
// Progress below the request's high-water mark is raised to it; progress
// at or above 1 becomes the terminal event. Events after the terminal one
// are dropped and Publish reports false.
func (b *Bus) Publish(ev models.ProgressEvent) bool {
	b.mu.Lock()
	st := b.states[ev.RequestID]
	if st == nil {
		st = &state{}
		b.states[ev.RequestID] = st
	}
	if st.terminal {
		b.mu.Unlock()
		return false
	}
	if ev.Progress < st.high {
		ev.Progress = st.high
	}
	if ev.Progress > 1 {
		ev.Progress = 1
	}
	st.high = ev.Progress
	terminal := ev.Progress >= 1
	st.terminal = terminal
	st.last = ev
	st.updatedAt = b.now()

	listeners := b.subscribers[ev.RequestID]
	for ch := range listeners {
		deliver(ch, ev, terminal)
	}
	b.mu.Unlock()
	return true
}

// deliver sends without blocking. Intermediate events are droppable for a
// slow reader because later events supersede them; the terminal event
// evicts the oldest buffered event and retries once.
func deliver(ch chan models.ProgressEvent, ev models.ProgressEvent, terminal bool) {
	select {
	case ch <- ev:
		return
	default:
	}
	if !terminal {
		return
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// Update publishes a non-terminal progress position.
func (b *Bus) Update(requestID string, progress float64, info string) bool {
	if progress >= 1 {
		progress = 0.99
	}
	return b.Publish(models.ProgressEvent{
		RequestID: requestID,
		Progress:  progress,
		Info:      info,
	})
}

// Complete publishes the terminal event carrying the final serialized
// result. data must already be JSON-encoded.
func (b *Bus) Complete(requestID string, data string) bool {
	return b.Publish(models.ProgressEvent{
		RequestID: requestID,
		Progress:  1,
		Data:      data,
	})
}

// Fail publishes the terminal event for an aborted request. The info field
// carries a JSON-encoded "ERROR: ..." descriptor.
func (b *Bus) Fail(requestID string, message string) bool {
	info, err := jsonFast.MarshalToString("ERROR: " + message)
	if err != nil {
		info = `"ERROR: unserializable failure"`
	}
	return b.Publish(models.ProgressEvent{
		RequestID: requestID,
		Progress:  1,
		Info:      info,
	})
}

// Last returns the most recent event published for a request.
func (b *Bus) Last(requestID string) (models.ProgressEvent, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.states[requestID]
	if !ok {
		return models.ProgressEvent{}, false
	}
	return st.last, true
}

// Finished reports whether the request has published its terminal event.
func (b *Bus) Finished(requestID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st, ok := b.states[requestID]
	return ok && st.terminal
}

// Sweep drops terminal request states older than the retention window and
// returns how many were removed. Live requests are never swept.
func (b *Bus) Sweep() int {
	cutoff := b.now().Add(-b.retention)
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := 0
	for id, st := range b.states {
		if st.terminal && st.updatedAt.Before(cutoff) {
			delete(b.states, id)
			removed++
		}
	}
	return removed
}
