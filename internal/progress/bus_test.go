package progress

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cortexgw/cortex/pkg/models"
)

func collect(ch <-chan models.ProgressEvent, n int) []models.ProgressEvent {
	out := make([]models.ProgressEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-timeout:
			return out
		}
	}
	return out
}

func TestBus_PublishAndSubscribe(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe("req-1")
	defer cancel()

	b.Update("req-1", 0.25, "")
	b.Complete("req-1", `"done"`)

	events := collect(ch, 2)
	if len(events) != 2 {
		t.Fatalf("received %d events, want 2", len(events))
	}
	if events[0].Progress != 0.25 {
		t.Errorf("first progress = %v, want 0.25", events[0].Progress)
	}
	if !events[1].Terminal() || events[1].Data != `"done"` {
		t.Errorf("second event = %+v, want terminal with data", events[1])
	}
}

func TestBus_ClampsRegressions(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe("req-1")
	defer cancel()

	b.Update("req-1", 0.5, "")
	b.Update("req-1", 0.3, "")

	events := collect(ch, 2)
	if len(events) != 2 {
		t.Fatalf("received %d events, want 2", len(events))
	}
	if events[1].Progress != 0.5 {
		t.Errorf("regressed progress = %v, want clamp to 0.5", events[1].Progress)
	}
}

func TestBus_ExactlyOneTerminal(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe("req-1")
	defer cancel()

	if !b.Complete("req-1", `"first"`) {
		t.Fatal("first terminal publish should succeed")
	}
	if b.Complete("req-1", `"second"`) {
		t.Error("second terminal publish should be dropped")
	}
	if b.Update("req-1", 0.5, "") {
		t.Error("publish after terminal should be dropped")
	}

	events := collect(ch, 1)
	terminals := 0
	for _, ev := range events {
		if ev.Terminal() {
			terminals++
		}
	}
	if terminals != 1 {
		t.Errorf("terminal events = %d, want exactly 1", terminals)
	}
}

func TestBus_OverflowingProgressBecomesTerminal(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe("req-1")
	defer cancel()

	b.Publish(models.ProgressEvent{RequestID: "req-1", Progress: 1.7})
	events := collect(ch, 1)
	if len(events) != 1 || events[0].Progress != 1 {
		t.Fatalf("events = %+v, want single terminal at 1", events)
	}
	if !b.Finished("req-1") {
		t.Error("request should be finished")
	}
}

func TestBus_SubscribeManyKeys(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe("req-a", "req-b")
	defer cancel()

	b.Update("req-a", 0.1, "")
	b.Update("req-b", 0.2, "")

	events := collect(ch, 2)
	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.RequestID] = true
	}
	if !seen["req-a"] || !seen["req-b"] {
		t.Errorf("events %+v, want both request IDs", events)
	}
}

func TestBus_LateSubscriberSeesLastEvent(t *testing.T) {
	b := NewBus(0)
	b.Complete("req-1", `"result"`)

	ch, cancel := b.Subscribe("req-1")
	defer cancel()
	events := collect(ch, 1)
	if len(events) != 1 || !events[0].Terminal() {
		t.Fatalf("late subscriber got %+v, want replayed terminal", events)
	}
}

func TestBus_FailPublishesErrorDescriptor(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe("req-1")
	defer cancel()

	b.Fail("req-1", "model timed out")
	events := collect(ch, 1)
	if len(events) != 1 {
		t.Fatal("want one terminal event")
	}
	var info string
	if err := json.Unmarshal([]byte(events[0].Info), &info); err != nil {
		t.Fatalf("info %q is not a JSON string: %v", events[0].Info, err)
	}
	if !strings.HasPrefix(info, "ERROR:") {
		t.Errorf("info = %q, want ERROR: prefix", info)
	}
	if events[0].Progress != 1 {
		t.Errorf("progress = %v, want 1", events[0].Progress)
	}
}

func TestBus_SlowReaderStillGetsTerminal(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe("req-1")
	defer cancel()

	for i := 0; i < 40; i++ {
		b.Update("req-1", float64(i)/100, "")
	}
	b.Complete("req-1", `"done"`)

	var sawTerminal bool
	for {
		select {
		case ev := <-ch:
			if ev.Terminal() {
				sawTerminal = true
			}
			continue
		default:
		}
		break
	}
	if !sawTerminal {
		t.Error("terminal event was dropped for slow reader")
	}
}

func TestBus_CancelStopsDelivery(t *testing.T) {
	b := NewBus(0)
	ch, cancel := b.Subscribe("req-1")
	cancel()
	cancel() // double cancel must be safe

	b.Update("req-1", 0.5, "")
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}
}

func TestBus_SweepDropsAgedTerminalState(t *testing.T) {
	b := NewBus(time.Minute)
	clock := time.Unix(1700000000, 0)
	b.now = func() time.Time { return clock }

	b.Complete("done-req", `"x"`)
	b.Update("live-req", 0.4, "")

	clock = clock.Add(2 * time.Minute)
	if removed := b.Sweep(); removed != 1 {
		t.Errorf("swept %d states, want 1", removed)
	}
	if _, ok := b.Last("done-req"); ok {
		t.Error("terminal state should be swept")
	}
	if _, ok := b.Last("live-req"); !ok {
		t.Error("live request state must survive sweeps")
	}
}
