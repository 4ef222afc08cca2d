package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cortexgw/cortex/internal/backoff"
	"github.com/cortexgw/cortex/internal/fault"
)

func fastPoolConfig() PoolConfig {
	return PoolConfig{
		Attempts:      3,
		Backoff:       backoff.Policy{InitialMs: 1, MaxMs: 2, Factor: 2, Jitter: 0},
		TripThreshold: 1,
		TripCooldown:  time.Minute,
	}
}

func TestPool_SelectPrefersMostCapacity(t *testing.T) {
	p := NewPool(fastPoolConfig(),
		EndpointSpec{Name: "a", RequestsPerSecond: 5},
		EndpointSpec{Name: "b", RequestsPerSecond: 5},
	)
	p.endpoints[0].bucket.TryAcquire()
	if ep := p.Select(); ep.Name() != "b" {
		t.Errorf("selected %q, want the fuller endpoint b", ep.Name())
	}
}

func TestPool_SelectBreaksTiesByInFlight(t *testing.T) {
	p := NewPool(fastPoolConfig(),
		EndpointSpec{Name: "a", RequestsPerSecond: 5},
		EndpointSpec{Name: "b", RequestsPerSecond: 5},
	)
	p.endpoints[0].monitor.Begin()
	if ep := p.Select(); ep.Name() != "b" {
		t.Errorf("selected %q, want the idle endpoint b", ep.Name())
	}
}

func TestPool_SelectSkipsTripped(t *testing.T) {
	p := NewPool(fastPoolConfig(),
		EndpointSpec{Name: "a", RequestsPerSecond: 5},
		EndpointSpec{Name: "b", RequestsPerSecond: 5},
	)
	p.endpoints[0].monitor.Begin()
	p.endpoints[0].monitor.End(errors.New("boom"))
	if ep := p.Select(); ep.Name() != "b" {
		t.Errorf("selected %q, want untripped endpoint b", ep.Name())
	}
}

func TestPool_SelectFallsBackWhenAllTripped(t *testing.T) {
	p := NewPool(fastPoolConfig(),
		EndpointSpec{Name: "a", RequestsPerSecond: 5},
		EndpointSpec{Name: "b", RequestsPerSecond: 5},
	)
	for _, ep := range p.endpoints {
		ep.monitor.Begin()
		ep.monitor.End(errors.New("boom"))
	}
	if ep := p.Select(); ep == nil {
		t.Error("all endpoints tripped, selection should still return one")
	}
}

func TestPool_ExecuteSuccess(t *testing.T) {
	p := NewPool(fastPoolConfig(), EndpointSpec{Name: "a", RequestsPerSecond: 100})
	var calls int
	err := p.Execute(context.Background(), 0, func(ctx context.Context, ep *Endpoint) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	stats := p.endpoints[0].Stats()
	if stats.Requests != 1 || stats.Successes != 1 || stats.InFlight != 0 {
		t.Errorf("stats = %+v, want one completed success", stats)
	}
}

func TestPool_ExecuteReselectsOnRetryable(t *testing.T) {
	p := NewPool(fastPoolConfig(),
		EndpointSpec{Name: "a", RequestsPerSecond: 100},
		EndpointSpec{Name: "b", RequestsPerSecond: 100},
	)
	var used []string
	err := p.Execute(context.Background(), 3, func(ctx context.Context, ep *Endpoint) error {
		used = append(used, ep.Name())
		if len(used) == 1 {
			return fault.New(fault.KindRetryable, "upstream 503")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(used) != 2 {
		t.Fatalf("attempts = %v, want 2", used)
	}
	if used[1] == used[0] {
		t.Errorf("retry reused tripped endpoint %q, want the sibling", used[1])
	}
}

func TestPool_ExecuteStopsOnNonRetryable(t *testing.T) {
	p := NewPool(fastPoolConfig(), EndpointSpec{Name: "a", RequestsPerSecond: 100})
	permanent := fault.New(fault.KindNonRetryable, "bad schema")
	var calls int
	err := p.Execute(context.Background(), 3, func(ctx context.Context, ep *Endpoint) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Errorf("Execute() error = %v, want the permanent error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestPool_ExecuteExhaustsAttempts(t *testing.T) {
	p := NewPool(fastPoolConfig(), EndpointSpec{Name: "a", RequestsPerSecond: 100})
	transient := fault.New(fault.KindRetryable, "reset by peer")
	var calls int
	err := p.Execute(context.Background(), 3, func(ctx context.Context, ep *Endpoint) error {
		calls++
		return transient
	})
	if !errors.Is(err, transient) {
		t.Errorf("Execute() error = %v, want last transient error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestPool_ExecuteCancelled(t *testing.T) {
	p := NewPool(fastPoolConfig(), EndpointSpec{Name: "a", RequestsPerSecond: 100})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Execute(ctx, 3, func(ctx context.Context, ep *Endpoint) error {
		t.Fatal("fn should not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}

func TestPool_ExecuteNoEndpoints(t *testing.T) {
	p := NewPool(fastPoolConfig())
	err := p.Execute(context.Background(), 1, func(ctx context.Context, ep *Endpoint) error {
		return nil
	})
	if fault.KindOf(err) != fault.KindNonRetryable {
		t.Errorf("Execute() error = %v, want non-retryable no-endpoints fault", err)
	}
}

func TestPool_Snapshot(t *testing.T) {
	p := NewPool(fastPoolConfig(),
		EndpointSpec{Name: "a", RequestsPerSecond: 5},
		EndpointSpec{Name: "b", RequestsPerSecond: 5},
	)
	snap := p.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snap))
	}
	if snap[0].Name != "a" || snap[1].Name != "b" {
		t.Errorf("snapshot names = %q, %q", snap[0].Name, snap[1].Name)
	}
}
