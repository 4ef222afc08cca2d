package ratelimit

import (
	"context"
	"time"

	"github.com/cortexgw/cortex/internal/backoff"
	"github.com/cortexgw/cortex/internal/fault"
)

// EndpointSpec declares one endpoint of a model for pool construction.
type EndpointSpec struct {
	Name              string
	RequestsPerSecond float64
}

// Endpoint pairs a rate bucket with an outcome monitor.
type Endpoint struct {
	name    string
	index   int
	bucket  *Bucket
	monitor *Monitor
}

// Name returns the endpoint's configured name.
func (e *Endpoint) Name() string { return e.name }

// Index returns the endpoint's position within its pool.
func (e *Endpoint) Index() int { return e.index }

// Tokens returns the bucket's available capacity.
func (e *Endpoint) Tokens() float64 { return e.bucket.Tokens() }

// Stats returns the monitor snapshot.
func (e *Endpoint) Stats() Stats { return e.monitor.Snapshot() }

// PoolConfig tunes endpoint selection and retries.
type PoolConfig struct {
	// Attempts is the default number of tries per Execute call.
	Attempts int
	// Backoff paces the gaps between retries.
	Backoff backoff.Policy
	// TripThreshold is the consecutive-failure count that sidelines an
	// endpoint.
	TripThreshold int
	// TripCooldown is how long a tripped endpoint sits out.
	TripCooldown time.Duration
}

// DefaultPoolConfig returns the standard retry and breaker settings.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Attempts:      3,
		Backoff:       backoff.DefaultPolicy(),
		TripThreshold: 5,
		TripCooldown:  15 * time.Second,
	}
}

// Pool selects among a model's endpoints and runs calls under their rate
// limits. Selection prefers untripped endpoints with the most immediate
// capacity, breaking ties by least in-flight.
type Pool struct {
	cfg       PoolConfig
	endpoints []*Endpoint
}

// NewPool builds a pool over the given endpoint specs.
func NewPool(cfg PoolConfig, specs ...EndpointSpec) *Pool {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff == (backoff.Policy{}) {
		cfg.Backoff = backoff.DefaultPolicy()
	}
	p := &Pool{cfg: cfg}
	for i, spec := range specs {
		p.endpoints = append(p.endpoints, &Endpoint{
			name:    spec.Name,
			index:   i,
			bucket:  NewBucket(spec.RequestsPerSecond),
			monitor: NewMonitor(cfg.TripThreshold, cfg.TripCooldown),
		})
	}
	return p
}

// Endpoints returns the pool members in construction order.
func (p *Pool) Endpoints() []*Endpoint { return p.endpoints }

// Select picks the endpoint with the most available tokens among those not
// tripped, breaking ties by least in-flight. When every endpoint is
// tripped the breaker is ignored rather than failing the call outright.
func (p *Pool) Select() *Endpoint {
	if len(p.endpoints) == 0 {
		return nil
	}
	best := p.pickFrom(false)
	if best == nil {
		best = p.pickFrom(true)
	}
	return best
}

func (p *Pool) pickFrom(includeTripped bool) *Endpoint {
	var best *Endpoint
	var bestTokens float64
	var bestInFlight int
	for _, ep := range p.endpoints {
		if !includeTripped && ep.monitor.Tripped() {
			continue
		}
		tokens := ep.bucket.Tokens()
		inFlight := ep.monitor.InFlight()
		if best == nil || tokens > bestTokens ||
			(tokens == bestTokens && inFlight < bestInFlight) {
			best = ep
			bestTokens = tokens
			bestInFlight = inFlight
		}
	}
	return best
}

// Execute runs fn against a selected endpoint, waiting for rate capacity
// first. Retryable failures re-select an endpoint and retry with backoff,
// up to attempts tries (pool default when attempts <= 0). Cancellation
// aborts immediately, including mid-backoff.
func (p *Pool) Execute(ctx context.Context, attempts int, fn func(ctx context.Context, ep *Endpoint) error) error {
	if attempts <= 0 {
		attempts = p.cfg.Attempts
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ep := p.Select()
		if ep == nil {
			return fault.New(fault.KindNonRetryable, "model has no endpoints")
		}
		if err := ep.bucket.Acquire(ctx); err != nil {
			return err
		}
		ep.monitor.Begin()
		err := fn(ctx, ep)
		ep.monitor.End(err)
		if err == nil {
			return nil
		}
		lastErr = err
		if !fault.IsRetryable(err) {
			return err
		}
		if attempt < attempts {
			if err := backoff.Sleep(ctx, p.cfg.Backoff, attempt); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// Snapshot reports per-endpoint status for introspection endpoints and
// metrics collection.
type EndpointStatus struct {
	Name   string  `json:"name"`
	Tokens float64 `json:"tokens"`
	Stats  Stats   `json:"stats"`
}

// Snapshot returns the status of every endpoint.
func (p *Pool) Snapshot() []EndpointStatus {
	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		out = append(out, EndpointStatus{
			Name:   ep.name,
			Tokens: ep.bucket.Tokens(),
			Stats:  ep.monitor.Snapshot(),
		})
	}
	return out
}
