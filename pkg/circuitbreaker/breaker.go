// Package circuitbreaker wraps sony/gobreaker for calls to the PBS data
// API, adding OpenTelemetry counters and zap state-change logging.
package circuitbreaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State represents the breaker state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds breaker configuration.
type Config struct {
	// Name identifies the breaker, usually the upstream resource.
	Name string
	// MaxRequests is max probe requests allowed in half-open state.
	MaxRequests uint32
	// Interval is the cyclic period for clearing counts while closed.
	Interval time.Duration
	// Timeout is how long to wait before moving from open to half-open.
	Timeout time.Duration
	// FailureThreshold is consecutive failures before opening.
	FailureThreshold uint32
}

// DefaultConfig returns defaults suited to the PBS data API: a single
// shared upstream with modest query volume, so trip early and probe
// cautiously.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      2,
		Interval:         60 * time.Second,
		Timeout:          20 * time.Second,
		FailureThreshold: 3,
	}
}

// Breaker guards a single upstream resource.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	meter           metric.Meter
	requestCounter  metric.Int64Counter
	failureCounter  metric.Int64Counter
	rejectedCounter metric.Int64Counter

	mu    sync.RWMutex
	state State
}

// New creates a breaker from cfg.
func New(cfg Config, logger *zap.Logger) (*Breaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("circuit-breaker"),
		meter:  otel.Meter("circuit-breaker"),
		state:  StateClosed,
	}

	var err error
	b.requestCounter, err = b.meter.Int64Counter("circuit_breaker_requests_total",
		metric.WithDescription("Total requests through the breaker"))
	if err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}
	b.failureCounter, err = b.meter.Int64Counter("circuit_breaker_failures_total",
		metric.WithDescription("Total failed requests"))
	if err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}
	b.rejectedCounter, err = b.meter.Int64Counter("circuit_breaker_rejected_total",
		metric.WithDescription("Total requests rejected by an open breaker"))
	if err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}

	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.onStateChange(from, to)
		},
	})

	return b, nil
}

// Execute runs fn through the breaker.
func (b *Breaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	ctx, span := b.tracer.Start(ctx, "circuit_breaker_execute",
		trace.WithAttributes(
			attribute.String("breaker_name", b.name),
			attribute.String("state", string(b.CurrentState())),
		))
	defer span.End()

	b.requestCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("name", b.name)))

	result, err := b.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			b.rejectedCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("name", b.name)))
			span.SetAttributes(attribute.Bool("circuit_open", true))
		} else {
			b.failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("name", b.name)))
		}
		span.RecordError(err)
		return nil, err
	}

	return result, nil
}

// CurrentState returns the breaker state.
func (b *Breaker) CurrentState() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// IsOpen reports whether the breaker is rejecting requests.
func (b *Breaker) IsOpen() bool { return b.CurrentState() == StateOpen }

// Counts returns the underlying gobreaker counts.
func (b *Breaker) Counts() gobreaker.Counts { return b.cb.Counts() }

func (b *Breaker) onStateChange(from, to gobreaker.State) {
	fromState := mapState(from)
	toState := mapState(to)

	b.mu.Lock()
	b.state = toState
	b.mu.Unlock()

	b.logger.Warn("circuit breaker state changed",
		zap.String("breaker", b.name),
		zap.String("from", string(fromState)),
		zap.String("to", string(toState)))
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Registry holds one breaker per upstream resource.
type Registry struct {
	breakers map[string]*Breaker
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker for name, creating it with cfg on first use.
func (r *Registry) GetOrCreate(name string, cfg Config) (*Breaker, error) {
	r.mu.RLock()
	if b, ok := r.breakers[name]; ok {
		r.mu.RUnlock()
		return b, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	if b, ok := r.breakers[name]; ok {
		return b, nil
	}

	cfg.Name = name
	b, err := New(cfg, r.logger)
	if err != nil {
		return nil, err
	}

	r.breakers[name] = b
	return b, nil
}

// All returns a snapshot of every registered breaker.
func (r *Registry) All() map[string]*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Breaker, len(r.breakers))
	for k, v := range r.breakers {
		result[k] = v
	}
	return result
}
