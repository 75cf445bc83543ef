// Package circuit wraps gobreaker with the defaults and logging used by the
// outbound clients (breach range lookups, remote session service).
package circuit

import (
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrOpen is returned without calling the wrapped function while the circuit
// is open or the half-open probe budget is spent.
var ErrOpen = errors.New("circuit open")

type Config struct {
	Name string
	// FailureThreshold consecutive failures open the circuit.
	FailureThreshold uint32
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// HalfOpenRequests probes are let through while half-open.
	HalfOpenRequests uint32
	// Interval clears closed-state counts periodically; zero never clears.
	Interval time.Duration
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		HalfOpenRequests: 1,
	}
}

type Breaker[T any] struct {
	cb *gobreaker.CircuitBreaker[T]
}

type Option func(*options)

type options struct {
	logger       *slog.Logger
	onChange     func(name string, from, to string)
	isSuccessful func(error) bool
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStateHook is called on every state transition, typically to update a
// gauge.
func WithStateHook(fn func(name string, from, to string)) Option {
	return func(o *options) { o.onChange = fn }
}

// WithSuccessClassifier decides which errors do not count as failures, for
// example a 4xx response from a healthy upstream.
func WithSuccessClassifier(fn func(error) bool) Option {
	return func(o *options) { o.isSuccessful = fn }
}

func New[T any](cfg Config, opts ...Option) *Breaker[T] {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
			if o.onChange != nil {
				o.onChange(name, from.String(), to.String())
			}
		},
	}
	if o.isSuccessful != nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil || o.isSuccessful(err)
		}
	}
	return &Breaker[T]{cb: gobreaker.NewCircuitBreaker[T](settings)}
}

// Execute runs fn unless the circuit is open.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, ErrOpen
	}
	return v, err
}

func (b *Breaker[T]) Name() string {
	return b.cb.Name()
}

// State is one of "closed", "half-open" or "open".
func (b *Breaker[T]) State() string {
	return b.cb.State().String()
}

func (b *Breaker[T]) IsOpen() bool {
	return b.cb.State() == gobreaker.StateOpen
}
