package publisher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	dErrors "aegis/pkg/domain-errors"
	audit "aegis/pkg/platform/audit"
)

// Publisher is the append-only entry point for audit events. It persists to
// a primary store and mirrors each event to zero or more secondary sinks
// (for example a Kafka stream). Mirror failures are logged, never returned.
type Publisher struct {
	store   audit.Store
	mirrors []audit.Store
	events  chan audit.Event
	wg      sync.WaitGroup
	logger  *slog.Logger
	async   bool
}

type Option func(*Publisher)

// WithAsyncBuffer queues events in a buffered channel drained by a
// background goroutine. A full buffer drops the event with an error.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan audit.Event, size)
			p.async = true
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMirror adds best-effort secondary sinks.
func WithMirror(stores ...audit.Store) Option {
	return func(p *Publisher) {
		for _, s := range stores {
			if s != nil {
				p.mirrors = append(p.mirrors, s)
			}
		}
	}
}

func New(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		if err := p.persist(context.Background(), event); err != nil {
			p.logger.Error("failed to persist audit event",
				"error", err,
				"event", string(event.EventType),
			)
		}
	}
}

func (p *Publisher) persist(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	for _, m := range p.mirrors {
		if err := m.Append(ctx, event); err != nil {
			p.logger.Warn("audit mirror append failed",
				"error", err,
				"event", string(event.EventType),
			)
		}
	}
	return nil
}

// Close stops accepting events and waits for the queue to drain.
func (p *Publisher) Close() {
	if p.async && p.events != nil {
		close(p.events)
		p.wg.Wait()
	}
}

func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if !p.async {
		return p.persist(ctx, event)
	}
	select {
	case p.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.Warn("audit buffer full, event dropped",
			"event", string(event.EventType),
		)
		return dErrors.New(dErrors.CodeInternal, "audit buffer full")
	}
}

func (p *Publisher) ListRecent(ctx context.Context, limit int) ([]audit.Event, error) {
	return p.store.ListRecent(ctx, limit)
}
