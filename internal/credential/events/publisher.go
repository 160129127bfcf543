package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink persists or forwards lifecycle events.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is the narrow interface components depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event)
}

// Publisher hands events to a Sink, optionally through a bounded buffer drained
// by a background goroutine. Emit never fails the caller; sink errors are logged.
type Publisher struct {
	sink   Sink
	events chan Event
	wg     sync.WaitGroup
	logger *slog.Logger
	async  bool
	once   sync.Once
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

// WithLogger sets a logger for sink error reporting.
func WithLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(sink Sink, opts ...PublisherOption) *Publisher {
	p := &Publisher{sink: sink, logger: slog.Default()}
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
		p.append(context.Background(), event)
	}
}

// Close stops the async publisher and waits for buffered events to drain.
func (p *Publisher) Close() {
	p.once.Do(func() {
		if p.async {
			close(p.events)
			p.wg.Wait()
		}
	})
}

func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if !p.async {
		p.append(ctx, event)
		return
	}
	// never block the pipeline on a slow sink
	select {
	case p.events <- event:
	default:
		p.logger.Warn("event buffer full, event dropped",
			"type", event.Type,
			"credential_id", event.CredentialID,
		)
	}
}

func (p *Publisher) append(ctx context.Context, event Event) {
	if err := p.sink.Append(ctx, event); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish credential event",
			"error", err,
			"type", event.Type,
			"credential_id", event.CredentialID,
		)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}
