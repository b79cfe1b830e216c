package ledger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
)

// Subscriber receives every committed ledger event
//
//go:generate mockgen -source=events.go -destination=../mocks/ledger_subscriber.go -package=mocks -mock_names=Subscriber=MockLedgerSubscriber
type Subscriber interface {
	// OnEvent is called synchronously after the mutation that produced the event has committed
	OnEvent(ctx context.Context, event domain.LedgerEvent) error
}

// SubscriberFunc adapts a function to the Subscriber interface
type SubscriberFunc func(ctx context.Context, event domain.LedgerEvent) error

// OnEvent calls f(ctx, event)
func (f SubscriberFunc) OnEvent(ctx context.Context, event domain.LedgerEvent) error {
	return f(ctx, event)
}

type namedSubscriber struct {
	name       string
	subscriber Subscriber
}

// Dispatcher fans committed events out to subscribers in registration order
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers []namedSubscriber
}

// NewDispatcher creates a dispatcher without subscribers
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a subscriber under a name used in logs
func (d *Dispatcher) Subscribe(name string, subscriber Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers = append(d.subscribers, namedSubscriber{name: name, subscriber: subscriber})
}

// Dispatch delivers an event to every subscriber.
// Subscriber failures are logged; the committed mutation is never undone.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.LedgerEvent) {
	d.mu.RLock()
	subscribers := make([]namedSubscriber, len(d.subscribers))
	copy(subscribers, d.subscribers)
	d.mu.RUnlock()

	for _, s := range subscribers {
		if err := s.subscriber.OnEvent(ctx, event); err != nil {
			logger.ErrorCtx(ctx, fmt.Errorf("subscriber failed to handle event: %w", err),
				zap.String("subscriber", s.name),
				zap.String("eventType", string(event.Type)),
				zap.Uint64("sequence", event.Sequence))
		}
	}
}

// LogSubscriber writes every event to the structured log
func LogSubscriber() Subscriber {
	return SubscriberFunc(func(ctx context.Context, event domain.LedgerEvent) error {
		logger.InfoCtx(ctx, "Ledger event committed",
			zap.Uint64("sequence", event.Sequence),
			zap.String("eventType", string(event.Type)),
			zap.Uint64("recordID", event.RecordID),
			zap.Uint64("requestID", event.RequestID),
			zap.String("actor", event.Actor),
			zap.String("hash", event.Hash))
		return nil
	})
}
