package messaging

import (
	"context"

	"github.com/feral-file/passport-ledger/internal/domain"
)

// Publisher defines the interface for publishing ledger events to the message broker
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// PublishEvent publishes a committed ledger event
	PublishEvent(ctx context.Context, event domain.LedgerEvent) error
	// OnEvent lets the publisher be registered as a ledger subscriber
	OnEvent(ctx context.Context, event domain.LedgerEvent) error
	// Close closes the connection
	Close()
}
