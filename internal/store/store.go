package store

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/ledger"
	"github.com/feral-file/passport-ledger/internal/store/schema"
)

// Store defines the interface for database operations
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	ledger.Backend

	// Ping checks the database connection
	Ping(ctx context.Context) error

	// ListDelegationsExpiringAfter returns active delegations whose expiry is after the cursor
	// and at or before until, ordered by (expiry, grantor, delegatee)
	ListDelegationsExpiringAfter(ctx context.Context, cursor DelegationExpiryCursor, until time.Time, limit int) ([]domain.Delegation, error)

	// SetKeyValue sets a key-value pair in the key-value store
	SetKeyValue(ctx context.Context, key string, value string) error
	// GetKeyValue retrieves a value by key, empty when the key does not exist
	GetKeyValue(ctx context.Context, key string) (string, error)
	// ConsumeKeyValue deletes a key and returns its value, empty when the key does not exist
	ConsumeKeyValue(ctx context.Context, key string) (string, error)

	// GetActiveWebhookClientsByEventType retrieves active webhook clients subscribed to the event type
	GetActiveWebhookClientsByEventType(ctx context.Context, eventType string) ([]*schema.WebhookClient, error)
	// GetWebhookClientByID retrieves a webhook client by client ID, nil when it does not exist
	GetWebhookClientByID(ctx context.Context, clientID string) (*schema.WebhookClient, error)
	// CreateWebhookClient registers a new webhook client
	CreateWebhookClient(ctx context.Context, input CreateWebhookClientInput) (*schema.WebhookClient, error)
	// CreateWebhookDelivery creates a new webhook delivery record
	CreateWebhookDelivery(ctx context.Context, delivery *schema.WebhookDelivery) error
	// UpdateWebhookDeliveryStatus updates the status and result of a webhook delivery
	UpdateWebhookDeliveryStatus(ctx context.Context, deliveryID uint64, status schema.WebhookDeliveryStatus, attempts int, responseStatus *int, responseBody, errorMessage string) error
}

// CreateWebhookClientInput is the input for registering a webhook client
type CreateWebhookClientInput struct {
	ClientID         string
	WebhookURL       string
	WebhookSecret    string
	EventFilters     datatypes.JSON
	IsActive         bool
	RetryMaxAttempts int
}

// DelegationExpiryCursor is the position of the delegation expiry sweeper.
// Delegations sort by (expiry, grantor, delegatee); the cursor points at the last one notified.
type DelegationExpiryCursor struct {
	Expiry    time.Time `json:"expiry"`
	Grantor   string    `json:"grantor,omitempty"`
	Delegatee string    `json:"delegatee,omitempty"`
}
