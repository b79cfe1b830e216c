package webhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/feral-file/passport-ledger/internal/domain"
)

// Event type constants
const (
	// EventTypeDelegationExpired is fired by the sweeper once a delegation's expiry has passed.
	// It is derived from the clock, the ledger itself never journals it.
	EventTypeDelegationExpired = "delegation.expired"

	// EventTypeWildcard is a special filter that matches all event types
	EventTypeWildcard = "*"
)

// IsValidEventType reports whether a webhook client may subscribe to the event type
func IsValidEventType(eventType string) bool {
	if eventType == EventTypeWildcard || eventType == EventTypeDelegationExpired {
		return true
	}
	return domain.IsValidEventType(domain.EventType(eventType))
}

// WebhookEvent represents a webhook event to be delivered to clients
type WebhookEvent struct {
	// EventID is a unique identifier for this event (ULID for time-sortable uniqueness)
	EventID string `json:"event_id"`
	// EventType is a ledger event type or "delegation.expired"
	EventType string `json:"event_type"`
	// Timestamp is when the underlying ledger change happened
	Timestamp time.Time `json:"timestamp"`
	// Data contains the event-specific payload
	Data EventData `json:"data"`
}

// EventData contains the webhook event payload
type EventData struct {
	// Sequence is the journal position, empty for derived events
	Sequence  *uint64 `json:"sequence,omitempty"`
	RecordID  uint64  `json:"record_id,omitempty"`
	RequestID uint64  `json:"request_id,omitempty"`
	// Actor is the identity that performed the change (grantor for delegation events)
	Actor string `json:"actor"`
	// Subject is the counterpart identity (delegatee, grantee, requester or snapshot owner)
	Subject        string     `json:"subject,omitempty"`
	ExternalNumber string     `json:"external_number,omitempty"`
	DocumentRef    string     `json:"document_ref,omitempty"`
	Level          string     `json:"level,omitempty"`
	Purpose        string     `json:"purpose,omitempty"`
	Expiry         *time.Time `json:"expiry,omitempty"`
	// Hash is the journal hash of the event, empty for derived events
	Hash string `json:"hash,omitempty"`
}

// DeliveryResult represents the result of a webhook delivery attempt
type DeliveryResult struct {
	// Success indicates whether the delivery was successful
	Success bool
	// StatusCode is the HTTP status code returned by the webhook endpoint
	StatusCode int
	// Body is the response body (limited to 4KB)
	Body string
	// Error contains error details if delivery failed
	Error string
}

// NewLedgerEvent builds the webhook event for a committed ledger event.
// The event id is derived from the event hash so redelivered journal entries keep their id.
func NewLedgerEvent(event domain.LedgerEvent) WebhookEvent {
	sequence := event.Sequence
	data := EventData{
		Sequence:       &sequence,
		RecordID:       event.RecordID,
		RequestID:      event.RequestID,
		Actor:          event.Actor,
		Subject:        event.Subject,
		ExternalNumber: event.ExternalNumber,
		DocumentRef:    event.DocumentRef,
		Purpose:        event.Purpose,
		Hash:           event.Hash,
	}
	if event.Level != nil {
		data.Level = event.Level.String()
	}
	if event.Expiry != nil {
		expiry := event.Expiry.UTC()
		data.Expiry = &expiry
	}

	raw, err := hex.DecodeString(event.Hash)
	if err != nil {
		raw = nil
	}

	return WebhookEvent{
		EventID:   newEventID(event.OccurredAt, raw),
		EventType: string(event.Type),
		Timestamp: event.OccurredAt.UTC(),
		Data:      data,
	}
}

// NewDelegationExpiredEvent builds the notification for a delegation whose expiry has passed.
// The same delegation and expiry always produce the same event id.
func NewDelegationExpiredEvent(delegation domain.Delegation) WebhookEvent {
	expiry := delegation.Expiry.UTC()
	seed := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", delegation.Grantor, delegation.Delegatee, expiry.UnixMicro()))

	return WebhookEvent{
		EventID:   newEventID(expiry, seed[:]),
		EventType: EventTypeDelegationExpired,
		Timestamp: expiry,
		Data: EventData{
			Actor:   delegation.Grantor,
			Subject: delegation.Delegatee,
			Level:   delegation.Level.String(),
			Expiry:  &expiry,
		},
	}
}

// newEventID returns a ULID for t, using seed as entropy when it is long enough
func newEventID(t time.Time, seed []byte) string {
	var entropy io.Reader = ulid.DefaultEntropy()
	if len(seed) >= 10 {
		entropy = bytes.NewReader(seed)
	}
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
