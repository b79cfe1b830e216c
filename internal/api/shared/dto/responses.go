package dto

import (
	"time"

	"github.com/feral-file/passport-ledger/internal/domain"
)

// RecordResponse represents a passport record
type RecordResponse struct {
	*domain.Record
}

// StoreRecordResponse represents the result of storing a record
type StoreRecordResponse struct {
	ID uint64 `json:"id"`
}

// OwnershipResponse represents an ownership check
type OwnershipResponse struct {
	RecordID  uint64 `json:"record_id"`
	Candidate string `json:"candidate"`
	IsOwner   bool   `json:"is_owner"`
}

// OwnerRecordsResponse lists the records created by an owner
type OwnerRecordsResponse struct {
	Owner     string   `json:"owner"`
	RecordIDs []uint64 `json:"record_ids"`
}

// PermissionsResponse represents the effective permissions of a user on a record
type PermissionsResponse struct {
	RecordID    uint64             `json:"record_id"`
	User        string             `json:"user"`
	CanView     bool               `json:"can_view"`
	CanEdit     bool               `json:"can_edit"`
	AccessLevel domain.AccessLevel `json:"access_level"`
}

// DelegationResponse represents an account delegation and whether it is effective now
type DelegationResponse struct {
	*domain.Delegation
	HasAccess bool `json:"has_access"`
}

// RequestVerificationResponse represents the result of a verification request
type RequestVerificationResponse struct {
	RequestID uint64 `json:"request_id"`
}

// VerificationRequestResponse represents a verification request with its derived status
type VerificationRequestResponse struct {
	*domain.VerificationRequest
	Status     domain.VerificationStatus `json:"status"`
	IsVerified bool                      `json:"is_verified"`
}

// NewVerificationRequestResponse builds the response of a verification request
func NewVerificationRequestResponse(request *domain.VerificationRequest) VerificationRequestResponse {
	return VerificationRequestResponse{
		VerificationRequest: request,
		Status:              request.Status(),
		IsVerified:          request.IsVerified(),
	}
}

// RecordVerificationsResponse lists the verification requests of a record in creation order
type RecordVerificationsResponse struct {
	RecordID   uint64   `json:"record_id"`
	RequestIDs []uint64 `json:"request_ids"`
}

// JournalResponse represents a page of the event journal
type JournalResponse struct {
	Events    []domain.LedgerEvent `json:"events"`
	NextAfter *uint64              `json:"next_after,omitempty"`
}

// CreateWebhookClientResponse represents the response for creating a webhook client
type CreateWebhookClientResponse struct {
	ClientID         string    `json:"client_id"`
	WebhookURL       string    `json:"webhook_url"`
	WebhookSecret    string    `json:"webhook_secret"`
	EventFilters     []string  `json:"event_filters"`
	IsActive         bool      `json:"is_active"`
	RetryMaxAttempts int       `json:"retry_max_attempts"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HealthResponse represents the health of the API
type HealthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Database string `json:"database,omitempty"`
}
