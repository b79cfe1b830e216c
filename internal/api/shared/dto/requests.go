package dto

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/feral-file/passport-ledger/internal/api/shared/constants"
	apierrors "github.com/feral-file/passport-ledger/internal/api/shared/errors"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/webhook"
)

// ChallengeRequest represents the request body for a wallet login challenge
type ChallengeRequest struct {
	Address string `json:"address"`
}

// Validate validates the request body
func (r *ChallengeRequest) Validate() error {
	if !domain.IsAddress(r.Address) {
		return apierrors.NewValidationError("address must be a valid Ethereum address")
	}
	return nil
}

// TokenRequest represents the request body for exchanging a signed challenge for a token
type TokenRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// Validate validates the request body
func (r *TokenRequest) Validate() error {
	if !domain.IsAddress(r.Address) {
		return apierrors.NewValidationError("address must be a valid Ethereum address")
	}
	if r.Signature == "" {
		return apierrors.NewValidationError("signature is required")
	}
	return nil
}

// StoreRecordRequest represents the request body for storing a passport record
type StoreRecordRequest struct {
	ExternalNumber string `json:"external_number"`
	DocumentRef    string `json:"document_ref"`
}

// Validate validates the request body
func (r *StoreRecordRequest) Validate() error {
	if len(r.ExternalNumber) > constants.MAX_EXTERNAL_NUMBER_LENGTH {
		return apierrors.NewValidationError(fmt.Sprintf("external_number must be at most %d characters", constants.MAX_EXTERNAL_NUMBER_LENGTH))
	}
	return validateDocumentRef(r.DocumentRef)
}

// UpdateRecordRequest represents the request body for replacing the document of a record
type UpdateRecordRequest struct {
	DocumentRef string `json:"document_ref"`
}

// Validate validates the request body
func (r *UpdateRecordRequest) Validate() error {
	return validateDocumentRef(r.DocumentRef)
}

// Document references are opaque to the ledger, only their size is bounded
func validateDocumentRef(ref string) error {
	if len(ref) > constants.MAX_DOCUMENT_REF_LENGTH {
		return apierrors.NewValidationError(fmt.Sprintf("document_ref must be at most %d characters", constants.MAX_DOCUMENT_REF_LENGTH))
	}
	return nil
}

// GrantDelegationRequest represents the request body for granting an account delegation
type GrantDelegationRequest struct {
	Level        domain.AccessLevel `json:"level"`
	DurationDays uint32             `json:"duration_days"`
	Purpose      string             `json:"purpose"`
}

// Validate validates the request body.
// Level checks are left to the ledger so the error kinds match other callers.
func (r *GrantDelegationRequest) Validate() error {
	if r.DurationDays > constants.MAX_DELEGATION_DAYS {
		return apierrors.NewValidationError(fmt.Sprintf("duration_days must be at most %d", constants.MAX_DELEGATION_DAYS))
	}
	if len(r.Purpose) > constants.MAX_PURPOSE_LENGTH {
		return apierrors.NewValidationError(fmt.Sprintf("purpose must be at most %d characters", constants.MAX_PURPOSE_LENGTH))
	}
	return nil
}

// GrantRecordAccessRequest represents the request body for granting access to one record
type GrantRecordAccessRequest struct {
	Level domain.AccessLevel `json:"level"`
}

// CreateWebhookClientRequest represents the request body for creating a webhook client
type CreateWebhookClientRequest struct {
	WebhookURL       string   `json:"webhook_url"`
	EventFilters     []string `json:"event_filters"`
	RetryMaxAttempts *int     `json:"retry_max_attempts,omitempty"`
}

// Validate validates the request body. Plain HTTP endpoints are accepted in debug mode only.
func (r *CreateWebhookClientRequest) Validate(debug bool) error {
	if r.WebhookURL == "" {
		return apierrors.NewValidationError("webhook_url is required")
	}

	u, err := url.Parse(r.WebhookURL)
	if err != nil || u.Host == "" {
		return apierrors.NewValidationError("webhook_url must be a valid URL")
	}
	if u.Scheme != "https" && !(debug && u.Scheme == "http") {
		return apierrors.NewValidationError("webhook_url must be a valid HTTPS URL")
	}

	if len(r.EventFilters) == 0 {
		return apierrors.NewValidationError("event_filters is required and must not be empty")
	}
	for _, eventType := range r.EventFilters {
		if !webhook.IsValidEventType(eventType) {
			return apierrors.NewValidationError(fmt.Sprintf("unsupported event type: %s", strings.TrimSpace(eventType)))
		}
	}

	if r.RetryMaxAttempts != nil {
		if *r.RetryMaxAttempts < 0 || *r.RetryMaxAttempts > constants.MAX_RETRY_MAX_ATTEMPTS {
			return apierrors.NewValidationError(fmt.Sprintf("retry_max_attempts must be between 0 and %d", constants.MAX_RETRY_MAX_ATTEMPTS))
		}
	}

	return nil
}
