package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feral-file/passport-ledger/internal/domain"
)

// VerificationWorkflow runs the PENDING -> APPROVED | REJECTED state machine of verification requests
type VerificationWorkflow struct {
	host Host
}

// NewVerificationWorkflow creates a verification workflow on the given host
func NewVerificationWorkflow(host Host) *VerificationWorkflow {
	return &VerificationWorkflow{host: host}
}

// RequestVerification opens a pending request on an active record owned by someone else.
// The record owner is snapshotted into the request.
func (v *VerificationWorkflow) RequestVerification(ctx context.Context, requester string, recordID uint64) (uint64, error) {
	requester = domain.NormalizeIdentity(requester)
	if domain.IsZeroIdentity(requester) {
		return 0, fmt.Errorf("%w: requester identity is required", domain.ErrInvalidIdentity)
	}

	event, err := v.host.apply(ctx, func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error) {
		record, err := st.GetRecord(ctx, recordID)
		if err != nil {
			return nil, recordLookupError(recordID, err)
		}
		if !record.Active {
			return nil, fmt.Errorf("record %d: %w", recordID, domain.ErrInactive)
		}
		if record.OwnedBy(requester) {
			return nil, fmt.Errorf("record %d: %w", recordID, domain.ErrSelfVerification)
		}

		id, err := st.NextVerificationRequestID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve verification request id: %w", err)
		}

		request := &domain.VerificationRequest{
			ID:        id,
			RecordID:  recordID,
			Requester: requester,
			Owner:     record.Owner,
			CreatedAt: now,
		}
		if err := st.CreateVerificationRequest(ctx, request); err != nil {
			return nil, fmt.Errorf("failed to create verification request: %w", err)
		}

		return &domain.LedgerEvent{
			Type:      domain.EventTypeVerificationRequested,
			RecordID:  recordID,
			RequestID: id,
			Actor:     requester,
			Subject:   record.Owner,
		}, nil
	})
	if err != nil {
		return 0, err
	}

	return event.RequestID, nil
}

// ApproveVerification moves a pending request to APPROVED
func (v *VerificationWorkflow) ApproveVerification(ctx context.Context, owner string, requestID uint64) error {
	return v.process(ctx, owner, requestID, true)
}

// RejectVerification moves a pending request to REJECTED
func (v *VerificationWorkflow) RejectVerification(ctx context.Context, owner string, requestID uint64) error {
	return v.process(ctx, owner, requestID, false)
}

// process settles a request. Authority follows the owner snapshot, not the live record.
func (v *VerificationWorkflow) process(ctx context.Context, owner string, requestID uint64, approve bool) error {
	owner = domain.NormalizeIdentity(owner)

	_, err := v.host.apply(ctx, func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error) {
		request, err := st.GetVerificationRequest(ctx, requestID)
		if err != nil {
			return nil, requestLookupError(requestID, err)
		}
		if request.Processed {
			return nil, fmt.Errorf("verification request %d: %w", requestID, domain.ErrAlreadyProcessed)
		}
		if request.Owner != owner {
			return nil, fmt.Errorf("verification request %d: %w", requestID, domain.ErrNotOwner)
		}

		request.Processed = true
		request.Approved = approve
		if err := st.UpdateVerificationRequest(ctx, request); err != nil {
			return nil, fmt.Errorf("failed to update verification request: %w", err)
		}

		eventType := domain.EventTypeVerificationRejected
		if approve {
			eventType = domain.EventTypeVerificationApproved
		}

		return &domain.LedgerEvent{
			Type:      eventType,
			RecordID:  request.RecordID,
			RequestID: requestID,
			Actor:     owner,
			Subject:   request.Requester,
		}, nil
	})
	return err
}

// IsVerified reports whether a request was processed and approved. Unknown ids are not verified.
func (v *VerificationWorkflow) IsVerified(ctx context.Context, requestID uint64) (bool, error) {
	request, err := v.host.Backend.GetVerificationRequest(ctx, requestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get verification request: %w", err)
	}
	return request.IsVerified(), nil
}

// GetVerificationRequest returns a request by id
func (v *VerificationWorkflow) GetVerificationRequest(ctx context.Context, requestID uint64) (*domain.VerificationRequest, error) {
	request, err := v.host.Backend.GetVerificationRequest(ctx, requestID)
	if err != nil {
		return nil, requestLookupError(requestID, err)
	}
	return request, nil
}

// GetPassportVerifications returns the request ids of a record in creation order
func (v *VerificationWorkflow) GetPassportVerifications(ctx context.Context, recordID uint64) ([]uint64, error) {
	ids, err := v.host.Backend.ListVerificationRequestIDs(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("failed to list verification requests: %w", err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

func requestLookupError(id uint64, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("verification request %d: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to get verification request %d: %w", id, err)
}
