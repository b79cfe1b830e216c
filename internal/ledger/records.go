package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feral-file/passport-ledger/internal/domain"
)

// RecordStore holds passport records and the ownership index
type RecordStore struct {
	host Host
}

// NewRecordStore creates a record store on the given host
func NewRecordStore(host Host) *RecordStore {
	return &RecordStore{host: host}
}

// Store creates a new active record owned by the caller and returns its id.
// External numbers are not deduplicated.
func (s *RecordStore) Store(ctx context.Context, caller, externalNumber, documentRef string) (uint64, error) {
	caller = domain.NormalizeIdentity(caller)
	if domain.IsZeroIdentity(caller) {
		return 0, fmt.Errorf("%w: caller identity is required", domain.ErrInvalidIdentity)
	}

	event, err := s.host.apply(ctx, func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error) {
		id, err := st.NextRecordID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve record id: %w", err)
		}

		record := &domain.Record{
			ID:             id,
			ExternalNumber: externalNumber,
			DocumentRef:    documentRef,
			Owner:          caller,
			Active:         true,
			CreatedAt:      now,
			LastUpdatedAt:  now,
		}
		if err := st.CreateRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to create record: %w", err)
		}

		return &domain.LedgerEvent{
			Type:           domain.EventTypeRecordStored,
			RecordID:       id,
			Actor:          caller,
			ExternalNumber: externalNumber,
		}, nil
	})
	if err != nil {
		return 0, err
	}

	return event.RecordID, nil
}

// Update replaces the document reference of an active record owned by the caller
func (s *RecordStore) Update(ctx context.Context, caller string, id uint64, newDocumentRef string) error {
	caller = domain.NormalizeIdentity(caller)

	_, err := s.host.apply(ctx, func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error) {
		record, err := st.GetRecord(ctx, id)
		if err != nil {
			return nil, recordLookupError(id, err)
		}
		if !record.OwnedBy(caller) {
			return nil, fmt.Errorf("record %d: %w", id, domain.ErrNotOwner)
		}
		if !record.Active {
			return nil, fmt.Errorf("record %d: %w", id, domain.ErrInactive)
		}

		record.DocumentRef = newDocumentRef
		record.LastUpdatedAt = now
		if err := st.UpdateRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to update record: %w", err)
		}

		return &domain.LedgerEvent{
			Type:        domain.EventTypeRecordUpdated,
			RecordID:    id,
			Actor:       caller,
			DocumentRef: newDocumentRef,
		}, nil
	})
	return err
}

// Deactivate marks a record owned by the caller as inactive. There is no way back.
func (s *RecordStore) Deactivate(ctx context.Context, caller string, id uint64) error {
	caller = domain.NormalizeIdentity(caller)

	_, err := s.host.apply(ctx, func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error) {
		record, err := st.GetRecord(ctx, id)
		if err != nil {
			return nil, recordLookupError(id, err)
		}
		if !record.OwnedBy(caller) {
			return nil, fmt.Errorf("record %d: %w", id, domain.ErrNotOwner)
		}
		if !record.Active {
			return nil, fmt.Errorf("record %d: %w", id, domain.ErrAlreadyInactive)
		}

		record.Active = false
		record.LastUpdatedAt = now
		if err := st.UpdateRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to deactivate record: %w", err)
		}

		return &domain.LedgerEvent{
			Type:     domain.EventTypeRecordDeactivated,
			RecordID: id,
			Actor:    caller,
		}, nil
	})
	return err
}

// Get returns a record by id
func (s *RecordStore) Get(ctx context.Context, id uint64) (*domain.Record, error) {
	record, err := s.host.Backend.GetRecord(ctx, id)
	if err != nil {
		return nil, recordLookupError(id, err)
	}
	return record, nil
}

// VerifyOwnership reports whether the record exists, is active and is owned by the candidate.
// Inactive records are never confirmed, not even to their owner.
func (s *RecordStore) VerifyOwnership(ctx context.Context, id uint64, candidate string) (bool, error) {
	return verifyOwnership(ctx, s.host.Backend, id, candidate)
}

// ListByOwner returns the ids created by the owner in insertion order
func (s *RecordStore) ListByOwner(ctx context.Context, owner string) ([]uint64, error) {
	ids, err := s.host.Backend.ListRecordIDsByOwner(ctx, domain.NormalizeIdentity(owner))
	if err != nil {
		return nil, fmt.Errorf("failed to list records by owner: %w", err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// verifyOwnership is shared with the components that gate on record ownership
func verifyOwnership(ctx context.Context, st State, id uint64, candidate string) (bool, error) {
	record, err := st.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get record: %w", err)
	}
	return record.Active && record.OwnedBy(candidate), nil
}

func recordLookupError(id uint64, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("record %d: %w", id, domain.ErrNotFound)
	}
	return fmt.Errorf("failed to get record %d: %w", id, err)
}
