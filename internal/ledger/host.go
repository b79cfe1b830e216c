package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/domain"
)

// State is the keyed storage the ledger components read and write.
// Lookups of missing keys return domain.ErrNotFound.
type State interface {
	// NextRecordID reserves the next sequential record id
	NextRecordID(ctx context.Context) (uint64, error)
	// CreateRecord inserts a new record and appends it to its owner's ownership index
	CreateRecord(ctx context.Context, record *domain.Record) error
	// UpdateRecord overwrites the mutable fields of an existing record
	UpdateRecord(ctx context.Context, record *domain.Record) error
	// GetRecord returns a record by id
	GetRecord(ctx context.Context, id uint64) (*domain.Record, error)
	// ListRecordIDsByOwner returns the ownership index entry of an owner in insertion order
	ListRecordIDsByOwner(ctx context.Context, owner string) ([]uint64, error)

	// SaveDelegation inserts or overwrites the delegation of a (grantor, delegatee) pair
	SaveDelegation(ctx context.Context, delegation *domain.Delegation) error
	// GetDelegation returns the delegation of a (grantor, delegatee) pair
	GetDelegation(ctx context.Context, grantor, delegatee string) (*domain.Delegation, error)

	// SaveRecordAccessGrant inserts or overwrites the grant of a (record, grantee) pair
	SaveRecordAccessGrant(ctx context.Context, grant *domain.RecordAccessGrant) error
	// GetRecordAccessGrant returns the grant of a (record, grantee) pair
	GetRecordAccessGrant(ctx context.Context, recordID uint64, grantee string) (*domain.RecordAccessGrant, error)

	// NextVerificationRequestID reserves the next sequential verification request id
	NextVerificationRequestID(ctx context.Context) (uint64, error)
	// CreateVerificationRequest inserts a request and appends it to the per-record request list
	CreateVerificationRequest(ctx context.Context, request *domain.VerificationRequest) error
	// UpdateVerificationRequest overwrites the processed and approved flags of a request
	UpdateVerificationRequest(ctx context.Context, request *domain.VerificationRequest) error
	// GetVerificationRequest returns a verification request by id
	GetVerificationRequest(ctx context.Context, id uint64) (*domain.VerificationRequest, error)
	// ListVerificationRequestIDs returns the request ids of a record in creation order
	ListVerificationRequestIDs(ctx context.Context, recordID uint64) ([]uint64, error)

	// LastEvent returns the head of the event journal, nil when the journal is empty
	LastEvent(ctx context.Context) (*domain.LedgerEvent, error)
	// AppendEvent appends a sealed event to the journal
	AppendEvent(ctx context.Context, event *domain.LedgerEvent) error
	// ListEvents returns journal entries in sequence order
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error)
}

// Backend is the host environment storage. Reads go straight to the State methods,
// mutations run inside Atomic which applies all writes or none.
type Backend interface {
	State

	// Atomic runs fn as one serialized unit of work.
	// If fn returns an error every write made through st is discarded.
	Atomic(ctx context.Context, fn func(ctx context.Context, st State) error) error
}

// Host bundles what the host environment provides to the ledger components
type Host struct {
	Backend    Backend
	Clock      adapter.Clock
	JCS        adapter.JCS
	Dispatcher *Dispatcher
}

// operation is a validated mutation that returns the single event it produces
type operation func(ctx context.Context, st State, now time.Time) (*domain.LedgerEvent, error)

// apply runs an operation as one unit of work, journals its event and
// notifies subscribers once the unit has committed
func (h Host) apply(ctx context.Context, op operation) (*domain.LedgerEvent, error) {
	var sealed *domain.LedgerEvent

	err := h.Backend.Atomic(ctx, func(ctx context.Context, st State) error {
		now := h.now()

		event, err := op(ctx, st, now)
		if err != nil {
			return err
		}
		event.OccurredAt = now

		prev, err := st.LastEvent(ctx)
		if err != nil {
			return fmt.Errorf("failed to read journal head: %w", err)
		}

		if err := sealEvent(h.JCS, prev, event); err != nil {
			return err
		}

		if err := st.AppendEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}

		sealed = event
		return nil
	})
	if err != nil {
		return nil, err
	}

	if h.Dispatcher != nil {
		h.Dispatcher.Dispatch(ctx, *sealed)
	}

	return sealed, nil
}

// now returns the host clock reading at the precision the storage keeps
func (h Host) now() time.Time {
	return h.Clock.Now().UTC().Truncate(time.Microsecond)
}
