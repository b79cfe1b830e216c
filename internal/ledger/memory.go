package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/feral-file/passport-ledger/internal/domain"
)

type delegationKey struct {
	grantor   string
	delegatee string
}

type grantKey struct {
	recordID uint64
	grantee  string
}

// memoryData is the unsynchronized keyed state behind MemoryBackend
type memoryData struct {
	lastRecordID  uint64
	lastRequestID uint64

	records          map[uint64]domain.Record
	recordsByOwner   map[string][]uint64
	delegations      map[delegationKey]domain.Delegation
	grants           map[grantKey]domain.RecordAccessGrant
	requests         map[uint64]domain.VerificationRequest
	requestsByRecord map[uint64][]uint64
	events           []domain.LedgerEvent
}

// MemoryBackend is an in-process Backend. Units of work are serialized by a mutex
// and rolled back through an undo log.
type MemoryBackend struct {
	mu   sync.RWMutex
	data *memoryData
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data: &memoryData{
			records:          make(map[uint64]domain.Record),
			recordsByOwner:   make(map[string][]uint64),
			delegations:      make(map[delegationKey]domain.Delegation),
			grants:           make(map[grantKey]domain.RecordAccessGrant),
			requests:         make(map[uint64]domain.VerificationRequest),
			requestsByRecord: make(map[uint64][]uint64),
		},
	}
}

// Atomic runs fn under the write lock and undoes its writes when it fails
func (m *MemoryBackend) Atomic(ctx context.Context, fn func(ctx context.Context, st State) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{data: m.data}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
		if err != nil {
			tx.rollback()
		}
	}()

	return fn(ctx, tx)
}

func (m *MemoryBackend) NextRecordID(ctx context.Context) (id uint64, err error) {
	err = m.Atomic(ctx, func(ctx context.Context, st State) error {
		id, err = st.NextRecordID(ctx)
		return err
	})
	return id, err
}

func (m *MemoryBackend) CreateRecord(ctx context.Context, record *domain.Record) error {
	return m.Atomic(ctx, func(ctx context.Context, st State) error { return st.CreateRecord(ctx, record) })
}

func (m *MemoryBackend) UpdateRecord(ctx context.Context, record *domain.Record) error {
	return m.Atomic(ctx, func(ctx context.Context, st State) error { return st.UpdateRecord(ctx, record) })
}

func (m *MemoryBackend) GetRecord(_ context.Context, id uint64) (*domain.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getRecord(id)
}

func (m *MemoryBackend) ListRecordIDsByOwner(_ context.Context, owner string) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint64(nil), m.data.recordsByOwner[owner]...), nil
}

func (m *MemoryBackend) SaveDelegation(ctx context.Context, delegation *domain.Delegation) error {
	return m.Atomic(ctx, func(ctx context.Context, st State) error { return st.SaveDelegation(ctx, delegation) })
}

func (m *MemoryBackend) GetDelegation(_ context.Context, grantor, delegatee string) (*domain.Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getDelegation(grantor, delegatee)
}

func (m *MemoryBackend) SaveRecordAccessGrant(ctx context.Context, grant *domain.RecordAccessGrant) error {
	return m.Atomic(ctx, func(ctx context.Context, st State) error { return st.SaveRecordAccessGrant(ctx, grant) })
}

func (m *MemoryBackend) GetRecordAccessGrant(_ context.Context, recordID uint64, grantee string) (*domain.RecordAccessGrant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getGrant(recordID, grantee)
}

func (m *MemoryBackend) NextVerificationRequestID(ctx context.Context) (id uint64, err error) {
	err = m.Atomic(ctx, func(ctx context.Context, st State) error {
		id, err = st.NextVerificationRequestID(ctx)
		return err
	})
	return id, err
}

func (m *MemoryBackend) CreateVerificationRequest(ctx context.Context, request *domain.VerificationRequest) error {
	return m.Atomic(ctx, func(ctx context.Context, st State) error { return st.CreateVerificationRequest(ctx, request) })
}

func (m *MemoryBackend) UpdateVerificationRequest(ctx context.Context, request *domain.VerificationRequest) error {
	return m.Atomic(ctx, func(ctx context.Context, st State) error { return st.UpdateVerificationRequest(ctx, request) })
}

func (m *MemoryBackend) GetVerificationRequest(_ context.Context, id uint64) (*domain.VerificationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.getRequest(id)
}

func (m *MemoryBackend) ListVerificationRequestIDs(_ context.Context, recordID uint64) ([]uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]uint64(nil), m.data.requestsByRecord[recordID]...), nil
}

func (m *MemoryBackend) LastEvent(_ context.Context) (*domain.LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.lastEvent(), nil
}

func (m *MemoryBackend) AppendEvent(ctx context.Context, event *domain.LedgerEvent) error {
	return m.Atomic(ctx, func(ctx context.Context, st State) error { return st.AppendEvent(ctx, event) })
}

func (m *MemoryBackend) ListEvents(_ context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listEvents(filter), nil
}

func (d *memoryData) getRecord(id uint64) (*domain.Record, error) {
	record, ok := d.records[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &record, nil
}

func (d *memoryData) getDelegation(grantor, delegatee string) (*domain.Delegation, error) {
	delegation, ok := d.delegations[delegationKey{grantor: grantor, delegatee: delegatee}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &delegation, nil
}

func (d *memoryData) getGrant(recordID uint64, grantee string) (*domain.RecordAccessGrant, error) {
	grant, ok := d.grants[grantKey{recordID: recordID, grantee: grantee}]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &grant, nil
}

func (d *memoryData) getRequest(id uint64) (*domain.VerificationRequest, error) {
	request, ok := d.requests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &request, nil
}

func (d *memoryData) lastEvent() *domain.LedgerEvent {
	if len(d.events) == 0 {
		return nil
	}
	event := d.events[len(d.events)-1]
	return &event
}

func (d *memoryData) listEvents(filter domain.EventFilter) []domain.LedgerEvent {
	events := make([]domain.LedgerEvent, 0)
	// Sequences start at 1 and have no gaps, so the cursor is also a slice offset
	start := filter.After
	if start > uint64(len(d.events)) {
		return events
	}
	for _, event := range d.events[start:] {
		if filter.RecordID != nil && event.RecordID != *filter.RecordID {
			continue
		}
		events = append(events, event)
		if filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	return events
}

// memoryTx is the State handed to a unit of work. Every write pushes its inverse onto the undo log.
type memoryTx struct {
	data *memoryData
	undo []func()
}

func (tx *memoryTx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
	tx.undo = nil
}

func (tx *memoryTx) NextRecordID(_ context.Context) (uint64, error) {
	prev := tx.data.lastRecordID
	tx.data.lastRecordID++
	tx.undo = append(tx.undo, func() { tx.data.lastRecordID = prev })
	return tx.data.lastRecordID, nil
}

func (tx *memoryTx) CreateRecord(_ context.Context, record *domain.Record) error {
	id, owner := record.ID, record.Owner
	if _, exists := tx.data.records[id]; exists {
		return fmt.Errorf("record %d already exists", id)
	}
	tx.data.records[id] = *record

	owned := tx.data.recordsByOwner[owner]
	tx.data.recordsByOwner[owner] = append(owned[:len(owned):len(owned)], id)

	tx.undo = append(tx.undo, func() {
		delete(tx.data.records, id)
		if len(owned) == 0 {
			delete(tx.data.recordsByOwner, owner)
		} else {
			tx.data.recordsByOwner[owner] = owned
		}
	})
	return nil
}

func (tx *memoryTx) UpdateRecord(_ context.Context, record *domain.Record) error {
	id := record.ID
	prev, exists := tx.data.records[id]
	if !exists {
		return domain.ErrNotFound
	}
	tx.data.records[id] = *record
	tx.undo = append(tx.undo, func() { tx.data.records[id] = prev })
	return nil
}

func (tx *memoryTx) GetRecord(_ context.Context, id uint64) (*domain.Record, error) {
	return tx.data.getRecord(id)
}

func (tx *memoryTx) ListRecordIDsByOwner(_ context.Context, owner string) ([]uint64, error) {
	return append([]uint64(nil), tx.data.recordsByOwner[owner]...), nil
}

func (tx *memoryTx) SaveDelegation(_ context.Context, delegation *domain.Delegation) error {
	key := delegationKey{grantor: delegation.Grantor, delegatee: delegation.Delegatee}
	prev, existed := tx.data.delegations[key]
	tx.data.delegations[key] = *delegation
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.data.delegations[key] = prev
		} else {
			delete(tx.data.delegations, key)
		}
	})
	return nil
}

func (tx *memoryTx) GetDelegation(_ context.Context, grantor, delegatee string) (*domain.Delegation, error) {
	return tx.data.getDelegation(grantor, delegatee)
}

func (tx *memoryTx) SaveRecordAccessGrant(_ context.Context, grant *domain.RecordAccessGrant) error {
	key := grantKey{recordID: grant.RecordID, grantee: grant.Grantee}
	prev, existed := tx.data.grants[key]
	tx.data.grants[key] = *grant
	tx.undo = append(tx.undo, func() {
		if existed {
			tx.data.grants[key] = prev
		} else {
			delete(tx.data.grants, key)
		}
	})
	return nil
}

func (tx *memoryTx) GetRecordAccessGrant(_ context.Context, recordID uint64, grantee string) (*domain.RecordAccessGrant, error) {
	return tx.data.getGrant(recordID, grantee)
}

func (tx *memoryTx) NextVerificationRequestID(_ context.Context) (uint64, error) {
	prev := tx.data.lastRequestID
	tx.data.lastRequestID++
	tx.undo = append(tx.undo, func() { tx.data.lastRequestID = prev })
	return tx.data.lastRequestID, nil
}

func (tx *memoryTx) CreateVerificationRequest(_ context.Context, request *domain.VerificationRequest) error {
	id, recordID := request.ID, request.RecordID
	if _, exists := tx.data.requests[id]; exists {
		return fmt.Errorf("verification request %d already exists", id)
	}
	tx.data.requests[id] = *request

	listed := tx.data.requestsByRecord[recordID]
	tx.data.requestsByRecord[recordID] = append(listed[:len(listed):len(listed)], id)

	tx.undo = append(tx.undo, func() {
		delete(tx.data.requests, id)
		if len(listed) == 0 {
			delete(tx.data.requestsByRecord, recordID)
		} else {
			tx.data.requestsByRecord[recordID] = listed
		}
	})
	return nil
}

func (tx *memoryTx) UpdateVerificationRequest(_ context.Context, request *domain.VerificationRequest) error {
	id := request.ID
	prev, exists := tx.data.requests[id]
	if !exists {
		return domain.ErrNotFound
	}
	tx.data.requests[id] = *request
	tx.undo = append(tx.undo, func() { tx.data.requests[id] = prev })
	return nil
}

func (tx *memoryTx) GetVerificationRequest(_ context.Context, id uint64) (*domain.VerificationRequest, error) {
	return tx.data.getRequest(id)
}

func (tx *memoryTx) ListVerificationRequestIDs(_ context.Context, recordID uint64) ([]uint64, error) {
	return append([]uint64(nil), tx.data.requestsByRecord[recordID]...), nil
}

func (tx *memoryTx) LastEvent(_ context.Context) (*domain.LedgerEvent, error) {
	return tx.data.lastEvent(), nil
}

func (tx *memoryTx) AppendEvent(_ context.Context, event *domain.LedgerEvent) error {
	if event.Sequence != uint64(len(tx.data.events))+1 {
		return fmt.Errorf("event sequence %d does not follow journal head %d", event.Sequence, len(tx.data.events))
	}
	n := len(tx.data.events)
	tx.data.events = append(tx.data.events, *event)
	tx.undo = append(tx.undo, func() { tx.data.events = tx.data.events[:n] })
	return nil
}

func (tx *memoryTx) ListEvents(_ context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error) {
	return tx.data.listEvents(filter), nil
}
