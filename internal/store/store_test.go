package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/ledger"
	"github.com/feral-file/passport-ledger/internal/store/schema"
)

const (
	testOwner     = "0x1111111111111111111111111111111111111111"
	testDelegatee = "0x2222222222222222222222222222222222222222"
	testGrantee   = "0x3333333333333333333333333333333333333333"
)

var testNow = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

// RunStoreTests runs every store test against an implementation.
// newStore returns an isolated store for each test.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store Store)
	}{
		{"Records", testRecords},
		{"Counters", testCounters},
		{"AtomicRollback", testAtomicRollback},
		{"Delegations", testDelegations},
		{"DelegationsExpiringAfter", testDelegationsExpiringAfter},
		{"RecordAccessGrants", testRecordAccessGrants},
		{"VerificationRequests", testVerificationRequests},
		{"Journal", testJournal},
		{"LedgerOnPostgres", testLedgerOnPostgres},
		{"KeyValue", testKeyValue},
		{"WebhookClients", testWebhookClients},
		{"WebhookDeliveries", testWebhookDeliveries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

// =============================================================================
// Test Data Builders
// =============================================================================

func buildTestRecord(id uint64, owner string) *domain.Record {
	return &domain.Record{
		ID:             id,
		ExternalNumber: "P-100",
		DocumentRef:    "ipfs://bafyrecord",
		Owner:          owner,
		Active:         true,
		CreatedAt:      testNow,
		LastUpdatedAt:  testNow,
	}
}

func buildTestDelegation(grantor, delegatee string, expiry time.Time) *domain.Delegation {
	return &domain.Delegation{
		Grantor:   grantor,
		Delegatee: delegatee,
		Level:     domain.AccessLevelEdit,
		Purpose:   "audit",
		Active:    true,
		GrantedAt: testNow,
		Expiry:    expiry,
	}
}

func createTestRecord(t *testing.T, store Store, owner string) uint64 {
	t.Helper()
	ctx := context.Background()

	id, err := store.NextRecordID(ctx)
	require.NoError(t, err)
	require.NoError(t, store.CreateRecord(ctx, buildTestRecord(id, owner)))
	return id
}

// =============================================================================
// Tests
// =============================================================================

func testRecords(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.GetRecord(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	first := createTestRecord(t, store, testOwner)
	second := createTestRecord(t, store, testDelegatee)
	third := createTestRecord(t, store, testOwner)

	record, err := store.GetRecord(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, *buildTestRecord(first, testOwner), *record)

	record.DocumentRef = "ipfs://bafyupdated"
	record.Active = false
	record.LastUpdatedAt = testNow.Add(time.Hour)
	require.NoError(t, store.UpdateRecord(ctx, record))

	updated, err := store.GetRecord(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://bafyupdated", updated.DocumentRef)
	assert.False(t, updated.Active)
	assert.Equal(t, testNow.Add(time.Hour), updated.LastUpdatedAt)
	assert.Equal(t, testNow, updated.CreatedAt)

	err = store.UpdateRecord(ctx, buildTestRecord(999, testOwner))
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ids, err := store.ListRecordIDsByOwner(ctx, testOwner)
	require.NoError(t, err)
	assert.Equal(t, []uint64{first, third}, ids)

	ids, err = store.ListRecordIDsByOwner(ctx, testDelegatee)
	require.NoError(t, err)
	assert.Equal(t, []uint64{second}, ids)

	ids, err = store.ListRecordIDsByOwner(ctx, testGrantee)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func testCounters(t *testing.T, store Store) {
	ctx := context.Background()

	for i := uint64(1); i <= 3; i++ {
		id, err := store.NextRecordID(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, id)
	}

	// Request ids have their own counter
	id, err := store.NextVerificationRequestID(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func testAtomicRollback(t *testing.T, store Store) {
	ctx := context.Background()
	errAbort := errors.New("abort")

	err := store.Atomic(ctx, func(ctx context.Context, st ledger.State) error {
		id, err := st.NextRecordID(ctx)
		require.NoError(t, err)
		require.NoError(t, st.CreateRecord(ctx, buildTestRecord(id, testOwner)))
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	_, err = store.GetRecord(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// The reserved id was rolled back with the unit of work
	err = store.Atomic(ctx, func(ctx context.Context, st ledger.State) error {
		id, err := st.NextRecordID(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), id)
		return st.CreateRecord(ctx, buildTestRecord(id, testOwner))
	})
	require.NoError(t, err)

	_, err = store.GetRecord(ctx, 1)
	assert.NoError(t, err)
}

func testDelegations(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.GetDelegation(ctx, testOwner, testDelegatee)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	delegation := buildTestDelegation(testOwner, testDelegatee, testNow.Add(30*24*time.Hour))
	require.NoError(t, store.SaveDelegation(ctx, delegation))

	stored, err := store.GetDelegation(ctx, testOwner, testDelegatee)
	require.NoError(t, err)
	assert.Equal(t, *delegation, *stored)

	// Overwrite the pair
	delegation.Level = domain.AccessLevelView
	delegation.Active = false
	delegation.Purpose = ""
	require.NoError(t, store.SaveDelegation(ctx, delegation))

	stored, err = store.GetDelegation(ctx, testOwner, testDelegatee)
	require.NoError(t, err)
	assert.Equal(t, domain.AccessLevelView, stored.Level)
	assert.False(t, stored.Active)
	assert.Empty(t, stored.Purpose)

	// The reverse pair is a different key
	_, err = store.GetDelegation(ctx, testDelegatee, testOwner)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDelegationsExpiringAfter(t *testing.T, store Store) {
	ctx := context.Background()

	expiry := testNow.Add(time.Hour)
	require.NoError(t, store.SaveDelegation(ctx, buildTestDelegation(testOwner, testDelegatee, expiry)))
	require.NoError(t, store.SaveDelegation(ctx, buildTestDelegation(testOwner, testGrantee, expiry)))
	require.NoError(t, store.SaveDelegation(ctx, buildTestDelegation(testDelegatee, testGrantee, expiry.Add(time.Hour))))
	require.NoError(t, store.SaveDelegation(ctx, buildTestDelegation(testGrantee, testOwner, expiry.Add(48*time.Hour))))

	revoked := buildTestDelegation(testDelegatee, testOwner, expiry)
	revoked.Active = false
	require.NoError(t, store.SaveDelegation(ctx, revoked))

	cursor := DelegationExpiryCursor{Expiry: testNow}
	until := testNow.Add(3 * time.Hour)

	page, err := store.ListDelegationsExpiringAfter(ctx, cursor, until, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, testDelegatee, page[0].Delegatee)
	assert.Equal(t, testGrantee, page[1].Delegatee)
	assert.Equal(t, testOwner, page[1].Grantor)

	cursor = DelegationExpiryCursor{Expiry: page[1].Expiry, Grantor: page[1].Grantor, Delegatee: page[1].Delegatee}
	page, err = store.ListDelegationsExpiringAfter(ctx, cursor, until, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, testDelegatee, page[0].Grantor)
	assert.Equal(t, expiry.Add(time.Hour), page[0].Expiry)

	cursor = DelegationExpiryCursor{Expiry: page[0].Expiry, Grantor: page[0].Grantor, Delegatee: page[0].Delegatee}
	page, err = store.ListDelegationsExpiringAfter(ctx, cursor, until, 2)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func testRecordAccessGrants(t *testing.T, store Store) {
	ctx := context.Background()
	recordID := createTestRecord(t, store, testOwner)

	_, err := store.GetRecordAccessGrant(ctx, recordID, testGrantee)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, store.SaveRecordAccessGrant(ctx, &domain.RecordAccessGrant{
		RecordID:  recordID,
		Grantee:   testGrantee,
		Level:     domain.AccessLevelEdit,
		UpdatedAt: testNow,
	}))

	grant, err := store.GetRecordAccessGrant(ctx, recordID, testGrantee)
	require.NoError(t, err)
	assert.Equal(t, domain.AccessLevelEdit, grant.Level)

	require.NoError(t, store.SaveRecordAccessGrant(ctx, &domain.RecordAccessGrant{
		RecordID:  recordID,
		Grantee:   testGrantee,
		Level:     domain.AccessLevelNone,
		UpdatedAt: testNow.Add(time.Minute),
	}))

	grant, err = store.GetRecordAccessGrant(ctx, recordID, testGrantee)
	require.NoError(t, err)
	assert.Equal(t, domain.AccessLevelNone, grant.Level)
	assert.Equal(t, testNow.Add(time.Minute), grant.UpdatedAt)
}

func testVerificationRequests(t *testing.T, store Store) {
	ctx := context.Background()
	recordID := createTestRecord(t, store, testOwner)

	_, err := store.GetVerificationRequest(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	for i := 0; i < 2; i++ {
		id, err := store.NextVerificationRequestID(ctx)
		require.NoError(t, err)
		require.NoError(t, store.CreateVerificationRequest(ctx, &domain.VerificationRequest{
			ID:        id,
			RecordID:  recordID,
			Requester: testDelegatee,
			Owner:     testOwner,
			CreatedAt: testNow,
		}))
	}

	ids, err := store.ListVerificationRequestIDs(ctx, recordID)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	request, err := store.GetVerificationRequest(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationStatusPending, request.Status())
	assert.Equal(t, testOwner, request.Owner)

	request.Processed = true
	request.Approved = true
	require.NoError(t, store.UpdateVerificationRequest(ctx, request))

	request, err = store.GetVerificationRequest(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationStatusApproved, request.Status())

	err = store.UpdateVerificationRequest(ctx, &domain.VerificationRequest{ID: 42, Processed: true})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testJournal(t *testing.T, store Store) {
	ctx := context.Background()

	head, err := store.LastEvent(ctx)
	require.NoError(t, err)
	assert.Nil(t, head)

	level := domain.AccessLevelView
	expiry := testNow.Add(24 * time.Hour)
	recordID := uint64(7)
	events := []domain.LedgerEvent{
		{Sequence: 1, Type: domain.EventTypeRecordStored, RecordID: recordID, Actor: testOwner, ExternalNumber: "P1", OccurredAt: testNow, Hash: "h1"},
		{Sequence: 2, Type: domain.EventTypeAccessGranted, Actor: testOwner, Subject: testDelegatee, Level: &level, Expiry: &expiry, OccurredAt: testNow, PrevHash: "h1", Hash: "h2"},
		{Sequence: 3, Type: domain.EventTypeRecordUpdated, RecordID: recordID, Actor: testOwner, DocumentRef: "ipfs://x", OccurredAt: testNow, PrevHash: "h2", Hash: "h3"},
	}
	for i := range events {
		require.NoError(t, store.AppendEvent(ctx, &events[i]))
	}

	head, err = store.LastEvent(ctx)
	require.NoError(t, err)
	require.NotNil(t, head)
	assert.Equal(t, events[2], *head)

	listed, err := store.ListEvents(ctx, domain.EventFilter{})
	require.NoError(t, err)
	assert.Equal(t, events, listed)

	listed, err = store.ListEvents(ctx, domain.EventFilter{After: 1, Limit: 1})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, events[1], listed[0])

	listed, err = store.ListEvents(ctx, domain.EventFilter{RecordID: &recordID})
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, uint64(1), listed[0].Sequence)
	assert.Equal(t, uint64(3), listed[1].Sequence)

	// Sequences are unique
	duplicate := events[2]
	duplicate.Hash = "h4"
	assert.Error(t, store.AppendEvent(ctx, &duplicate))
}

func testLedgerOnPostgres(t *testing.T, store Store) {
	ctx := context.Background()
	l := ledger.New(ledger.Options{Backend: store})

	id, err := l.Store(ctx, testOwner, "P1", "hashA")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	require.NoError(t, l.Update(ctx, testOwner, id, "hashB"))
	assert.ErrorIs(t, l.Update(ctx, testDelegatee, id, "hashC"), domain.ErrNotOwner)
	require.NoError(t, l.GrantDelegation(ctx, testOwner, testDelegatee, domain.AccessLevelEdit, 30, "audit"))
	require.NoError(t, l.GrantRecordAccess(ctx, testOwner, id, testGrantee, domain.AccessLevelView))

	requestID, err := l.RequestVerification(ctx, testDelegatee, id)
	require.NoError(t, err)
	require.NoError(t, l.RejectVerification(ctx, testOwner, requestID))
	assert.ErrorIs(t, l.ApproveVerification(ctx, testOwner, requestID), domain.ErrAlreadyProcessed)

	require.NoError(t, l.Deactivate(ctx, testOwner, id))
	assert.ErrorIs(t, l.Update(ctx, testOwner, id, "hashD"), domain.ErrInactive)

	ok, err := l.HasAccess(ctx, testOwner, testDelegatee)
	require.NoError(t, err)
	assert.True(t, ok)

	canView, err := l.CanView(ctx, id, testGrantee)
	require.NoError(t, err)
	assert.True(t, canView)

	report, err := l.VerifyJournal(ctx)
	require.NoError(t, err)
	assert.True(t, report.Valid, report.BrokenReason)
	assert.Equal(t, uint64(6), report.EventCount)
}

func testKeyValue(t *testing.T, store Store) {
	ctx := context.Background()

	value, err := store.GetKeyValue(ctx, "auth_nonce:0xabc")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.SetKeyValue(ctx, "auth_nonce:0xabc", "n1"))
	require.NoError(t, store.SetKeyValue(ctx, "auth_nonce:0xabc", "n2"))

	value, err = store.GetKeyValue(ctx, "auth_nonce:0xabc")
	require.NoError(t, err)
	assert.Equal(t, "n2", value)

	value, err = store.ConsumeKeyValue(ctx, "auth_nonce:0xabc")
	require.NoError(t, err)
	assert.Equal(t, "n2", value)

	value, err = store.ConsumeKeyValue(ctx, "auth_nonce:0xabc")
	require.NoError(t, err)
	assert.Empty(t, value)
}

func testWebhookClients(t *testing.T, store Store) {
	ctx := context.Background()

	filters := func(types ...string) datatypes.JSON {
		raw, err := json.Marshal(types)
		require.NoError(t, err)
		return raw
	}

	_, err := store.CreateWebhookClient(ctx, CreateWebhookClientInput{
		ClientID:         "11111111-1111-1111-1111-111111111111",
		WebhookURL:       "https://example.com/all",
		WebhookSecret:    "secret-all",
		EventFilters:     filters("*"),
		IsActive:         true,
		RetryMaxAttempts: 5,
	})
	require.NoError(t, err)

	_, err = store.CreateWebhookClient(ctx, CreateWebhookClientInput{
		ClientID:         "22222222-2222-2222-2222-222222222222",
		WebhookURL:       "https://example.com/verifications",
		WebhookSecret:    "secret-verifications",
		EventFilters:     filters(string(domain.EventTypeVerificationApproved)),
		IsActive:         true,
		RetryMaxAttempts: 3,
	})
	require.NoError(t, err)

	_, err = store.CreateWebhookClient(ctx, CreateWebhookClientInput{
		ClientID:         "33333333-3333-3333-3333-333333333333",
		WebhookURL:       "https://example.com/inactive",
		WebhookSecret:    "secret-inactive",
		EventFilters:     filters("*"),
		IsActive:         false,
		RetryMaxAttempts: 3,
	})
	require.NoError(t, err)

	clients, err := store.GetActiveWebhookClientsByEventType(ctx, string(domain.EventTypeVerificationApproved))
	require.NoError(t, err)
	require.Len(t, clients, 2)
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", clients[0].ClientID)
	assert.Equal(t, "22222222-2222-2222-2222-222222222222", clients[1].ClientID)

	clients, err = store.GetActiveWebhookClientsByEventType(ctx, string(domain.EventTypeRecordStored))
	require.NoError(t, err)
	require.Len(t, clients, 1)

	client, err := store.GetWebhookClientByID(ctx, "22222222-2222-2222-2222-222222222222")
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.Equal(t, 3, client.RetryMaxAttempts)

	client, err = store.GetWebhookClientByID(ctx, "44444444-4444-4444-4444-444444444444")
	require.NoError(t, err)
	assert.Nil(t, client)
}

func testWebhookDeliveries(t *testing.T, store Store) {
	ctx := context.Background()

	sequence := uint64(12)
	delivery := &schema.WebhookDelivery{
		ClientID:       "11111111-1111-1111-1111-111111111111",
		EventID:        "01JABCDEF0123456789ABCDEFG",
		EventType:      string(domain.EventTypeRecordStored),
		EventSequence:  &sequence,
		Payload:        datatypes.JSON(`{"event_type":"record.stored"}`),
		WorkflowID:     "webhook-delivery-1",
		DeliveryStatus: schema.WebhookDeliveryStatusPending,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
	require.NoError(t, store.CreateWebhookDelivery(ctx, delivery))
	require.NotZero(t, delivery.ID)

	status := 200
	require.NoError(t, store.UpdateWebhookDeliveryStatus(ctx, delivery.ID, schema.WebhookDeliveryStatusSuccess, 1, &status, "ok", ""))

	longMessage := make([]byte, MAX_ERROR_MESSAGE_LENGTH+100)
	for i := range longMessage {
		longMessage[i] = 'x'
	}
	require.NoError(t, store.UpdateWebhookDeliveryStatus(ctx, delivery.ID, schema.WebhookDeliveryStatusFailed, 2, nil, "", string(longMessage)))
}
