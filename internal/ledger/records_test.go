package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/passport-ledger/internal/domain"
)

func TestRecordStore_Store_SequentialIDs(t *testing.T) {
	tl := setupTestLedger(t)

	for i := 1; i <= 5; i++ {
		id := tl.mustStore(t, alice, "P", "ref")
		assert.Equal(t, uint64(i), id)
	}
	id := tl.mustStore(t, bob, "P", "ref")
	assert.Equal(t, uint64(6), id)
}

func TestRecordStore_Store(t *testing.T) {
	tl := setupTestLedger(t)
	ctx := context.Background()

	id := tl.mustStore(t, alice, "P-100", "ipfs://doc")

	record, err := tl.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "P-100", record.ExternalNumber)
	assert.Equal(t, "ipfs://doc", record.DocumentRef)
	assert.Equal(t, alice, record.Owner)
	assert.True(t, record.Active)
	assert.Equal(t, tl.now, record.CreatedAt)
	assert.Equal(t, tl.now, record.LastUpdatedAt)

	event := tl.lastEvent(t)
	assert.Equal(t, domain.EventTypeRecordStored, event.Type)
	assert.Equal(t, id, event.RecordID)
	assert.Equal(t, alice, event.Actor)
	assert.Equal(t, "P-100", event.ExternalNumber)
}

func TestRecordStore_Store_DuplicateExternalNumberAllowed(t *testing.T) {
	tl := setupTestLedger(t)

	first := tl.mustStore(t, alice, "P1", "hashA")
	second := tl.mustStore(t, alice, "P1", "hashA")
	assert.NotEqual(t, first, second)
}

func TestRecordStore_Store_ZeroCaller(t *testing.T) {
	tl := setupTestLedger(t)
	ctx := context.Background()

	_, err := tl.ledger.Store(ctx, "", "P1", "hashA")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)

	_, err = tl.ledger.Store(ctx, domain.ETHEREUM_ZERO_ADDRESS, "P1", "hashA")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)

	assert.Empty(t, tl.events)
}

func TestRecordStore_Store_NormalizesCaller(t *testing.T) {
	tl := setupTestLedger(t)
	ctx := context.Background()

	id := tl.mustStore(t, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", "P1", "hashA")

	record, err := tl.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", record.Owner)

	ids, err := tl.ledger.ListByOwner(ctx, "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED")
	require.NoError(t, err)
	assert.Equal(t, []uint64{id}, ids)
}

func TestRecordStore_Update(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T, tl *testLedger) uint64
		caller      string
		expectedErr error
	}{
		{
			name: "owner updates active record",
			setup: func(t *testing.T, tl *testLedger) uint64 {
				return tl.mustStore(t, alice, "P1", "hashA")
			},
			caller: alice,
		},
		{
			name: "unknown record",
			setup: func(t *testing.T, tl *testLedger) uint64 {
				return 42
			},
			caller:      alice,
			expectedErr: domain.ErrNotFound,
		},
		{
			name: "non-owner on active record",
			setup: func(t *testing.T, tl *testLedger) uint64 {
				return tl.mustStore(t, alice, "P1", "hashA")
			},
			caller:      bob,
			expectedErr: domain.ErrNotOwner,
		},
		{
			name: "non-owner on inactive record",
			setup: func(t *testing.T, tl *testLedger) uint64 {
				id := tl.mustStore(t, alice, "P1", "hashA")
				require.NoError(t, tl.ledger.Deactivate(context.Background(), alice, id))
				return id
			},
			caller:      bob,
			expectedErr: domain.ErrNotOwner,
		},
		{
			name: "owner on inactive record",
			setup: func(t *testing.T, tl *testLedger) uint64 {
				id := tl.mustStore(t, alice, "P1", "hashA")
				require.NoError(t, tl.ledger.Deactivate(context.Background(), alice, id))
				return id
			},
			caller:      alice,
			expectedErr: domain.ErrInactive,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := setupTestLedger(t)
			ctx := context.Background()
			id := tt.setup(t, tl)
			before := len(tl.events)

			tl.advance(time.Hour)
			err := tl.ledger.Update(ctx, tt.caller, id, "hashNew")

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Len(t, tl.events, before)
				return
			}
			require.NoError(t, err)

			record, err := tl.ledger.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "hashNew", record.DocumentRef)
			assert.Equal(t, tl.now, record.LastUpdatedAt)
			assert.True(t, record.CreatedAt.Before(record.LastUpdatedAt))

			event := tl.lastEvent(t)
			assert.Equal(t, domain.EventTypeRecordUpdated, event.Type)
			assert.Equal(t, "hashNew", event.DocumentRef)
		})
	}
}

func TestRecordStore_Deactivate(t *testing.T) {
	tl := setupTestLedger(t)
	ctx := context.Background()

	id := tl.mustStore(t, alice, "P1", "hashA")

	assert.ErrorIs(t, tl.ledger.Deactivate(ctx, bob, id), domain.ErrNotOwner)
	assert.ErrorIs(t, tl.ledger.Deactivate(ctx, alice, 7), domain.ErrNotFound)

	require.NoError(t, tl.ledger.Deactivate(ctx, alice, id))
	assert.Equal(t, domain.EventTypeRecordDeactivated, tl.lastEvent(t).Type)

	assert.ErrorIs(t, tl.ledger.Deactivate(ctx, alice, id), domain.ErrAlreadyInactive)
	assert.ErrorIs(t, tl.ledger.Deactivate(ctx, bob, id), domain.ErrNotOwner)
	assert.ErrorIs(t, tl.ledger.Update(ctx, alice, id, "x"), domain.ErrInactive)
}

func TestRecordStore_Get_NotFound(t *testing.T) {
	tl := setupTestLedger(t)

	record, err := tl.ledger.Get(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Nil(t, record)
}

func TestRecordStore_VerifyOwnership(t *testing.T) {
	tl := setupTestLedger(t)
	ctx := context.Background()

	id := tl.mustStore(t, alice, "P1", "hashA")

	owned, err := tl.ledger.VerifyOwnership(ctx, id, alice)
	require.NoError(t, err)
	assert.True(t, owned)

	owned, err = tl.ledger.VerifyOwnership(ctx, id, bob)
	require.NoError(t, err)
	assert.False(t, owned)

	owned, err = tl.ledger.VerifyOwnership(ctx, 99, alice)
	require.NoError(t, err)
	assert.False(t, owned)

	// Deactivated records are not confirmed even though the owner field still matches
	require.NoError(t, tl.ledger.Deactivate(ctx, alice, id))
	owned, err = tl.ledger.VerifyOwnership(ctx, id, alice)
	require.NoError(t, err)
	assert.False(t, owned)

	record, err := tl.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, alice, record.Owner)
}

func TestRecordStore_ListByOwner(t *testing.T) {
	tl := setupTestLedger(t)
	ctx := context.Background()

	ids, err := tl.ledger.ListByOwner(ctx, alice)
	require.NoError(t, err)
	assert.NotNil(t, ids)
	assert.Empty(t, ids)

	tl.mustStore(t, alice, "P1", "a")
	tl.mustStore(t, bob, "P2", "b")
	tl.mustStore(t, alice, "P3", "c")
	require.NoError(t, tl.ledger.Deactivate(ctx, alice, 1))

	ids, err = tl.ledger.ListByOwner(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 3}, ids)

	ids, err = tl.ledger.ListByOwner(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids)
}
