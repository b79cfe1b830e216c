package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/ledger"
	"github.com/feral-file/passport-ledger/internal/mocks"
)

const (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
)

// testLedger wires a ledger on the in-memory backend with a controllable clock
type testLedger struct {
	ctrl    *gomock.Controller
	clock   *mocks.MockClock
	backend *ledger.MemoryBackend
	ledger  *ledger.Ledger
	now     time.Time

	mu     sync.Mutex
	events []domain.LedgerEvent
}

func setupTestLedger(t *testing.T) *testLedger {
	ctrl := gomock.NewController(t)

	tl := &testLedger{
		ctrl:    ctrl,
		clock:   mocks.NewMockClock(ctrl),
		backend: ledger.NewMemoryBackend(),
		now:     time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
	}

	tl.clock.EXPECT().Now().DoAndReturn(func() time.Time { return tl.now }).AnyTimes()

	tl.ledger = ledger.New(ledger.Options{Backend: tl.backend, Clock: tl.clock})
	tl.ledger.Subscribe("recorder", ledger.SubscriberFunc(func(_ context.Context, event domain.LedgerEvent) error {
		tl.mu.Lock()
		defer tl.mu.Unlock()
		tl.events = append(tl.events, event)
		return nil
	}))

	return tl
}

func (tl *testLedger) advance(d time.Duration) {
	tl.now = tl.now.Add(d)
}

func (tl *testLedger) lastEvent(t *testing.T) domain.LedgerEvent {
	t.Helper()
	require.NotEmpty(t, tl.events)
	return tl.events[len(tl.events)-1]
}

func (tl *testLedger) mustStore(t *testing.T, owner, externalNumber, documentRef string) uint64 {
	t.Helper()
	id, err := tl.ledger.Store(context.Background(), owner, externalNumber, documentRef)
	require.NoError(t, err)
	return id
}

func TestLedger_RecordLifecycleScenario(t *testing.T) {
	tl := setupTestLedger(t)
	ctx := context.Background()

	id := tl.mustStore(t, alice, "P1", "hashA")
	assert.Equal(t, uint64(1), id)

	require.NoError(t, tl.ledger.Update(ctx, alice, 1, "hashB"))
	record, err := tl.ledger.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "hashB", record.DocumentRef)

	err = tl.ledger.Update(ctx, bob, 1, "hashC")
	assert.ErrorIs(t, err, domain.ErrNotOwner)

	require.NoError(t, tl.ledger.Deactivate(ctx, alice, 1))

	err = tl.ledger.Update(ctx, alice, 1, "hashD")
	assert.ErrorIs(t, err, domain.ErrInactive)

	record, err = tl.ledger.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "hashB", record.DocumentRef)
	assert.False(t, record.Active)
	assert.Equal(t, alice, record.Owner)

	types := make([]domain.EventType, 0, len(tl.events))
	for _, e := range tl.events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []domain.EventType{
		domain.EventTypeRecordStored,
		domain.EventTypeRecordUpdated,
		domain.EventTypeRecordDeactivated,
	}, types)
}

func TestLedger_FailedOperationsEmitNothing(t *testing.T) {
	tl := setupTestLedger(t)
	ctx := context.Background()

	tl.mustStore(t, alice, "P1", "hashA")
	before := len(tl.events)

	assert.ErrorIs(t, tl.ledger.Update(ctx, bob, 1, "x"), domain.ErrNotOwner)
	assert.ErrorIs(t, tl.ledger.Update(ctx, alice, 99, "x"), domain.ErrNotFound)
	assert.ErrorIs(t, tl.ledger.GrantDelegation(ctx, alice, alice, domain.AccessLevelView, 1, ""), domain.ErrInvalidDelegatee)
	assert.ErrorIs(t, tl.ledger.RevokeDelegation(ctx, alice, bob), domain.ErrNoActiveDelegation)
	_, err := tl.ledger.RequestVerification(ctx, alice, 1)
	assert.ErrorIs(t, err, domain.ErrSelfVerification)

	assert.Len(t, tl.events, before)

	events, err := tl.ledger.ListEvents(ctx, domain.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, before)
}

func TestLedger_SubscriberFailureDoesNotUndoMutation(t *testing.T) {
	tl := setupTestLedger(t)
	ctx := context.Background()

	failing := mocks.NewMockLedgerSubscriber(tl.ctrl)
	failing.EXPECT().
		OnEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event domain.LedgerEvent) error {
			assert.Equal(t, domain.EventTypeRecordStored, event.Type)
			return errors.New("downstream unavailable")
		}).
		Times(1)
	tl.ledger.Subscribe("failing", failing)

	id := tl.mustStore(t, alice, "P1", "hashA")

	record, err := tl.ledger.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, record.Active)
	assert.Len(t, tl.events, 1)
}

func TestLedger_SubscribersReceiveSealedEventsInOrder(t *testing.T) {
	tl := setupTestLedger(t)

	subscriber := mocks.NewMockLedgerSubscriber(tl.ctrl)
	gomock.InOrder(
		subscriber.EXPECT().OnEvent(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, event domain.LedgerEvent) error {
			assert.Equal(t, uint64(1), event.Sequence)
			assert.Empty(t, event.PrevHash)
			assert.NotEmpty(t, event.Hash)
			return nil
		}),
		subscriber.EXPECT().OnEvent(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, event domain.LedgerEvent) error {
			assert.Equal(t, uint64(2), event.Sequence)
			assert.Equal(t, tl.events[0].Hash, event.PrevHash)
			return nil
		}),
	)
	tl.ledger.Subscribe("ordered", subscriber)

	tl.mustStore(t, alice, "P1", "hashA")
	tl.mustStore(t, alice, "P2", "hashB")
}

func TestLedger_CanonicalizationFailureRollsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	jcs := mocks.NewMockJCS(ctrl)
	backend := ledger.NewMemoryBackend()
	l := ledger.New(ledger.Options{Backend: backend, JCS: jcs})
	ctx := context.Background()

	jcs.EXPECT().Transform(gomock.Any()).Return(nil, errors.New("canonicalization failed"))

	_, err := l.Store(ctx, alice, "P1", "hashA")
	require.Error(t, err)

	_, err = l.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	events, err := l.ListEvents(ctx, domain.EventFilter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}
