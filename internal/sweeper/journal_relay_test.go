package sweeper_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/mocks"
	"github.com/feral-file/passport-ledger/internal/sweeper"
)

type testRelayMocks struct {
	ctrl      *gomock.Controller
	store     *mocks.MockStore
	publisher *mocks.MockPublisher
	clock     *mocks.MockClock
}

func setupTestRelay(t *testing.T) *testRelayMocks {
	ctrl := gomock.NewController(t)
	tm := &testRelayMocks{
		ctrl:      ctrl,
		store:     mocks.NewMockStore(ctrl),
		publisher: mocks.NewMockPublisher(ctrl),
		clock:     mocks.NewMockClock(ctrl),
	}
	tm.clock.EXPECT().Now().Return(sweepTime).AnyTimes()
	tm.clock.EXPECT().Since(gomock.Any()).Return(time.Second).AnyTimes()
	return tm
}

func (tm *testRelayMocks) newRelay(batchSize int) sweeper.Sweeper {
	return sweeper.NewJournalRelay(sweeper.JournalRelayConfig{
		Interval:  time.Minute,
		BatchSize: batchSize,
	}, tm.store, tm.publisher, tm.clock)
}

func journalEvent(sequence uint64) domain.LedgerEvent {
	return domain.LedgerEvent{
		Sequence:   sequence,
		Type:       domain.EventTypeRecordStored,
		RecordID:   sequence,
		Actor:      grantorA,
		OccurredAt: sweepTime.Add(-time.Hour),
		Hash:       fmt.Sprintf("hash-%d", sequence),
	}
}

func TestJournalRelay_Name(t *testing.T) {
	tm := setupTestRelay(t)
	defer tm.ctrl.Finish()

	assert.Equal(t, "journal-relay", tm.newRelay(10).Name())
}

func TestJournalRelay_FirstRunStartsAtHead(t *testing.T) {
	tm := setupTestRelay(t)
	defer tm.ctrl.Finish()

	head := journalEvent(7)
	gomock.InOrder(
		tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY).Return("", nil),
		tm.store.EXPECT().LastEvent(gomock.Any()).Return(&head, nil),
		tm.store.EXPECT().SetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY, "7").Return(nil),
		tm.store.EXPECT().ListEvents(gomock.Any(), domain.EventFilter{After: 7, Limit: 10}).Return(nil, nil),
	)

	require.NoError(t, tm.newRelay(10).Sweep(context.Background()))
}

func TestJournalRelay_FirstRunOnEmptyJournal(t *testing.T) {
	tm := setupTestRelay(t)
	defer tm.ctrl.Finish()

	gomock.InOrder(
		tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY).Return("", nil),
		tm.store.EXPECT().LastEvent(gomock.Any()).Return(nil, nil),
		tm.store.EXPECT().SetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY, "0").Return(nil),
		tm.store.EXPECT().ListEvents(gomock.Any(), domain.EventFilter{After: 0, Limit: 10}).Return(nil, nil),
	)

	require.NoError(t, tm.newRelay(10).Sweep(context.Background()))
}

func TestJournalRelay_PublishesPagesInOrder(t *testing.T) {
	tm := setupTestRelay(t)
	defer tm.ctrl.Finish()

	first, second, third := journalEvent(4), journalEvent(5), journalEvent(6)

	tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY).Return("3", nil)
	gomock.InOrder(
		tm.store.EXPECT().ListEvents(gomock.Any(), domain.EventFilter{After: 3, Limit: 2}).Return([]domain.LedgerEvent{first, second}, nil),
		tm.publisher.EXPECT().PublishEvent(gomock.Any(), first).Return(nil),
		tm.publisher.EXPECT().PublishEvent(gomock.Any(), second).Return(nil),
		tm.store.EXPECT().SetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY, "5").Return(nil),
		tm.store.EXPECT().ListEvents(gomock.Any(), domain.EventFilter{After: 5, Limit: 2}).Return([]domain.LedgerEvent{third}, nil),
		tm.publisher.EXPECT().PublishEvent(gomock.Any(), third).Return(nil),
		tm.store.EXPECT().SetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY, "6").Return(nil),
	)

	require.NoError(t, tm.newRelay(2).Sweep(context.Background()))
}

func TestJournalRelay_FailureKeepsPublishedProgress(t *testing.T) {
	tm := setupTestRelay(t)
	defer tm.ctrl.Finish()

	first, second := journalEvent(4), journalEvent(5)

	tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY).Return("3", nil)
	gomock.InOrder(
		tm.store.EXPECT().ListEvents(gomock.Any(), domain.EventFilter{After: 3, Limit: 10}).Return([]domain.LedgerEvent{first, second}, nil),
		tm.publisher.EXPECT().PublishEvent(gomock.Any(), first).Return(nil),
		tm.publisher.EXPECT().PublishEvent(gomock.Any(), second).Return(errors.New("nats: no responders")),
		tm.store.EXPECT().SetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY, "4").Return(nil),
	)

	err := tm.newRelay(10).Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to relay event 5")
}

func TestJournalRelay_FirstPublishFailureLeavesCursor(t *testing.T) {
	tm := setupTestRelay(t)
	defer tm.ctrl.Finish()

	tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY).Return("3", nil)
	tm.store.EXPECT().ListEvents(gomock.Any(), domain.EventFilter{After: 3, Limit: 10}).Return([]domain.LedgerEvent{journalEvent(4)}, nil)
	tm.publisher.EXPECT().PublishEvent(gomock.Any(), gomock.Any()).Return(assert.AnError)
	tm.store.EXPECT().SetKeyValue(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	assert.Error(t, tm.newRelay(10).Sweep(context.Background()))
}

func TestJournalRelay_InvalidCursor(t *testing.T) {
	tm := setupTestRelay(t)
	defer tm.ctrl.Finish()

	tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY).Return("not-a-sequence", nil)

	err := tm.newRelay(10).Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse relay cursor")
}

func TestJournalRelay_StartStop(t *testing.T) {
	tm := setupTestRelay(t)
	defer tm.ctrl.Finish()

	tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.JOURNAL_RELAY_CURSOR_KEY).Return("3", nil)
	tm.store.EXPECT().ListEvents(gomock.Any(), domain.EventFilter{After: 3, Limit: 10}).Return(nil, nil)

	waiting := make(chan struct{})
	tm.clock.EXPECT().After(time.Minute).DoAndReturn(func(time.Duration) <-chan time.Time {
		close(waiting)
		return make(chan time.Time)
	})

	relay := tm.newRelay(10)
	done := make(chan error, 1)
	go func() {
		done <- relay.Start(context.Background())
	}()

	select {
	case <-waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not finish its first cycle")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, relay.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
