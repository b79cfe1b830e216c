package sweeper_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/mocks"
	"github.com/feral-file/passport-ledger/internal/store"
	"github.com/feral-file/passport-ledger/internal/sweeper"
	"github.com/feral-file/passport-ledger/internal/webhook"
	"github.com/feral-file/passport-ledger/internal/workflows"
)

func TestMain(m *testing.M) {
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}

const (
	grantorA   = "0x1111111111111111111111111111111111111111"
	delegateeB = "0x2222222222222222222222222222222222222222"
	delegateeC = "0x3333333333333333333333333333333333333333"
	delegateeD = "0x4444444444444444444444444444444444444444"
)

var sweepTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testSweeperMocks struct {
	ctrl         *gomock.Controller
	store        *mocks.MockStore
	clock        *mocks.MockClock
	orchestrator *mocks.MockTemporalOrchestrator
}

func setupTestSweeper(t *testing.T) *testSweeperMocks {
	ctrl := gomock.NewController(t)
	tm := &testSweeperMocks{
		ctrl:         ctrl,
		store:        mocks.NewMockStore(ctrl),
		clock:        mocks.NewMockClock(ctrl),
		orchestrator: mocks.NewMockTemporalOrchestrator(ctrl),
	}
	tm.clock.EXPECT().Now().Return(sweepTime).AnyTimes()
	tm.clock.EXPECT().Since(gomock.Any()).Return(time.Second).AnyTimes()
	return tm
}

func (tm *testSweeperMocks) newSweeper(batchSize int) sweeper.Sweeper {
	return sweeper.NewDelegationExpirySweeper(sweeper.DelegationExpirySweeperConfig{
		Interval:       time.Minute,
		BatchSize:      batchSize,
		WorkerPoolSize: 2,
		TaskQueue:      "ledger-webhooks",
	}, tm.store, adapter.NewJSON(), tm.clock, tm.orchestrator)
}

func cursorJSON(t *testing.T, cursor store.DelegationExpiryCursor) string {
	t.Helper()
	data, err := json.Marshal(cursor)
	require.NoError(t, err)
	return string(data)
}

func expiredDelegation(delegatee string, expiry time.Time) domain.Delegation {
	return domain.Delegation{
		Grantor:   grantorA,
		Delegatee: delegatee,
		Level:     domain.AccessLevelView,
		Active:    true,
		GrantedAt: expiry.Add(-24 * time.Hour),
		Expiry:    expiry,
	}
}

func TestDelegationExpirySweeper_Name(t *testing.T) {
	tm := setupTestSweeper(t)
	defer tm.ctrl.Finish()

	assert.Equal(t, "delegation-expiry-sweeper", tm.newSweeper(10).Name())
}

func TestDelegationExpirySweeper_FirstRunStartsAtNow(t *testing.T) {
	tm := setupTestSweeper(t)
	defer tm.ctrl.Finish()

	initial := store.DelegationExpiryCursor{Expiry: sweepTime}

	gomock.InOrder(
		tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY).Return("", nil),
		tm.store.EXPECT().SetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY, cursorJSON(t, initial)).Return(nil),
		tm.store.EXPECT().ListDelegationsExpiringAfter(gomock.Any(), initial, sweepTime, 10).Return(nil, nil),
	)

	require.NoError(t, tm.newSweeper(10).Sweep(context.Background()))
}

func TestDelegationExpirySweeper_NotifiesPagesAndAdvancesCursor(t *testing.T) {
	tm := setupTestSweeper(t)
	defer tm.ctrl.Finish()

	start := store.DelegationExpiryCursor{Expiry: sweepTime.Add(-time.Hour)}
	first := expiredDelegation(delegateeB, sweepTime.Add(-50*time.Minute))
	second := expiredDelegation(delegateeC, sweepTime.Add(-40*time.Minute))
	third := expiredDelegation(delegateeD, sweepTime.Add(-30*time.Minute))

	afterFirstPage := store.DelegationExpiryCursor{Expiry: second.Expiry, Grantor: grantorA, Delegatee: delegateeC}
	afterSecondPage := store.DelegationExpiryCursor{Expiry: third.Expiry, Grantor: grantorA, Delegatee: delegateeD}

	tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY).Return(cursorJSON(t, start), nil)
	gomock.InOrder(
		tm.store.EXPECT().ListDelegationsExpiringAfter(gomock.Any(), start, sweepTime, 2).Return([]domain.Delegation{first, second}, nil),
		tm.store.EXPECT().SetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY, cursorJSON(t, afterFirstPage)).Return(nil),
		tm.store.EXPECT().ListDelegationsExpiringAfter(gomock.Any(), afterFirstPage, sweepTime, 2).Return([]domain.Delegation{third}, nil),
		tm.store.EXPECT().SetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY, cursorJSON(t, afterSecondPage)).Return(nil),
	)

	var mu sync.Mutex
	var workflowIDs []string
	tm.orchestrator.
		EXPECT().
		ExecuteWorkflow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, options client.StartWorkflowOptions, _ interface{}, args ...interface{}) (client.WorkflowRun, error) {
			assert.Equal(t, "ledger-webhooks", options.TaskQueue)
			assert.Equal(t, enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY, options.WorkflowIDReusePolicy)

			require.Len(t, args, 1)
			event, ok := args[0].(webhook.WebhookEvent)
			require.True(t, ok)
			assert.Equal(t, webhook.EventTypeDelegationExpired, event.EventType)
			assert.Equal(t, grantorA, event.Data.Actor)

			mu.Lock()
			workflowIDs = append(workflowIDs, options.ID)
			mu.Unlock()
			return nil, nil
		}).
		Times(3)

	require.NoError(t, tm.newSweeper(2).Sweep(context.Background()))

	expected := []string{
		workflows.NotifyWorkflowID(webhook.NewDelegationExpiredEvent(first)),
		workflows.NotifyWorkflowID(webhook.NewDelegationExpiredEvent(second)),
		workflows.NotifyWorkflowID(webhook.NewDelegationExpiredEvent(third)),
	}
	sort.Strings(expected)
	sort.Strings(workflowIDs)
	assert.Equal(t, expected, workflowIDs)
}

func TestDelegationExpirySweeper_AlreadyStartedCountsAsNotified(t *testing.T) {
	tm := setupTestSweeper(t)
	defer tm.ctrl.Finish()

	start := store.DelegationExpiryCursor{Expiry: sweepTime.Add(-time.Hour)}
	expired := expiredDelegation(delegateeB, sweepTime.Add(-time.Minute))
	next := store.DelegationExpiryCursor{Expiry: expired.Expiry, Grantor: grantorA, Delegatee: delegateeB}

	tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY).Return(cursorJSON(t, start), nil)
	tm.store.EXPECT().ListDelegationsExpiringAfter(gomock.Any(), start, sweepTime, 10).Return([]domain.Delegation{expired}, nil)
	tm.orchestrator.
		EXPECT().
		ExecuteWorkflow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, serviceerror.NewWorkflowExecutionAlreadyStarted("already started", "", "run-1"))
	tm.store.EXPECT().SetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY, cursorJSON(t, next)).Return(nil)

	require.NoError(t, tm.newSweeper(10).Sweep(context.Background()))
}

func TestDelegationExpirySweeper_FailureKeepsCursor(t *testing.T) {
	tm := setupTestSweeper(t)
	defer tm.ctrl.Finish()

	start := store.DelegationExpiryCursor{Expiry: sweepTime.Add(-time.Hour)}
	tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY).Return(cursorJSON(t, start), nil)
	tm.store.EXPECT().ListDelegationsExpiringAfter(gomock.Any(), start, sweepTime, 10).Return([]domain.Delegation{
		expiredDelegation(delegateeB, sweepTime.Add(-2*time.Minute)),
		expiredDelegation(delegateeC, sweepTime.Add(-time.Minute)),
	}, nil)

	var mu sync.Mutex
	calls := 0
	tm.orchestrator.
		EXPECT().
		ExecuteWorkflow(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, _ client.StartWorkflowOptions, _ interface{}, _ ...interface{}) (client.WorkflowRun, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			if calls == 1 {
				return nil, serviceerror.NewUnavailable("temporal unavailable")
			}
			return nil, nil
		}).
		Times(2)
	// No SetKeyValue: the page is retried on the next cycle

	err := tm.newSweeper(10).Sweep(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to notify expired delegations")
}

func TestDelegationExpirySweeper_StoreErrors(t *testing.T) {
	t.Run("cursor lookup", func(t *testing.T) {
		tm := setupTestSweeper(t)
		defer tm.ctrl.Finish()

		tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY).Return("", errors.New("db down"))

		err := tm.newSweeper(10).Sweep(context.Background())
		assert.ErrorContains(t, err, "failed to load sweeper cursor")
	})

	t.Run("corrupt cursor", func(t *testing.T) {
		tm := setupTestSweeper(t)
		defer tm.ctrl.Finish()

		tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY).Return("{not json", nil)

		err := tm.newSweeper(10).Sweep(context.Background())
		assert.ErrorContains(t, err, "failed to parse sweeper cursor")
	})

	t.Run("list", func(t *testing.T) {
		tm := setupTestSweeper(t)
		defer tm.ctrl.Finish()

		start := store.DelegationExpiryCursor{Expiry: sweepTime.Add(-time.Hour)}
		tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY).Return(cursorJSON(t, start), nil)
		tm.store.EXPECT().ListDelegationsExpiringAfter(gomock.Any(), start, sweepTime, 10).Return(nil, errors.New("db down"))

		err := tm.newSweeper(10).Sweep(context.Background())
		assert.ErrorContains(t, err, "failed to list expiring delegations")
	})
}

func TestDelegationExpirySweeper_StartStop(t *testing.T) {
	tm := setupTestSweeper(t)
	defer tm.ctrl.Finish()

	start := store.DelegationExpiryCursor{Expiry: sweepTime.Add(-time.Hour)}
	tm.store.EXPECT().GetKeyValue(gomock.Any(), sweeper.DELEGATION_EXPIRY_CURSOR_KEY).Return(cursorJSON(t, start), nil)
	tm.store.EXPECT().ListDelegationsExpiringAfter(gomock.Any(), start, sweepTime, 10).Return(nil, nil)

	waiting := make(chan struct{})
	tm.clock.EXPECT().After(time.Minute).DoAndReturn(func(time.Duration) <-chan time.Time {
		close(waiting)
		return make(chan time.Time)
	})

	s := tm.newSweeper(10)
	done := make(chan error, 1)
	go func() {
		done <- s.Start(context.Background())
	}()

	select {
	case <-waiting:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not finish its first cycle")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
