package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/providers/temporal"
	"github.com/feral-file/passport-ledger/internal/store"
	"github.com/feral-file/passport-ledger/internal/webhook"
	"github.com/feral-file/passport-ledger/internal/workflows"
)

const (
	// DELEGATION_EXPIRY_CURSOR_KEY is the key-value entry holding the sweeper position
	DELEGATION_EXPIRY_CURSOR_KEY = "sweeper:delegation_expiry:cursor"

	DEFAULT_SWEEP_INTERVAL = 5 * time.Minute
	DEFAULT_BATCH_SIZE     = 100
	DEFAULT_POOL_SIZE      = 8
)

// DelegationExpirySweeperConfig holds configuration for the delegation expiry sweeper
type DelegationExpirySweeperConfig struct {
	Interval        time.Duration // Time to sleep between sweep cycles
	BatchSize       int           // Delegations fetched per page
	WorkerPoolSize  int           // Concurrent workflow starts
	WorkerQueueSize int
	TaskQueue       string // Temporal task queue of the webhook worker
}

// delegationExpirySweeper announces delegations whose expiry has passed.
// It never changes ledger state, expired delegations are already ineffective.
type delegationExpirySweeper struct {
	config       DelegationExpirySweeperConfig
	store        store.Store
	json         adapter.JSON
	clock        adapter.Clock
	orchestrator temporal.TemporalOrchestrator
	pool         pond.Pool
	loop         *loop
}

// NewDelegationExpirySweeper creates a new delegation expiry sweeper
func NewDelegationExpirySweeper(
	config DelegationExpirySweeperConfig,
	st store.Store,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
	orchestrator temporal.TemporalOrchestrator,
) Sweeper {
	if config.Interval <= 0 {
		config.Interval = DEFAULT_SWEEP_INTERVAL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DEFAULT_BATCH_SIZE
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DEFAULT_POOL_SIZE
	}
	if config.WorkerQueueSize < config.BatchSize {
		config.WorkerQueueSize = config.BatchSize
	}

	s := &delegationExpirySweeper{
		config:       config,
		store:        st,
		json:         jsonAdapter,
		clock:        clock,
		orchestrator: orchestrator,
		pool:         pond.NewPool(config.WorkerPoolSize, pond.WithQueueSize(config.WorkerQueueSize)),
	}
	s.loop = newLoop(s.Name(), config.Interval, clock)
	return s
}

// Name returns the sweeper's name
func (s *delegationExpirySweeper) Name() string {
	return "delegation-expiry-sweeper"
}

// Start runs a sweep cycle every interval until the context is canceled or Stop is called
func (s *delegationExpirySweeper) Start(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting delegation expiry sweeper",
		zap.Duration("interval", s.config.Interval),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("worker_pool_size", s.config.WorkerPoolSize),
	)
	return s.loop.run(ctx, s.Sweep, s.pool.StopAndWait)
}

// Stop signals the main loop and waits for the current cycle to finish
func (s *delegationExpirySweeper) Stop(ctx context.Context) error {
	return s.loop.stop(ctx)
}

// Sweep notifies every delegation that expired between the stored cursor and now.
// The cursor only moves past a page once every notification of the page has started.
func (s *delegationExpirySweeper) Sweep(ctx context.Context) error {
	startTime := s.clock.Now()
	now := startTime.UTC()

	cursor, err := s.loadCursor(ctx, now)
	if err != nil {
		return err
	}

	var notified int
	for {
		delegations, err := s.store.ListDelegationsExpiringAfter(ctx, cursor, now, s.config.BatchSize)
		if err != nil {
			return fmt.Errorf("failed to list expiring delegations: %w", err)
		}
		if len(delegations) == 0 {
			break
		}

		tasks := make([]pond.Task, 0, len(delegations))
		for _, delegation := range delegations {
			tasks = append(tasks, s.pool.SubmitErr(func() error {
				return s.notify(ctx, delegation)
			}))
		}

		var errs []error
		for _, task := range tasks {
			if err := task.Wait(); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("failed to notify expired delegations: %w", errors.Join(errs...))
		}
		notified += len(delegations)

		last := delegations[len(delegations)-1]
		cursor = store.DelegationExpiryCursor{
			Expiry:    last.Expiry.UTC(),
			Grantor:   last.Grantor,
			Delegatee: last.Delegatee,
		}
		if err := s.saveCursor(ctx, cursor); err != nil {
			return err
		}

		if len(delegations) < s.config.BatchSize {
			break
		}
	}

	logger.InfoCtx(ctx, "Delegation expiry sweep completed",
		zap.Int("notified", notified),
		zap.Time("cursor", cursor.Expiry),
		zap.Duration("duration", s.clock.Since(startTime)),
	)

	return nil
}

// loadCursor reads the sweeper position. Without a stored position the sweep starts at now,
// so delegations that expired before the first run are never announced.
func (s *delegationExpirySweeper) loadCursor(ctx context.Context, now time.Time) (store.DelegationExpiryCursor, error) {
	value, err := s.store.GetKeyValue(ctx, DELEGATION_EXPIRY_CURSOR_KEY)
	if err != nil {
		return store.DelegationExpiryCursor{}, fmt.Errorf("failed to load sweeper cursor: %w", err)
	}

	if value == "" {
		cursor := store.DelegationExpiryCursor{Expiry: now}
		if err := s.saveCursor(ctx, cursor); err != nil {
			return store.DelegationExpiryCursor{}, err
		}
		logger.InfoCtx(ctx, "Initialized delegation expiry cursor", zap.Time("expiry", now))
		return cursor, nil
	}

	var cursor store.DelegationExpiryCursor
	if err := s.json.Unmarshal([]byte(value), &cursor); err != nil {
		return store.DelegationExpiryCursor{}, fmt.Errorf("failed to parse sweeper cursor: %w", err)
	}
	cursor.Expiry = cursor.Expiry.UTC()

	return cursor, nil
}

func (s *delegationExpirySweeper) saveCursor(ctx context.Context, cursor store.DelegationExpiryCursor) error {
	data, err := s.json.Marshal(cursor)
	if err != nil {
		return fmt.Errorf("failed to marshal sweeper cursor: %w", err)
	}
	if err := s.store.SetKeyValue(ctx, DELEGATION_EXPIRY_CURSOR_KEY, string(data)); err != nil {
		return fmt.Errorf("failed to save sweeper cursor: %w", err)
	}
	return nil
}

// notify starts the webhook notification workflow of an expired delegation
func (s *delegationExpirySweeper) notify(ctx context.Context, delegation domain.Delegation) error {
	event := webhook.NewDelegationExpiredEvent(delegation)

	options := client.StartWorkflowOptions{
		ID:                    workflows.NotifyWorkflowID(event),
		TaskQueue:             s.config.TaskQueue,
		WorkflowRunTimeout:    30 * time.Minute,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
	}

	w := workflows.NewWebhookWorker(nil)
	started, err := temporal.StartOnce(ctx, s.orchestrator, options, w.NotifyWebhookClients, event)
	if err != nil {
		return fmt.Errorf("failed to start notification for %s -> %s: %w", delegation.Grantor, delegation.Delegatee, err)
	}

	logger.InfoCtx(ctx, "Delegation expiry notification dispatched",
		zap.String("grantor", delegation.Grantor),
		zap.String("delegatee", delegation.Delegatee),
		zap.Time("expiry", delegation.Expiry),
		zap.String("event_id", event.EventID),
		zap.Bool("started", started),
	)

	return nil
}
