package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/logger"
)

// Sweeper defines the interface for sweeper implementations
// Sweepers are long-running background tasks that run periodic jobs
type Sweeper interface {
	// Start begins the sweeper's main loop
	// This is a blocking call that runs until the context is canceled
	Start(ctx context.Context) error

	// Stop gracefully stops the sweeper
	// This should wait for any in-progress work to complete
	Stop(ctx context.Context) error

	// Sweep runs a single sweep cycle
	Sweep(ctx context.Context) error

	// Name returns the sweeper's name for logging and identification
	Name() string
}

// loop runs a sweep cycle every interval until its context is canceled or stop is called
type loop struct {
	name      string
	interval  time.Duration
	clock     adapter.Clock
	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

func newLoop(name string, interval time.Duration, clock adapter.Clock) *loop {
	return &loop{
		name:      name,
		interval:  interval,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// run blocks until the loop ends, cleanup runs once the last cycle has finished
func (l *loop) run(ctx context.Context, sweep func(ctx context.Context) error, cleanup func()) error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("%s already running", l.name)
	}
	defer func() {
		l.running.Store(false)
		if cleanup != nil {
			cleanup()
		}
		close(l.stoppedCh)
	}()

	for {
		if err := sweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorCtx(ctx, err, zap.String("sweeper", l.name))
		}

		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "Sweeper stopping due to context cancellation", zap.String("sweeper", l.name), zap.Error(ctx.Err()))
			return nil
		case <-l.stopChan:
			logger.InfoCtx(ctx, "Sweeper stop requested", zap.String("sweeper", l.name))
			return nil
		case <-l.clock.After(l.interval):
		}
	}
}

// stop signals the loop and waits for the current cycle to finish
func (l *loop) stop(ctx context.Context) error {
	if !l.running.Load() {
		return nil
	}

	logger.InfoCtx(ctx, "Stopping sweeper", zap.String("sweeper", l.name))
	select {
	case <-l.stopChan:
	default:
		close(l.stopChan)
	}

	select {
	case <-l.stoppedCh:
		logger.InfoCtx(ctx, "Sweeper stopped gracefully", zap.String("sweeper", l.name))
		return nil
	case <-ctx.Done():
		logger.WarnCtx(ctx, "Sweeper stop interrupted by context timeout", zap.String("sweeper", l.name))
		return ctx.Err()
	}
}
