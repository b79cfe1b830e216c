package sweeper

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/messaging"
	"github.com/feral-file/passport-ledger/internal/store"
)

const (
	// JOURNAL_RELAY_CURSOR_KEY is the key-value entry holding the last relayed sequence
	JOURNAL_RELAY_CURSOR_KEY = "sweeper:journal_relay:cursor"

	DEFAULT_RELAY_INTERVAL   = time.Minute
	DEFAULT_RELAY_BATCH_SIZE = 500
)

// JournalRelayConfig holds configuration for the journal relay
type JournalRelayConfig struct {
	Interval  time.Duration
	BatchSize int
}

// journalRelay republishes committed journal events to JetStream.
// Events carry their hash as message id, so events the api already published are dropped by the stream
// and the webhook workflow ids keep a late duplicate from notifying twice.
type journalRelay struct {
	config    JournalRelayConfig
	store     store.Store
	publisher messaging.Publisher
	clock     adapter.Clock
	loop      *loop
}

// NewJournalRelay creates a sweeper that catches up the event stream from the journal
func NewJournalRelay(
	config JournalRelayConfig,
	st store.Store,
	publisher messaging.Publisher,
	clock adapter.Clock,
) Sweeper {
	if config.Interval <= 0 {
		config.Interval = DEFAULT_RELAY_INTERVAL
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DEFAULT_RELAY_BATCH_SIZE
	}

	r := &journalRelay{
		config:    config,
		store:     st,
		publisher: publisher,
		clock:     clock,
	}
	r.loop = newLoop(r.Name(), config.Interval, clock)
	return r
}

// Name returns the sweeper's name
func (r *journalRelay) Name() string {
	return "journal-relay"
}

// Start relays new journal events every interval until the context is canceled or Stop is called
func (r *journalRelay) Start(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting journal relay",
		zap.Duration("interval", r.config.Interval),
		zap.Int("batch_size", r.config.BatchSize),
	)
	return r.loop.run(ctx, r.Sweep, nil)
}

// Stop signals the main loop and waits for the current cycle to finish
func (r *journalRelay) Stop(ctx context.Context) error {
	return r.loop.stop(ctx)
}

// Sweep publishes every event after the stored cursor in sequence order.
// A failed publish stops the cycle, the cursor keeps the events published before it.
func (r *journalRelay) Sweep(ctx context.Context) error {
	startTime := r.clock.Now()

	cursor, err := r.loadCursor(ctx)
	if err != nil {
		return err
	}

	saved := cursor
	var relayed int
	for {
		events, err := r.store.ListEvents(ctx, domain.EventFilter{After: cursor, Limit: r.config.BatchSize})
		if err != nil {
			return fmt.Errorf("failed to list journal events: %w", err)
		}
		if len(events) == 0 {
			break
		}

		for _, event := range events {
			if err := r.publisher.PublishEvent(ctx, event); err != nil {
				if cursor != saved {
					if saveErr := r.saveCursor(ctx, cursor); saveErr != nil {
						logger.ErrorCtx(ctx, saveErr)
					}
				}
				return fmt.Errorf("failed to relay event %d: %w", event.Sequence, err)
			}
			cursor = event.Sequence
			relayed++
		}

		if err := r.saveCursor(ctx, cursor); err != nil {
			return err
		}
		saved = cursor

		if len(events) < r.config.BatchSize {
			break
		}
	}

	logger.InfoCtx(ctx, "Journal relay completed",
		zap.Int("relayed", relayed),
		zap.Uint64("cursor", cursor),
		zap.Duration("duration", r.clock.Since(startTime)),
	)

	return nil
}

// loadCursor reads the last relayed sequence. Without a stored position the relay starts at the journal head,
// the events before it were handed to the publisher by the api.
func (r *journalRelay) loadCursor(ctx context.Context) (uint64, error) {
	value, err := r.store.GetKeyValue(ctx, JOURNAL_RELAY_CURSOR_KEY)
	if err != nil {
		return 0, fmt.Errorf("failed to load relay cursor: %w", err)
	}

	if value != "" {
		cursor, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse relay cursor: %w", err)
		}
		return cursor, nil
	}

	head, err := r.store.LastEvent(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load journal head: %w", err)
	}

	var cursor uint64
	if head != nil {
		cursor = head.Sequence
	}
	if err := r.saveCursor(ctx, cursor); err != nil {
		return 0, err
	}
	logger.InfoCtx(ctx, "Initialized journal relay cursor", zap.Uint64("sequence", cursor))

	return cursor, nil
}

func (r *journalRelay) saveCursor(ctx context.Context, cursor uint64) error {
	if err := r.store.SetKeyValue(ctx, JOURNAL_RELAY_CURSOR_KEY, strconv.FormatUint(cursor, 10)); err != nil {
		return fmt.Errorf("failed to save relay cursor: %w", err)
	}
	return nil
}
