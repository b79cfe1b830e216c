package jetstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/messaging"
)

const (
	// DEFAULT_DUPLICATE_WINDOW is how long the stream remembers message ids for deduplication
	DEFAULT_DUPLICATE_WINDOW = 10 * time.Minute
	// DEFAULT_PUBLISH_MAX_ELAPSED bounds the publish retries of a single event
	DEFAULT_PUBLISH_MAX_ELAPSED = 15 * time.Second
	// DEFAULT_PUBLISH_QUEUE_SIZE bounds the events waiting for a background publish
	DEFAULT_PUBLISH_QUEUE_SIZE = 1024
)

// ErrPublishRejected is returned when the background publish queue is full or closed
var ErrPublishRejected = errors.New("publish queue full or closed")

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL               string
	StreamName        string
	SubjectPrefix     string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionName    string
	DuplicateWindow   time.Duration
	PublishMaxElapsed time.Duration
	PublishQueueSize  int
}

type publisher struct {
	nc                adapter.NatsConn
	js                adapter.JetStream
	subjectPrefix     string
	publishMaxElapsed time.Duration
	json              adapter.JSON
	// single worker, events leave in commit order
	pool pond.Pool
}

// NewPublisher connects to NATS, makes sure the ledger event stream exists and returns a publisher
func NewPublisher(ctx context.Context, cfg Config, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (messaging.Publisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	duplicateWindow := cfg.DuplicateWindow
	if duplicateWindow == 0 {
		duplicateWindow = DEFAULT_DUPLICATE_WINDOW
	}

	err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.StreamName,
		Subjects:   []string{cfg.SubjectPrefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		Duplicates: duplicateWindow,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create or update stream %s: %w", cfg.StreamName, err)
	}

	publishMaxElapsed := cfg.PublishMaxElapsed
	if publishMaxElapsed == 0 {
		publishMaxElapsed = DEFAULT_PUBLISH_MAX_ELAPSED
	}

	queueSize := cfg.PublishQueueSize
	if queueSize <= 0 {
		queueSize = DEFAULT_PUBLISH_QUEUE_SIZE
	}

	return &publisher{
		nc:                nc,
		js:                js,
		subjectPrefix:     cfg.SubjectPrefix,
		publishMaxElapsed: publishMaxElapsed,
		json:              jsonAdapter,
		pool:              pond.NewPool(1, pond.WithQueueSize(queueSize)),
	}, nil
}

// PublishEvent publishes a ledger event to NATS JetStream.
// The event hash is the message id, so a retried publish is stored once.
func (p *publisher) PublishEvent(ctx context.Context, event domain.LedgerEvent) error {
	logger.DebugCtx(ctx, "Publishing ledger event",
		zap.Uint64("sequence", event.Sequence),
		zap.String("eventType", string(event.Type)))

	data, err := p.json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := p.buildSubject(event)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = p.publishMaxElapsed

	operation := func() error {
		_, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(event.Hash))
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.WarnCtx(ctx, "Failed to publish ledger event, retrying",
			zap.Error(err),
			zap.Uint64("sequence", event.Sequence),
			zap.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// OnEvent queues an event handed over by the ledger dispatcher and returns without waiting for NATS.
// Events that fail every retry stay in the journal and are republished by the journal relay.
func (p *publisher) OnEvent(ctx context.Context, event domain.LedgerEvent) error {
	publishCtx := context.WithoutCancel(ctx)
	_, ok := p.pool.TrySubmit(func() {
		if err := p.PublishEvent(publishCtx, event); err != nil {
			logger.ErrorCtx(publishCtx, err,
				zap.Uint64("sequence", event.Sequence),
				zap.String("eventType", string(event.Type)))
		}
	})
	if !ok {
		return fmt.Errorf("%w: event %d", ErrPublishRejected, event.Sequence)
	}
	return nil
}

// buildSubject constructs the NATS subject of an event
func (p *publisher) buildSubject(event domain.LedgerEvent) string {
	// Format: {prefix}.{event_type}
	// e.g., ledger.events.record.stored, ledger.events.verification.approved
	return fmt.Sprintf("%s.%s", p.subjectPrefix, event.Type)
}

// Close drains the queued publishes and closes the NATS connection
func (p *publisher) Close() {
	if p.pool != nil {
		p.pool.StopAndWait()
	}
	if p.nc == nil {
		return
	}

	p.nc.Close()
}
