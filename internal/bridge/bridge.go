package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/domain"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/providers/temporal"
	"github.com/feral-file/passport-ledger/internal/webhook"
	"github.com/feral-file/passport-ledger/internal/workflows"
)

// DEFAULT_CONCURRENCY is the number of messages handled at once when Config.Concurrency is unset
const DEFAULT_CONCURRENCY = 16

// Config holds the configuration for the event bridge
type Config struct {
	URL               string
	StreamName        string
	SubjectPrefix     string
	ConsumerName      string
	MaxReconnects     int
	ReconnectWait     time.Duration
	ConnectionName    string
	AckWaitTimeout    time.Duration
	MaxDeliver        int
	TemporalTaskQueue string
	Concurrency       int
}

// Bridge consumes committed ledger events from JetStream and starts a
// webhook notification workflow for each of them
type Bridge interface {
	// Run starts the event bridge
	Run(ctx context.Context) error
	// Close closes the bridge and cleans up resources
	Close()
}

type bridge struct {
	nc           adapter.NatsConn
	js           adapter.JetStream
	orchestrator temporal.TemporalOrchestrator
	json         adapter.JSON
	config       Config
}

// NewBridge creates a new event bridge
func NewBridge(
	cfg Config,
	natsJS adapter.NatsJetStream,
	orchestrator temporal.TemporalOrchestrator,
	jsonAdapter adapter.JSON,
) (Bridge, error) {
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

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DEFAULT_CONCURRENCY
	}

	return &bridge{
		nc:           nc,
		js:           js,
		orchestrator: orchestrator,
		json:         jsonAdapter,
		config:       cfg,
	}, nil
}

// Run starts the event bridge and blocks until ctx is done
func (b *bridge) Run(ctx context.Context) error {
	logger.InfoCtx(ctx, "Starting event bridge",
		zap.String("stream", b.config.StreamName),
		zap.String("consumer", b.config.ConsumerName))

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       b.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       b.config.AckWaitTimeout,
		MaxDeliver:    b.config.MaxDeliver,
		FilterSubject: b.config.SubjectPrefix + ".>",
	}

	consumer, err := b.js.CreateOrUpdateConsumer(ctx, b.config.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create/update consumer: %w", err)
	}

	consumerInfo, err := consumer.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get consumer info: %w", err)
	}
	logger.InfoCtx(ctx, "Consumer created/retrieved",
		zap.String("consumer", consumerInfo.Name),
		zap.Uint64("pending", consumerInfo.NumPending))

	pool := pond.NewPool(b.config.Concurrency, pond.WithContext(ctx))
	defer pool.StopAndWait()

	sub, err := consumer.Consume(func(msg adapter.Message) {
		pool.Submit(func() {
			b.handleMessage(ctx, msg)
		})
	})
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	defer sub.Stop()

	logger.InfoCtx(ctx, "Started consuming messages")

	<-ctx.Done()
	logger.InfoCtx(ctx, "Shutting down event bridge")
	return ctx.Err()
}

// handleMessage turns one ledger event into a notification workflow.
// Malformed payloads are terminated, orchestrator failures are redelivered.
func (b *bridge) handleMessage(ctx context.Context, msg adapter.Message) {
	var deliveries uint64
	if metadata, err := msg.Metadata(); err == nil && metadata != nil {
		deliveries = metadata.NumDelivered
	}

	var event domain.LedgerEvent
	if err := b.json.Unmarshal(msg.Data(), &event); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to unmarshal ledger event"))
		b.term(ctx, msg)
		return
	}
	if event.Sequence == 0 || !domain.IsValidEventType(event.Type) {
		logger.WarnCtx(ctx, "Dropping malformed ledger event",
			zap.Uint64("sequence", event.Sequence),
			zap.String("eventType", string(event.Type)))
		b.term(ctx, msg)
		return
	}

	logger.InfoCtx(ctx, "Received ledger event",
		zap.Uint64("sequence", event.Sequence),
		zap.String("eventType", string(event.Type)),
		zap.Uint64("deliveryCount", deliveries))

	if err := b.forwardToWorker(ctx, event); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to forward event to worker"))
		if err := msg.Nak(); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("message", "Failed to NAK message"))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to ACK message"))
	}
}

// forwardToWorker starts the webhook notification workflow of an event
func (b *bridge) forwardToWorker(ctx context.Context, event domain.LedgerEvent) error {
	w := workflows.NewWebhookWorker(nil)
	webhookEvent := webhook.NewLedgerEvent(event)

	opt := client.StartWorkflowOptions{
		ID:                    workflows.NotifyWorkflowID(webhookEvent),
		TaskQueue:             b.config.TemporalTaskQueue,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE_FAILED_ONLY,
		WorkflowRunTimeout:    1 * time.Hour,
	}

	started, err := temporal.StartOnce(ctx, b.orchestrator, opt, w.NotifyWebhookClients, webhookEvent)
	if err != nil {
		return fmt.Errorf("failed to execute workflow: %w", err)
	}

	logger.InfoCtx(ctx, "Event forwarded to worker",
		zap.Uint64("sequence", event.Sequence),
		zap.String("workflowID", opt.ID),
		zap.Bool("alreadyStarted", !started))

	return nil
}

func (b *bridge) term(ctx context.Context, msg adapter.Message) {
	if err := msg.Term(); err != nil {
		logger.ErrorCtx(ctx, err, zap.String("message", "Failed to terminate message"))
	}
}

// Close closes the bridge and cleans up resources
func (b *bridge) Close() {
	if b.nc == nil {
		return
	}

	b.nc.Close()
}
