package workflows

import (
	"go.temporal.io/sdk/workflow"

	"github.com/feral-file/passport-ledger/internal/webhook"
)

// WebhookWorker defines the workflows that fan ledger notifications out to webhook clients
type WebhookWorker interface {
	// NotifyWebhookClients starts one DeliverWebhook child per client subscribed to the event type
	NotifyWebhookClients(ctx workflow.Context, event webhook.WebhookEvent) error

	// DeliverWebhook delivers an event to a single client, retrying up to the client's max attempts
	DeliverWebhook(ctx workflow.Context, clientID string, event webhook.WebhookEvent) error
}

// webhookWorker is the concrete implementation of WebhookWorker
type webhookWorker struct {
	executor Executor
}

// NewWebhookWorker creates a new webhook worker instance.
// Callers that only need workflow references for starting executions may pass a nil executor.
func NewWebhookWorker(executor Executor) WebhookWorker {
	return &webhookWorker{
		executor: executor,
	}
}
