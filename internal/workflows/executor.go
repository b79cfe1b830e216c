package workflows

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/feral-file/passport-ledger/internal/adapter"
	"github.com/feral-file/passport-ledger/internal/logger"
	"github.com/feral-file/passport-ledger/internal/store"
	"github.com/feral-file/passport-ledger/internal/store/schema"
	"github.com/feral-file/passport-ledger/internal/webhook"
)

const (
	// MAX_RESPONSE_BODY_SIZE is the amount of a webhook response body kept on the delivery record
	MAX_RESPONSE_BODY_SIZE = 4 * 1024
	// DEFAULT_USER_AGENT is sent with every webhook delivery unless configured otherwise
	DEFAULT_USER_AGENT = "Passport-Ledger-Webhook/1.0"
)

// Executor defines the interface for executing webhook activities
//
//go:generate mockgen -source=executor.go -destination=../mocks/executor.go -package=mocks -mock_names=Executor=MockWebhookExecutor
type Executor interface {
	// GetActiveWebhookClientsByEventType retrieves active webhook clients matching the event type
	GetActiveWebhookClientsByEventType(ctx context.Context, eventType string) ([]*schema.WebhookClient, error)

	// GetWebhookClientByID retrieves a webhook client by client ID
	GetWebhookClientByID(ctx context.Context, clientID string) (*schema.WebhookClient, error)

	// CreateWebhookDeliveryRecord creates a new webhook delivery record
	CreateWebhookDeliveryRecord(ctx context.Context, delivery *schema.WebhookDelivery, event webhook.WebhookEvent) (uint64, error)

	// DeliverWebhookHTTP performs the actual HTTP delivery of a webhook with signature
	DeliverWebhookHTTP(ctx context.Context, client *schema.WebhookClient, event webhook.WebhookEvent, deliveryID uint64) (webhook.DeliveryResult, error)
}

// executor is the concrete implementation of Executor
type executor struct {
	store            store.Store
	json             adapter.JSON
	clock            adapter.Clock
	httpClient       adapter.HTTPClient
	io               adapter.IO
	temporalActivity adapter.Activity
	userAgent        string
}

// NewExecutor creates a new executor instance
func NewExecutor(
	store store.Store,
	jsonAdapter adapter.JSON,
	clock adapter.Clock,
	httpClient adapter.HTTPClient,
	io adapter.IO,
	temporalActivity adapter.Activity,
	userAgent string,
) Executor {
	if userAgent == "" {
		userAgent = DEFAULT_USER_AGENT
	}
	return &executor{
		store:            store,
		json:             jsonAdapter,
		clock:            clock,
		httpClient:       httpClient,
		io:               io,
		temporalActivity: temporalActivity,
		userAgent:        userAgent,
	}
}

// GetActiveWebhookClientsByEventType retrieves active webhook clients matching the event type
func (e *executor) GetActiveWebhookClientsByEventType(ctx context.Context, eventType string) ([]*schema.WebhookClient, error) {
	return e.store.GetActiveWebhookClientsByEventType(ctx, eventType)
}

// GetWebhookClientByID retrieves a webhook client by client ID
func (e *executor) GetWebhookClientByID(ctx context.Context, clientID string) (*schema.WebhookClient, error) {
	return e.store.GetWebhookClientByID(ctx, clientID)
}

// CreateWebhookDeliveryRecord creates a new webhook delivery record
func (e *executor) CreateWebhookDeliveryRecord(ctx context.Context, delivery *schema.WebhookDelivery, event webhook.WebhookEvent) (uint64, error) {
	eventJSON, err := e.json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal webhook event: %w", err)
	}
	delivery.Payload = eventJSON
	delivery.EventSequence = event.Data.Sequence
	delivery.DeliveryStatus = schema.WebhookDeliveryStatusPending

	if err := e.store.CreateWebhookDelivery(ctx, delivery); err != nil {
		return 0, err
	}
	return delivery.ID, nil
}

// DeliverWebhookHTTP performs the HTTP delivery of a webhook with HMAC signature.
// A failed attempt is recorded and returned as an error so the activity retry policy kicks in.
func (e *executor) DeliverWebhookHTTP(ctx context.Context, client *schema.WebhookClient, event webhook.WebhookEvent, deliveryID uint64) (webhook.DeliveryResult, error) {
	attempt := int(e.temporalActivity.GetInfo(ctx).Attempt)

	logger.InfoCtx(ctx, "Attempting webhook delivery",
		zap.String("clientID", client.ClientID),
		zap.String("eventID", event.EventID),
		zap.Int("attempt", attempt))

	payload, signature, timestamp, err := webhook.GenerateSignedPayload(client.WebhookSecret, event, e.clock.Now())
	if err != nil {
		e.markDelivery(ctx, client, deliveryID, schema.WebhookDeliveryStatusFailed, attempt, nil, "", err.Error())

		// Signing will never succeed on retry
		return webhook.DeliveryResult{Success: false, Error: err.Error()},
			temporal.NewNonRetryableApplicationError(err.Error(), "failed to generate signed payload", err)
	}

	headers := map[string]string{
		"Content-Type":         "application/json",
		"X-Webhook-Signature":  signature,
		"X-Webhook-Event-ID":   event.EventID,
		"X-Webhook-Event-Type": event.EventType,
		"X-Webhook-Timestamp":  strconv.FormatInt(timestamp, 10),
		"User-Agent":           e.userAgent,
	}

	resp, err := e.httpClient.PostWithHeadersNoRetry(ctx, client.WebhookURL, headers, bytes.NewReader(payload))
	if err != nil {
		logger.ErrorCtx(ctx, errors.New("failed to post webhook HTTP request"),
			zap.Error(err), zap.String("clientID", client.ClientID))

		e.markDelivery(ctx, client, deliveryID, schema.WebhookDeliveryStatusFailed, attempt, nil, "", err.Error())
		return webhook.DeliveryResult{Success: false, Error: err.Error()}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.WarnCtx(ctx, "failed to close response body", zap.Error(err), zap.String("url", client.WebhookURL))
		}
	}()

	respBody, err := e.io.ReadAll(io.LimitReader(resp.Body, MAX_RESPONSE_BODY_SIZE))
	if err != nil {
		logger.WarnCtx(ctx, "failed to read webhook response body",
			zap.Error(err), zap.String("clientID", client.ClientID))
		respBody = []byte{}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("HTTP %d", resp.StatusCode)
		logger.WarnCtx(ctx, "Webhook endpoint returned non-2xx status",
			zap.Int("statusCode", resp.StatusCode),
			zap.String("clientID", client.ClientID))

		e.markDelivery(ctx, client, deliveryID, schema.WebhookDeliveryStatusFailed, attempt, &resp.StatusCode, string(respBody), err.Error())
		return webhook.DeliveryResult{Success: false, StatusCode: resp.StatusCode, Body: string(respBody), Error: err.Error()}, err
	}

	e.markDelivery(ctx, client, deliveryID, schema.WebhookDeliveryStatusSuccess, attempt, &resp.StatusCode, string(respBody), "")

	return webhook.DeliveryResult{Success: true, StatusCode: resp.StatusCode, Body: string(respBody)}, nil
}

// markDelivery records the outcome of an attempt. Bookkeeping failures are logged only,
// the delivery outcome is what drives retries.
func (e *executor) markDelivery(ctx context.Context, client *schema.WebhookClient, deliveryID uint64, status schema.WebhookDeliveryStatus, attempt int, responseStatus *int, responseBody, errorMessage string) {
	if err := e.store.UpdateWebhookDeliveryStatus(ctx, deliveryID, status, attempt, responseStatus, responseBody, errorMessage); err != nil {
		logger.ErrorCtx(ctx, errors.New("failed to update webhook delivery status"),
			zap.Error(err),
			zap.String("clientID", client.ClientID),
			zap.Uint64("deliveryID", deliveryID))
	}
}
