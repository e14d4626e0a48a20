package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/esignature/internal/queue"
	"github.com/nikhilbhutani/esignature/internal/webhook"
)

// Deliverer sends one webhook delivery.
type Deliverer interface {
	Deliver(ctx context.Context, req webhook.DeliveryRequest) error
}

type WebhookWorker struct {
	deliverer Deliverer
}

func NewWebhookWorker(d Deliverer) *WebhookWorker {
	return &WebhookWorker{deliverer: d}
}

// ProcessTask delivers a queued event. Returning an error makes asynq
// retry with backoff; malformed payloads are skipped since retrying cannot
// fix them.
func (w *WebhookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.WebhookDeliverPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	webhookID, err := uuid.Parse(payload.WebhookID)
	if err != nil {
		return fmt.Errorf("parse webhook ID: %v: %w", err, asynq.SkipRetry)
	}

	retried, _ := asynq.GetRetryCount(ctx)
	slog.Info("delivering webhook", "webhook_id", webhookID, "event", payload.Event, "attempt", retried+1)

	return w.deliverer.Deliver(ctx, webhook.DeliveryRequest{
		WebhookID: webhookID,
		URL:       payload.URL,
		Secret:    payload.Secret,
		Event:     payload.Event,
		Payload:   []byte(payload.Payload),
		Attempt:   retried + 1,
	})
}
