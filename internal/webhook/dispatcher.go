package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/auth"
	"github.com/nikhilbhutani/esignature/internal/models"
)

type DeliveryRequest struct {
	WebhookID uuid.UUID `json:"webhook_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret"`
	Event     string    `json:"event"`
	Payload   []byte    `json:"payload"`
	Attempt   int       `json:"attempt,omitempty"`
}

// DeliveryRecorder stores the outcome of each delivery attempt.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

// Dispatcher posts signed events to subscriber URLs. Deliver is called by
// the queue worker; Enqueue runs deliveries in process for deployments
// without a worker.
type Dispatcher struct {
	recorder   DeliveryRecorder
	httpClient *http.Client
	deliveries chan DeliveryRequest
	done       chan struct{}
}

func NewDispatcher(recorder DeliveryRecorder, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		recorder:   recorder,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Start launches the in-process delivery loop. Close stops it after the
// queued deliveries have been sent.
func (d *Dispatcher) Start(buffer int) {
	d.deliveries = make(chan DeliveryRequest, buffer)
	d.done = make(chan struct{})
	go d.processLoop()
}

func (d *Dispatcher) Close() {
	if d.deliveries == nil {
		return
	}
	close(d.deliveries)
	<-d.done
}

func (d *Dispatcher) Enqueue(_ context.Context, req DeliveryRequest) error {
	if d.deliveries == nil {
		return fmt.Errorf("webhook dispatcher not started")
	}
	select {
	case d.deliveries <- req:
		return nil
	default:
		slog.Warn("webhook delivery queue full, dropping", "webhook_id", req.WebhookID, "event", req.Event)
		return fmt.Errorf("webhook delivery queue full")
	}
}

func (d *Dispatcher) processLoop() {
	defer close(d.done)
	for req := range d.deliveries {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		_ = d.Deliver(ctx, req)
		cancel()
	}
}

// Deliver posts one event and records the attempt. Transport failures and
// non-2xx/3xx responses are returned so the caller can retry.
func (d *Dispatcher) Deliver(ctx context.Context, req DeliveryRequest) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(req.Payload))
	if err != nil {
		d.recordDelivery(ctx, req, 0)
		return fmt.Errorf("build webhook request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Webhook-Event", req.Event)
	httpReq.Header.Set("X-Webhook-Signature", "sha256="+auth.SignPayload(req.Secret, req.Payload))
	httpReq.Header.Set("X-Webhook-ID", req.WebhookID.String())

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		slog.Error("webhook delivery failed", "error", err, "webhook_id", req.WebhookID)
		d.recordDelivery(ctx, req, 0)
		return fmt.Errorf("deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	d.recordDelivery(ctx, req, resp.StatusCode)

	if resp.StatusCode >= 400 {
		slog.Warn("webhook received non-success response", "status", resp.StatusCode, "webhook_id", req.WebhookID)
		return fmt.Errorf("webhook endpoint returned %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) recordDelivery(ctx context.Context, req DeliveryRequest, status int) {
	if d.recorder == nil {
		return
	}
	var deliveredAt *time.Time
	if status > 0 && status < 400 {
		now := time.Now()
		deliveredAt = &now
	}
	attempts := req.Attempt
	if attempts <= 0 {
		attempts = 1
	}
	// The request ctx may be done after a timeout; the record still matters.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	err := d.recorder.RecordDelivery(rctx, &models.WebhookDelivery{
		WebhookID:      req.WebhookID,
		Event:          req.Event,
		Payload:        req.Payload,
		ResponseStatus: status,
		Attempts:       attempts,
		DeliveredAt:    deliveredAt,
	})
	if err != nil {
		slog.Error("failed to record webhook delivery", "error", err)
	}
}
