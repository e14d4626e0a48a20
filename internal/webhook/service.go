// Package webhook manages outbound event subscriptions and the inbound
// callback from the external signing provider.
package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/repository"
)

// Events users may subscribe to. "*" subscribes to all of them.
var Events = []string{
	"request.created",
	"request.approved",
	"request.rejected",
	"document.signed",
	"document.completed",
}

// Enqueuer hands a delivery to whatever sends it.
type Enqueuer interface {
	Enqueue(ctx context.Context, req DeliveryRequest) error
}

type Service struct {
	repo  repository.Webhooks
	queue Enqueuer
	now   func() time.Time
}

func NewService(repo repository.Webhooks, queue Enqueuer) *Service {
	return &Service{repo: repo, queue: queue, now: time.Now}
}

type CreateRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

func validEvent(e string) bool {
	if e == "*" {
		return true
	}
	for _, known := range Events {
		if e == known {
			return true
		}
	}
	return false
}

func (s *Service) Create(ctx context.Context, actor models.Actor, req CreateRequest) (*models.Webhook, error) {
	u, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Validation("url must be an absolute http(s) URL")
	}
	if len(req.Events) == 0 {
		return nil, apperr.Validation("at least one event is required")
	}
	for _, e := range req.Events {
		if !validEvent(e) {
			return nil, apperr.Validationf("unknown event %q", e)
		}
	}

	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	wh := &models.Webhook{
		UserID:   actor.ID,
		URL:      u.String(),
		Events:   req.Events,
		Secret:   secret,
		IsActive: true,
	}
	if err := s.repo.Create(ctx, wh); err != nil {
		return nil, err
	}
	return wh, nil
}

func (s *Service) List(ctx context.Context, actor models.Actor) ([]models.Webhook, error) {
	return s.repo.ListByUser(ctx, actor.ID)
}

func (s *Service) Delete(ctx context.Context, actor models.Actor, id uuid.UUID) error {
	return s.repo.Delete(ctx, actor.ID, id)
}

type envelope struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      any       `json:"data"`
}

// Notify queues event for every webhook of userID subscribed to it.
// Failures are logged; notifications never fail the operation that
// raised them.
func (s *Service) Notify(ctx context.Context, userID uuid.UUID, event string, data any) {
	if s.queue == nil {
		return
	}
	hooks, err := s.repo.ListSubscribed(ctx, userID, event)
	if err != nil {
		slog.Warn("list webhook subscriptions failed", "user_id", userID, "event", event, "error", err)
		return
	}
	if len(hooks) == 0 {
		return
	}
	payload, err := json.Marshal(envelope{ID: uuid.NewString(), Event: event, CreatedAt: s.now().UTC(), Data: data})
	if err != nil {
		slog.Error("marshal webhook payload failed", "event", event, "error", err)
		return
	}
	for _, wh := range hooks {
		err := s.queue.Enqueue(ctx, DeliveryRequest{
			WebhookID: wh.ID,
			URL:       wh.URL,
			Secret:    wh.Secret,
			Event:     event,
			Payload:   payload,
		})
		if err != nil {
			slog.Warn("enqueue webhook delivery failed", "webhook_id", wh.ID, "event", event, "error", err)
		}
	}
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(b), nil
}
