package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
)

type WebhookRepo struct{ db }

func (r *WebhookRepo) Create(ctx context.Context, w *models.Webhook) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	eventsJSON, _ := json.Marshal(w.Events)
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO webhooks (id, user_id, url, events, secret, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		w.ID, w.UserID, w.URL, eventsJSON, w.Secret, w.IsActive,
	).Scan(&w.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (r *WebhookRepo) list(ctx context.Context, sql string, args ...any) ([]models.Webhook, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	var out []models.Webhook
	for rows.Next() {
		var (
			wh     models.Webhook
			events []byte
		)
		if err := rows.Scan(&wh.ID, &wh.UserID, &wh.URL, &events, &wh.Secret, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		if err := json.Unmarshal(events, &wh.Events); err != nil {
			return nil, fmt.Errorf("decode webhook events: %w", err)
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

func (r *WebhookRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Webhook, error) {
	return r.list(ctx,
		`SELECT id, user_id, url, events, secret, is_active, created_at
		 FROM webhooks WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *WebhookRepo) ListSubscribed(ctx context.Context, userID uuid.UUID, event string) ([]models.Webhook, error) {
	return r.list(ctx,
		`SELECT id, user_id, url, events, secret, is_active, created_at
		 FROM webhooks
		 WHERE user_id = $1 AND is_active = true AND (events @> $2::jsonb OR events @> '["*"]'::jsonb)`,
		userID, fmt.Sprintf(`[%q]`, event))
}

func (r *WebhookRepo) Delete(ctx context.Context, userID, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM webhooks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("webhook")
	}
	return nil
}

func (r *WebhookRepo) RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO webhook_deliveries (webhook_id, event, payload, response_status, attempts, delivered_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		d.WebhookID, d.Event, d.Payload, d.ResponseStatus, d.Attempts, d.DeliveredAt)
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}
