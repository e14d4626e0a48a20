package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/repository"
)

type RequestRepo struct{ db }

const requestColumns = `id, document_id, requester_id, signer_id, recipient_email, note, status, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (*models.SignatureRequest, error) {
	var (
		r    models.SignatureRequest
		note *string
	)
	if err := row.Scan(&r.ID, &r.DocumentID, &r.RequesterID, &r.SignerID, &r.RecipientEmail,
		&note, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if note != nil {
		r.Note = *note
	}
	return &r, nil
}

func (r *RequestRepo) collect(ctx context.Context, sql string, args ...any) ([]models.SignatureRequest, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var out []models.SignatureRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, *req)
	}
	return out, rows.Err()
}

func (r *RequestRepo) Create(ctx context.Context, req *models.SignatureRequest) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = models.ReqStatusPending
	}
	req.RecipientEmail = strings.ToLower(strings.TrimSpace(req.RecipientEmail))
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO signature_requests (id, document_id, requester_id, signer_id, recipient_email, note, status)
		 VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		 RETURNING created_at, updated_at`,
		req.ID, req.DocumentID, req.RequesterID, req.SignerID, req.RecipientEmail, req.Note, req.Status,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

func (r *RequestRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SignatureRequest, error) {
	req, err := scanRequest(r.conn(ctx).QueryRow(ctx,
		`SELECT `+requestColumns+` FROM signature_requests WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "request")
	}
	return req, nil
}

func (r *RequestRepo) ListIncoming(ctx context.Context, signerID uuid.UUID, email string, f repository.RequestFilter) ([]models.SignatureRequest, error) {
	return r.collect(ctx,
		`SELECT `+requestColumns+` FROM signature_requests
		 WHERE (signer_id = $1 OR recipient_email = $2) AND ($3 = '' OR status = $3)
		 ORDER BY created_at DESC`,
		signerID, strings.ToLower(email), f.Status)
}

func (r *RequestRepo) ListOutgoing(ctx context.Context, requesterID uuid.UUID, f repository.RequestFilter) ([]models.SignatureRequest, error) {
	return r.collect(ctx,
		`SELECT `+requestColumns+` FROM signature_requests
		 WHERE requester_id = $1 AND ($2 = '' OR status = $2)
		 ORDER BY created_at DESC`,
		requesterID, f.Status)
}

func (r *RequestRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.SignatureRequest, error) {
	return r.collect(ctx,
		`SELECT `+requestColumns+` FROM signature_requests WHERE document_id = $1 ORDER BY created_at ASC`,
		documentID)
}

func (r *RequestRepo) ListHistory(ctx context.Context, userID uuid.UUID, email string, statuses []string) ([]models.SignatureRequest, error) {
	return r.collect(ctx,
		`SELECT `+requestColumns+` FROM signature_requests
		 WHERE (requester_id = $1 OR signer_id = $1 OR recipient_email = $2) AND status = ANY($3)
		 ORDER BY updated_at DESC`,
		userID, strings.ToLower(email), statuses)
}

func (r *RequestRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE signature_requests SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("request not in status %s: %w", from, apperr.ErrConflict)
	}
	return nil
}

func (r *RequestRepo) SetSigner(ctx context.Context, id, signerID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE signature_requests SET signer_id = $1, updated_at = now() WHERE id = $2 AND signer_id IS NULL`,
		signerID, id)
	if err != nil {
		return fmt.Errorf("set request signer: %w", err)
	}
	return nil
}

func (r *RequestRepo) BackfillSigner(ctx context.Context, email string, signerID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE signature_requests SET signer_id = $1, updated_at = now()
		 WHERE signer_id IS NULL AND recipient_email = $2`,
		signerID, strings.ToLower(email))
	if err != nil {
		return 0, fmt.Errorf("backfill signer: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *RequestRepo) CountNotCompleted(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM signature_requests WHERE document_id = $1 AND status <> $2`,
		documentID, models.ReqStatusCompleted).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open requests: %w", err)
	}
	return n, nil
}
