package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/repository"
)

type LogRepo struct{ db }

func (r *LogRepo) Create(ctx context.Context, l *models.LogVerification) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO log_verifications (id, document_id, user_id, verification_result, similarity_score)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING timestamp`,
		l.ID, l.DocumentID, l.UserID, l.VerificationResult, l.SimilarityScore,
	).Scan(&l.Timestamp)
	if err != nil {
		return fmt.Errorf("insert verification log: %w", err)
	}
	return nil
}

func (r *LogRepo) List(ctx context.Context, q repository.LogQuery) ([]models.LogVerificationView, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	query := `SELECT l.id, l.document_id, l.user_id, l.verification_result, l.similarity_score, l.timestamp,
	                 u.id, u.name, u.email, d.id, d.title, d.file_path
	          FROM log_verifications l
	          JOIN users u ON u.id = l.user_id
	          JOIN documents d ON d.id = l.document_id`
	args := []any{}
	argIdx := 1

	if q.UserID != nil {
		query += fmt.Sprintf(" WHERE l.user_id = $%d", argIdx)
		args = append(args, *q.UserID)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY l.timestamp DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query verification logs: %w", err)
	}
	defer rows.Close()

	var out []models.LogVerificationView
	for rows.Next() {
		var v models.LogVerificationView
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.UserID, &v.VerificationResult, &v.SimilarityScore, &v.Timestamp,
			&v.User.ID, &v.User.Name, &v.User.Email, &v.Document.ID, &v.Document.Title, &v.Document.FilePath); err != nil {
			return nil, fmt.Errorf("scan verification log: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
