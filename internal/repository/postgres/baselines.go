package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/nikhilbhutani/esignature/internal/models"
)

type BaselineRepo struct{ db }

const baselineColumns = `id, user_id, sign_image, feature_vector, created_at, updated_at`

func scanBaseline(row interface{ Scan(...any) error }) (*models.SignatureBaseline, error) {
	var (
		b   models.SignatureBaseline
		vec *pgvector.Vector
	)
	if err := row.Scan(&b.ID, &b.UserID, &b.SignImage, &vec, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	if vec != nil {
		b.FeatureVector = vec.Slice()
	}
	return &b, nil
}

// vectorArg maps an absent embedding to NULL.
func vectorArg(v []float32) any {
	if len(v) == 0 {
		return nil
	}
	return pgvector.NewVector(v)
}

func (r *BaselineRepo) Create(ctx context.Context, b *models.SignatureBaseline) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO signature_baselines (id, user_id, sign_image, feature_vector)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		b.ID, b.UserID, b.SignImage, vectorArg(b.FeatureVector),
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert baseline: %w", err)
	}
	return nil
}

func (r *BaselineRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.SignatureBaseline, error) {
	b, err := scanBaseline(r.conn(ctx).QueryRow(ctx,
		`SELECT `+baselineColumns+` FROM signature_baselines WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "baseline")
	}
	return b, nil
}

func (r *BaselineRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.SignatureBaseline, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+baselineColumns+` FROM signature_baselines WHERE user_id = $1 ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list baselines: %w", err)
	}
	defer rows.Close()

	var out []models.SignatureBaseline
	for rows.Next() {
		b, err := scanBaseline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func (r *BaselineRepo) CountByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM signature_baselines WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count baselines: %w", err)
	}
	return n, nil
}

func (r *BaselineRepo) Update(ctx context.Context, b *models.SignatureBaseline) error {
	err := r.conn(ctx).QueryRow(ctx,
		`UPDATE signature_baselines SET sign_image = $1, feature_vector = $2, updated_at = now()
		 WHERE id = $3 AND user_id = $4
		 RETURNING updated_at`,
		b.SignImage, vectorArg(b.FeatureVector), b.ID, b.UserID,
	).Scan(&b.UpdatedAt)
	if err != nil {
		return notFound(err, "baseline")
	}
	return nil
}
