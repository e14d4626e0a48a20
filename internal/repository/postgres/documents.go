package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
)

type DocumentRepo struct{ db }

const documentColumns = `id, user_id, title, file_path, status, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var d models.Document
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &d.FilePath, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DocumentRepo) Create(ctx context.Context, d *models.Document) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO documents (id, user_id, title, file_path, status)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at, updated_at`,
		d.ID, d.UserID, d.Title, d.FilePath, d.Status,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// GetByID locks the row when called inside a transaction so status
// changes made in that transaction are based on what they read.
func (r *DocumentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	if r.inTx(ctx) {
		query += ` FOR UPDATE`
	}
	d, err := scanDocument(r.conn(ctx).QueryRow(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "document")
	}
	return d, nil
}

func (r *DocumentRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Document, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

func (r *DocumentRepo) UpdateFile(ctx context.Context, id uuid.UUID, filePath, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE documents SET file_path = $1, status = $2, updated_at = now() WHERE id = $3`,
		filePath, status, id)
	if err != nil {
		return fmt.Errorf("update document file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("document")
	}
	return nil
}

func (r *DocumentRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE documents SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("document")
	}
	return nil
}
