package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
)

type UserRepo struct{ db }

const userColumns = `id, name, email, password_hash, role, status_regis, register_date`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.Role, &u.StatusRegis, &u.RegisterDate); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx,
		`INSERT INTO users (id, name, email, password_hash, role, status_regis)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING register_date`,
		u.ID, u.Name, strings.ToLower(u.Email), u.PasswordHash, u.Role, u.StatusRegis,
	).Scan(&u.RegisterDate)
	if isUniqueViolation(err) {
		return fmt.Errorf("email already registered: %w", apperr.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, err := scanUser(r.conn(ctx).QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
	if err != nil {
		return nil, notFound(err, "user")
	}
	return u, nil
}

func (r *UserRepo) Update(ctx context.Context, u *models.User) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE users SET name = $1, role = $2, status_regis = $3 WHERE id = $4`,
		u.Name, u.Role, u.StatusRegis, u.ID)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("user")
	}
	return nil
}

func (r *UserRepo) SearchByEmail(ctx context.Context, q string, exclude uuid.UUID, limit int) ([]models.UserSummary, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT id, name, email FROM users
		 WHERE email ILIKE '%' || $1 || '%' AND id <> $2
		 ORDER BY email LIMIT $3`,
		q, exclude, limit)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var out []models.UserSummary
	for rows.Next() {
		var s models.UserSummary
		if err := rows.Scan(&s.ID, &s.Name, &s.Email); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *UserRepo) ListByRoleStatus(ctx context.Context, role, status string) ([]models.User, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+userColumns+` FROM users WHERE role = $1 AND status_regis = $2 ORDER BY register_date`,
		role, status)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}
