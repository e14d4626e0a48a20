// Package repository declares the persistence contracts used by the
// services. The postgres subpackage implements them on pgx; memstore keeps
// everything in memory for tests and local experiments.
package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/models"
)

type Users interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, u *models.User) error
	SearchByEmail(ctx context.Context, q string, exclude uuid.UUID, limit int) ([]models.UserSummary, error)
	ListByRoleStatus(ctx context.Context, role, status string) ([]models.User, error)
}

type Documents interface {
	Create(ctx context.Context, d *models.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Document, error)
	UpdateFile(ctx context.Context, id uuid.UUID, filePath, status string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type Baselines interface {
	Create(ctx context.Context, b *models.SignatureBaseline) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SignatureBaseline, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.SignatureBaseline, error)
	CountByUser(ctx context.Context, userID uuid.UUID) (int, error)
	Update(ctx context.Context, b *models.SignatureBaseline) error
}

// RequestFilter narrows request listings. Zero values match everything.
type RequestFilter struct {
	Status string
}

type Requests interface {
	Create(ctx context.Context, r *models.SignatureRequest) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.SignatureRequest, error)
	ListIncoming(ctx context.Context, signerID uuid.UUID, email string, f RequestFilter) ([]models.SignatureRequest, error)
	ListOutgoing(ctx context.Context, requesterID uuid.UUID, f RequestFilter) ([]models.SignatureRequest, error)
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.SignatureRequest, error)
	ListHistory(ctx context.Context, userID uuid.UUID, email string, statuses []string) ([]models.SignatureRequest, error)
	// TransitionStatus moves a request from one status to another. It
	// returns apperr.ErrConflict when the stored status is not from.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to string) error
	SetSigner(ctx context.Context, id, signerID uuid.UUID) error
	// BackfillSigner binds every unresolved request addressed to email.
	BackfillSigner(ctx context.Context, email string, signerID uuid.UUID) (int, error)
	CountNotCompleted(ctx context.Context, documentID uuid.UUID) (int, error)
}

// LogQuery filters verification log listings. A nil UserID lists all users.
type LogQuery struct {
	UserID *uuid.UUID
	Limit  int
	Offset int
}

type VerificationLogs interface {
	Create(ctx context.Context, l *models.LogVerification) error
	List(ctx context.Context, q LogQuery) ([]models.LogVerificationView, error)
}

type Webhooks interface {
	Create(ctx context.Context, w *models.Webhook) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Webhook, error)
	ListSubscribed(ctx context.Context, userID uuid.UUID, event string) ([]models.Webhook, error)
	Delete(ctx context.Context, userID, id uuid.UUID) error
	RecordDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

// Transactor runs fn so that every repository call made with the ctx it
// receives joins one transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles every repository.
type Store struct {
	Users     Users
	Documents Documents
	Baselines Baselines
	Requests  Requests
	Logs      VerificationLogs
	Webhooks  Webhooks
	Tx        Transactor
}
