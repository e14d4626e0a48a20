package signrequest

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
)

// SignerRef names the signer of a request either by account id or by an
// email address that may not belong to an account yet.
type SignerRef struct {
	id    uuid.UUID
	email string
}

func ByID(id uuid.UUID) SignerRef { return SignerRef{id: id} }

func ByEmail(email string) SignerRef {
	return SignerRef{email: strings.ToLower(strings.TrimSpace(email))}
}

// ParseSignerRef builds a ref from request fields. The id wins when both
// are given.
func ParseSignerRef(signerID, email string) (SignerRef, error) {
	if signerID = strings.TrimSpace(signerID); signerID != "" {
		id, err := uuid.Parse(signerID)
		if err != nil {
			return SignerRef{}, apperr.Validation("signer_id must be a UUID")
		}
		return ByID(id), nil
	}
	if strings.TrimSpace(email) == "" {
		return SignerRef{}, apperr.Validation("signer_id or recipient_email is required")
	}
	ref := ByEmail(email)
	if _, err := mail.ParseAddress(ref.email); err != nil {
		return SignerRef{}, apperr.Validationf("invalid recipient_email %q", email)
	}
	return ref, nil
}

func (r SignerRef) IsEmail() bool { return r.id == uuid.Nil }

// Directory looks up accounts.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// Resolved is a signer after lookup. SignerID is nil when the email has no
// account yet.
type Resolved struct {
	SignerID *uuid.UUID
	Email    string
	User     *models.User
}

// Resolve looks the signer up in dir. An id must name an existing account;
// an email without an account resolves to an unbound signer.
func (r SignerRef) Resolve(ctx context.Context, dir Directory) (Resolved, error) {
	if !r.IsEmail() {
		u, err := dir.GetByID(ctx, r.id)
		if errors.Is(err, apperr.ErrNotFound) {
			return Resolved{}, apperr.Validation("signer does not exist")
		}
		if err != nil {
			return Resolved{}, err
		}
		id := u.ID
		return Resolved{SignerID: &id, Email: u.Email, User: u}, nil
	}

	u, err := dir.GetByEmail(ctx, r.email)
	if errors.Is(err, apperr.ErrNotFound) {
		return Resolved{Email: r.email}, nil
	}
	if err != nil {
		return Resolved{}, err
	}
	id := u.ID
	return Resolved{SignerID: &id, Email: u.Email, User: u}, nil
}
