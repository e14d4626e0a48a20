// Package identity manages accounts: registration, login, profiles and the
// admin approval flow for elevated accounts.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/repository"
)

const (
	minNameLen     = 3
	minPasswordLen = 6
	minSearchLen   = 2
	searchLimit    = 10
)

var ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", apperr.ErrUnauthorized)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(u *models.User) (string, time.Time, error)
}

type Service struct {
	users      repository.Users
	tokens     TokenIssuer
	bcryptCost int
}

func NewService(users repository.Users, tokens TokenIssuer, bcryptCost int) *Service {
	if bcryptCost < bcrypt.MinCost {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{users: users, tokens: tokens, bcryptCost: bcryptCost}
}

type RegisterInput struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	RequestAdmin bool   `json:"request_admin"`
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateAccount(name, email, password string) error {
	if len(strings.TrimSpace(name)) < minNameLen {
		return apperr.Validationf("name must be at least %d characters", minNameLen)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return apperr.Validation("a valid email is required")
	}
	if len(password) < minPasswordLen {
		return apperr.Validationf("password must be at least %d characters", minPasswordLen)
	}
	return nil
}

// Register creates an account. Accounts asking for admin rights start as
// pending admin requests and cannot log in until an admin approves them.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if err := validateAccount(in.Name, email, in.Password); err != nil {
		return nil, err
	}
	u := &models.User{
		Name:        strings.TrimSpace(in.Name),
		Email:       email,
		Role:        models.RoleUser,
		StatusRegis: models.RegisApproved,
	}
	if in.RequestAdmin {
		u.Role, u.StatusRegis = models.RoleAdminRequest, models.RegisPending
	}
	if err := s.create(ctx, u, in.Password); err != nil {
		return nil, err
	}
	slog.Info("user registered", "user_id", u.ID, "role", u.Role, "status", u.StatusRegis)
	return u, nil
}

// CreateAdmin creates an approved admin account directly.
func (s *Service) CreateAdmin(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if err := validateAccount(in.Name, email, in.Password); err != nil {
		return nil, err
	}
	u := &models.User{
		Name:        strings.TrimSpace(in.Name),
		Email:       email,
		Role:        models.RoleAdmin,
		StatusRegis: models.RegisApproved,
	}
	if err := s.create(ctx, u, in.Password); err != nil {
		return nil, err
	}
	slog.Info("admin created", "user_id", u.ID)
	return u, nil
}

// EnsureAdmin creates the admin account unless one with that email exists.
// It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, in RegisterInput) (bool, error) {
	_, err := s.users.GetByEmail(ctx, normalizeEmail(in.Email))
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return false, err
	}
	if _, err := s.CreateAdmin(ctx, in); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) create(ctx context.Context, u *models.User, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return fmt.Errorf("email already registered: %w", apperr.ErrConflict)
		}
		return err
	}
	return nil
}

type Session struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      models.User `json:"user"`
}

// Login checks the password and issues a token. Pending admin requests and
// rejected accounts are refused even with the right password; a wrong
// password never reveals the account status.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	u, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	if u.StatusRegis == models.RegisPending {
		return nil, fmt.Errorf("%w: account is awaiting admin approval", apperr.ErrForbidden)
	}
	if u.StatusRegis == models.RegisRejected {
		return nil, fmt.Errorf("%w: admin request was rejected", apperr.ErrForbidden)
	}

	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, ExpiresAt: exp, User: *u}, nil
}

func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *Service) UpdateName(ctx context.Context, userID uuid.UUID, name string) (*models.User, error) {
	name = strings.TrimSpace(name)
	if len(name) < minNameLen {
		return nil, apperr.Validationf("name must be at least %d characters", minNameLen)
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	u.Name = name
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Search finds other users by email substring for the request form.
func (s *Service) Search(ctx context.Context, actor models.Actor, q string) ([]models.UserSummary, error) {
	q = strings.ToLower(strings.TrimSpace(q))
	if len(q) < minSearchLen {
		return []models.UserSummary{}, nil
	}
	return s.users.SearchByEmail(ctx, q, actor.ID, searchLimit)
}

func (s *Service) PendingAdmins(ctx context.Context) ([]models.User, error) {
	return s.users.ListByRoleStatus(ctx, models.RoleAdminRequest, models.RegisPending)
}

// ApproveAdmin promotes a pending admin request.
func (s *Service) ApproveAdmin(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.decideAdmin(ctx, id, true)
}

// RejectAdmin declines a pending admin request. The account can no longer
// log in.
func (s *Service) RejectAdmin(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.decideAdmin(ctx, id, false)
}

func (s *Service) decideAdmin(ctx context.Context, id uuid.UUID, approve bool) (*models.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleAdminRequest {
		return nil, apperr.NotFound("admin request")
	}
	if u.StatusRegis != models.RegisPending {
		return nil, apperr.Finalized("admin request", u.StatusRegis)
	}
	if approve {
		u.Role, u.StatusRegis = models.RoleAdmin, models.RegisApproved
	} else {
		u.StatusRegis = models.RegisRejected
	}
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	slog.Info("admin request decided", "user_id", u.ID, "status", u.StatusRegis)
	return u, nil
}
