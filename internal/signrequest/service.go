// Package signrequest implements the request protocol between a document
// owner and the signers they ask.
package signrequest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/cache"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/repository"
)

const (
	EventCreated  = "request.created"
	EventApproved = "request.approved"
	EventRejected = "request.rejected"
)

// Notifier fans domain events out to a user's subscribers.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data any)
}

// StatusCache stores public status snapshots.
type StatusCache interface {
	Get(ctx context.Context, key string, dest any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Rejecter moves a document to rejected once a signer declines.
type Rejecter interface {
	MarkRejected(ctx context.Context, documentID uuid.UUID) error
}

type Service struct {
	requests  repository.Requests
	documents repository.Documents
	users     repository.Users
	baselines repository.Baselines
	tx        repository.Transactor
	rejecter  Rejecter
	cache     StatusCache
	notifier  Notifier
	cacheTTL  time.Duration
}

type Option func(*Service)

func WithCache(c StatusCache, ttl time.Duration) Option {
	return func(s *Service) { s.cache, s.cacheTTL = c, ttl }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(store *repository.Store, rejecter Rejecter, opts ...Option) *Service {
	s := &Service{
		requests:  store.Requests,
		documents: store.Documents,
		users:     store.Users,
		baselines: store.Baselines,
		tx:        store.Tx,
		rejecter:  rejecter,
		cacheTTL:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	DocumentID uuid.UUID
	Signer     SignerRef
	Note       string
}

// Create records a pending request from the document owner to a signer.
// Documents of other users are reported as not found.
func (s *Service) Create(ctx context.Context, actor models.Actor, in CreateInput) (*models.SignatureRequest, error) {
	doc, err := s.documents.GetByID(ctx, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.UserID != actor.ID {
		return nil, apperr.NotFound("document")
	}
	if models.IsTerminalDocStatus(doc.Status) {
		return nil, apperr.Finalized("document", doc.Status)
	}

	signer, err := in.Signer.Resolve(ctx, s.users)
	if err != nil {
		return nil, err
	}
	if (signer.SignerID != nil && *signer.SignerID == actor.ID) || strings.EqualFold(signer.Email, actor.Email) {
		return nil, apperr.Validation("cannot request your own signature; sign the document directly")
	}

	req := &models.SignatureRequest{
		DocumentID:     doc.ID,
		RequesterID:    actor.ID,
		SignerID:       signer.SignerID,
		RecipientEmail: signer.Email,
		Note:           strings.TrimSpace(in.Note),
		Status:         models.ReqStatusPending,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	slog.Info("signature request created",
		"request_id", req.ID, "document_id", doc.ID, "requester_id", actor.ID, "bound", req.SignerID != nil)
	s.Invalidate(ctx, doc.ID)
	s.notify(ctx, req, EventCreated)
	return req, nil
}

func (s *Service) Approve(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.SignatureRequest, error) {
	return s.decide(ctx, actor, id, models.ReqStatusApproved, nil)
}

// Reject declines a request. The document it belongs to becomes rejected in
// the same transaction.
func (s *Service) Reject(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.SignatureRequest, error) {
	return s.decide(ctx, actor, id, models.ReqStatusRejected, func(ctx context.Context, req *models.SignatureRequest) error {
		if s.rejecter == nil {
			return nil
		}
		if err := s.rejecter.MarkRejected(ctx, req.DocumentID); err != nil {
			return fmt.Errorf("mark document rejected: %w", err)
		}
		return nil
	})
}

// decide moves a pending request to approved or rejected on behalf of its
// signer. then runs inside the same transaction as the status change. The
// public snapshot is dropped only after commit.
func (s *Service) decide(ctx context.Context, actor models.Actor, id uuid.UUID, to string,
	then func(ctx context.Context, req *models.SignatureRequest) error) (*models.SignatureRequest, error) {
	req, err := s.addressedTo(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if req.Status != models.ReqStatusPending {
		return nil, apperr.Finalized("request", req.Status)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		err := s.requests.TransitionStatus(ctx, req.ID, models.ReqStatusPending, to)
		if errors.Is(err, apperr.ErrConflict) {
			cur, gerr := s.requests.GetByID(ctx, req.ID)
			if gerr != nil {
				return gerr
			}
			return apperr.Finalized("request", cur.Status)
		}
		if err != nil {
			return err
		}
		if then != nil {
			return then(ctx, req)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	req.Status = to

	slog.Info("signature request decided", "request_id", req.ID, "signer_id", actor.ID, "status", to)
	s.Invalidate(ctx, req.DocumentID)
	event := EventApproved
	if to == models.ReqStatusRejected {
		event = EventRejected
	}
	s.notify(ctx, req, event)
	return req, nil
}

// addressedTo loads a request the actor may act on as signer, binding the
// actor's account when the request was addressed to their email. Requests
// addressed to someone else are reported as not found.
func (s *Service) addressedTo(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.SignatureRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsSigner(actor.ID) {
		return req, nil
	}
	if req.SignerID == nil && actor.Email != "" && strings.EqualFold(req.RecipientEmail, actor.Email) {
		if err := s.requests.SetSigner(ctx, req.ID, actor.ID); err != nil {
			return nil, err
		}
		signer := actor.ID
		req.SignerID = &signer
		slog.Info("request signer bound from email", "request_id", req.ID, "signer_id", actor.ID)
		return req, nil
	}
	return nil, apperr.NotFound("request")
}

// Get returns a request visible to the actor as requester or signer.
func (s *Service) Get(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.SignatureRequest, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID == actor.ID {
		return req, nil
	}
	return s.addressedTo(ctx, actor, id)
}

func validStatusFilter(status string) (repository.RequestFilter, error) {
	status = strings.TrimSpace(strings.ToLower(status))
	if status != "" && !models.ValidRequestStatus(status) {
		return repository.RequestFilter{}, apperr.Validationf("unknown status %q", status)
	}
	return repository.RequestFilter{Status: status}, nil
}

// ListIncoming lists requests addressed to the actor. Requests sent to the
// actor's email before they had an account are bound to them first.
func (s *Service) ListIncoming(ctx context.Context, actor models.Actor, status string) ([]models.SignatureRequest, error) {
	f, err := validStatusFilter(status)
	if err != nil {
		return nil, err
	}
	if actor.Email != "" {
		n, err := s.requests.BackfillSigner(ctx, actor.Email, actor.ID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			slog.Info("request signers bound from email", "signer_id", actor.ID, "count", n)
		}
	}
	return s.requests.ListIncoming(ctx, actor.ID, actor.Email, f)
}

func (s *Service) ListOutgoing(ctx context.Context, actor models.Actor, status string) ([]models.SignatureRequest, error) {
	f, err := validStatusFilter(status)
	if err != nil {
		return nil, err
	}
	return s.requests.ListOutgoing(ctx, actor.ID, f)
}

// History lists resolved requests the actor took part in.
func (s *Service) History(ctx context.Context, actor models.Actor) ([]models.SignatureRequest, error) {
	return s.requests.ListHistory(ctx, actor.ID, actor.Email,
		[]string{models.ReqStatusApproved, models.ReqStatusRejected, models.ReqStatusCompleted})
}

// ApprovedSignature is what a requester needs to apply an approved
// request's signature.
type ApprovedSignature struct {
	Request   *models.SignatureRequest   `json:"request"`
	Document  *models.Document           `json:"document"`
	Signer    models.UserSummary         `json:"signer"`
	Baselines []models.SignatureBaseline `json:"baselines"`
}

// ApprovedSignature returns the signer's enrolled baselines for an approved
// request. Only the requester may fetch it, and only until the document is
// signed.
func (s *Service) ApprovedSignature(ctx context.Context, actor models.Actor, id uuid.UUID) (*ApprovedSignature, error) {
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != actor.ID {
		return nil, apperr.NotFound("request")
	}
	if req.Status != models.ReqStatusApproved {
		return nil, &apperr.StateError{Resource: "request", Current: req.Status, Msg: "is not approved"}
	}
	if req.SignerID == nil {
		return nil, &apperr.StateError{Resource: "request", Current: req.Status, Msg: "has no bound signer"}
	}
	doc, err := s.documents.GetByID(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.DocStatusSigned || models.IsTerminalDocStatus(doc.Status) {
		return nil, &apperr.StateError{Resource: "document", Current: doc.Status, Msg: "is already signed"}
	}
	signer, err := s.users.GetByID(ctx, *req.SignerID)
	if err != nil {
		return nil, err
	}
	baselines, err := s.baselines.ListByUser(ctx, signer.ID)
	if err != nil {
		return nil, err
	}
	return &ApprovedSignature{Request: req, Document: doc, Signer: signer.Summary(), Baselines: baselines}, nil
}

func (s *Service) notify(ctx context.Context, req *models.SignatureRequest, event string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, req.RequesterID, event, req)
	if req.SignerID != nil && *req.SignerID != req.RequesterID {
		s.notifier.Notify(ctx, *req.SignerID, event, req)
	}
}

// PublicSigner is one signer as shown on the public verification page.
type PublicSigner struct {
	RequestID uuid.UUID  `json:"request_id"`
	SignerID  *uuid.UUID `json:"signer_id"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type PublicDocument struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	FilePath  string    `json:"file_path"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PublicStatus is the unauthenticated view of a document's signing state.
type PublicStatus struct {
	Document PublicDocument     `json:"document"`
	Owner    models.UserSummary `json:"owner"`
	Signers  []PublicSigner     `json:"signers"`
}

func publicKey(documentID uuid.UUID) string { return "public:" + documentID.String() }

// PublicStatus returns the signing state of a document for QR scanners.
// Snapshots are cached until the next change to the document.
func (s *Service) PublicStatus(ctx context.Context, documentID uuid.UUID) (*PublicStatus, error) {
	if s.cache != nil {
		var cached PublicStatus
		err := s.cache.Get(ctx, publicKey(documentID), &cached)
		if err == nil {
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			slog.Warn("public status cache read failed", "document_id", documentID, "error", err)
		}
	}

	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	owner, err := s.users.GetByID(ctx, doc.UserID)
	if err != nil {
		return nil, err
	}
	reqs, err := s.requests.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	status := &PublicStatus{
		Document: PublicDocument{
			ID: doc.ID, Title: doc.Title, Status: doc.Status, FilePath: doc.FilePath,
			CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
		},
		Owner:   owner.Summary(),
		Signers: make([]PublicSigner, 0, len(reqs)),
	}
	for _, r := range reqs {
		ps := PublicSigner{
			RequestID: r.ID, SignerID: r.SignerID, Email: r.RecipientEmail,
			Status: r.Status, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		}
		if r.SignerID != nil {
			if u, err := s.users.GetByID(ctx, *r.SignerID); err == nil {
				ps.Name, ps.Email = u.Name, u.Email
			}
		}
		status.Signers = append(status.Signers, ps)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, publicKey(documentID), status, s.cacheTTL); err != nil {
			slog.Warn("public status cache write failed", "document_id", documentID, "error", err)
		}
	}
	return status, nil
}

// Invalidate drops the cached public snapshot of a document.
func (s *Service) Invalidate(ctx context.Context, documentID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, publicKey(documentID)); err != nil {
		slog.Warn("public status cache invalidation failed", "document_id", documentID, "error", err)
	}
}
