// Package signing runs the signing pipeline: verify or authorise the
// signature, render the signed copy, then commit the new document state.
package signing

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/baseline"
	"github.com/nikhilbhutani/esignature/internal/cache"
	"github.com/nikhilbhutani/esignature/internal/lifecycle"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/oracle"
	"github.com/nikhilbhutani/esignature/internal/render"
	"github.com/nikhilbhutani/esignature/internal/repository"
	"github.com/nikhilbhutani/esignature/internal/storage"
	"github.com/nikhilbhutani/esignature/internal/verification"
)

const (
	EventSigned    = "document.signed"
	EventCompleted = "document.completed"
)

// Notifier fans domain events out to a user's subscribers.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event string, data any)
}

// Invalidator drops cached public views of a document.
type Invalidator interface {
	Invalidate(ctx context.Context, documentID uuid.UUID)
}

// BaselineImages loads stored baseline images.
type BaselineImages interface {
	Image(ctx context.Context, b *models.SignatureBaseline) (oracle.Image, error)
}

type Service struct {
	docs      repository.Documents
	baselines repository.Baselines
	requests  repository.Requests
	store     storage.Storage
	engine    *verification.Engine
	renderer  *render.Renderer
	lifecycle *lifecycle.Manager
	images    BaselineImages
	locks     cache.Locker
	lockTTL   time.Duration

	invalidator Invalidator
	notifier    Notifier
}

type Deps struct {
	Store     *repository.Store
	Files     storage.Storage
	Engine    *verification.Engine
	Renderer  *render.Renderer
	Lifecycle *lifecycle.Manager
	Images    BaselineImages
	Locks     cache.Locker
	LockTTL   time.Duration
}

type Option func(*Service)

func WithInvalidator(i Invalidator) Option {
	return func(s *Service) { s.invalidator = i }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func NewService(d Deps, opts ...Option) *Service {
	if d.LockTTL <= 0 {
		d.LockTTL = 2 * time.Minute
	}
	s := &Service{
		docs:      d.Store.Documents,
		baselines: d.Store.Baselines,
		requests:  d.Store.Requests,
		store:     d.Files,
		engine:    d.Engine,
		renderer:  d.Renderer,
		lifecycle: d.Lifecycle,
		images:    d.Images,
		locks:     d.Locks,
		lockTTL:   d.LockTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result describes a completed signing.
type Result struct {
	Document  *models.Document         `json:"document"`
	Verdict   *verification.Verdict    `json:"verdict,omitempty"`
	Render    *render.Result           `json:"render"`
	Request   *models.SignatureRequest `json:"request,omitempty"`
	Completed bool                     `json:"completed"`
}

type ApplyInput struct {
	DocumentID uuid.UUID
	Page       int
	Rect       render.Rect
	Signature  baseline.Upload
}

// ApplySignature signs a document with the owner's own signature. The
// candidate image is checked against the owner's baselines before anything
// is rendered, and it is removed again on every path.
func (s *Service) ApplySignature(ctx context.Context, actor models.Actor, in ApplyInput) (*Result, error) {
	doc, err := s.ownedDocument(ctx, actor, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if err := baseline.ValidateImage(in.Signature); err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	tmp := storage.TempKey(in.Signature.Filename)
	if err := s.store.Put(ctx, tmp, bytes.NewReader(in.Signature.Data), "application/octet-stream"); err != nil {
		return nil, fmt.Errorf("%w: store signature candidate: %v", apperr.ErrStorage, err)
	}
	defer s.discard(tmp)

	baselines, err := s.baselines.ListByUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	verdict, err := s.engine.Verify(ctx, verification.Input{
		DocumentID: doc.ID,
		UserID:     actor.ID,
		Candidate:  oracle.Image{Name: filepath.Base(tmp), Data: in.Signature.Data},
		Baselines:  baselines,
	})
	if err != nil {
		return nil, err
	}
	if !verdict.Passed(s.engine.Required()) {
		return nil, &verification.FailedError{Verdict: *verdict}
	}

	res, err := s.renderer.Render(ctx, render.Request{
		DocumentID: doc.ID,
		SourceKey:  doc.FilePath,
		Page:       in.Page,
		Rect:       in.Rect,
		Signature:  in.Signature.Data,
	})
	if err != nil {
		return nil, err
	}

	out, err := s.commit(ctx, lifecycle.CommitInput{
		DocumentID: doc.ID,
		FilePath:   res.Key,
		Mode:       lifecycle.SelfSign,
	}, res)
	if err != nil {
		return nil, err
	}
	out.Verdict = verdict

	s.announce(ctx, out, actor.ID)
	return out, nil
}

type ExternalInput struct {
	RequestID uuid.UUID
	// BaselineID picks the signer's baseline to draw. The oldest one is used
	// when nil.
	BaselineID *uuid.UUID
	Page       int
	Rect       render.Rect
}

// SignExternally applies the signature an approved request authorised. Only
// the requester may do this, and the request must still be approved.
func (s *Service) SignExternally(ctx context.Context, actor models.Actor, in ExternalInput) (*Result, error) {
	req, err := s.requests.GetByID(ctx, in.RequestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterID != actor.ID {
		return nil, apperr.NotFound("request")
	}
	if req.Status != models.ReqStatusApproved {
		if req.Status == models.ReqStatusPending {
			return nil, &apperr.StateError{Resource: "request", Current: req.Status, Msg: "is not approved"}
		}
		return nil, apperr.Finalized("request", req.Status)
	}
	if req.SignerID == nil {
		return nil, &apperr.StateError{Resource: "request", Current: req.Status, Msg: "has no bound signer"}
	}

	doc, err := s.docs.GetByID(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if models.IsTerminalDocStatus(doc.Status) {
		return nil, apperr.Finalized("document", doc.Status)
	}

	b, err := s.signerBaseline(ctx, *req.SignerID, in.BaselineID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	var sig []byte
	if b != nil {
		img, err := s.images.Image(ctx, b)
		if err != nil && !storage.IsNotFound(err) {
			return nil, err
		}
		sig = img.Data
	}

	res, err := s.renderer.Render(ctx, render.Request{
		DocumentID: doc.ID,
		SourceKey:  doc.FilePath,
		Page:       in.Page,
		Rect:       in.Rect,
		Signature:  sig,
	})
	if err != nil {
		return nil, err
	}

	reqID := req.ID
	out, err := s.commit(ctx, lifecycle.CommitInput{
		DocumentID: doc.ID,
		FilePath:   res.Key,
		Mode:       lifecycle.Delegated,
		RequestID:  &reqID,
	}, res)
	if err != nil {
		return nil, err
	}
	req.Status = models.ReqStatusCompleted
	out.Request = req

	s.announce(ctx, out, actor.ID, *req.SignerID)
	return out, nil
}

// signerBaseline picks the baseline an external signing draws from.
func (s *Service) signerBaseline(ctx context.Context, signerID uuid.UUID, id *uuid.UUID) (*models.SignatureBaseline, error) {
	if id != nil {
		b, err := s.baselines.GetByID(ctx, *id)
		if err != nil {
			return nil, err
		}
		if b.UserID != signerID {
			return nil, apperr.NotFound("baseline")
		}
		return b, nil
	}
	list, err := s.baselines.ListByUser(ctx, signerID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, apperr.Validation("signer has no enrolled signature")
	}
	return &list[0], nil
}

// commit records the rendered artifact and finalizes the document. The
// artifact is removed when the commit fails so no orphaned file remains.
func (s *Service) commit(ctx context.Context, in lifecycle.CommitInput, res *render.Result) (*Result, error) {
	doc, err := s.lifecycle.Commit(ctx, in)
	if err != nil {
		s.discard(res.Key)
		return nil, err
	}

	completed, err := s.lifecycle.Finalize(ctx, doc.ID)
	if err != nil {
		slog.Error("finalize after signing failed", "document_id", doc.ID, "error", err)
	}
	if completed {
		doc.Status = models.DocStatusCompleted
	}
	return &Result{Document: doc, Render: res, Completed: completed}, nil
}

func (s *Service) announce(ctx context.Context, out *Result, users ...uuid.UUID) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, out.Document.ID)
	}
	if s.notifier == nil {
		return
	}
	for _, u := range users {
		s.notifier.Notify(ctx, u, EventSigned, out.Document)
		if out.Completed {
			s.notifier.Notify(ctx, u, EventCompleted, out.Document)
		}
	}
}

func (s *Service) ownedDocument(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != actor.ID {
		return nil, apperr.NotFound("document")
	}
	if models.IsTerminalDocStatus(doc.Status) {
		return nil, apperr.Finalized("document", doc.Status)
	}
	return doc, nil
}

func (s *Service) lock(ctx context.Context, documentID uuid.UUID) (func(), error) {
	release, err := s.locks.Acquire(ctx, "document:"+documentID.String(), s.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("document is being signed: %w", err)
	}
	return release, nil
}

// discard deletes key on a fresh context so cleanup survives a cancelled
// request.
func (s *Service) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, key); err != nil {
		slog.Error("delete signing file failed", "key", key, "error", err)
	}
}
