// Package lifecycle owns document and request status changes made by the
// signing pipeline.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/repository"
)

// Mode says who is signing.
type Mode int

const (
	// SelfSign is the owner signing with their own verified signature.
	SelfSign Mode = iota
	// Delegated is the requester applying a signature an approved request
	// authorised.
	Delegated
)

func (m Mode) targetStatus() string {
	if m == Delegated {
		return models.DocStatusInSigning
	}
	return models.DocStatusSigned
}

func (m Mode) String() string {
	if m == Delegated {
		return "delegated"
	}
	return "self"
}

type Manager struct {
	docs repository.Documents
	reqs repository.Requests
	tx   repository.Transactor
}

func NewManager(store *repository.Store) *Manager {
	return &Manager{docs: store.Documents, reqs: store.Requests, tx: store.Tx}
}

type CommitInput struct {
	DocumentID uuid.UUID
	FilePath   string
	Mode       Mode
	// RequestID is the approved request being fulfilled, if any.
	RequestID *uuid.UUID
}

// Commit points the document at a freshly rendered artifact, advances its
// status and marks the fulfilled request completed, all in one transaction.
// It must only be called after the artifact was written.
func (m *Manager) Commit(ctx context.Context, in CommitInput) (*models.Document, error) {
	var doc *models.Document
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		doc, err = m.docs.GetByID(ctx, in.DocumentID)
		if err != nil {
			return err
		}
		if models.IsTerminalDocStatus(doc.Status) {
			return apperr.Finalized("document", doc.Status)
		}

		status := models.AdvanceDocStatus(doc.Status, in.Mode.targetStatus())
		if err := m.docs.UpdateFile(ctx, doc.ID, in.FilePath, status); err != nil {
			return err
		}
		doc.FilePath, doc.Status = in.FilePath, status

		if in.RequestID != nil {
			if err := m.transition(ctx, *in.RequestID, models.ReqStatusApproved, models.ReqStatusCompleted); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("document signed", "document_id", doc.ID, "status", doc.Status, "mode", in.Mode.String())
	return doc, nil
}

// Finalize completes the document when none of its requests is still open.
// It reports whether this call moved the document to completed.
func (m *Manager) Finalize(ctx context.Context, documentID uuid.UUID) (bool, error) {
	completed := false
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		open, err := m.reqs.CountNotCompleted(ctx, documentID)
		if err != nil {
			return err
		}
		if open > 0 {
			return nil
		}
		doc, err := m.docs.GetByID(ctx, documentID)
		if err != nil {
			return err
		}
		if models.IsTerminalDocStatus(doc.Status) {
			return nil
		}
		if err := m.docs.UpdateStatus(ctx, documentID, models.DocStatusCompleted); err != nil {
			return err
		}
		completed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("finalize document %s: %w", documentID, err)
	}
	if completed {
		slog.Info("document completed", "document_id", documentID)
	}
	return completed, nil
}

// CompleteRequest marks an approved request completed without a local
// render, as reported by an external signing provider, then finalizes the
// document.
func (m *Manager) CompleteRequest(ctx context.Context, requestID uuid.UUID) (*models.SignatureRequest, bool, error) {
	var req *models.SignatureRequest
	err := m.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		req, err = m.reqs.GetByID(ctx, requestID)
		if err != nil {
			return err
		}
		if err := m.transition(ctx, req.ID, models.ReqStatusApproved, models.ReqStatusCompleted); err != nil {
			return err
		}
		req.Status = models.ReqStatusCompleted

		doc, err := m.docs.GetByID(ctx, req.DocumentID)
		if err != nil {
			return err
		}
		if next := models.AdvanceDocStatus(doc.Status, models.DocStatusInSigning); next != doc.Status {
			return m.docs.UpdateStatus(ctx, doc.ID, next)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	completed, err := m.Finalize(ctx, req.DocumentID)
	return req, completed, err
}

// MarkRejected moves a document to rejected unless it already reached a
// terminal status.
func (m *Manager) MarkRejected(ctx context.Context, documentID uuid.UUID) error {
	return m.tx.InTx(ctx, func(ctx context.Context) error {
		doc, err := m.docs.GetByID(ctx, documentID)
		if err != nil {
			return err
		}
		next := models.AdvanceDocStatus(doc.Status, models.DocStatusRejected)
		if next == doc.Status {
			return nil
		}
		return m.docs.UpdateStatus(ctx, documentID, next)
	})
}

// transition applies a request status change and reports the stored status
// when the request had already moved on.
func (m *Manager) transition(ctx context.Context, id uuid.UUID, from, to string) error {
	err := m.reqs.TransitionStatus(ctx, id, from, to)
	if !errors.Is(err, apperr.ErrConflict) {
		return err
	}
	cur, gerr := m.reqs.GetByID(ctx, id)
	if gerr != nil {
		return gerr
	}
	if from == models.ReqStatusApproved && cur.Status == models.ReqStatusPending {
		return &apperr.StateError{Resource: "request", Current: cur.Status, Msg: "is not approved"}
	}
	return apperr.Finalized("request", cur.Status)
}
