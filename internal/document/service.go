// Package document stores uploaded PDFs and their metadata.
package document

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/render"
	"github.com/nikhilbhutani/esignature/internal/repository"
	"github.com/nikhilbhutani/esignature/internal/storage"
)

type Service struct {
	docs    repository.Documents
	storage storage.Storage
	now     func() time.Time
}

func NewService(docs repository.Documents, store storage.Storage) *Service {
	return &Service{docs: docs, storage: store, now: time.Now}
}

type UploadRequest struct {
	Title    string
	Filename string
	Data     []byte
}

// Upload stores a PDF and records it as a pending document owned by the
// actor. Files that are not readable PDFs are refused before anything is
// written.
func (s *Service) Upload(ctx context.Context, actor models.Actor, req UploadRequest) (*models.Document, error) {
	if len(req.Data) == 0 {
		return nil, apperr.Validation("file is required")
	}
	if !bytes.HasPrefix(req.Data, []byte("%PDF-")) {
		return nil, apperr.Validation("only PDF files are accepted")
	}
	info, err := render.Inspect(req.Data)
	if err != nil {
		return nil, err
	}

	filename := req.Filename
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		filename += ".pdf"
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(filepath.Base(req.Filename), filepath.Ext(req.Filename))
	}
	if title == "" {
		title = "Untitled"
	}

	key := storage.DocumentKey(s.now(), filename)
	if err := s.storage.Put(ctx, key, bytes.NewReader(req.Data), "application/pdf"); err != nil {
		return nil, fmt.Errorf("%w: upload to storage: %v", apperr.ErrStorage, err)
	}

	doc := &models.Document{
		UserID:   actor.ID,
		Title:    title,
		FilePath: key,
		Status:   models.DocStatusPending,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.discard(key)
		return nil, fmt.Errorf("insert document: %w", err)
	}

	slog.Info("document uploaded", "document_id", doc.ID, "user_id", actor.ID, "pages", info.PageCount())
	return doc, nil
}

// GetByID returns a document owned by the actor. Other users' documents
// are reported as not found.
func (s *Service) GetByID(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.UserID != actor.ID {
		return nil, apperr.NotFound("document")
	}
	return doc, nil
}

func (s *Service) List(ctx context.Context, actor models.Actor) ([]models.Document, error) {
	docs, err := s.docs.ListByOwner(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []models.Document{}
	}
	return docs, nil
}

// CurrentFile returns the storage key of the document's latest version.
// It backs the public verification redirect, so it needs no actor.
func (s *Service) CurrentFile(ctx context.Context, id uuid.UUID) (string, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return doc.FilePath, nil
}

// URL builds the absolute URL of a stored file for the given request base.
func (s *Service) URL(base, key string) string {
	return s.storage.URL(base, key)
}

func (s *Service) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.storage.Delete(ctx, key); err != nil {
		slog.Error("delete document file failed", "key", key, "error", err)
	}
}
