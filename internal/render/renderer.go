// Package render writes signed copies of PDFs carrying a verification QR
// code and optionally the signature image.
package render

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/storage"
)

var ErrPageOutOfRange = fmt.Errorf("%w: page out of range", apperr.ErrValidation)

type Request struct {
	DocumentID uuid.UUID
	SourceKey  string
	Page       int
	Rect       Rect
	// Signature is drawn inside Rect when drawing is enabled.
	Signature []byte
}

type Result struct {
	Key      string `json:"key"`
	Page     int    `json:"page"`
	PageSize Dim    `json:"page_size"`
	QR       Point  `json:"qr"`
	QRSize   int    `json:"qr_size"`
	Payload  string `json:"payload"`
}

type Renderer struct {
	store storage.Storage
	cfg   config.RenderConfig
	now   func() time.Time
}

func NewRenderer(store storage.Storage, cfg config.RenderConfig) *Renderer {
	if cfg.QRSize <= 0 {
		cfg.QRSize = 96
	}
	return &Renderer{store: store, cfg: cfg, now: time.Now}
}

// Render writes a signed copy of the source under signed/ and returns its
// key. Nothing is written when any step fails.
func (r *Renderer) Render(ctx context.Context, req Request) (*Result, error) {
	src, err := storage.ReadAll(ctx, r.store, req.SourceKey)
	if storage.IsNotFound(err) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrSourceNotFound, req.SourceKey)
	}
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}

	info, err := Inspect(src)
	if err != nil {
		return nil, err
	}
	dim, err := info.CheckPage(req.Page)
	if err != nil {
		return nil, err
	}

	payload := QRPayload(r.cfg.VerifyBaseURL, req.DocumentID)
	qrPNG, err := EncodeQR(payload, r.cfg.QRSize)
	if err != nil {
		return nil, err
	}
	size := float64(r.cfg.QRSize)
	pos := PlaceQR(dim, req.Rect, size, r.cfg.Gap, r.cfg.Margin)

	images := []stampImage{{PNG: qrPNG, At: pos, Scale: 1}}
	if r.cfg.DrawSignature && len(req.Signature) > 0 {
		sig, err := fitInto(req.Signature, req.Rect)
		if err != nil {
			return nil, apperr.Validation(err.Error())
		}
		images = append(images, sig)
	}

	out, err := stamp(src, req.Page, images...)
	if err != nil {
		return nil, err
	}

	key := storage.SignedKey(r.now(), req.SourceKey)
	if err := r.store.Put(ctx, key, bytes.NewReader(out), "application/pdf"); err != nil {
		return nil, fmt.Errorf("%w: write signed document: %v", apperr.ErrStorage, err)
	}

	slog.Info("document rendered", "document_id", req.DocumentID, "key", key, "page", req.Page,
		"qr_x", pos.X, "qr_y", pos.Y)
	return &Result{Key: key, Page: req.Page, PageSize: dim, QR: pos, QRSize: r.cfg.QRSize, Payload: payload}, nil
}
