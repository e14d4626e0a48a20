package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/auth"
	"github.com/nikhilbhutani/esignature/internal/models"
)

// SignatureHeaders are the headers the provider may carry its HMAC in.
var SignatureHeaders = []string{"X-Signature", "X-Signature-256", "Signwell-Signature", "Signature"}

// SignatureFrom returns the first provider signature header present.
func SignatureFrom(h http.Header) string {
	for _, name := range SignatureHeaders {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// Completer finishes a request signed outside this service.
type Completer interface {
	CompleteRequest(ctx context.Context, requestID uuid.UUID) (*models.SignatureRequest, bool, error)
}

// Invalidator drops cached public views of a document.
type Invalidator interface {
	Invalidate(ctx context.Context, documentID uuid.UUID)
}

type Inbound struct {
	secret      string
	completer   Completer
	invalidator Invalidator
}

func NewInbound(secret string, completer Completer, invalidator Invalidator) *Inbound {
	return &Inbound{secret: secret, completer: completer, invalidator: invalidator}
}

type signwellEvent struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Data      struct {
		RequestID string `json:"request_id"`
		Status    string `json:"status"`
	} `json:"data"`
}

func (e *signwellEvent) requestID() string {
	if e.RequestID != "" {
		return e.RequestID
	}
	return e.Data.RequestID
}

func (e *signwellEvent) status() string {
	if e.Status != "" {
		return e.Status
	}
	return e.Data.Status
}

// Outcome reports what an inbound event changed.
type Outcome struct {
	Handled   bool                     `json:"handled"`
	Request   *models.SignatureRequest `json:"request,omitempty"`
	Completed bool                     `json:"document_completed"`
}

// Handle verifies and applies a provider callback. Only "signed" events
// for a known request change state; anything else is acknowledged and
// ignored. Repeated deliveries of the same event are harmless.
func (in *Inbound) Handle(ctx context.Context, body []byte, signature string) (*Outcome, error) {
	if in.secret == "" {
		return nil, fmt.Errorf("%w: signing webhook secret is not configured", apperr.ErrForbidden)
	}
	if !auth.VerifyPayload(in.secret, body, signature) {
		return nil, apperr.Validation("invalid signature")
	}

	var ev signwellEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, apperr.Validation("invalid JSON payload")
	}
	slog.Info("signing webhook received", "type", ev.Type, "request_id", ev.requestID(), "status", ev.status())

	if !strings.EqualFold(ev.status(), "signed") || ev.requestID() == "" {
		return &Outcome{}, nil
	}
	id, err := uuid.Parse(ev.requestID())
	if err != nil {
		return nil, apperr.Validation("invalid request_id")
	}

	req, completed, err := in.completer.CompleteRequest(ctx, id)
	var se *apperr.StateError
	if errors.As(err, &se) && se.Current == models.ReqStatusCompleted {
		return &Outcome{Handled: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if in.invalidator != nil {
		in.invalidator.Invalidate(ctx, req.DocumentID)
	}
	return &Outcome{Handled: true, Request: req, Completed: completed}, nil
}
