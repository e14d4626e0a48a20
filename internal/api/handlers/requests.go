package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/signrequest"
)

type RequestHandler struct {
	svc *signrequest.Service
}

func NewRequestHandler(svc *signrequest.Service) *RequestHandler {
	return &RequestHandler{svc: svc}
}

type createRequestBody struct {
	DocumentID     uuid.UUID `json:"document_id"`
	SignerID       string    `json:"signer_id"`
	RecipientEmail string    `json:"recipient_email"`
	Note           string    `json:"note"`
}

func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var body createRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.DocumentID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "document_id required"})
		return
	}
	signer, err := signrequest.ParseSignerRef(body.SignerID, body.RecipientEmail)
	if err != nil {
		writeError(w, r, err)
		return
	}

	req, err := h.svc.Create(r.Context(), actor, signrequest.CreateInput{
		DocumentID: body.DocumentID,
		Signer:     signer,
		Note:       body.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

func (h *RequestHandler) Incoming(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	reqs, err := h.svc.ListIncoming(r.Context(), actor, r.URL.Query().Get("status"))
	writeRequests(w, r, reqs, err)
}

func (h *RequestHandler) Outgoing(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	reqs, err := h.svc.ListOutgoing(r.Context(), actor, r.URL.Query().Get("status"))
	writeRequests(w, r, reqs, err)
}

func (h *RequestHandler) History(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	reqs, err := h.svc.History(r.Context(), actor)
	writeRequests(w, r, reqs, err)
}

func writeRequests(w http.ResponseWriter, r *http.Request, reqs []models.SignatureRequest, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	if reqs == nil {
		reqs = []models.SignatureRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"requests": reqs, "count": len(reqs)})
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Get)
}

func (h *RequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Approve)
}

func (h *RequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, h.svc.Reject)
}

type requestAction func(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.SignatureRequest, error)

func (h *RequestHandler) act(w http.ResponseWriter, r *http.Request, fn requestAction) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id", "request")
	if !ok {
		return
	}

	req, err := fn(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// Signature returns the signer's baselines for an approved request.
func (h *RequestHandler) Signature(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id", "request")
	if !ok {
		return
	}

	sig, err := h.svc.ApprovedSignature(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sig)
}

// Public serves the unauthenticated status page behind the QR code.
func (h *RequestHandler) Public(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "documentId", "document")
	if !ok {
		return
	}

	status, err := h.svc.PublicStatus(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}
