package handlers

import (
	"io"
	"net/http"

	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/webhook"
)

type WebhookHandler struct {
	svc     *webhook.Service
	inbound *webhook.Inbound
}

func NewWebhookHandler(svc *webhook.Service, inbound *webhook.Inbound) *WebhookHandler {
	return &WebhookHandler{svc: svc, inbound: inbound}
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req webhook.CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	wh, err := h.svc.Create(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	// Include secret in response only on creation
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"webhook": wh,
		"secret":  wh.Secret,
	})
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	webhooks, err := h.svc.List(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if webhooks == nil {
		webhooks = []models.Webhook{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": webhooks, "count": len(webhooks)})
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id", "webhook")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), actor, id); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Signwell receives signing provider callbacks. The signature covers the
// raw body, so it is read before any decoding.
func (h *WebhookHandler) Signwell(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read body"})
		return
	}

	out, err := h.inbound.Handle(r.Context(), body, webhook.SignatureFrom(r.Header))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, out)
}
