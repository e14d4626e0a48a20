package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/esignature/internal/identity"
)

type AdminHandler struct {
	svc *identity.Service
}

func NewAdminHandler(svc *identity.Service) *AdminHandler {
	return &AdminHandler{svc: svc}
}

func (h *AdminHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var req identity.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.svc.CreateAdmin(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

func (h *AdminHandler) Pending(w http.ResponseWriter, r *http.Request) {
	users, err := h.svc.PendingAdmins(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"users": users, "count": len(users)})
}

func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", "user")
	if !ok {
		return
	}

	u, err := h.svc.ApproveAdmin(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}

func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", "user")
	if !ok {
		return
	}

	u, err := h.svc.RejectAdmin(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, u)
}
