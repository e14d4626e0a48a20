package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/esignature/internal/document"
)

type VerifyHandler struct {
	docs *document.Service
}

func NewVerifyHandler(docs *document.Service) *VerifyHandler {
	return &VerifyHandler{docs: docs}
}

// Redirect sends QR scanners to the current file of a document.
func (h *VerifyHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id", "document")
	if !ok {
		return
	}

	key, err := h.docs.CurrentFile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.Redirect(w, r, h.docs.URL(baseURL(r), key), http.StatusFound)
}
