package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/baseline"
	"github.com/nikhilbhutani/esignature/internal/document"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/render"
	"github.com/nikhilbhutani/esignature/internal/signing"
)

type DocumentHandler struct {
	docs      *document.Service
	signing   *signing.Service
	maxUpload int64
}

func NewDocumentHandler(docs *document.Service, signer *signing.Service, maxUpload int64) *DocumentHandler {
	return &DocumentHandler{docs: docs, signing: signer, maxUpload: maxUpload}
}

type documentView struct {
	*models.Document
	FileURL string `json:"file_url"`
}

func (h *DocumentHandler) view(r *http.Request, d *models.Document) documentView {
	return documentView{Document: d, FileURL: h.docs.URL(baseURL(r), d.FilePath)}
}

func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	data, filename, ok := readFile(w, r, "file", h.maxUpload)
	if !ok {
		return
	}

	doc, err := h.docs.Upload(r.Context(), actor, document.UploadRequest{
		Title:    r.FormValue("title"),
		Filename: filename,
		Data:     data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.view(r, doc))
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	docs, err := h.docs.List(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}

	views := make([]documentView, 0, len(docs))
	for i := range docs {
		views = append(views, h.view(r, &docs[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": views, "count": len(views)})
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id", "document")
	if !ok {
		return
	}

	doc, err := h.docs.GetByID(r.Context(), actor, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.view(r, doc))
}

// ApplySignature signs a document with the caller's own signature image.
// Placement comes from the page, x, y, width and height form fields.
func (h *DocumentHandler) ApplySignature(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id", "document")
	if !ok {
		return
	}
	data, filename, ok := readFile(w, r, "signature", h.maxUpload)
	if !ok {
		return
	}
	page, err := render.ParsePage(r.FormValue("page"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.signing.ApplySignature(r.Context(), actor, signing.ApplyInput{
		DocumentID: id,
		Page:       page,
		Rect:       render.ParseRect(r.FormValue("x"), r.FormValue("y"), r.FormValue("width"), r.FormValue("height")),
		Signature:  baseline.Upload{Filename: filename, Data: data},
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.signed(r, res))
}

type signExternallyRequest struct {
	RequestID  uuid.UUID  `json:"request_id"`
	BaselineID *uuid.UUID `json:"baseline_id"`
	Page       int        `json:"page"`
	X          *float64   `json:"x"`
	Y          *float64   `json:"y"`
	Width      *float64   `json:"width"`
	Height     *float64   `json:"height"`
}

// SignExternally applies the signature of an approved request.
func (h *DocumentHandler) SignExternally(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req signExternallyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RequestID == uuid.Nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request_id required"})
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}

	res, err := h.signing.SignExternally(r.Context(), actor, signing.ExternalInput{
		RequestID:  req.RequestID,
		BaselineID: req.BaselineID,
		Page:       req.Page,
		Rect:       render.RectFrom(req.X, req.Y, req.Width, req.Height),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, h.signed(r, res))
}

func (h *DocumentHandler) signed(r *http.Request, res *signing.Result) map[string]interface{} {
	out := map[string]interface{}{
		"document":  h.view(r, res.Document),
		"completed": res.Completed,
		"render":    res.Render,
	}
	if res.Verdict != nil {
		out["verdict"] = res.Verdict
	}
	if res.Request != nil {
		out["request"] = res.Request
	}
	return out
}
