package handlers

import (
	"net/http"

	"github.com/nikhilbhutani/esignature/internal/baseline"
	"github.com/nikhilbhutani/esignature/internal/models"
)

type BaselineHandler struct {
	svc       *baseline.Service
	maxUpload int64
}

func NewBaselineHandler(svc *baseline.Service, maxUpload int64) *BaselineHandler {
	return &BaselineHandler{svc: svc, maxUpload: maxUpload}
}

func (h *BaselineHandler) Add(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	data, filename, ok := readFile(w, r, "file", h.maxUpload)
	if !ok {
		return
	}

	res, err := h.svc.Add(r.Context(), actor.ID, baseline.Upload{Filename: filename, Data: data})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

func (h *BaselineHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	list, err := h.svc.List(r.Context(), actor.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []models.SignatureBaseline{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"baselines": list, "count": len(list)})
}

func (h *BaselineHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id", "baseline")
	if !ok {
		return
	}

	b, err := h.svc.Get(r.Context(), actor.ID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

func (h *BaselineHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id", "baseline")
	if !ok {
		return
	}
	data, filename, ok := readFile(w, r, "file", h.maxUpload)
	if !ok {
		return
	}

	b, err := h.svc.Update(r.Context(), actor.ID, id, baseline.Upload{Filename: filename, Data: data})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}
