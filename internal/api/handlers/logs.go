package handlers

import (
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/esignature/internal/audit"
)

type LogHandler struct {
	svc *audit.Service
}

func NewLogHandler(svc *audit.Service) *LogHandler {
	return &LogHandler{svc: svc}
}

func pageQuery(r *http.Request) audit.Query {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return audit.Query{Limit: limit, Offset: offset}
}

func (h *LogHandler) Own(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	logs, err := h.svc.Own(r.Context(), actor, pageQuery(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs, "count": len(logs)})
}

func (h *LogHandler) All(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}

	logs, err := h.svc.All(r.Context(), actor, pageQuery(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs, "count": len(logs)})
}
