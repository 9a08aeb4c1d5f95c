package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/drvault/internal/api/request"
	"github.com/edvin/drvault/internal/api/response"
	"github.com/edvin/drvault/internal/core"
)

type Alert struct {
	svc *core.AlertService
}

func NewAlert(svc *core.AlertService) *Alert {
	return &Alert{svc: svc}
}

func (h *Alert) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	alert, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, alert)
}

func (h *Alert) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	status := r.URL.Query().Get("status")

	alerts, hasMore, err := h.svc.List(r.Context(), status, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(alerts) > 0 {
		nextCursor = alerts[len(alerts)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, alerts, nextCursor, hasMore)
}

// Acknowledge marks an active alert as seen by an operator.
func (h *Alert) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Acknowledge(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusConflict, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}

func (h *Alert) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Resolve(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusConflict, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}
