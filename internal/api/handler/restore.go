package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/drvault/internal/api/request"
	"github.com/edvin/drvault/internal/api/response"
	"github.com/edvin/drvault/internal/core"
	"github.com/edvin/drvault/internal/model"
)

type Restore struct {
	svc *core.RestoreService
}

func NewRestore(svc *core.RestoreService) *Restore {
	return &Restore{svc: svc}
}

func triggerStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrReasonRequired),
		errors.Is(err, core.ErrTargetTimeRequired),
		errors.Is(err, core.ErrInvalidMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// Trigger starts a recovery run in the requested mode.
func (h *Restore) Trigger(w http.ResponseWriter, r *http.Request) {
	var req request.TriggerRestore
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	restoreID, err := h.svc.Trigger(r.Context(), core.TriggerParams{
		BackupID:   req.BackupID,
		Mode:       req.Mode,
		Initiator:  req.Initiator,
		Reason:     req.Reason,
		TargetTime: req.TargetTime,
		TenantIDs:  req.TenantIDs,
	})
	if err != nil {
		response.WriteError(w, triggerStatus(err), err.Error())
		return
	}

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"restore_id": restoreID})
}

// ExecuteDR runs the full disaster recovery runbook against the newest
// restorable full backup.
func (h *Restore) ExecuteDR(w http.ResponseWriter, r *http.Request) {
	var req request.ExecuteDR
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	restoreID, err := h.svc.Trigger(r.Context(), core.TriggerParams{
		Mode:      model.RestoreModeFull,
		Initiator: req.Initiator,
		Reason:    req.Reason,
	})
	if err != nil {
		response.WriteError(w, triggerStatus(err), err.Error())
		return
	}

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"restore_id": restoreID})
}

func (h *Restore) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	log, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, log)
}

func (h *Restore) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)

	logs, hasMore, err := h.svc.List(r.Context(), pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(logs) > 0 {
		nextCursor = logs[len(logs)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, logs, nextCursor, hasMore)
}
