package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/drvault/internal/api/request"
	"github.com/edvin/drvault/internal/api/response"
	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/core"
	"github.com/edvin/drvault/internal/model"
)

type Backup struct {
	svc *core.BackupService
}

func NewBackup(svc *core.BackupService) *Backup {
	return &Backup{svc: svc}
}

// Trigger starts an on-demand backup run of the requested type and
// returns the workflow ID driving it.
func (h *Backup) Trigger(w http.ResponseWriter, r *http.Request) {
	var req request.TriggerBackup
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var wfID string
	var err error
	switch req.Type {
	case model.BackupTypeFullDB:
		wfID, err = h.svc.TriggerFull(r.Context())
	case model.BackupTypeTenant:
		wfID, err = h.svc.TriggerTenant(r.Context(), req.TenantID)
	case "tenant_batch":
		wfID, err = h.svc.TriggerTenantBatch(r.Context())
	case model.BackupTypeConfig:
		wfID, err = h.svc.TriggerConfig(r.Context())
	}
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"workflow_id": wfID})
}

func (h *Backup) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, rec)
}

func (h *Backup) List(w http.ResponseWriter, r *http.Request) {
	pg := request.ParsePagination(r)
	filter := catalog.ListFilter{
		Type:     r.URL.Query().Get("type"),
		TenantID: r.URL.Query().Get("tenant_id"),
		Status:   r.URL.Query().Get("status"),
	}

	records, hasMore, err := h.svc.List(r.Context(), filter, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(records) > 0 {
		nextCursor = records[len(records)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, records, nextCursor, hasMore)
}

// Retry starts a fresh run for a failed backup record.
func (h *Backup) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	wfID, err := h.svc.Retry(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, core.ErrNotRetryable) {
			status = http.StatusConflict
		}
		response.WriteError(w, status, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"workflow_id": wfID})
}
