package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	temporalmocks "go.temporal.io/sdk/mocks"
)

func TestBackupTrigger_InvalidJSON(t *testing.T) {
	h := NewBackup(nil)
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/v1/backups", "{bad json")

	h.Trigger(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestBackupTrigger_UnknownType(t *testing.T) {
	h := NewBackup(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/v1/backups", map[string]any{"type": "cold_storage"})

	h.Trigger(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestBackupTrigger_TenantRequiresTenantID(t *testing.T) {
	h := NewBackup(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/v1/backups", map[string]any{"type": "tenant"})

	h.Trigger(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBackupTrigger_Full_Accepted(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	h := NewBackup(newTestServices(db, tc).Backup)

	wfRun := &temporalmocks.WorkflowRun{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "FullBackupWorkflow", mock.Anything).Return(wfRun, nil)

	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/v1/backups", map[string]any{"type": "full_db"})

	h.Trigger(rec, r)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["workflow_id"], "full-backup-")
	tc.AssertExpectations(t)
}

func TestBackupTrigger_TenantBatch_Accepted(t *testing.T) {
	db := &mockDB{}
	tc := &temporalmocks.Client{}
	h := NewBackup(newTestServices(db, tc).Backup)

	wfRun := &temporalmocks.WorkflowRun{}
	tc.On("ExecuteWorkflow", mock.Anything, mock.Anything, "TenantBatchBackupWorkflow", mock.Anything).Return(wfRun, nil)

	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/v1/backups", map[string]any{"type": "tenant_batch"})

	h.Trigger(rec, r)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	tc.AssertExpectations(t)
}

func TestBackupGet_EmptyID(t *testing.T) {
	h := NewBackup(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/v1/backups/", nil)
	r = withChiURLParam(r, "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

func TestBackupRetry_EmptyID(t *testing.T) {
	h := NewBackup(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/v1/backups//retry", nil)
	r = withChiURLParam(r, "id", "")

	h.Retry(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
