package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlertGet_EmptyID(t *testing.T) {
	h := NewAlert(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/v1/alerts/", nil)
	r = withChiURLParam(r, "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

func TestAlertAcknowledge_EmptyID(t *testing.T) {
	h := NewAlert(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/v1/alerts//acknowledge", nil)
	r = withChiURLParam(r, "id", "")

	h.Acknowledge(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertResolve_EmptyID(t *testing.T) {
	h := NewAlert(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/v1/alerts//resolve", nil)
	r = withChiURLParam(r, "id", "")

	h.Resolve(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
