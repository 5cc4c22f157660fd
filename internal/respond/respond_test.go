package respond

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botzfyi/botz/internal/errs"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSON(rec, http.StatusCreated, map[string]string{"id": "x"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, map[string]any{"id": "x"}, body["data"])
	assert.NotContains(t, body, "error")
}

func TestErrUsesCodeStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/credits/consume", nil)

	rec := httptest.NewRecorder()
	Err(rec, req, errs.New(errs.CreditsExhausted, "no credits left"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["ok"])
	assert.Equal(t, map[string]any{"code": "credits_exhausted", "message": "no credits left"}, body["error"])

	rec = httptest.NewRecorder()
	Err(rec, req, errors.New("pq: connection refused"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), errs.GenericMessage)
}
