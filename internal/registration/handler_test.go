package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nmbp/pledge_api/internal/logging"
	"github.com/nmbp/pledge_api/internal/session"
)

func newTestApp(t *testing.T) (*fiber.App, *harness) {
	t.Helper()
	store := session.NewMemoryStore()
	h := newHarness(store, nil)
	handler := NewHandler(h.mgr, logging.Discard())

	app := fiber.New()
	app.Post("/registration/otp", handler.RequestOTP)
	app.Post("/registration/otp/resend", handler.ResendOTP)
	app.Post("/registration/otp/verify", handler.VerifyOTP)
	app.Get("/registration/:txnId", handler.Inspect)
	return app, h
}

func postJSON(t *testing.T, app *fiber.App, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func candidateBody(mobile string) map[string]any {
	return map[string]any{
		"mobile_number": mobile,
		"full_name":     "A",
		"age":           30,
		"gender":        1,
		"pincode":       "560001",
		"district":      1,
		"state":         1,
		"email":         "a@b.com",
	}
}

func TestHandlerRegistrationFlow(t *testing.T) {
	app, h := newTestApp(t)

	resp, body := postJSON(t, app, "/registration/otp", candidateBody("9123456789"))
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	txnID, _ := body["txn_id"].(string)
	require.True(t, ValidTransactionID(txnID))
	assert.EqualValues(t, 180, body["validity_seconds"])
	assert.NotContains(t, body, "otp")

	resp, body = postJSON(t, app, "/registration/otp/resend", map[string]any{"txn_id": txnID})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = postJSON(t, app, "/registration/otp/verify", map[string]any{"txn_id": txnID, "otp": h.notifier.lastCode(t)})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	assert.EqualValues(t, 1, body["user_id"])

	resp, body = postJSON(t, app, "/registration/otp/resend", map[string]any{"txn_id": txnID})
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "USER00003", body["error_code"])
}

func TestHandlerRequestErrors(t *testing.T) {
	app, h := newTestApp(t)

	bad := candidateBody("1234")
	resp, body := postJSON(t, app, "/registration/otp", bad)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "USER00001", body["error_code"])

	_, err := h.users.Create(context.Background(), PendingRegistration{Candidate: candidate("9123456789"), Status: StatusActive})
	require.NoError(t, err)
	resp, body = postJSON(t, app, "/registration/otp", candidateBody("9123456789"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "USER00002", body["error_code"])
}

func TestHandlerVerifyRejectsWrongCode(t *testing.T) {
	app, h := newTestApp(t)

	_, body := postJSON(t, app, "/registration/otp", candidateBody("9123456789"))
	txnID := body["txn_id"].(string)

	resp, body := postJSON(t, app, "/registration/otp/verify", map[string]any{"txn_id": txnID, "otp": wrongCode(h.notifier.lastCode(t))})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "USER00004", body["error_code"])

	resp, body = postJSON(t, app, "/registration/otp/verify", map[string]any{"txn_id": txnID, "otp": "12"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "USER00001", body["error_code"])

	req := httptest.NewRequest(http.MethodGet, "/registration/"+txnID, nil)
	res, err := app.Test(req)
	require.NoError(t, err)
	defer res.Body.Close()
	var state SessionState
	require.NoError(t, json.NewDecoder(res.Body).Decode(&state))
	assert.Equal(t, 1, state.Attempts)
	assert.Equal(t, PhasePending, state.Phase)
}

func TestHandlerResendLimit(t *testing.T) {
	app, _ := newTestApp(t)

	_, body := postJSON(t, app, "/registration/otp", candidateBody("9123456789"))
	txnID := body["txn_id"].(string)
	for i := 0; i < 3; i++ {
		resp, _ := postJSON(t, app, "/registration/otp/resend", map[string]any{"txn_id": txnID})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, body := postJSON(t, app, "/registration/otp/resend", map[string]any{"txn_id": txnID})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "USER00005", body["error_code"])
}

func TestHandlerVerifyExhaustedLooksLikeMismatch(t *testing.T) {
	app, h := newTestApp(t)

	_, body := postJSON(t, app, "/registration/otp", candidateBody("9123456789"))
	txnID := body["txn_id"].(string)
	code := h.notifier.lastCode(t)

	for i := 0; i < DefaultMaxAttempts; i++ {
		resp, _ := postJSON(t, app, "/registration/otp/verify", map[string]any{"txn_id": txnID, "otp": wrongCode(code)})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	}

	resp, body := postJSON(t, app, "/registration/otp/verify", map[string]any{"txn_id": txnID, "otp": code})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "USER00004", body["error_code"])
}
