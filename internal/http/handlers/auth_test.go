package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stepguard/server/internal/auth"
	"github.com/stepguard/server/internal/logging"
	"github.com/stepguard/server/internal/notify"
	"github.com/stepguard/server/internal/repo"
	"github.com/stepguard/server/internal/risk"
)

type failingNotifier struct{}

func (failingNotifier) SendOTP(context.Context, notify.Message) error {
	return errors.New("relay unreachable")
}

func newTestHandler(t *testing.T, notifier notify.Notifier) *AuthHandler {
	t.Helper()
	svc := auth.NewService(
		repo.NewMemoryUserRepo(),
		auth.NewBcryptHasher(bcrypt.MinCost),
		auth.NewJWTService("test-jwt-secret-at-least-32-characters-long", time.Hour),
		notifier,
		auth.NewOTPManager("test-otp-salt", 5*time.Minute, 3),
		risk.NewAssessor(risk.DefaultConfig()),
		auth.DefaultOptions(),
		logging.Discard(),
	)
	return NewAuthHandler(svc, risk.NewExtractor(nil, nil), logging.Discard())
}

func postJSON(t *testing.T, h http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func TestStatusFor(t *testing.T) {
	cases := map[auth.Kind]int{
		auth.KindValidation:         http.StatusBadRequest,
		auth.KindRateLimited:        http.StatusTooManyRequests,
		auth.KindInvalidCredentials: http.StatusUnauthorized,
		auth.KindEmailUnverified:    http.StatusForbidden,
		auth.KindOTPInvalid:         http.StatusUnauthorized,
		auth.KindOTPExpired:         http.StatusGone,
		auth.KindOTPMaxAttempts:     http.StatusTooManyRequests,
		auth.KindNotFound:           http.StatusNotFound,
		auth.KindConflict:           http.StatusConflict,
		auth.KindDependency:         http.StatusServiceUnavailable,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), "kind %s", kind)
	}
}

func TestHandleSignup_fallbackCodeWhenDeliveryFails(t *testing.T) {
	h := newTestHandler(t, failingNotifier{})

	rec := postJSON(t, h.HandleSignup, map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp signupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "verification_code_not_sent", resp.Message)
	assert.Len(t, resp.OTP, 6)

	rec = postJSON(t, h.HandleVerifySignup, map[string]string{"email": "alice@example.com", "otp": resp.OTP})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleSignup_errors(t *testing.T) {
	h := newTestHandler(t, notify.NewLogNotifier(logging.Discard()))

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.HandleSignup(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h.HandleSignup, map[string]string{"email": "alice@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h.HandleSignup, map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var resp signupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Empty(t, resp.OTP, "delivered codes are never echoed")

	rec = postJSON(t, h.HandleSignup, map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleVerifySignup_wrongCodeReportsRemaining(t *testing.T) {
	h := newTestHandler(t, failingNotifier{})
	rec := postJSON(t, h.HandleSignup, map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, rec.Code)
	var signup signupResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&signup))

	wrong := "000000"
	if signup.OTP == wrong {
		wrong = "111111"
	}
	rec = postJSON(t, h.HandleVerifySignup, map[string]string{"email": "alice@example.com", "otp": wrong})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var resp errorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, string(auth.KindOTPInvalid), resp.Code)
	require.NotNil(t, resp.RemainingAttempts)
	assert.Equal(t, 2, *resp.RemainingAttempts)
}

func TestHandleLogin_unverifiedIsForbidden(t *testing.T) {
	h := newTestHandler(t, failingNotifier{})
	rec := postJSON(t, h.HandleSignup, map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = postJSON(t, h.HandleLogin, map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = postJSON(t, h.HandleLogin, map[string]string{"email": "nobody@example.com", "password": "correct-horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleVerifyLogin_badSessionID(t *testing.T) {
	h := newTestHandler(t, failingNotifier{})

	rec := postJSON(t, h.HandleVerifyLogin, map[string]string{"session_id": "nope", "otp": "123456"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, h.HandleVerifyLogin, map[string]string{"session_id": "6f1c1f0e-7b1e-4b8a-9d2e-1f0a4c1b2d3e", "otp": "123456"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespondWithServiceError_hidesDependencyDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	respondWithServiceError(rec, req, logging.Discard(), errors.New("dial tcp 10.0.0.5:5432: connection refused"))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
}

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}
