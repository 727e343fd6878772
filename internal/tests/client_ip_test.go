package tests

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepguard/server/internal/repo"
	"github.com/stepguard/server/internal/risk"
)

// serve sends one request straight to the router with a chosen peer address
func serve(t *testing.T, h http.Handler, method, path, peer, token string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = peer
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", chromeUA)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// loginRecordedIP signs up, verifies, logs in from peer with headers and
// returns the address stored as the last login.
func loginRecordedIP(t *testing.T, proxies risk.TrustedProxies, peer string, headers map[string]string) string {
	t.Helper()
	notifier := &captureNotifier{}
	h := newTestRouter(t, repo.NewMemoryUserRepo(), notifier, proxies)
	creds := map[string]string{"email": testEmail, "password": testPassword}

	rec := serve(t, h, http.MethodPost, "/auth/signup", peer, "", creds, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = serve(t, h, http.MethodPost, "/auth/signup/verify", peer, "",
		map[string]string{"email": testEmail, "otp": notifier.lastCode(t, testEmail)}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, h, http.MethodPost, "/auth/login", peer, "", creds, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	rec = serve(t, h, http.MethodGet, "/me", peer, login.AccessToken, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var me meResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	require.NotNil(t, me.LastLogin)
	return me.LastLogin.IP
}

func TestLogin_forwardingHeadersIgnoredFromUntrustedPeer(t *testing.T) {
	ip := loginRecordedIP(t, nil, "10.9.9.9:5555", map[string]string{
		"X-Real-Ip":       "1.2.3.4",
		"X-Forwarded-For": "1.2.3.4",
		"True-Client-IP":  "1.2.3.4",
	})
	assert.Equal(t, "10.9.9.9", ip)
}

func TestLogin_forwardingHeadersHonouredFromTrustedProxy(t *testing.T) {
	proxies, err := risk.ParseTrustedProxies("10.0.0.0/8")
	require.NoError(t, err)

	ip := loginRecordedIP(t, proxies, "10.9.9.9:5555", map[string]string{
		"X-Forwarded-For": "1.2.3.4, " + ipUS,
	})
	assert.Equal(t, ipUS, ip)
}
