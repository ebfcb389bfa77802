package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licgate/config"
	"licgate/internal/models"
	"licgate/internal/reqauth"
	"licgate/internal/secrets"
)

const (
	testAPIKey = "desktop-app"
	testSecret = "app-secret"
	testToken  = "admin-token"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := secrets.HashToken(testToken)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Server.Address = "127.0.0.1"
	cfg.Server.HTTPPort = "0"
	cfg.Security.APIKey = testAPIKey
	cfg.Security.HMACSecret = testSecret
	cfg.Security.TimestampGraceSeconds = 300
	cfg.Security.RequireHTTPS = true
	cfg.Security.ReplayGuard = true
	cfg.Session.HeartbeatIntervalSeconds = 60
	cfg.Session.GracePeriodSeconds = 180
	cfg.Session.LoginRequestTTLSeconds = 300
	cfg.Session.StoreTimeoutMS = 3000
	cfg.Session.Sweep = true
	cfg.License.KeyPrefix = "STB7"
	cfg.Logging.Level = "error"
	cfg.RateLimit.RPS = 100
	cfg.RateLimit.Burst = 100
	cfg.Admin.TokenHash = hash
	return cfg
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	a := &App{}
	require.NoError(t, a.Initialize(testConfig(t)))
	t.Cleanup(a.close)
	return a
}

func signedPost(t *testing.T, a *App, path string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, signedRequest(t, path, payload))
	return rr
}

func signedRequest(t *testing.T, path string, payload map[string]any) *http.Request {
	t.Helper()
	payload[reqauth.FieldAPIKey] = testAPIKey
	payload[reqauth.FieldTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	sig, err := reqauth.Sign(payload, testSecret)
	require.NoError(t, err)
	payload[reqauth.FieldSignature] = sig

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "http://localhost"+path, bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:40000"
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestApp_InMemoryWiring(t *testing.T) {
	a := newTestApp(t)
	assert.Nil(t, a.db)
	assert.Nil(t, a.redis)
	assert.NotNil(t, a.sweeper)

	// лицензия через admin API
	body := bytes.NewBufferString(`{"email":"owner@example.com","plan":"pro","valid_days":30}`)
	req := httptest.NewRequest(http.MethodPost, "http://localhost/admin/api/licenses", body)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var lic models.License
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&lic))
	require.NotEmpty(t, lic.Key)

	// подписанная валидация клиента
	rr = signedPost(t, a, "/api/v1/license/validate", map[string]any{
		"licenseKey": lic.Key,
		"deviceId":   "device-a",
		"appVersion": "1.0.0",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var env struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.Data["sessionId"])

	// сессия видна в admin API
	req = httptest.NewRequest(http.MethodGet, "http://localhost/admin/api/licenses/"+lic.Key+"/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr = httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestApp_OperationalEndpoints(t *testing.T) {
	a := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rr := httptest.NewRecorder()
		a.Router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "http://localhost"+path, nil))
		assert.Equal(t, http.StatusOK, rr.Code, path)
	}
}

func TestApp_AdminDisabledWithoutHash(t *testing.T) {
	cfg := testConfig(t)
	cfg.Admin.TokenHash = ""
	a := &App{}
	require.NoError(t, a.Initialize(cfg))
	t.Cleanup(a.close)

	req := httptest.NewRequest(http.MethodGet, "http://localhost/admin/api/licenses", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestApp_UnsignedRequestRejected(t *testing.T) {
	a := newTestApp(t)
	req := httptest.NewRequest(http.MethodPost, "http://localhost/api/v1/license/validate",
		bytes.NewBufferString(`{"apiKey":"desktop-app","licenseKey":"X","deviceId":"d"}`))
	req.RemoteAddr = "127.0.0.1:40000"
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestApp_RunRequiresInitialize(t *testing.T) {
	assert.Error(t, (&App{}).Run())
}

func TestApp_InvalidTrustedProxies(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.TrustedProxies = []string{"not-a-network"}
	assert.Error(t, (&App{}).Initialize(cfg))
}

func TestApp_ForwardedHeadersFromUntrustedPeer(t *testing.T) {
	a := newTestApp(t)

	// внешний клиент выдаёт себя за локальный TLS-прокси
	req := signedRequest(t, "/api/v1/license/validate", map[string]any{
		"licenseKey": "STB7-XXXX",
		"deviceId":   "device-a",
	})
	req.RemoteAddr = "203.0.113.7:40000"
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	rr := httptest.NewRecorder()
	a.Router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
