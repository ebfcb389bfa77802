package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licgate/internal/cache"
	"licgate/internal/licensing"
	"licgate/internal/models"
	"licgate/internal/repo"
	"licgate/internal/secrets"
)

const adminToken = "admin-token"

type fixture struct {
	router   *mux.Router
	svc      *licensing.Service
	licenses *repo.MemLicenseStore
	sessions *repo.MemSessionStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hash, err := secrets.HashToken(adminToken)
	require.NoError(t, err)

	f := &fixture{licenses: repo.NewMemLicenseStore(), sessions: repo.NewMemSessionStore()}
	audit := repo.NewMemAuditStore()
	f.svc = licensing.NewService(f.licenses, f.sessions, audit, cache.NewMemLoginRequests(), cache.NewKeyedMutex(), licensing.Options{})
	t.Cleanup(f.svc.Flush)

	f.router = mux.NewRouter()
	Attach(f.router, Dependencies{
		Licenses:  f.licenses,
		Sessions:  f.sessions,
		Audit:     audit,
		Engine:    f.svc,
		TokenHash: hash,
		KeyPrefix: "STB7",
	})
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) createLicense(t *testing.T, key string) models.License {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/admin/api/licenses", map[string]any{
		"key": key, "email": "buyer@example.com", "plan": "pro", "valid_days": 30,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var l models.License
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &l))
	return l
}

func TestAdmin_RequiresToken(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/api/licenses", nil)
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/admin/api/licenses", nil).Code)
}

func TestAdmin_EmptyHashLocksAPI(t *testing.T) {
	r := mux.NewRouter()
	Attach(r, Dependencies{Licenses: repo.NewMemLicenseStore()})
	req := httptest.NewRequest(http.MethodGet, "/admin/api/licenses", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdmin_CreateAndGet(t *testing.T) {
	f := newFixture(t)

	l := f.createLicense(t, "")
	assert.Regexp(t, `^STB7(-[A-HJ-NP-Z2-9]{4}){4}$`, l.Key)
	assert.Equal(t, models.LicenseActive, l.Status)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), l.ExpiresAt, time.Minute)

	rr := f.do(t, http.MethodGet, "/admin/api/licenses/"+l.Key, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	f.createLicense(t, "STB7-FIXD-FIXD-FIXD-FIXD")
	rr = f.do(t, http.MethodPost, "/admin/api/licenses", map[string]any{
		"key": "STB7-FIXD-FIXD-FIXD-FIXD", "email": "buyer@example.com", "plan": "pro", "valid_days": 30,
	})
	assert.Equal(t, http.StatusConflict, rr.Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/admin/api/licenses/NOPE", nil).Code)
}

func TestAdmin_CreateValidation(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodPost, "/admin/api/licenses", map[string]any{"email": "not-an-email", "plan": "pro", "valid_days": 30})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/admin/api/licenses", map[string]any{"email": "a@b.c", "plan": "pro"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAdmin_RevokeCascadesAndDelete(t *testing.T) {
	f := newFixture(t)
	l := f.createLicense(t, "")

	_, err := f.svc.Validate(context.Background(), licensing.ValidateInput{LicenseKey: l.Key, DeviceID: "D1"})
	require.NoError(t, err)

	// удалить можно только отозванную
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodDelete, "/admin/api/licenses/"+l.Key, nil).Code)

	rr := f.do(t, http.MethodPost, "/admin/api/licenses/"+l.Key+"/revoke", map[string]any{"status": "active"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(t, http.MethodPost, "/admin/api/licenses/"+l.Key+"/revoke", map[string]any{"status": "revoked"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var out map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	assert.EqualValues(t, 1, out["sessions_deactivated"])

	_, err = f.sessions.GetActiveByLicense(context.Background(), l.Key)
	assert.ErrorIs(t, err, repo.ErrNotFound)

	// отозванную не продлить
	rr = f.do(t, http.MethodPost, "/admin/api/licenses/"+l.Key+"/renew", map[string]any{"valid_days": 10})
	assert.Equal(t, http.StatusConflict, rr.Code)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/admin/api/licenses/"+l.Key, nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/admin/api/licenses/"+l.Key, nil).Code)
}

func TestAdmin_Renew(t *testing.T) {
	f := newFixture(t)
	l := f.createLicense(t, "")

	rr := f.do(t, http.MethodPost, "/admin/api/licenses/"+l.Key+"/renew", map[string]any{"valid_days": 365})
	require.Equal(t, http.StatusOK, rr.Code)
	var renewed models.License
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &renewed))
	assert.True(t, renewed.ExpiresAt.After(l.ExpiresAt))
}

func TestAdmin_SessionsAndAudit(t *testing.T) {
	f := newFixture(t)
	l := f.createLicense(t, "")

	res, err := f.svc.Validate(context.Background(), licensing.ValidateInput{LicenseKey: l.Key, DeviceID: "D1"})
	require.NoError(t, err)

	rr := f.do(t, http.MethodGet, "/admin/api/licenses/"+l.Key+"/sessions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list struct {
		Items []models.Session `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	assert.True(t, list.Items[0].Active)

	rr = f.do(t, http.MethodPost, "/admin/api/licenses/"+l.Key+"/sessions/"+res.SessionID+"/deactivate", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(t, http.MethodPost, "/admin/api/licenses/"+l.Key+"/sessions/missing/deactivate", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = f.do(t, http.MethodPost, "/admin/api/licenses/"+l.Key+"/sessions/deactivate-all", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	f.svc.Flush()
	rr = f.do(t, http.MethodGet, "/admin/api/licenses/"+l.Key+"/audit", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var audit struct {
		Items []models.ValidationLog `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &audit))
	var codes []string
	for _, e := range audit.Items {
		codes = append(codes, e.ErrorCode)
	}
	assert.Contains(t, codes, licensing.ReasonAdminDeactivate)
}

func TestGenerateKey(t *testing.T) {
	k, err := GenerateKey("")
	require.NoError(t, err)
	assert.Regexp(t, `^[A-HJ-NP-Z2-9]{4}(-[A-HJ-NP-Z2-9]{4}){3}$`, k)
}
