package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licgate/internal/models"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
}

func TestRequestID_GeneratesAndPropagates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rr.Header().Get("X-Request-Id"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "abc")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "abc", seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "bad id\nwith newline")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.NotEqual(t, "bad id\nwith newline", seen)
	assert.Len(t, seen, 36)
}

func TestRecoverer_ReturnsProblem(t *testing.T) {
	h := RequestID(Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	var p models.Problem
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&p))
	assert.Equal(t, http.StatusInternalServerError, p.Status)
}

func TestRecoverer_ProtocolEnvelope(t *testing.T) {
	h := RequestID(Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, ProtocolPrefix+"/validate", nil))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var env models.Envelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	assert.False(t, env.Success)
	assert.Equal(t, "INTERNAL_ERROR", env.ErrorCode)
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Handler(okHandler())

	call := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", nil)
		req.RemoteAddr = ip + ":5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1"))
	assert.Equal(t, http.StatusOK, call("10.0.0.2"))

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, call("10.0.0.1"))

	now = now.Add(time.Hour)
	assert.Equal(t, 2, rl.GC())
}

func TestRateLimiter_Envelope(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := rl.Handler(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	var env models.Envelope
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&env))
	assert.False(t, env.Success)
	assert.Equal(t, "RATE_LIMITED", env.ErrorCode)
}

func TestClientIP(t *testing.T) {
	resolve := func(proxies []string, peer, xff string) (string, bool) {
		trust, err := ParseProxyTrust(proxies)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = peer + ":1234"
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
			req.Header.Set("X-Forwarded-Proto", "https")
		}
		var ip string
		var https bool
		trust.Handler(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
			ip, https = ClientIP(r), IsHTTPS(r)
		})).ServeHTTP(httptest.NewRecorder(), req)
		return ip, https
	}

	ip, https := resolve(nil, "192.0.2.1", "")
	assert.Equal(t, "192.0.2.1", ip)
	assert.False(t, https)

	// без доверенных прокси заголовки игнорируются
	ip, https = resolve(nil, "192.0.2.1", "203.0.113.9")
	assert.Equal(t, "192.0.2.1", ip)
	assert.False(t, https)

	// чужой пир при настроенных прокси
	ip, _ = resolve([]string{"10.0.0.0/8"}, "192.0.2.1", "203.0.113.9")
	assert.Equal(t, "192.0.2.1", ip)

	// доверенный прокси: первый недоверенный адрес справа
	ip, https = resolve([]string{"10.0.0.0/8"}, "10.0.0.5", "198.51.100.1, 203.0.113.9, 10.0.0.7")
	assert.Equal(t, "203.0.113.9", ip)
	assert.True(t, https)

	// мусор в цепочке: остаётся адрес прокси
	ip, _ = resolve([]string{"10.0.0.5"}, "10.0.0.5", "not-an-ip")
	assert.Equal(t, "10.0.0.5", ip)

	// без Handler — RemoteAddr
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, "192.0.2.1", ClientIP(req))
}

func TestParseProxyTrust_Rejects(t *testing.T) {
	_, err := ParseProxyTrust([]string{"10.0.0.0/33"})
	assert.Error(t, err)
	_, err = ParseProxyTrust([]string{"proxy.local"})
	assert.Error(t, err)

	trust, err := ParseProxyTrust([]string{" ", "::1", "10.0.0.0/8"})
	require.NoError(t, err)
	assert.Len(t, trust.nets, 2)
}

func TestRateLimiter_IgnoresSpoofedForwardedFor(t *testing.T) {
	trust, err := ParseProxyTrust(nil)
	require.NoError(t, err)
	rl := NewRateLimiter(1, 1)
	h := trust.Handler(rl.Handler(okHandler()))

	passed := 0
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", nil)
		req.RemoteAddr = "192.0.2.1:5555"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code == http.StatusOK {
			passed++
		}
	}
	assert.Equal(t, 1, passed)
	assert.Len(t, rl.clients, 1)
}

func TestRateLimiter_TrustedProxyPerClient(t *testing.T) {
	trust, err := ParseProxyTrust([]string{"10.0.0.0/8"})
	require.NoError(t, err)
	rl := NewRateLimiter(1, 1)
	h := trust.Handler(rl.Handler(okHandler()))

	call := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/license/validate", nil)
		req.RemoteAddr = "10.0.0.5:5555"
		req.Header.Set("X-Forwarded-For", client)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}
	assert.Equal(t, http.StatusOK, call("198.51.100.1"))
	assert.Equal(t, http.StatusTooManyRequests, call("198.51.100.1"))
	assert.Equal(t, http.StatusOK, call("198.51.100.2"))
}
