package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"licgate/internal/db"
)

func serve(r *mux.Router, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestLivenessAndEmptyReadiness(t *testing.T) {
	r := mux.NewRouter()
	RegisterRoutes(r, Deps{})
	assert.Equal(t, http.StatusOK, serve(r, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(r, "/readyz").Code)
}

func TestReadiness_DBAndRedis(t *testing.T) {
	gdb, err := db.Open("sqlite", filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())

	r := mux.NewRouter()
	RegisterRoutes(r, Deps{DB: gdb, Redis: rdb})
	rr := serve(r, "/readyz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"ready":true,"checks":{"db":"ok","redis":"ok"}}`, rr.Body.String())

	mr.Close()
	rr = serve(r, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), `"redis":"unreachable"`)
}
