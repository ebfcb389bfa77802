package admin

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"licgate/internal/logs"
	"licgate/internal/models"
	"licgate/internal/secrets"
)

// BearerAuth: Authorization: Bearer <token>, сверка с argon2id-хэшем из конфига.
// Пустой хэш закрывает API целиком.
func BearerAuth(tokenHash string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const p = "Bearer "
			auth := r.Header.Get("Authorization")
			if tokenHash == "" || !strings.HasPrefix(auth, p) {
				unauthorized(w)
				return
			}
			ok, err := secrets.VerifyToken(tokenHash, strings.TrimPrefix(auth, p))
			if err != nil {
				logs.Component("admin").WithError(err).Error("admin token hash is unusable")
			}
			if !ok {
				unauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="licgate-admin"`)
	models.WriteProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid admin token", nil)
}
