package protocol

import (
	"net/http"

	"github.com/gorilla/mux"

	"licgate/internal/middleware"
	"licgate/internal/reqauth"
)

const Prefix = middleware.ProtocolPrefix

// RegisterRoutes вешает подписанные POST-эндпоинты клиента.
func RegisterRoutes(r *mux.Router, engine Engine, auth *reqauth.Verifier) {
	h := NewHandler(engine)
	sub := r.PathPrefix(Prefix).Subrouter()
	sub.Use(auth.Middleware)
	sub.HandleFunc("/validate", h.Validate).Methods(http.MethodPost)
	sub.HandleFunc("/heartbeat", h.Heartbeat).Methods(http.MethodPost)
	sub.HandleFunc("/deactivate", h.Deactivate).Methods(http.MethodPost)
	sub.HandleFunc("/request-login", h.RequestLogin).Methods(http.MethodPost)
}
