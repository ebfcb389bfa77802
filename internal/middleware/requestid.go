package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"licgate/internal/logs"
)

type ctxKey string

const (
	requestIDKey    ctxKey = "reqid"
	requestIDHeader        = "X-Request-Id"
	maxRequestIDLen        = 64
)

// RequestID берёт X-Request-Id от прокси или выдаёт новый UUID.
// Слишком длинные и непечатные значения клиента заменяются.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestID(r *http.Request) string {
	v := r.Context().Value(requestIDKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Entry — логгер с reqid запроса.
func Entry(r *http.Request) *logrus.Entry {
	return logs.Logger.WithField("reqid", GetRequestID(r))
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if c := id[i]; c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
