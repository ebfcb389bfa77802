package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"

	"licgate/internal/models"
)

// ProtocolPrefix — маршруты десктоп-клиента; они отвечают конвертом, а не problem+json.
const ProtocolPrefix = "/api/v1/license"

// Recoverer перехватывает панику в обработчике, пишет лог со стеком и отвечает 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			Entry(r).WithField("uri", r.RequestURI).Errorf("panic: %v\nstack:\n%s", rec, debug.Stack())
			if strings.HasPrefix(r.URL.Path, ProtocolPrefix) {
				models.WriteFail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
				return
			}
			models.WriteProblem(w, http.StatusInternalServerError,
				"Internal Server Error",
				"unexpected server error (see logs by reqid)", map[string]any{
					"reqid": GetRequestID(r),
				})
		}()
		next.ServeHTTP(w, r)
	})
}
