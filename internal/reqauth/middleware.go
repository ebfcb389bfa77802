package reqauth

import (
	"bytes"
	"io"
	"net/http"

	"licgate/internal/logs"
	"licgate/internal/metrics"
	"licgate/internal/models"
)

const maxBodyBytes = 64 << 10

// Middleware пропускает дальше только подписанные запросы; тело восстанавливается для обработчика.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	log := logs.Component("reqauth")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deny := func(reason string) {
			metrics.SecurityFailures.WithLabelValues(reason).Inc()
			log.WithField("reason", reason).WithField("path", r.URL.Path).
				WithField("remote", r.RemoteAddr).Warn("request rejected")
			models.WriteFail(w, http.StatusUnauthorized, "SECURITY_ERROR", GenericMessage, nil)
		}

		if !v.CheckTransport(r) {
			deny(ReasonInsecureTransport)
			return
		}

		raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			models.WriteFail(w, http.StatusBadRequest, "INVALID_REQUEST", "Unreadable request body", nil)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))

		payload, err := Decode(raw)
		if err != nil {
			models.WriteFail(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be a JSON object", nil)
			return
		}

		res, err := v.Verify(r.Context(), payload)
		if err != nil {
			log.WithError(err).Error("signature verification unavailable")
			models.WriteFail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error", nil)
			return
		}
		if !res.OK {
			deny(res.Reason)
			return
		}
		next.ServeHTTP(w, r)
	})
}
