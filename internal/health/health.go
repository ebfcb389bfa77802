package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"licgate/internal/models"
)

// Deps — что проверяет readiness; nil-зависимость не проверяется (in-memory режим).
type Deps struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// RegisterRoutes — /healthz (liveness) и /readyz (БД + Redis).
func RegisterRoutes(r *mux.Router, d Deps) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", d.readiness).Methods(http.MethodGet)
}

func (d Deps) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	ok := true
	if d.DB != nil {
		checks["db"] = "ok"
		sqlDB, err := d.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			checks["db"] = "unreachable"
			ok = false
		}
	}
	if d.Redis != nil {
		checks["redis"] = "ok"
		if err := d.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unreachable"
			ok = false
		}
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	models.WriteJSON(w, status, map[string]any{"ready": ok, "checks": checks})
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
