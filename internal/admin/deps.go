package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"licgate/internal/models"
)

type LicenseStore interface {
	Create(ctx context.Context, l *models.License) error
	GetByKey(ctx context.Context, key string) (*models.License, error)
	List(ctx context.Context, limit, offset int) ([]models.License, error)
	Renew(ctx context.Context, key string, expiresAt time.Time) (*models.License, error)
	Delete(ctx context.Context, key string) error
}

type SessionLister interface {
	ListByLicense(ctx context.Context, licenseKey string) ([]models.Session, error)
}

type AuditLister interface {
	ListByLicense(ctx context.Context, licenseKey string, limit int) ([]models.ValidationLog, error)
}

// Engine — административные действия, которые меняют состояние сессий.
type Engine interface {
	Deactivate(ctx context.Context, licenseKey, sessionID, reason string) (bool, error)
	DeactivateAll(ctx context.Context, licenseKey, reason string) (int64, error)
	RevokeLicense(ctx context.Context, licenseKey string, status models.LicenseStatus) (int64, error)
}

type Dependencies struct {
	Licenses  LicenseStore
	Sessions  SessionLister
	Audit     AuditLister
	Engine    Engine
	TokenHash string // argon2id-хэш bearer-токена
	KeyPrefix string // префикс генерируемых ключей, например STB7
	Now       func() time.Time
}

func Attach(r *mux.Router, d Dependencies) {
	if d.Now == nil {
		d.Now = time.Now
	}
	h := NewHandler(d)
	sub := r.PathPrefix("/admin/api").Subrouter()
	sub.Use(BearerAuth(d.TokenHash))

	sub.HandleFunc("/licenses", h.ListLicenses).Methods(http.MethodGet)
	sub.HandleFunc("/licenses", h.CreateLicense).Methods(http.MethodPost)
	sub.HandleFunc("/licenses/{key}", h.GetLicense).Methods(http.MethodGet)
	sub.HandleFunc("/licenses/{key}", h.DeleteLicense).Methods(http.MethodDelete)
	sub.HandleFunc("/licenses/{key}/renew", h.RenewLicense).Methods(http.MethodPost)
	sub.HandleFunc("/licenses/{key}/revoke", h.RevokeLicense).Methods(http.MethodPost)
	sub.HandleFunc("/licenses/{key}/sessions", h.ListSessions).Methods(http.MethodGet)
	sub.HandleFunc("/licenses/{key}/sessions/deactivate-all", h.DeactivateAll).Methods(http.MethodPost)
	sub.HandleFunc("/licenses/{key}/sessions/{sid}/deactivate", h.DeactivateSession).Methods(http.MethodPost)
	sub.HandleFunc("/licenses/{key}/audit", h.ListAudit).Methods(http.MethodGet)
}
