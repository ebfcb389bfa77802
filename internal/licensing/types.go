package licensing

import (
	"context"
	"time"

	"licgate/internal/models"
)

type LicenseRepo interface {
	GetByKey(ctx context.Context, key string) (*models.License, error)
	SetStatus(ctx context.Context, key string, status models.LicenseStatus) error
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

type SessionRepo interface {
	GetActiveByLicense(ctx context.Context, licenseKey string) (*models.Session, error)
	GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error)
	Create(ctx context.Context, sess *models.Session) error
	Replace(ctx context.Context, staleSessionID, reason string, at time.Time, sess *models.Session) error
	Touch(ctx context.Context, sessionID string, at time.Time, serial, appVersion string) error
	Deactivate(ctx context.Context, sessionID, reason string, at time.Time) (bool, error)
	DeactivateAll(ctx context.Context, licenseKey, reason string, at time.Time) (int64, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]models.Session, error)
	DeactivateIfStale(ctx context.Context, sessionID string, cutoff time.Time, reason string, at time.Time) (bool, error)
}

type AuditSink interface {
	Append(ctx context.Context, e *models.ValidationLog) error
}

type LoginRequests interface {
	Put(ctx context.Context, req models.LoginRequest, ttl time.Duration) error
	Get(ctx context.Context, licenseKey string) (*models.LoginRequest, error)
	Delete(ctx context.Context, licenseKey string) error
}

// Locker — критическая секция на лицензию; unlock идемпотентен.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Meta — сетевые метаданные запроса для журнала.
type Meta struct {
	IP        string
	UserAgent string
}

type ValidateInput struct {
	LicenseKey    string
	DeviceID      string
	DeviceName    string
	AppVersion    string
	SessionSerial string
	Meta          Meta
}

type ValidateResult struct {
	LicenseKey    string    `json:"licenseKey"`
	SessionID     string    `json:"sessionId"`
	DeviceID      string    `json:"deviceId"`
	Status        string    `json:"status"`
	Plan          string    `json:"plan"`
	ExpiresAt     time.Time `json:"expiresAt"`
	DaysRemaining int       `json:"daysRemaining"`
	Email         string    `json:"email"`
	CreatedAt     time.Time `json:"createdAt"`
	LastSeenAt    time.Time `json:"lastSeenAt"`
}

// InUseData — кто держит лицензию (data у LICENSE_IN_USE).
type InUseData struct {
	ActiveDeviceID string    `json:"activeDeviceId"`
	LastSeenAt     time.Time `json:"lastSeenAt"`
}

type HeartbeatInput struct {
	LicenseKey    string
	SessionID     string
	DeviceID      string
	SessionSerial string
	AppVersion    string
	Meta          Meta
}

type LoginPrompt struct {
	Action     string `json:"action"`
	DeviceName string `json:"deviceName"`
	DeviceID   string `json:"deviceId"`
}

type HeartbeatResult struct {
	LastSeenAt    time.Time    `json:"lastSeenAt"`
	SessionActive bool         `json:"sessionActive"`
	GraceAllowed  bool         `json:"graceAllowed"`
	LoginRequest  *LoginPrompt `json:"loginRequest"`
}

type LoginRequestResult struct {
	ActiveDeviceID string    `json:"activeDeviceId"`
	RequestedAt    time.Time `json:"requestedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

type SweepStats struct {
	Deactivated     int
	LicensesExpired int64
}
