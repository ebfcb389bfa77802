package models

import (
	"time"

	"gorm.io/datatypes"
)

type EventType string

const (
	EventValidation        EventType = "validation"
	EventDuplicateDetected EventType = "duplicate_detected"
	EventDeactivation      EventType = "deactivation"
	EventFailed            EventType = "failed"
	EventHeartbeatFailed   EventType = "heartbeat_failed"
)

// ValidationLog — append-only журнал аудита. Запись best-effort.
type ValidationLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	LicenseKey string            `gorm:"index;size:64;not null" json:"license_key"`
	DeviceID   string            `gorm:"size:255" json:"device_id,omitempty"`
	EventType  EventType         `gorm:"size:32;index;not null" json:"event_type"`
	Success    bool              `gorm:"not null" json:"success"`
	ErrorCode  string            `gorm:"size:64" json:"error_code,omitempty"`
	Meta       datatypes.JSONMap `json:"meta,omitempty"` // ip, user agent, версия клиента
}

// LoginRequest — эфемерный запрос «другое устройство хочет войти».
// Не хранится в БД: Redis или память процесса с TTL.
type LoginRequest struct {
	LicenseKey  string    `json:"license_key"`
	DeviceID    string    `json:"device_id"`
	DeviceName  string    `json:"device_name"`
	RequestedAt time.Time `json:"requested_at"`
}
