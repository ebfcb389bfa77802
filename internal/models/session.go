package models

import "time"

// Session — одна живая привязка лицензии к устройству.
// На один license_key не больше одной строки с active = true.
type Session struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"created_at"`

	SessionID     string `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	LicenseKey    string `gorm:"index;size:64;not null" json:"license_key"`
	DeviceID      string `gorm:"index;size:255;not null" json:"device_id"`
	DeviceName    string `gorm:"size:255" json:"device_name,omitempty"`
	SessionSerial string `gorm:"size:128" json:"session_serial,omitempty"`
	AppVersion    string `gorm:"size:64" json:"app_version,omitempty"`

	Active            bool       `gorm:"index;not null" json:"active"`
	LastSeenAt        time.Time  `gorm:"index;not null" json:"last_seen_at"`
	DeactivatedAt     *time.Time `json:"deactivated_at,omitempty"`
	DeactivatedReason string     `gorm:"size:64" json:"deactivated_reason,omitempty"`
}

func (Session) TableName() string { return "license_sessions" }

// Age — сколько прошло с последнего heartbeat/validate.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.LastSeenAt)
}
