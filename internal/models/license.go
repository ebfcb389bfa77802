package models

import "time"

type LicenseStatus string

const (
	LicenseActive  LicenseStatus = "active"
	LicenseExpired LicenseStatus = "expired"
	LicenseRevoked LicenseStatus = "revoked"
)

func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseActive, LicenseExpired, LicenseRevoked:
		return true
	}
	return false
}

// License — купленное право пользования; ключ непрозрачный и уникальный.
type License struct {
	ID        uint      `gorm:"primaryKey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Key          string        `gorm:"column:license_key;uniqueIndex;size:64;not null" json:"key"`
	Email        string        `gorm:"size:255;index" json:"email"`
	Plan         string        `gorm:"size:64" json:"plan"`
	Status       LicenseStatus `gorm:"size:16;index;not null" json:"status"`
	GraceAllowed bool          `gorm:"not null;default:false" json:"grace_allowed"` // разрешён ли офлайн-режим клиенту
	ExpiresAt    time.Time     `gorm:"index;not null" json:"expires_at"`
}

// Usable — активна и не истекла на момент now.
func (l *License) Usable(now time.Time) bool {
	return l != nil && l.Status == LicenseActive && l.ExpiresAt.After(now)
}
