package repo

import (
	"context"

	"gorm.io/gorm"

	"licgate/internal/models"
)

type AuditStore struct{ db *gorm.DB }

func NewAuditStore(db *gorm.DB) *AuditStore { return &AuditStore{db: db} }

func (s *AuditStore) Append(ctx context.Context, e *models.ValidationLog) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *AuditStore) ListByLicense(ctx context.Context, licenseKey string, limit int) ([]models.ValidationLog, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var rows []models.ValidationLog
	err := s.db.WithContext(ctx).
		Where("license_key = ?", licenseKey).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
