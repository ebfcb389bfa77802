package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"licgate/internal/models"
)

type LicenseStore struct{ db *gorm.DB }

func NewLicenseStore(db *gorm.DB) *LicenseStore { return &LicenseStore{db: db} }

func (s *LicenseStore) Create(ctx context.Context, l *models.License) error {
	if l.Status == "" {
		l.Status = models.LicenseActive
	}
	err := s.db.WithContext(ctx).Create(l).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicateKey
	}
	return err
}

func (s *LicenseStore) GetByKey(ctx context.Context, key string) (*models.License, error) {
	var l models.License
	err := s.db.WithContext(ctx).Where("license_key = ?", key).First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *LicenseStore) List(ctx context.Context, limit, offset int) ([]models.License, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []models.License
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Offset(offset).Find(&rows).Error
	return rows, err
}

func (s *LicenseStore) SetStatus(ctx context.Context, key string, status models.LicenseStatus) error {
	res := s.db.WithContext(ctx).Model(&models.License{}).
		Where("license_key = ?", key).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Renew ставит новый срок и возвращает лицензию в active. Отозванную не трогаем.
func (s *LicenseStore) Renew(ctx context.Context, key string, expiresAt time.Time) (*models.License, error) {
	var out *models.License
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l models.License
		if err := tx.Where("license_key = ?", key).First(&l).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if l.Status == models.LicenseRevoked {
			return ErrLicenseRevoked
		}
		l.ExpiresAt = expiresAt.UTC()
		l.Status = models.LicenseActive
		if err := tx.Save(&l).Error; err != nil {
			return err
		}
		out = &l
		return nil
	})
	return out, err
}

// Delete разрешён только для revoked.
func (s *LicenseStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l models.License
		if err := tx.Where("license_key = ?", key).First(&l).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if l.Status != models.LicenseRevoked {
			return ErrNotRevoked
		}
		return tx.Delete(&l).Error
	})
}

// ExpireDue переводит просроченные active-лицензии в expired.
func (s *LicenseStore) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.License{}).
		Where("status = ? AND expires_at <= ?", models.LicenseActive, now.UTC()).
		Update("status", models.LicenseExpired)
	return res.RowsAffected, res.Error
}
