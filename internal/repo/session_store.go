package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"licgate/internal/models"
)

type SessionStore struct{ db *gorm.DB }

func NewSessionStore(db *gorm.DB) *SessionStore { return &SessionStore{db: db} }

func (s *SessionStore) GetActiveByLicense(ctx context.Context, licenseKey string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).
		Where("license_key = ? AND active = ?", licenseKey, true).
		Order("last_seen_at desc").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) GetBySessionID(ctx context.Context, sessionID string) (*models.Session, error) {
	var sess models.Session
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) ListByLicense(ctx context.Context, licenseKey string) ([]models.Session, error) {
	var rows []models.Session
	err := s.db.WithContext(ctx).
		Where("license_key = ?", licenseKey).
		Order("created_at desc").
		Find(&rows).Error
	return rows, err
}

func (s *SessionStore) Create(ctx context.Context, sess *models.Session) error {
	return createSession(s.db.WithContext(ctx), sess)
}

// Replace в одной транзакции гасит протухшую сессию и заводит новую.
func (s *SessionStore) Replace(ctx context.Context, staleSessionID, reason string, at time.Time, sess *models.Session) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := deactivate(tx.Where("session_id = ?", staleSessionID), reason, at); err != nil {
			return err
		}
		return createSession(tx, sess)
	})
}

// Touch сдвигает last_seen_at только вперёд; serial и версию клиента пишет, если переданы.
// Погашенную сессию не трогает: для неё ErrNotFound.
func (s *SessionStore) Touch(ctx context.Context, sessionID string, at time.Time, serial, appVersion string) error {
	at = at.UTC()
	upd := map[string]any{
		"last_seen_at": gorm.Expr("CASE WHEN last_seen_at < ? THEN ? ELSE last_seen_at END", at, at),
	}
	if serial != "" {
		upd["session_serial"] = serial
	}
	if appVersion != "" {
		upd["app_version"] = appVersion
	}
	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ? AND active = ?", sessionID, true).
		Updates(upd)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	// MySQL не считает строку, если значения не изменились
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("session_id = ? AND active = ?", sessionID, true).
		Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SessionStore) Deactivate(ctx context.Context, sessionID, reason string, at time.Time) (bool, error) {
	n, err := deactivate(s.db.WithContext(ctx).Where("session_id = ?", sessionID), reason, at)
	return n > 0, err
}

func (s *SessionStore) DeactivateAll(ctx context.Context, licenseKey, reason string, at time.Time) (int64, error) {
	return deactivate(s.db.WithContext(ctx).Where("license_key = ?", licenseKey), reason, at)
}

// ListStale — активные сессии, молчащие дольше cutoff.
func (s *SessionStore) ListStale(ctx context.Context, cutoff time.Time) ([]models.Session, error) {
	var out []models.Session
	err := s.db.WithContext(ctx).
		Where("active = ? AND last_seen_at < ?", true, cutoff.UTC()).
		Order("last_seen_at").
		Find(&out).Error
	return out, err
}

// DeactivateIfStale гасит сессию, только если она всё ещё молчит дольше cutoff.
func (s *SessionStore) DeactivateIfStale(ctx context.Context, sessionID string, cutoff time.Time, reason string, at time.Time) (bool, error) {
	n, err := deactivate(s.db.WithContext(ctx).Where("session_id = ? AND last_seen_at < ?", sessionID, cutoff.UTC()), reason, at)
	return n > 0, err
}

func createSession(tx *gorm.DB, sess *models.Session) error {
	err := tx.Create(sess).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrActiveSessionExists
	}
	return err
}

func deactivate(scope *gorm.DB, reason string, at time.Time) (int64, error) {
	at = at.UTC()
	res := scope.Model(&models.Session{}).
		Where("active = ?", true).
		Updates(map[string]any{
			"active":             false,
			"deactivated_at":     at,
			"deactivated_reason": reason,
		})
	return res.RowsAffected, res.Error
}
