package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"licgate/internal/models"
)

/* ───── in-memory stores (режим без БД и тесты) ───── */

type MemLicenseStore struct {
	mu    sync.RWMutex
	byKey map[string]models.License
	seq   uint
}

func NewMemLicenseStore() *MemLicenseStore {
	return &MemLicenseStore{byKey: make(map[string]models.License)}
}

func (m *MemLicenseStore) Create(_ context.Context, l *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[l.Key]; ok {
		return ErrDuplicateKey
	}
	if l.Status == "" {
		l.Status = models.LicenseActive
	}
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	m.seq++
	l.ID = m.seq
	m.byKey[l.Key] = *l
	return nil
}

func (m *MemLicenseStore) GetByKey(_ context.Context, key string) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &l, nil
}

func (m *MemLicenseStore) List(_ context.Context, limit, offset int) ([]models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.License, 0, len(m.byKey))
	for _, l := range m.byKey {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset >= len(out) {
		return []models.License{}, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemLicenseStore) SetStatus(_ context.Context, key string, status models.LicenseStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byKey[key]
	if !ok {
		return ErrNotFound
	}
	l.Status = status
	l.UpdatedAt = time.Now().UTC()
	m.byKey[key] = l
	return nil
}

func (m *MemLicenseStore) Renew(_ context.Context, key string, expiresAt time.Time) (*models.License, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	if l.Status == models.LicenseRevoked {
		return nil, ErrLicenseRevoked
	}
	l.ExpiresAt = expiresAt.UTC()
	l.Status = models.LicenseActive
	l.UpdatedAt = time.Now().UTC()
	m.byKey[key] = l
	return &l, nil
}

func (m *MemLicenseStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.byKey[key]
	if !ok {
		return ErrNotFound
	}
	if l.Status != models.LicenseRevoked {
		return ErrNotRevoked
	}
	delete(m.byKey, key)
	return nil
}

func (m *MemLicenseStore) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, l := range m.byKey {
		if l.Status == models.LicenseActive && !l.ExpiresAt.After(now) {
			l.Status = models.LicenseExpired
			l.UpdatedAt = time.Now().UTC()
			m.byKey[k] = l
			n++
		}
	}
	return n, nil
}

type MemSessionStore struct {
	mu   sync.RWMutex
	byID map[string]*models.Session
	seq  uint
}

func NewMemSessionStore() *MemSessionStore {
	return &MemSessionStore{byID: make(map[string]*models.Session)}
}

func (m *MemSessionStore) GetActiveByLicense(_ context.Context, licenseKey string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.byID {
		if s.LicenseKey == licenseKey && s.Active {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemSessionStore) GetBySessionID(_ context.Context, sessionID string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byID[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemSessionStore) ListByLicense(_ context.Context, licenseKey string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.byID {
		if s.LicenseKey == licenseKey {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *MemSessionStore) Create(_ context.Context, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(sess)
}

func (m *MemSessionStore) Replace(_ context.Context, staleSessionID, reason string, at time.Time, sess *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale, ok := m.byID[staleSessionID]
	wasActive := ok && stale.Active
	if wasActive {
		m.deactivateLocked(stale, reason, at)
	}
	if err := m.createLocked(sess); err != nil {
		// откат, как сделала бы транзакция
		if wasActive {
			stale.Active = true
			stale.DeactivatedAt = nil
			stale.DeactivatedReason = ""
		}
		return err
	}
	return nil
}

func (m *MemSessionStore) Touch(_ context.Context, sessionID string, at time.Time, serial, appVersion string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok || !s.Active {
		return ErrNotFound
	}
	if at.After(s.LastSeenAt) {
		s.LastSeenAt = at.UTC()
	}
	if serial != "" {
		s.SessionSerial = serial
	}
	if appVersion != "" {
		s.AppVersion = appVersion
	}
	return nil
}

func (m *MemSessionStore) Deactivate(_ context.Context, sessionID, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok || !s.Active {
		return false, nil
	}
	m.deactivateLocked(s, reason, at)
	return true, nil
}

func (m *MemSessionStore) DeactivateAll(_ context.Context, licenseKey, reason string, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.byID {
		if s.LicenseKey == licenseKey && s.Active {
			m.deactivateLocked(s, reason, at)
			n++
		}
	}
	return n, nil
}

func (m *MemSessionStore) ListStale(_ context.Context, cutoff time.Time) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.byID {
		if s.Active && s.LastSeenAt.Before(cutoff) {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.Before(out[j].LastSeenAt) })
	return out, nil
}

func (m *MemSessionStore) DeactivateIfStale(_ context.Context, sessionID string, cutoff time.Time, reason string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok || !s.Active || !s.LastSeenAt.Before(cutoff) {
		return false, nil
	}
	m.deactivateLocked(s, reason, at)
	return true, nil
}

func (m *MemSessionStore) createLocked(sess *models.Session) error {
	if sess.Active {
		for _, s := range m.byID {
			if s.LicenseKey == sess.LicenseKey && s.Active {
				return ErrActiveSessionExists
			}
		}
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	m.seq++
	sess.ID = m.seq
	cp := *sess
	m.byID[sess.SessionID] = &cp
	return nil
}

func (m *MemSessionStore) deactivateLocked(s *models.Session, reason string, at time.Time) {
	at = at.UTC()
	s.Active = false
	s.DeactivatedAt = &at
	s.DeactivatedReason = reason
}

type MemAuditStore struct {
	mu   sync.Mutex
	rows []models.ValidationLog
}

func NewMemAuditStore() *MemAuditStore { return &MemAuditStore{} }

func (m *MemAuditStore) Append(_ context.Context, e *models.ValidationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uint(len(m.rows) + 1)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.rows = append(m.rows, *e)
	return nil
}

func (m *MemAuditStore) ListByLicense(_ context.Context, licenseKey string, limit int) ([]models.ValidationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var out []models.ValidationLog
	for i := len(m.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if m.rows[i].LicenseKey == licenseKey {
			out = append(out, m.rows[i])
		}
	}
	return out, nil
}
