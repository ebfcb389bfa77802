package licensing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"licgate/internal/logs"
	"licgate/internal/metrics"
	"licgate/internal/models"
	"licgate/internal/repo"
)

const (
	// запрос на вход показываем heartbeat'у не дольше этого
	loginRequestMaxAge = 5 * time.Minute
	// повторы при нарушении уникальности активной сессии
	maxConflictAttempts = 3
	loginApprovalAction = "request_login_approval"
)

type Options struct {
	GracePeriod     time.Duration // молчание, после которого сессия протухла
	LoginRequestTTL time.Duration
	StoreTimeout    time.Duration // на каждый вызов хранилища
	AuditTimeout    time.Duration
	Now             func() time.Time
}

type Service struct {
	licenses LicenseRepo
	sessions SessionRepo
	audit    AuditSink
	logins   LoginRequests
	locker   Locker

	grace        time.Duration
	loginTTL     time.Duration
	storeTimeout time.Duration
	auditTimeout time.Duration
	now          func() time.Time

	log *logrus.Entry
	wg  sync.WaitGroup // фоновые записи журнала
}

func NewService(licenses LicenseRepo, sessions SessionRepo, audit AuditSink, logins LoginRequests, locker Locker, o Options) *Service {
	if o.GracePeriod <= 0 {
		o.GracePeriod = 3 * time.Minute
	}
	if o.LoginRequestTTL <= 0 || o.LoginRequestTTL > loginRequestMaxAge {
		o.LoginRequestTTL = loginRequestMaxAge
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 3 * time.Second
	}
	if o.AuditTimeout <= 0 {
		o.AuditTimeout = o.StoreTimeout
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return &Service{
		licenses:     licenses,
		sessions:     sessions,
		audit:        audit,
		logins:       logins,
		locker:       locker,
		grace:        o.GracePeriod,
		loginTTL:     o.LoginRequestTTL,
		storeTimeout: o.StoreTimeout,
		auditTimeout: o.AuditTimeout,
		now:          o.Now,
		log:          logs.Component("licensing"),
	}
}

// Validate решает судьбу пары (лицензия, устройство): новая сессия, продление,
// вытеснение протухшей чужой сессии или отказ.
func (s *Service) Validate(ctx context.Context, in ValidateInput) (*ValidateResult, error) {
	unlock, err := s.lock(ctx, in.LicenseKey)
	if err != nil {
		metrics.Validations.WithLabelValues("error").Inc()
		return nil, err
	}
	defer unlock()

	var res *ValidateResult
	for attempt := 1; ; attempt++ {
		res, err = s.validateOnce(ctx, in)
		// кто-то (другой инстанс без общего замка) успел создать активную сессию: перечитываем
		if errors.Is(err, repo.ErrActiveSessionExists) && attempt < maxConflictAttempts {
			s.log.WithField("license", in.LicenseKey).Debug("active session conflict, retrying")
			continue
		}
		break
	}

	switch rej, ok := AsRejection(err); {
	case err == nil:
		metrics.Validations.WithLabelValues("ok").Inc()
	case ok:
		metrics.Validations.WithLabelValues(rej.Code).Inc()
	default:
		metrics.Validations.WithLabelValues("error").Inc()
	}
	return res, err
}

func (s *Service) validateOnce(ctx context.Context, in ValidateInput) (*ValidateResult, error) {
	now := s.now().UTC()
	entry := func(ev models.EventType, ok bool, code string) models.ValidationLog {
		return s.entry(in.LicenseKey, in.DeviceID, ev, ok, code, in.Meta, in.AppVersion, now)
	}

	lic, err := call(ctx, s.storeTimeout, func(c context.Context) (*models.License, error) {
		return s.licenses.GetByKey(c, in.LicenseKey)
	})
	if errors.Is(err, repo.ErrNotFound) || (err == nil && lic.Status != models.LicenseActive) {
		s.record(entry(models.EventFailed, false, CodeInvalidLicense))
		return nil, reject(CodeInvalidLicense, "Invalid or inactive license", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	if !lic.ExpiresAt.After(now) {
		s.markExpired(ctx, lic.Key)
		s.record(entry(models.EventFailed, false, CodeLicenseExpired))
		return nil, reject(CodeLicenseExpired, "License has expired", nil)
	}

	active, err := call(ctx, s.storeTimeout, func(c context.Context) (*models.Session, error) {
		return s.sessions.GetActiveByLicense(c, in.LicenseKey)
	})
	if errors.Is(err, repo.ErrNotFound) {
		active, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}

	var sess *models.Session
	switch {
	case active == nil:
		if sess, err = s.createSession(ctx, in, now); err != nil {
			return nil, err
		}

	case active.DeviceID == in.DeviceID:
		err := s.exec(ctx, func(c context.Context) error {
			return s.sessions.Touch(c, active.SessionID, now, in.SessionSerial, in.AppVersion)
		})
		switch {
		case errors.Is(err, repo.ErrNotFound):
			// сессию погасили между чтением и продлением: заводим новую
			s.log.WithFields(logrus.Fields{"license": in.LicenseKey, "session": active.SessionID}).
				Info("session deactivated concurrently, starting a new one")
			if sess, err = s.createSession(ctx, in, now); err != nil {
				return nil, err
			}
		case err != nil:
			return nil, fmt.Errorf("refresh session: %w", err)
		default:
			sess = active
			if now.After(sess.LastSeenAt) {
				sess.LastSeenAt = now
			}
		}

	case active.Age(now) > s.grace:
		sess = s.newSession(in, now)
		if err := s.exec(ctx, func(c context.Context) error {
			return s.sessions.Replace(c, active.SessionID, ReasonSuperseded, now, sess)
		}); err != nil {
			return nil, fmt.Errorf("replace stale session: %w", err)
		}
		metrics.SessionsDeactivated.WithLabelValues(ReasonSuperseded).Inc()
		s.log.WithFields(logrus.Fields{
			"license":    in.LicenseKey,
			"stale":      active.DeviceID,
			"device":     in.DeviceID,
			"silent_for": active.Age(now).String(),
		}).Info("stale session superseded")
		s.record(s.entry(in.LicenseKey, active.DeviceID, models.EventDeactivation, true, ReasonSuperseded, in.Meta, "", now))
		s.forgetLoginRequest(ctx, in.LicenseKey)

	default:
		s.record(entry(models.EventDuplicateDetected, false, CodeLicenseInUse))
		return nil, reject(CodeLicenseInUse, "License is already in use on another device", InUseData{
			ActiveDeviceID: active.DeviceID,
			LastSeenAt:     active.LastSeenAt,
		})
	}

	s.record(entry(models.EventValidation, true, ""))
	return &ValidateResult{
		LicenseKey:    lic.Key,
		SessionID:     sess.SessionID,
		DeviceID:      sess.DeviceID,
		Status:        string(lic.Status),
		Plan:          lic.Plan,
		ExpiresAt:     lic.ExpiresAt,
		DaysRemaining: DaysRemaining(lic.ExpiresAt, now),
		Email:         lic.Email,
		CreatedAt:     sess.CreatedAt,
		LastSeenAt:    sess.LastSeenAt,
	}, nil
}

// Heartbeat продлевает живую сессию или гасит протухшую. Сессий не создаёт.
func (s *Service) Heartbeat(ctx context.Context, in HeartbeatInput) (*HeartbeatResult, error) {
	unlock, err := s.lock(ctx, in.LicenseKey)
	if err != nil {
		metrics.Heartbeats.WithLabelValues("error").Inc()
		return nil, err
	}
	defer unlock()

	res, err := s.heartbeat(ctx, in)
	switch rej, ok := AsRejection(err); {
	case err == nil:
		metrics.Heartbeats.WithLabelValues("ok").Inc()
	case ok:
		metrics.Heartbeats.WithLabelValues(rej.Code).Inc()
	default:
		metrics.Heartbeats.WithLabelValues("error").Inc()
	}
	return res, err
}

func (s *Service) heartbeat(ctx context.Context, in HeartbeatInput) (*HeartbeatResult, error) {
	now := s.now().UTC()
	failed := func(code string) {
		s.record(s.entry(in.LicenseKey, in.DeviceID, models.EventHeartbeatFailed, false, code, in.Meta, in.AppVersion, now))
	}

	sess, err := call(ctx, s.storeTimeout, func(c context.Context) (*models.Session, error) {
		return s.sessions.GetBySessionID(c, in.SessionID)
	})
	if errors.Is(err, repo.ErrNotFound) || (err == nil && (sess.LicenseKey != in.LicenseKey || sess.DeviceID != in.DeviceID)) {
		failed(CodeInvalidSession)
		return nil, reject(CodeInvalidSession, "Session is not valid for this license and device", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if sess.SessionSerial != "" && in.SessionSerial != "" && in.SessionSerial != sess.SessionSerial {
		failed(CodeSessionConflict)
		return nil, reject(CodeSessionConflict, "Another instance of the application is running with this session", nil)
	}

	lic, err := call(ctx, s.storeTimeout, func(c context.Context) (*models.License, error) {
		return s.licenses.GetByKey(c, in.LicenseKey)
	})
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("get license: %w", err)
	}

	reason := ""
	switch {
	case !sess.Active:
	case !lic.Usable(now):
		reason = ReasonLicenseInactive
	case sess.Age(now) > s.grace:
		reason = ReasonHeartbeatTimeout
	}
	if !sess.Active || reason != "" {
		if reason != "" {
			changed, err := s.execBool(ctx, func(c context.Context) (bool, error) {
				return s.sessions.Deactivate(c, sess.SessionID, reason, now)
			})
			if err != nil {
				return nil, fmt.Errorf("deactivate session: %w", err)
			}
			if changed {
				metrics.SessionsDeactivated.WithLabelValues(reason).Inc()
			}
		}
		failed(CodeSessionExpired)
		return nil, reject(CodeSessionExpired, "Session has expired, validate the license again", nil)
	}

	serial := ""
	if sess.SessionSerial == "" {
		serial = in.SessionSerial
	}
	err = s.exec(ctx, func(c context.Context) error {
		return s.sessions.Touch(c, sess.SessionID, now, serial, in.AppVersion)
	})
	if errors.Is(err, repo.ErrNotFound) {
		// погашена после чтения
		failed(CodeSessionExpired)
		return nil, reject(CodeSessionExpired, "Session has expired, validate the license again", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	lastSeen := now
	if sess.LastSeenAt.After(now) {
		lastSeen = sess.LastSeenAt
	}
	return &HeartbeatResult{
		LastSeenAt:    lastSeen,
		SessionActive: true,
		GraceAllowed:  lic.GraceAllowed,
		LoginRequest:  s.pendingLogin(ctx, in.LicenseKey, sess.DeviceID, now),
	}, nil
}

// Deactivate гасит ровно одну сессию лицензии. Повторный вызов безопасен.
func (s *Service) Deactivate(ctx context.Context, licenseKey, sessionID, reason string) (bool, error) {
	now := s.now().UTC()
	sess, err := call(ctx, s.storeTimeout, func(c context.Context) (*models.Session, error) {
		return s.sessions.GetBySessionID(c, sessionID)
	})
	if errors.Is(err, repo.ErrNotFound) || (err == nil && licenseKey != "" && sess.LicenseKey != licenseKey) {
		return false, reject(CodeSessionNotFound, "Session not found", nil)
	}
	if err != nil {
		return false, fmt.Errorf("get session: %w", err)
	}

	unlock, err := s.lock(ctx, sess.LicenseKey)
	if err != nil {
		return false, err
	}
	defer unlock()

	changed, err := s.execBool(ctx, func(c context.Context) (bool, error) {
		return s.sessions.Deactivate(c, sessionID, reason, now)
	})
	if err != nil {
		return false, fmt.Errorf("deactivate session: %w", err)
	}
	if changed {
		metrics.SessionsDeactivated.WithLabelValues(reason).Inc()
		s.record(s.entry(sess.LicenseKey, sess.DeviceID, models.EventDeactivation, true, reason, Meta{}, "", now))
	}
	return changed, nil
}

// DeactivateAll гасит все сессии лицензии.
func (s *Service) DeactivateAll(ctx context.Context, licenseKey, reason string) (int64, error) {
	unlock, err := s.lock(ctx, licenseKey)
	if err != nil {
		return 0, err
	}
	defer unlock()
	return s.deactivateAll(ctx, licenseKey, reason)
}

func (s *Service) deactivateAll(ctx context.Context, licenseKey, reason string) (int64, error) {
	now := s.now().UTC()
	n, err := call(ctx, s.storeTimeout, func(c context.Context) (int64, error) {
		return s.sessions.DeactivateAll(c, licenseKey, reason, now)
	})
	if err != nil {
		return 0, fmt.Errorf("deactivate sessions: %w", err)
	}
	metrics.SessionsDeactivated.WithLabelValues(reason).Add(float64(n))
	e := s.entry(licenseKey, "", models.EventDeactivation, true, reason, Meta{}, "", now)
	e.Meta["sessions"] = n
	s.record(e)
	return n, nil
}

// RevokeLicense переводит лицензию в revoked/expired и сразу гасит все её сессии.
func (s *Service) RevokeLicense(ctx context.Context, licenseKey string, status models.LicenseStatus) (int64, error) {
	if status != models.LicenseRevoked && status != models.LicenseExpired {
		return 0, ErrInvalidStatus
	}
	unlock, err := s.lock(ctx, licenseKey)
	if err != nil {
		return 0, err
	}
	defer unlock()

	if err := s.exec(ctx, func(c context.Context) error {
		return s.licenses.SetStatus(c, licenseKey, status)
	}); err != nil {
		return 0, fmt.Errorf("set license status: %w", err)
	}
	s.log.WithFields(logrus.Fields{"license": licenseKey, "status": status}).Info("license revoked")
	return s.deactivateAll(ctx, licenseKey, RevokeReason(status))
}

// RequestLogin оставляет владельцу активной сессии просьбу уступить лицензию.
func (s *Service) RequestLogin(ctx context.Context, licenseKey, deviceID, deviceName string) (*LoginRequestResult, error) {
	now := s.now().UTC()
	lic, err := call(ctx, s.storeTimeout, func(c context.Context) (*models.License, error) {
		return s.licenses.GetByKey(c, licenseKey)
	})
	if errors.Is(err, repo.ErrNotFound) || (err == nil && lic.Status != models.LicenseActive) {
		return nil, reject(CodeInvalidLicense, "Invalid or inactive license", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get license: %w", err)
	}
	if !lic.ExpiresAt.After(now) {
		return nil, reject(CodeLicenseExpired, "License has expired", nil)
	}

	active, err := call(ctx, s.storeTimeout, func(c context.Context) (*models.Session, error) {
		return s.sessions.GetActiveByLicense(c, licenseKey)
	})
	if errors.Is(err, repo.ErrNotFound) || (err == nil && active.DeviceID == deviceID) {
		return nil, reject(CodeNoActiveSession, "No other device holds this license", nil)
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}

	req := models.LoginRequest{LicenseKey: licenseKey, DeviceID: deviceID, DeviceName: deviceName, RequestedAt: now}
	if err := s.exec(ctx, func(c context.Context) error { return s.logins.Put(c, req, s.loginTTL) }); err != nil {
		return nil, fmt.Errorf("store login request: %w", err)
	}
	return &LoginRequestResult{ActiveDeviceID: active.DeviceID, RequestedAt: now, ExpiresAt: now.Add(s.loginTTL)}, nil
}

// SweepStale гасит молчащие дольше grace сессии и помечает истёкшие лицензии.
// Каждую сессию гасит под замком её лицензии и только если она всё ещё молчит.
func (s *Service) SweepStale(ctx context.Context) (SweepStats, error) {
	now := s.now().UTC()
	cutoff := now.Add(-s.grace)
	var st SweepStats

	stale, err := call(ctx, s.storeTimeout, func(c context.Context) ([]models.Session, error) {
		return s.sessions.ListStale(c, cutoff)
	})
	if err != nil {
		return st, fmt.Errorf("list stale sessions: %w", err)
	}
	for _, sess := range stale {
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
		changed, err := s.sweepOne(ctx, sess, cutoff, now)
		if err != nil {
			s.log.WithError(err).WithField("license", sess.LicenseKey).Warn("sweep session")
			continue
		}
		if changed {
			st.Deactivated++
			metrics.SessionsDeactivated.WithLabelValues(ReasonHeartbeatTimeout).Inc()
			s.record(s.entry(sess.LicenseKey, sess.DeviceID, models.EventDeactivation, true, ReasonHeartbeatTimeout, Meta{}, "", now))
		}
	}

	st.LicensesExpired, err = call(ctx, s.storeTimeout, func(c context.Context) (int64, error) {
		return s.licenses.ExpireDue(c, now)
	})
	if err != nil {
		return st, fmt.Errorf("expire licenses: %w", err)
	}
	return st, nil
}

func (s *Service) sweepOne(ctx context.Context, sess models.Session, cutoff, now time.Time) (bool, error) {
	unlock, err := s.lock(ctx, sess.LicenseKey)
	if err != nil {
		return false, err
	}
	defer unlock()
	return s.execBool(ctx, func(c context.Context) (bool, error) {
		return s.sessions.DeactivateIfStale(c, sess.SessionID, cutoff, ReasonHeartbeatTimeout, now)
	})
}

// Flush ждёт фоновые записи журнала (остановка сервиса, тесты).
func (s *Service) Flush() { s.wg.Wait() }

// DaysRemaining — ceil((expiry - now) / сутки), не меньше нуля.
func DaysRemaining(expiresAt, now time.Time) int {
	d := expiresAt.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

/* ───── helpers ───── */

func (s *Service) lock(ctx context.Context, licenseKey string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	unlock, err := s.locker.Lock(lctx, licenseKey)
	if err != nil {
		return nil, fmt.Errorf("lock license %s: %w", licenseKey, err)
	}
	return unlock, nil
}

func (s *Service) createSession(ctx context.Context, in ValidateInput, now time.Time) (*models.Session, error) {
	sess := s.newSession(in, now)
	if err := s.exec(ctx, func(c context.Context) error { return s.sessions.Create(c, sess) }); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.forgetLoginRequest(ctx, in.LicenseKey)
	return sess, nil
}

func (s *Service) newSession(in ValidateInput, now time.Time) *models.Session {
	return &models.Session{
		CreatedAt:     now,
		SessionID:     uuid.NewString(),
		LicenseKey:    in.LicenseKey,
		DeviceID:      in.DeviceID,
		DeviceName:    in.DeviceName,
		SessionSerial: in.SessionSerial,
		AppVersion:    in.AppVersion,
		Active:        true,
		LastSeenAt:    now,
	}
}

// markExpired — best effort, отказ клиенту уходит в любом случае.
func (s *Service) markExpired(ctx context.Context, key string) {
	if err := s.exec(ctx, func(c context.Context) error {
		return s.licenses.SetStatus(c, key, models.LicenseExpired)
	}); err != nil {
		s.log.WithError(err).WithField("license", key).Warn("mark license expired")
	}
}

func (s *Service) pendingLogin(ctx context.Context, licenseKey, ownDeviceID string, now time.Time) *LoginPrompt {
	req, err := call(ctx, s.storeTimeout, func(c context.Context) (*models.LoginRequest, error) {
		return s.logins.Get(c, licenseKey)
	})
	if err != nil {
		s.log.WithError(err).WithField("license", licenseKey).Warn("read login request")
		return nil
	}
	if req == nil || req.DeviceID == ownDeviceID || now.Sub(req.RequestedAt) >= loginRequestMaxAge {
		return nil
	}
	return &LoginPrompt{Action: loginApprovalAction, DeviceName: req.DeviceName, DeviceID: req.DeviceID}
}

func (s *Service) forgetLoginRequest(ctx context.Context, licenseKey string) {
	if err := s.exec(ctx, func(c context.Context) error { return s.logins.Delete(c, licenseKey) }); err != nil {
		s.log.WithError(err).WithField("license", licenseKey).Warn("drop login request")
	}
}

func (s *Service) entry(licenseKey, deviceID string, ev models.EventType, ok bool, code string, m Meta, appVersion string, at time.Time) models.ValidationLog {
	meta := map[string]any{}
	if m.IP != "" {
		meta["ip"] = m.IP
	}
	if m.UserAgent != "" {
		meta["user_agent"] = m.UserAgent
	}
	if appVersion != "" {
		meta["app_version"] = appVersion
	}
	return models.ValidationLog{
		CreatedAt:  at,
		LicenseKey: licenseKey,
		DeviceID:   deviceID,
		EventType:  ev,
		Success:    ok,
		ErrorCode:  code,
		Meta:       meta,
	}
}

// record пишет журнал в фоне; ошибка записи никогда не доходит до клиента.
func (s *Service) record(e models.ValidationLog) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.auditTimeout)
		defer cancel()
		if err := s.audit.Append(ctx, &e); err != nil {
			metrics.AuditWriteFailures.Inc()
			s.log.WithError(err).WithFields(logrus.Fields{
				"license": e.LicenseKey,
				"event":   e.EventType,
			}).Warn("audit write failed")
		}
	}()
}

func (s *Service) exec(ctx context.Context, fn func(context.Context) error) error {
	_, err := call(ctx, s.storeTimeout, func(c context.Context) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

func (s *Service) execBool(ctx context.Context, fn func(context.Context) (bool, error)) (bool, error) {
	return call(ctx, s.storeTimeout, fn)
}

// call ограничивает вызов хранилища таймаутом.
func call[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(cctx)
}
