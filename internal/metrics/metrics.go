package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики сервиса лицензий
var (
	// Validations исходы validate по коду ("ok" или errorCode)
	Validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licgate_validations_total",
		Help: "License validations by result",
	}, []string{"result"})

	// Heartbeats исходы heartbeat по коду
	Heartbeats = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licgate_heartbeats_total",
		Help: "Session heartbeats by result",
	}, []string{"result"})

	// SecurityFailures отказы проверки подписи/транспорта
	SecurityFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licgate_security_failures_total",
		Help: "Rejected protocol requests by security check",
	}, []string{"reason"})

	// SessionsDeactivated деактивированные сессии по причине
	SessionsDeactivated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licgate_sessions_deactivated_total",
		Help: "Deactivated sessions by reason",
	}, []string{"reason"})

	// AuditWriteFailures неудачные записи в журнал проверок
	AuditWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "licgate_audit_write_failures_total",
		Help: "Validation log writes that failed",
	})

	// HTTPDuration время обработки HTTP-запросов
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "licgate_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "status"})

	// RateLimited отклонённые лимитером запросы
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "licgate_rate_limited_total",
		Help: "Requests rejected by the rate limiter",
	})
)
