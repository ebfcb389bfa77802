package server

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"licgate/internal/admin"
	"licgate/internal/cache"
	"licgate/internal/licensing"
	"licgate/internal/monitor"
	"licgate/internal/repo"
	"licgate/internal/reqauth"
)

type licenseStore interface {
	licensing.LicenseRepo
	admin.LicenseStore
}

type sessionStore interface {
	licensing.SessionRepo
	admin.SessionLister
}

type auditStore interface {
	licensing.AuditSink
	admin.AuditLister
}

// stores — БД через gorm, если драйвер задан, иначе память процесса.
type stores struct {
	licenses licenseStore
	sessions sessionStore
	audit    auditStore
}

func newStores(db *gorm.DB) stores {
	if db == nil {
		return stores{
			licenses: repo.NewMemLicenseStore(),
			sessions: repo.NewMemSessionStore(),
			audit:    repo.NewMemAuditStore(),
		}
	}
	return stores{
		licenses: repo.NewLicenseStore(db),
		sessions: repo.NewSessionStore(db),
		audit:    repo.NewAuditStore(db),
	}
}

// ephemeral — запросы на вход, замки и кэш подписей: Redis (общий для инстансов) или память.
type ephemeral struct {
	logins     licensing.LoginRequests
	locker     licensing.Locker
	replay     reqauth.ReplayGuard
	collectors []monitor.Collector
}

func newEphemeral(rdb *redis.Client, lockTTL time.Duration) ephemeral {
	if rdb == nil {
		logins := cache.NewMemLoginRequests()
		return ephemeral{
			logins:     logins,
			locker:     cache.NewKeyedMutex(),
			replay:     reqauth.NewMemReplayGuard(),
			collectors: []monitor.Collector{logins},
		}
	}
	return ephemeral{
		logins: cache.NewRedisLoginRequests(rdb),
		locker: cache.NewRedisLocker(rdb, lockTTL),
		replay: cache.NewRedisReplayGuard(rdb),
	}
}

func connectRedis(url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return cache.Connect(ctx, url)
}
