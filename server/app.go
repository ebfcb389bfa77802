package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"licgate/config"
	"licgate/internal/admin"
	"licgate/internal/db"
	"licgate/internal/health"
	"licgate/internal/licensing"
	"licgate/internal/logs"
	"licgate/internal/middleware"
	"licgate/internal/monitor"
	"licgate/internal/protocol"
	"licgate/internal/repo"
	"licgate/internal/reqauth"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	redis      *redis.Client
	Router     *mux.Router
	Service    *licensing.Service
	sweeper    *monitor.Sweeper
	httpServer *http.Server
}

func (a *App) Initialize(cfg *config.Config) error {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	})

	/* 2) DB (опционально) */
	if drv := a.cfg.Database.Driver; drv != "" {
		d, err := db.Open(drv, a.cfg.Database.DSN)
		if err != nil {
			return fmt.Errorf("db open failed: %w", err)
		}
		if err := repo.Migrate(d); err != nil {
			return fmt.Errorf("db migrate failed: %w", err)
		}
		a.db = d
	} else {
		logs.Logger.Warn("database.driver is empty: licenses and sessions live in memory")
	}

	/* 3) Redis (опционально) */
	rdb, err := connectRedis(a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis connect failed: %w", err)
	}
	a.redis = rdb

	st := newStores(a.db)
	eph := newEphemeral(a.redis, 3*a.cfg.StoreTimeout())

	/* 4) Движок лицензий */
	a.Service = licensing.NewService(st.licenses, st.sessions, st.audit, eph.logins, eph.locker, licensing.Options{
		GracePeriod:     a.cfg.GracePeriod(),
		LoginRequestTTL: a.cfg.LoginRequestTTL(),
		StoreTimeout:    a.cfg.StoreTimeout(),
	})

	var replay reqauth.ReplayGuard
	if a.cfg.Security.ReplayGuard {
		replay = eph.replay
	}
	verifier := reqauth.NewVerifier(reqauth.Options{
		APIKey:       a.cfg.Security.APIKey,
		Secret:       a.cfg.Security.HMACSecret,
		Grace:        a.cfg.TimestampGrace(),
		RequireHTTPS: a.cfg.Security.RequireHTTPS,
		LocalHosts:   a.cfg.Security.LocalHosts,
		Replay:       replay,
	})

	/* 5) Router + middleware */
	proxies, err := middleware.ParseProxyTrust(a.cfg.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("server.trusted_proxies: %w", err)
	}
	limiter := middleware.NewRateLimiter(a.cfg.RateLimit.RPS, a.cfg.RateLimit.Burst)
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		proxies.Handler, // адрес клиента и схема для лимитера, журнала и проверки HTTPS
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 6) Health + metrics */
	health.RegisterRoutes(a.Router, health.Deps{DB: a.db, Redis: a.redis}) // /healthz, /readyz
	a.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	/* 7) Протокол клиента (лимит на IP только здесь) */
	api := a.Router.NewRoute().Subrouter()
	api.Use(limiter.Handler)
	protocol.RegisterRoutes(api, a.Service, verifier)

	/* 8) Admin API */
	if a.cfg.Admin.TokenHash != "" {
		admin.Attach(a.Router, admin.Dependencies{
			Licenses:  st.licenses,
			Sessions:  st.sessions,
			Audit:     st.audit,
			Engine:    a.Service,
			TokenHash: a.cfg.Admin.TokenHash,
			KeyPrefix: a.cfg.License.KeyPrefix,
		})
	} else {
		logs.Logger.Warn("admin.token_hash is empty: admin API disabled")
	}

	/* 9) Фоновый sweeper */
	if a.cfg.Session.Sweep {
		collectors := append([]monitor.Collector{limiter}, eph.collectors...)
		a.sweeper = monitor.NewSweeper(a.Service, a.cfg.HeartbeatInterval(), collectors...)
	}

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := rt.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		logs.Logger.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

// Run обслуживает HTTP и sweeper до SIGINT/SIGTERM или первой фатальной ошибки.
func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.sweeper != nil {
		g.Go(func() error { return a.sweeper.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logs.Logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(sctx); err != nil {
			logs.Logger.Errorf("http shutdown: %v", err)
		}
		return nil
	})

	err := g.Wait()
	a.close()
	return err
}

func (a *App) close() {
	if a.Service != nil {
		a.Service.Flush()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
