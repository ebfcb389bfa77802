package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"licgate/internal/licensing"
	"licgate/internal/logs"
)

// Target — движок, который умеет гасить протухшие сессии.
type Target interface {
	SweepStale(ctx context.Context) (licensing.SweepStats, error)
}

// Collector — in-memory кэш с TTL, которому нужна периодическая чистка.
type Collector interface {
	GC() int
}

// Sweeper раз в interval гасит сессии без heartbeat дольше grace и чистит кэши.
type Sweeper struct {
	target     Target
	interval   time.Duration
	collectors []Collector
	log        *logrus.Entry
}

func NewSweeper(target Target, interval time.Duration, collectors ...Collector) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{target: target, interval: interval, collectors: collectors, log: logs.Component("sweeper")}
}

// Run блокируется до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	s.log.Infof("started, interval=%s", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("stopped")
			return nil
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick — один проход; ошибки только логируются, следующий тик попробует снова.
func (s *Sweeper) Tick(ctx context.Context) {
	st, err := s.target.SweepStale(ctx)
	if err != nil {
		s.log.WithError(err).Warn("sweep failed")
	} else if st.Deactivated > 0 || st.LicensesExpired > 0 {
		s.log.WithFields(logrus.Fields{
			"deactivated":      st.Deactivated,
			"licenses_expired": st.LicensesExpired,
		}).Info("sweep done")
	}
	for _, c := range s.collectors {
		c.GC()
	}
}
