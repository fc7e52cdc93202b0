package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type cleanupMetrics struct {
	deleted  prometheus.Counter
	failures prometheus.Counter
}

func newCleanupMetrics(reg prometheus.Registerer) *cleanupMetrics {
	f := promauto.With(reg)
	return &cleanupMetrics{
		deleted: f.NewCounter(prometheus.CounterOpts{
			Name: "sodia_sessions_expired_deleted_total",
			Help: "Expired sessions removed by the background cleanup.",
		}),
		failures: f.NewCounter(prometheus.CounterOpts{
			Name: "sodia_sessions_cleanup_failures_total",
			Help: "Background session cleanup runs that returned an error.",
		}),
	}
}

// runSessionCleanup deletes expired sessions once per interval until ctx ends.
func (a *App) runSessionCleanup(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			a.cleanupOnce(ctx, now)
		}
	}
}

func (a *App) cleanupOnce(ctx context.Context, now time.Time) int64 {
	n, err := a.sessions.CleanupExpired(ctx, now)
	if err != nil {
		if ctx.Err() == nil {
			a.cleanup.failures.Inc()
			a.log.Error("sessions.cleanup.fail", "err", err)
		}
		return 0
	}
	a.cleanup.deleted.Add(float64(n))
	if n > 0 {
		a.log.Info("sessions.cleanup", "deleted", n)
	}
	return n
}
