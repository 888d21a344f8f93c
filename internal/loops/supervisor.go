// Package loops runs the engine's three long-lived workers — signal
// consumption, position monitoring, and scheduled reconciliation — under
// one errgroup.Group, grounded on the teacher's cmd/bot/main.go Bot.Run
// shutdown sequencing, generalized from a single select-loop bot to three
// independent workers sharing one cancellation signal.
package loops

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/config"
	"github.com/arborfin/flowtrader/internal/dashboard"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
	"github.com/arborfin/flowtrader/internal/reconciler"
	"github.com/arborfin/flowtrader/internal/storage"
	"github.com/arborfin/flowtrader/internal/strategy"
)

// shutdownGrace bounds the strategy's OnShutdown hook, which runs after
// every worker has returned. It does not extend in-flight worker calls:
// those see the cancelled context at once.
const shutdownGrace = 20 * time.Second

// Supervisor owns the three workers and the shared dependencies they
// close over.
type Supervisor struct {
	Config     *config.Config
	Repo       storage.Repository
	Gateway    gateway.Gateway
	Calendar   *clock.Calendar
	Clock      clock.Clock
	Strategy   strategy.Strategy
	Reconciler *reconciler.Reconciler
	Log        *logrus.Entry

	// Metrics records Prometheus series for the dashboard's /metrics
	// endpoint. Nil when the dashboard is disabled; every worker treats a
	// nil Metrics as a no-op rather than requiring a caller-supplied stub.
	Metrics *dashboard.Metrics

	// SignalCh delivers signals from the external file watcher (out of
	// scope) to the consumer worker. The supervisor only reads from it.
	SignalCh <-chan *models.Signal
}

// Run blocks until ctx is cancelled or a worker returns a non-nil error,
// and then until every worker has returned; workers get no grace period
// for in-flight work. It then runs the strategy's OnShutdown under a
// shutdownGrace deadline and closes the repository. It does not
// disconnect the gateway.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	stratCtx := &strategy.Context{
		Config:   &s.Config.Strategy,
		Repo:     s.Repo,
		Gateway:  s.Gateway,
		Calendar: s.Calendar,
		Clock:    s.Clock,
		Log:      s.Log,
	}

	if err := s.Strategy.OnStart(ctx, stratCtx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	sw := &signalWorker{
		repo:     s.Repo,
		gw:       s.Gateway,
		strategy: s.Strategy,
		stratCtx: stratCtx,
		clock:    s.Clock,
		log:      s.Log.WithField("worker", "signal"),
		in:       s.SignalCh,
		metrics:  s.Metrics,
	}
	g.Go(func() error { return sw.run(gctx) })

	pm := &positionMonitor{
		repo:      s.Repo,
		gw:        s.Gateway,
		strategy:  s.Strategy,
		stratCtx:  stratCtx,
		clock:     s.Clock,
		log:       s.Log.WithField("worker", "position_monitor"),
		interval:  time.Duration(s.Config.CheckIntervalSeconds) * time.Second,
		sellLimit: 4,
		metrics:   s.Metrics,
	}
	g.Go(func() error { return pm.run(gctx) })

	rs := &reconcileScheduler{
		reconciler: s.Reconciler,
		calendar:   s.Calendar,
		clock:      s.Clock,
		log:        s.Log.WithField("worker", "reconciler"),
		timeOfDay:  s.Config.Strategy.ReconciliationTimeEastern,
		autoFix:    s.Config.Strategy.AutoFix,
	}
	g.Go(func() error { return rs.run(gctx) })

	// Startup reconciliation runs once, immediately, with auto_fix forced
	// on regardless of the configured value — a cold process has no
	// in-memory confidence its persisted book matches the venue.
	if _, err := s.Reconciler.Run(ctx, s.Clock.Now(), s.Clock.Now().Format("2006-01-02"), s.Config.Strategy.AutoFix, true); err != nil {
		s.Log.WithError(err).Warn("supervisor: startup reconciliation failed, continuing")
	}

	runErr := g.Wait()

	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := s.Strategy.OnShutdown(graceCtx, stratCtx); err != nil {
		s.Log.WithError(err).Warn("supervisor: strategy OnShutdown failed")
	}
	if err := s.Repo.Close(); err != nil {
		s.Log.WithError(err).Warn("supervisor: repository close failed")
	}

	return runErr
}
