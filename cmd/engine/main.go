// Package main is the live/backtest engine's entry point, grounded on the
// teacher's cmd/bot/main.go bootstrap sequencing: load config, wire
// broker/storage/strategy, then hand off to a run loop. Generalized from
// the teacher's single select-loop Bot to the Supervisor's three-worker
// errgroup.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/config"
	"github.com/arborfin/flowtrader/internal/dashboard"
	"github.com/arborfin/flowtrader/internal/gateway"
	gwlive "github.com/arborfin/flowtrader/internal/gateway/live"
	"github.com/arborfin/flowtrader/internal/loops"
	"github.com/arborfin/flowtrader/internal/models"
	"github.com/arborfin/flowtrader/internal/reconciler"
	"github.com/arborfin/flowtrader/internal/retry"
	"github.com/arborfin/flowtrader/internal/storage"
	"github.com/arborfin/flowtrader/internal/strategy"
	// strategy's init() (in entry.go) registers the "v1" variant on import.
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	log := newLogger(cfg.Environment)
	log.WithField("mode", cfg.Mode).Info("flowtrader: starting")

	loc, ok := clock.ResolveLocation()
	if !ok {
		log.Warn("failed to load America/New_York zoneinfo, using fixed EST offset")
	}
	sysClock := clock.NewSystemClock(loc)

	store, err := storage.NewJSONStore(cfg.Storage.DataDir + "/flowtrader.json")
	if err != nil {
		log.WithError(err).Error("failed to initialize storage")
		return 1
	}
	defer store.Close()

	if cfg.Mode != "live" {
		log.Error("cmd/engine only drives live mode; use cmd/replay for backtests")
		return 1
	}

	liveClient := gwlive.New(gwlive.Config{
		BaseURL:   cfg.Broker.BaseURL,
		APIKey:    cfg.Broker.APIKey,
		AccountID: cfg.Broker.AccountID,
	})

	breakerGW := gwlive.NewBreakerGateway(liveClient, gwlive.BreakerSettings{
		MaxRequests: cfg.Broker.Breaker.MaxRequests,
		Interval:    cfg.Broker.Breaker.Interval,
		Timeout:     cfg.Broker.Breaker.Timeout,
	})

	var gw gateway.Gateway = retry.NewClient(breakerGW, log, retry.Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		CallTimeout:    cfg.Retry.CallTimeout,
	})

	if err := gw.Connect(context.Background()); err != nil {
		log.WithError(err).Error("failed to connect to broker")
		return 1
	}
	defer gw.Disconnect(context.Background())

	calendar := clock.NewCalendar(liveClient, loc)

	strat, err := strategy.Get("v1")
	if err != nil {
		log.WithError(err).Error("failed to resolve strategy variant")
		return 1
	}

	// The dashboard is built before the reconciler and supervisor so its
	// Prometheus metric set can be threaded into both; disabled, it leaves
	// both with a nil Metrics and every recording call becomes a no-op.
	var dash *dashboard.Server
	var metrics *dashboard.Metrics
	if cfg.Dashboard.Enabled {
		dash = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, store, gw, log.WithField("component", "dashboard"))
		metrics = dash.Metrics()
		go func() {
			if err := dash.Start(); err != nil {
				log.WithError(err).Error("dashboard server stopped")
			}
		}()
		defer dash.Shutdown(context.Background())
	}

	recon := reconciler.New(store, gw, log.WithField("component", "reconciler"), metrics)

	signalCh := make(chan *models.Signal, 256)
	// The external file-watcher that feeds signalCh is out of scope (§
	// Non-goals); production wiring attaches it here.

	sup := &loops.Supervisor{
		Config:     cfg,
		Repo:       store,
		Gateway:    gw,
		Calendar:   calendar,
		Clock:      sysClock,
		Strategy:   strat,
		Reconciler: recon,
		Log:        log,
		Metrics:    metrics,
		SignalCh:   signalCh,
	}

	if err := sup.Run(context.Background()); err != nil {
		log.WithError(err).Error("supervisor exited with error")
		return 1
	}
	return 0
}

func newLogger(environment string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	if environment == "production" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logrus.NewEntry(l)
}
