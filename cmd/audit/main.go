// Package main is an operator CLI that runs one reconciliation pass
// on-demand and prints the result, grounded on the teacher's
// scripts/audit_positions tool generalized from a broker-only position
// dump to a full local-vs-broker reconciliation report, reusing the same
// internal/reconciler the trading loops call on their own schedule.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/config"
	"github.com/arborfin/flowtrader/internal/gateway/live"
	"github.com/arborfin/flowtrader/internal/models"
	"github.com/arborfin/flowtrader/internal/reconciler"
	"github.com/arborfin/flowtrader/internal/retry"
	"github.com/arborfin/flowtrader/internal/storage"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to configuration file")
		jsonOutput = flag.Bool("json", false, "Output the reconciliation report as JSON")
		autoFix    = flag.Bool("fix", false, "Apply auto-fix for any drift found, overriding config")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log := logrus.NewEntry(logrus.New())

	loc, _ := clock.ResolveLocation()
	sysClock := clock.NewSystemClock(loc)

	store, err := storage.NewJSONStore(cfg.Storage.DataDir + "/flowtrader.json")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open storage: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	liveClient := live.New(live.Config{
		BaseURL:   cfg.Broker.BaseURL,
		APIKey:    cfg.Broker.APIKey,
		AccountID: cfg.Broker.AccountID,
	})
	breakerGW := live.NewBreakerGateway(liveClient, live.BreakerSettings{
		MaxRequests: cfg.Broker.Breaker.MaxRequests,
		Interval:    cfg.Broker.Breaker.Interval,
		Timeout:     cfg.Broker.Breaker.Timeout,
	})
	gw := retry.NewClient(breakerGW, log, retry.Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		CallTimeout:    cfg.Retry.CallTimeout,
	})

	if err := gw.Connect(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to broker: %v\n", err)
		os.Exit(1)
	}
	defer gw.Disconnect(context.Background())

	recon := reconciler.New(store, gw, log, nil)

	now := sysClock.Now()
	report, err := recon.Run(context.Background(), now, now.Format("2006-01-02"), cfg.Strategy.AutoFix || *autoFix, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation run failed: %v\n", err)
		os.Exit(1)
	}

	if *jsonOutput {
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to marshal report: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	printReport(report)
}

func printReport(report *models.ReconciliationReport) {
	fmt.Printf("=== RECONCILIATION REPORT: %s ===\n", report.DateEastern)
	if report.ColdStart {
		fmt.Println("COLD START: broker held positions the local book had never seen.")
	}
	fmt.Printf("extras_local (open here, not at broker): %s\n", strings.Join(report.ExtrasLocal, ", "))
	fmt.Printf("extras_broker (open at broker, not here): %s\n", strings.Join(report.ExtrasBroker, ", "))
	if len(report.ShareMismatches) > 0 {
		fmt.Println("share mismatches:")
		for _, m := range report.ShareMismatches {
			fmt.Printf("  %s: local=%d broker=%d\n", m.Symbol, m.LocalShares, m.BrokerShares)
		}
	}
	fmt.Printf("account delta: local=%.2f broker=%.2f\n", report.AccountDelta.EquityLocal, report.AccountDelta.EquityBroker)
	fmt.Printf("auto_fixed: %t\n", report.AutoFixed)

	if report.Empty() {
		fmt.Println("\nNo drift detected.")
		return
	}
	fmt.Println("\nDrift detected — review the entries above before the next trading session.")
}
