// Package main drives a backtest: it steps a clock.SteppingClock across a
// historical signal feed and a minute-bar archive, running the same
// strategy and storage code the live engine uses, grounded on the
// teacher's internal/mock/mock_data.go DataProvider pattern generalized
// from synthetic single-day data to a replayed multi-day archive.
package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/sirupsen/logrus"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/config"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/gateway/simulated"
	"github.com/arborfin/flowtrader/internal/loops"
	"github.com/arborfin/flowtrader/internal/models"
	"github.com/arborfin/flowtrader/internal/reconciler"
	"github.com/arborfin/flowtrader/internal/storage"
	"github.com/arborfin/flowtrader/internal/strategy"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath, barsDir, signalsPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&barsDir, "bars", "./data/bars", "Directory of per-symbol minute-bar CSVs (bars/SYMBOL/2006-01-02.csv)")
	flag.StringVar(&signalsPath, "signals", "./data/signals.jsonl", "Path to a newline-delimited JSON signal feed, ordered by signal_time_eastern")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	log := logrus.NewEntry(logrus.New())

	loc, _ := clock.ResolveLocation()

	signals, err := loadSignals(signalsPath)
	if err != nil {
		log.WithError(err).Error("failed to load signal feed")
		return 1
	}
	if len(signals) == 0 {
		log.Error("signal feed is empty, nothing to replay")
		return 1
	}

	start := signals[0].SignalTimeEast
	steppingClock := clock.NewSteppingClock(start)

	store, err := storage.NewJSONStore(cfg.Storage.DataDir + "/replay.json")
	if err != nil {
		log.WithError(err).Error("failed to initialize storage")
		return 1
	}
	defer store.Close()

	barSource := &csvBarSource{dir: barsDir}
	simGW := simulated.New(steppingClock, barSource, simulated.Config{
		SlippageRatio: cfg.Strategy.SlippageRatio,
		FeePerShare:   cfg.Strategy.FeePerShare,
		FeeMin:        cfg.Strategy.FeeMin,
		MinCashRatio:  cfg.Strategy.MinCashRatio,
		StartingCash:  100000,
	})
	var gw gateway.Gateway = simGW

	calendar := clock.NewCalendar(&weekdayCalendarSource{}, loc)

	strat, err := strategy.Get("v1")
	if err != nil {
		log.WithError(err).Error("failed to resolve strategy variant")
		return 1
	}

	recon := reconciler.New(store, gw, log.WithField("component", "reconciler"), nil)

	signalCh := make(chan *models.Signal, len(signals))
	for _, s := range signals {
		signalCh <- s
	}
	close(signalCh)

	sup := &loops.Supervisor{
		Config:     cfg,
		Repo:       store,
		Gateway:    gw,
		Calendar:   calendar,
		Clock:      steppingClock,
		Strategy:   strat,
		Reconciler: recon,
		Log:        log,
		SignalCh:   signalCh,
	}

	// A backtest has no real wall clock for the position-monitor ticker to
	// ride; stepping the clock forward in lockstep with the signal feed
	// and letting the monitor's ticker fire against wall time is the
	// simplification this driver accepts.
	go advanceClock(steppingClock, signals, cfg.CheckIntervalSeconds)

	if err := sup.Run(context.Background()); err != nil {
		log.WithError(err).Error("supervisor exited with error")
		return 1
	}

	account, _ := gw.GetAccount(context.Background())
	log.WithField("ending_equity", account.Equity).Info("replay complete")
	return 0
}

// advanceClock steps the clock across every signal's timestamp, pausing
// check_interval_seconds of wall time between steps so the position
// monitor's real-time ticker gets a chance to observe each instant.
func advanceClock(c *clock.SteppingClock, signals []*models.Signal, checkIntervalSeconds int) {
	interval := time.Duration(checkIntervalSeconds) * time.Second
	for _, s := range signals {
		c.Advance(s.SignalTimeEast)
		time.Sleep(interval)
	}
}

func loadSignals(path string) ([]*models.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open signal feed: %w", err)
	}
	defer f.Close()

	var out []*models.Signal
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sig models.Signal
		if err := json.Unmarshal(line, &sig); err != nil {
			return nil, fmt.Errorf("replay: parse signal line: %w", err)
		}
		out = append(out, &sig)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalTimeEast.Before(out[j].SignalTimeEast) })
	return out, nil
}

// csvBarSource loads minute bars from <dir>/<symbol>/<date>.csv files with
// columns timestamp,open,high,low,close, grounded on the teacher's
// mock_data.go in-memory bar fixtures generalized to an on-disk archive
// since a backtest needs more history than fits in a source file.
type csvBarSource struct {
	dir string
}

func (s *csvBarSource) LoadDay(symbol string, date time.Time) ([]gateway.MinuteBar, error) {
	path := filepath.Join(s.dir, symbol, date.Format("2006-01-02")+".csv")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("replay: parse bars %s: %w", path, err)
	}

	bars := make([]gateway.MinuteBar, 0, len(rows))
	for _, row := range rows {
		if len(row) < 5 {
			continue
		}
		ts, err := time.ParseInLocation("2006-01-02T15:04:05", row[0], date.Location())
		if err != nil {
			continue
		}
		open, _ := strconv.ParseFloat(row[1], 64)
		high, _ := strconv.ParseFloat(row[2], 64)
		low, _ := strconv.ParseFloat(row[3], 64)
		closePrice, _ := strconv.ParseFloat(row[4], 64)
		bars = append(bars, gateway.MinuteBar{Timestamp: ts, Open: open, High: high, Low: low, Close: closePrice})
	}
	return bars, nil
}

// weekdayCalendarSource is a minimal clock.CalendarSource for replays that
// have no live venue calendar feed: every weekday is a full regular
// session, every weekend is closed. Good enough for backtests; cmd/engine
// uses the live gateway's real calendar instead.
type weekdayCalendarSource struct{}

func (weekdayCalendarSource) MonthSchedule(year int, month time.Month) (map[string]clock.DaySchedule, error) {
	out := make(map[string]clock.DaySchedule)
	for d := 1; d <= 31; d++ {
		date := time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
		if date.Month() != month {
			break
		}
		key := date.Format("2006-01-02")
		if date.Weekday() == time.Saturday || date.Weekday() == time.Sunday {
			out[key] = clock.DaySchedule{Closed: true}
			continue
		}
		out[key] = clock.DaySchedule{
			Open:  true,
			Start: time.Date(year, month, d, 9, 30, 0, 0, time.UTC),
			End:   time.Date(year, month, d, 16, 0, 0, 0, time.UTC),
		}
	}
	return out, nil
}
