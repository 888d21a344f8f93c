package loops

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/config"
	"github.com/arborfin/flowtrader/internal/dashboard"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
	"github.com/arborfin/flowtrader/internal/reconciler"
	"github.com/arborfin/flowtrader/internal/storage"
	"github.com/arborfin/flowtrader/internal/strategy"
)

// fakeGateway is a hand-rolled gateway.Gateway double with an
// injectable PlaceOrder result/error and scripted minute bars.
type fakeGateway struct {
	placeResult       gateway.OrderResult
	placeErr          error
	bars              []gateway.MinuteBar
	barsErr           error
	placeCalls        int
	getPositionsCalls int
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) Connect(context.Context) error    { return nil }
func (g *fakeGateway) Disconnect(context.Context) error { return nil }
func (g *fakeGateway) GetQuote(context.Context, string) (float64, error) {
	return 0, nil
}
func (g *fakeGateway) GetMinuteBars(context.Context, string, time.Time, time.Time) ([]gateway.MinuteBar, error) {
	return g.bars, g.barsErr
}
func (g *fakeGateway) GetAccount(context.Context) (gateway.Account, error) {
	return gateway.Account{}, nil
}
func (g *fakeGateway) GetPositions(context.Context) ([]gateway.BrokerPosition, error) {
	g.getPositionsCalls++
	return nil, nil
}
func (g *fakeGateway) PlaceOrder(context.Context, string, string, models.Side, int, float64) (gateway.OrderResult, error) {
	g.placeCalls++
	return g.placeResult, g.placeErr
}
func (g *fakeGateway) GetOrder(context.Context, string) (gateway.OrderResult, error) {
	return gateway.OrderResult{}, nil
}
func (g *fakeGateway) CountTradingDaysBetween(context.Context, time.Time, time.Time) (int, error) {
	return 0, nil
}

// fakeStrategy is a hand-rolled strategy.Strategy double with
// injectable entry/exit decisions.
type fakeStrategy struct {
	entryDecision *strategy.EntryDecision
	entryReason   strategy.RejectReason
	entryErr      error
	exitDecision  *strategy.ExitDecision
	exitErr       error
}

var _ strategy.Strategy = (*fakeStrategy)(nil)

func (s *fakeStrategy) OnSignal(context.Context, *strategy.Context, *models.Signal) (*strategy.EntryDecision, strategy.RejectReason, error) {
	return s.entryDecision, s.entryReason, s.entryErr
}
func (s *fakeStrategy) OnPositionCheck(context.Context, *strategy.Context, *models.Position, []gateway.MinuteBar) (*strategy.ExitDecision, error) {
	return s.exitDecision, s.exitErr
}
func (s *fakeStrategy) OnStart(context.Context, *strategy.Context) error    { return nil }
func (s *fakeStrategy) OnShutdown(context.Context, *strategy.Context) error { return nil }

// weekdaySource is a hand-rolled clock.CalendarSource double: every
// weekday is a regular 9:30-16:00 Eastern session, weekends are closed.
type weekdaySource struct{ loc *time.Location }

func (w weekdaySource) MonthSchedule(year int, month time.Month) (map[string]clock.DaySchedule, error) {
	out := make(map[string]clock.DaySchedule)
	for d := 1; d <= 31; d++ {
		date := time.Date(year, month, d, 0, 0, 0, 0, w.loc)
		if date.Month() != month {
			continue
		}
		wd := date.Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			out[date.Format("2006-01-02")] = clock.DaySchedule{Closed: true}
			continue
		}
		out[date.Format("2006-01-02")] = clock.DaySchedule{
			Open:  true,
			Start: time.Date(year, month, d, 9, 30, 0, 0, w.loc),
			End:   time.Date(year, month, d, 16, 0, 0, 0, w.loc),
		}
	}
	return out, nil
}

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(nopWriter{})
	return logrus.NewEntry(log)
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func testCalendar(t *testing.T) *clock.Calendar {
	t.Helper()
	loc, _ := clock.ResolveLocation()
	return clock.NewCalendar(weekdaySource{loc: loc}, loc)
}

func TestSignalWorker_DuplicateSignalIsSkippedWithoutPlacingAnOrder(t *testing.T) {
	repo := storage.NewMockStore()
	sig := &models.Signal{SignalID: "dup-1", Symbol: "AAPL"}
	if _, err := repo.InsertSignalIfNew(sig); err != nil {
		t.Fatalf("seed InsertSignalIfNew: %v", err)
	}

	gw := &fakeGateway{}
	w := &signalWorker{
		repo: repo, gw: gw, strategy: &fakeStrategy{},
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{}},
		log:      testLog(),
	}
	w.handle(context.Background(), sig)

	if gw.placeCalls != 0 {
		t.Fatalf("PlaceOrder called %d times for a duplicate signal, want 0", gw.placeCalls)
	}
}

func TestSignalWorker_RejectedSignalPlacesNoOrder(t *testing.T) {
	repo := storage.NewMockStore()
	gw := &fakeGateway{}
	strat := &fakeStrategy{entryDecision: nil, entryReason: strategy.RejectPremiumTooLow}
	w := &signalWorker{
		repo: repo, gw: gw, strategy: strat,
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{}},
		log:      testLog(),
	}
	w.handle(context.Background(), &models.Signal{SignalID: "sig-1", Symbol: "AAPL"})

	if gw.placeCalls != 0 {
		t.Fatalf("PlaceOrder called %d times for a rejected signal, want 0", gw.placeCalls)
	}
}

func TestSignalWorker_AcceptedSignalOpensPositionAndCommitsCapacity(t *testing.T) {
	repo := storage.NewMockStore()
	execTime := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	gw := &fakeGateway{placeResult: gateway.OrderResult{
		ClientID: "buy-1", Symbol: "AAPL", Side: models.SideBuy, Shares: 10,
		Status: models.OrderFilled, FilledShares: 10, AvgPrice: 100, UpdatedEast: execTime,
	}}
	strat := &fakeStrategy{entryDecision: &strategy.EntryDecision{
		Symbol: "AAPL", Shares: 10, LimitPrice: 100, ExecTimeEastern: execTime,
		PosRatio: 0.05, ClientID: "buy-1",
	}}
	cal := testCalendar(t)
	w := &signalWorker{
		repo: repo, gw: gw, strategy: strat,
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{
			DailyGrossCap: 0.5, MaxTradesPerDay: 10, HoldingDays: 3,
		}, Calendar: cal},
		log: testLog(),
	}
	w.handle(context.Background(), &models.Signal{SignalID: "sig-1", Symbol: "AAPL"})

	open, err := repo.OpenPositions()
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("OpenPositions() = %d, want 1 after an accepted signal", len(open))
	}
	if open[0].Symbol != "AAPL" || open[0].Shares != 10 {
		t.Fatalf("opened position = %+v, want AAPL/10 shares", open[0])
	}

	used, err := repo.DailyUsed(execTime.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("DailyUsed: %v", err)
	}
	if used.TradeCount != 1 {
		t.Fatalf("TradeCount = %d, want 1 (reservation committed)", used.TradeCount)
	}
}

func TestSignalWorker_RecordsMetricsForAcceptedSignal(t *testing.T) {
	repo := storage.NewMockStore()
	execTime := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	gw := &fakeGateway{placeResult: gateway.OrderResult{
		ClientID: "buy-1", Symbol: "AAPL", Side: models.SideBuy, Shares: 10,
		Status: models.OrderFilled, FilledShares: 10, AvgPrice: 100, UpdatedEast: execTime,
	}}
	strat := &fakeStrategy{entryDecision: &strategy.EntryDecision{
		Symbol: "AAPL", Shares: 10, LimitPrice: 100, ExecTimeEastern: execTime,
		PosRatio: 0.05, ClientID: "buy-1",
	}}
	cal := testCalendar(t)
	metrics := dashboard.NewMetrics(prometheus.NewRegistry())
	w := &signalWorker{
		repo: repo, gw: gw, strategy: strat,
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{
			DailyGrossCap: 0.5, MaxTradesPerDay: 10, HoldingDays: 3,
		}, Calendar: cal},
		log:     testLog(),
		metrics: metrics,
	}
	w.handle(context.Background(), &models.Signal{SignalID: "sig-1", Symbol: "AAPL"})

	if got := testutil.ToFloat64(metrics.SignalsReceived); got != 1 {
		t.Fatalf("SignalsReceived = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.OrdersPlaced.WithLabelValues("buy", "FILLED")); got != 1 {
		t.Fatalf("OrdersPlaced{buy,FILLED} = %v, want 1", got)
	}
}

func TestSignalWorker_RecordsRejectionReasonMetric(t *testing.T) {
	repo := storage.NewMockStore()
	sig := &models.Signal{SignalID: "dup-1", Symbol: "AAPL"}
	if _, err := repo.InsertSignalIfNew(sig); err != nil {
		t.Fatalf("seed InsertSignalIfNew: %v", err)
	}
	metrics := dashboard.NewMetrics(prometheus.NewRegistry())
	w := &signalWorker{
		repo: repo, gw: &fakeGateway{}, strategy: &fakeStrategy{},
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{}},
		log:      testLog(),
		metrics:  metrics,
	}
	w.handle(context.Background(), sig)

	if got := testutil.ToFloat64(metrics.SignalsRejected.WithLabelValues("duplicate")); got != 1 {
		t.Fatalf("SignalsRejected{duplicate} = %v, want 1", got)
	}
}

func TestSignalWorker_UnfilledOrderRollsBackCapacity(t *testing.T) {
	repo := storage.NewMockStore()
	execTime := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)
	gw := &fakeGateway{placeResult: gateway.OrderResult{
		ClientID: "buy-1", Status: models.OrderRejected, RejectKind: gateway.RejectInsufficientFunds,
	}}
	strat := &fakeStrategy{entryDecision: &strategy.EntryDecision{
		Symbol: "AAPL", Shares: 10, LimitPrice: 100, ExecTimeEastern: execTime,
		PosRatio: 0.05, ClientID: "buy-1",
	}}
	w := &signalWorker{
		repo: repo, gw: gw, strategy: strat,
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{DailyGrossCap: 0.5, MaxTradesPerDay: 10}},
		log:      testLog(),
	}
	w.handle(context.Background(), &models.Signal{SignalID: "sig-1", Symbol: "AAPL"})

	used, err := repo.DailyUsed(execTime.Format("2006-01-02"))
	if err != nil {
		t.Fatalf("DailyUsed: %v", err)
	}
	if used.GrossRatio != 0 {
		t.Fatalf("GrossRatio = %v after a rejected order, want 0 (rolled back)", used.GrossRatio)
	}
	open, _ := repo.OpenPositions()
	if len(open) != 0 {
		t.Fatalf("OpenPositions() = %d, want 0 for an unfilled order", len(open))
	}
}

func TestSignalWorker_DailyCapacityRejectionPlacesNoOrder(t *testing.T) {
	repo := storage.NewMockStore()
	repo.ReserveErr = storage.ErrReservationRejected
	gw := &fakeGateway{}
	strat := &fakeStrategy{entryDecision: &strategy.EntryDecision{
		Symbol: "AAPL", Shares: 10, ExecTimeEastern: time.Now(), ClientID: "buy-1",
	}}
	w := &signalWorker{
		repo: repo, gw: gw, strategy: strat,
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{}},
		log:      testLog(),
	}
	w.handle(context.Background(), &models.Signal{SignalID: "sig-1", Symbol: "AAPL"})

	if gw.placeCalls != 0 {
		t.Fatalf("PlaceOrder called %d times after a daily-capacity rejection, want 0", gw.placeCalls)
	}
}

func TestPositionMonitor_CheckOneClosesPositionOnExitDecision(t *testing.T) {
	repo := storage.NewMockStore()
	now := time.Date(2026, 3, 5, 15, 55, 0, 0, time.UTC)
	pos := models.NewPosition("", "buy-1", "AAPL", 10, 100, 1, now.Add(-24*time.Hour), now)
	posID, err := repo.RecordOpen(&models.Signal{SignalID: "s1", Symbol: "AAPL"}, &models.Order{ClientID: "buy-1"}, pos)
	if err != nil {
		t.Fatalf("seed RecordOpen: %v", err)
	}

	gw := &fakeGateway{
		bars: []gateway.MinuteBar{{Timestamp: now, Close: 110}},
		placeResult: gateway.OrderResult{
			ClientID: "sell-1", Status: models.OrderFilled, FilledShares: 10, AvgPrice: 110, UpdatedEast: now,
		},
	}
	strat := &fakeStrategy{exitDecision: &strategy.ExitDecision{
		PositionID: posID, Reason: models.CloseTakeProfit, Price: 110, ClientID: "sell-1", At: now,
	}}
	cal := testCalendar(t)
	m := &positionMonitor{
		repo: repo, gw: gw, strategy: strat, clock: clock.NewSteppingClock(now),
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{BlacklistDays: 1}, Calendar: cal},
		log:      testLog(), interval: time.Minute,
	}
	m.checkOne(context.Background(), pos)

	open, err := repo.OpenPositions()
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("OpenPositions() = %d after a triggered exit, want 0", len(open))
	}
}

func TestPositionMonitor_RecordsMetricsOnCloseAndTick(t *testing.T) {
	repo := storage.NewMockStore()
	now := time.Date(2026, 3, 5, 15, 55, 0, 0, time.UTC)
	pos := models.NewPosition("", "buy-1", "AAPL", 10, 100, 1, now.Add(-24*time.Hour), now)
	posID, err := repo.RecordOpen(&models.Signal{SignalID: "s1", Symbol: "AAPL"}, &models.Order{ClientID: "buy-1"}, pos)
	if err != nil {
		t.Fatalf("seed RecordOpen: %v", err)
	}

	gw := &fakeGateway{
		bars: []gateway.MinuteBar{{Timestamp: now, Close: 110}},
		placeResult: gateway.OrderResult{
			ClientID: "sell-1", Status: models.OrderFilled, FilledShares: 10, AvgPrice: 110, UpdatedEast: now,
		},
	}
	strat := &fakeStrategy{exitDecision: &strategy.ExitDecision{
		PositionID: posID, Reason: models.CloseTakeProfit, Price: 110, ClientID: "sell-1", At: now,
	}}
	cal := testCalendar(t)
	metrics := dashboard.NewMetrics(prometheus.NewRegistry())
	m := &positionMonitor{
		repo: repo, gw: gw, strategy: strat, clock: clock.NewSteppingClock(now),
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{BlacklistDays: 1}, Calendar: cal},
		log:      testLog(), interval: time.Minute, sellLimit: 4,
		metrics: metrics,
	}

	if err := m.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if got := testutil.ToFloat64(metrics.PositionsOpen); got != 1 {
		t.Fatalf("PositionsOpen = %v, want 1 (measured before the close this tick triggers)", got)
	}
	if got := testutil.ToFloat64(metrics.OrdersPlaced.WithLabelValues("sell", "FILLED")); got != 1 {
		t.Fatalf("OrdersPlaced{sell,FILLED} = %v, want 1", got)
	}
}

func TestPositionMonitor_NoTriggerLeavesPositionOpen(t *testing.T) {
	repo := storage.NewMockStore()
	now := time.Date(2026, 3, 5, 15, 55, 0, 0, time.UTC)
	pos := models.NewPosition("", "buy-1", "AAPL", 10, 100, 1, now.Add(-24*time.Hour), now)
	if _, err := repo.RecordOpen(&models.Signal{SignalID: "s1", Symbol: "AAPL"}, &models.Order{ClientID: "buy-1"}, pos); err != nil {
		t.Fatalf("seed RecordOpen: %v", err)
	}

	gw := &fakeGateway{bars: []gateway.MinuteBar{{Timestamp: now, Close: 101}}}
	strat := &fakeStrategy{exitDecision: nil}
	m := &positionMonitor{
		repo: repo, gw: gw, strategy: strat, clock: clock.NewSteppingClock(now),
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{}},
		log:      testLog(), interval: time.Minute,
	}
	m.checkOne(context.Background(), pos)

	if gw.placeCalls != 0 {
		t.Fatalf("PlaceOrder called %d times with no exit decision, want 0", gw.placeCalls)
	}
	open, _ := repo.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("OpenPositions() = %d, want 1 (still open)", len(open))
	}
}

func TestPositionMonitor_PersistsLastCheckedAndHighWaterBetweenTicks(t *testing.T) {
	repo := storage.NewMockStore()
	now := time.Date(2026, 3, 5, 15, 55, 0, 0, time.UTC)
	pos := models.NewPosition("", "buy-1", "AAPL", 10, 100, 1, now.Add(-24*time.Hour), now)
	posID, err := repo.RecordOpen(&models.Signal{SignalID: "s1", Symbol: "AAPL"}, &models.Order{ClientID: "buy-1"}, pos)
	if err != nil {
		t.Fatalf("seed RecordOpen: %v", err)
	}
	pos.PositionID = posID

	gw := &fakeGateway{bars: []gateway.MinuteBar{{Timestamp: now, Close: 120}}}
	strat := &fakeStrategy{exitDecision: nil}
	m := &positionMonitor{
		repo: repo, gw: gw, strategy: strat, clock: clock.NewSteppingClock(now),
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{}},
		log:      testLog(), interval: time.Minute,
	}
	m.checkOne(context.Background(), pos)

	if repo.TouchPositionCalls != 1 {
		t.Fatalf("TouchPositionCalls = %d, want 1", repo.TouchPositionCalls)
	}
	open, err := repo.OpenPositions()
	if err != nil || len(open) != 1 {
		t.Fatalf("OpenPositions() = %+v, %v, want one open position", open, err)
	}
	if !open[0].LastCheckedEast.Equal(now) {
		t.Fatalf("persisted LastCheckedEast = %v, want %v", open[0].LastCheckedEast, now)
	}
	// fakeStrategy never advances the high-water mark itself; TouchPosition
	// still must be called with whatever value checkOne observed on pos.
	if open[0].HighWaterPrice != pos.HighWaterPrice {
		t.Fatalf("persisted HighWaterPrice = %v, want %v", open[0].HighWaterPrice, pos.HighWaterPrice)
	}
}

func TestPositionMonitor_NoBarsIsANoOp(t *testing.T) {
	repo := storage.NewMockStore()
	now := time.Date(2026, 3, 5, 15, 55, 0, 0, time.UTC)
	pos := models.NewPosition("pos-1", "buy-1", "AAPL", 10, 100, 1, now.Add(-24*time.Hour), now)

	gw := &fakeGateway{bars: nil}
	strat := &fakeStrategy{}
	m := &positionMonitor{
		repo: repo, gw: gw, strategy: strat, clock: clock.NewSteppingClock(now),
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{}},
		log:      testLog(), interval: time.Minute,
	}
	m.checkOne(context.Background(), pos)

	if gw.placeCalls != 0 {
		t.Fatalf("PlaceOrder called %d times with no bars available, want 0", gw.placeCalls)
	}
}

func TestReconcileScheduler_SkipsBeforeScheduledTimeOfDay(t *testing.T) {
	repo := storage.NewMockStore()
	now := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC) // before 16:15
	gw := &fakeGateway{}
	rec := reconciler.New(repo, gw, testLog(), nil)
	cal := testCalendar(t)

	s := &reconcileScheduler{
		reconciler: rec, calendar: cal, clock: clock.NewSteppingClock(now),
		log: testLog(), timeOfDay: "16:15:00",
	}
	s.maybeRun(context.Background())

	if s.lastRunDate != "" {
		t.Fatalf("lastRunDate = %q, want empty (too early to run)", s.lastRunDate)
	}
}

func TestReconcileScheduler_RunsOnceAfterScheduledTime(t *testing.T) {
	repo := storage.NewMockStore()
	now := time.Date(2026, 3, 5, 16, 30, 0, 0, time.UTC) // Thursday, after 16:15
	gw := &fakeGateway{}
	rec := reconciler.New(repo, gw, testLog(), nil)
	cal := testCalendar(t)

	s := &reconcileScheduler{
		reconciler: rec, calendar: cal, clock: clock.NewSteppingClock(now),
		log: testLog(), timeOfDay: "16:15:00",
	}
	s.maybeRun(context.Background())
	if s.lastRunDate != "2026-03-05" {
		t.Fatalf("lastRunDate = %q, want 2026-03-05 after the scheduled time passed", s.lastRunDate)
	}

	last, err := repo.LastReconciliation()
	if err != nil {
		t.Fatalf("LastReconciliation: %v", err)
	}
	if last == nil {
		t.Fatal("no reconciliation report was recorded")
	}
}

func TestReconcileScheduler_DoesNotRunTwiceSameDay(t *testing.T) {
	repo := storage.NewMockStore()
	now := time.Date(2026, 3, 5, 16, 30, 0, 0, time.UTC)
	gw := &fakeGateway{}
	rec := reconciler.New(repo, gw, testLog(), nil)
	cal := testCalendar(t)

	s := &reconcileScheduler{
		reconciler: rec, calendar: cal, clock: clock.NewSteppingClock(now),
		log: testLog(), timeOfDay: "16:15:00",
	}
	s.maybeRun(context.Background())
	s.maybeRun(context.Background())

	if gw.getPositionsCalls != 1 {
		t.Fatalf("reconciler ran %d times for the same calendar day, want 1", gw.getPositionsCalls)
	}
}

func TestReconcileScheduler_SkipsNonTradingDay(t *testing.T) {
	repo := storage.NewMockStore()
	now := time.Date(2026, 3, 7, 16, 30, 0, 0, time.UTC) // Saturday
	gw := &fakeGateway{}
	rec := reconciler.New(repo, gw, testLog(), nil)
	cal := testCalendar(t)

	s := &reconcileScheduler{
		reconciler: rec, calendar: cal, clock: clock.NewSteppingClock(now),
		log: testLog(), timeOfDay: "16:15:00",
	}
	s.maybeRun(context.Background())

	last, err := repo.LastReconciliation()
	if err != nil {
		t.Fatalf("LastReconciliation: %v", err)
	}
	if last != nil {
		t.Fatal("a reconciliation report was recorded on a non-trading day")
	}
}

func TestSignalWorker_StrategyErrorPlacesNoOrder(t *testing.T) {
	repo := storage.NewMockStore()
	gw := &fakeGateway{}
	strat := &fakeStrategy{entryErr: errors.New("boom")}
	w := &signalWorker{
		repo: repo, gw: gw, strategy: strat,
		stratCtx: &strategy.Context{Config: &config.StrategyConfig{}},
		log:      testLog(),
	}
	w.handle(context.Background(), &models.Signal{SignalID: "sig-1", Symbol: "AAPL"})

	if gw.placeCalls != 0 {
		t.Fatalf("PlaceOrder called %d times after an on_signal error, want 0", gw.placeCalls)
	}
}
