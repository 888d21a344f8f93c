package loops

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/dashboard"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
	"github.com/arborfin/flowtrader/internal/storage"
	"github.com/arborfin/flowtrader/internal/strategy"
)

// positionMonitor ticks every check_interval_seconds, fetches minute bars
// since each position's last check, and runs on_position_check, grounded
// on the teacher's cmd/bot/main.go position-monitoring select-loop
// generalized from a single strangle check to bounded-concurrency
// per-symbol sells (§4.5).
type positionMonitor struct {
	repo      storage.Repository
	gw        gateway.Gateway
	strategy  strategy.Strategy
	stratCtx  *strategy.Context
	clock     clock.Clock
	log       *logrus.Entry
	interval  time.Duration
	sellLimit int
	metrics   *dashboard.Metrics
}

func (m *positionMonitor) run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.tick(ctx); err != nil {
				m.log.WithError(err).Error("position_monitor: tick failed")
			}
		}
	}
}

func (m *positionMonitor) tick(ctx context.Context) error {
	positions, err := m.repo.OpenPositions()
	if err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.PositionsOpen.Set(float64(len(positions)))
	}
	if len(positions) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.sellLimit)

	for _, pos := range positions {
		pos := pos
		g.Go(func() error {
			m.checkOne(gctx, pos)
			return nil
		})
	}
	return g.Wait()
}

func (m *positionMonitor) checkOne(ctx context.Context, pos *models.Position) {
	log := m.log.WithField("position_id", pos.PositionID).WithField("symbol", pos.Symbol)

	now := m.clock.Now()
	from := pos.LastCheckedEast
	if from.IsZero() || !from.Before(now) {
		from = now.Add(-m.interval)
	}

	bars, err := m.gw.GetMinuteBars(ctx, pos.Symbol, from, now)
	if err != nil {
		log.WithError(err).Error("position_monitor: get_minute_bars failed")
		m.incGatewayError("get_minute_bars")
		return
	}
	if len(bars) == 0 {
		return
	}

	decision, err := m.strategy.OnPositionCheck(ctx, m.stratCtx, pos, bars)
	if err != nil {
		log.WithError(err).Error("position_monitor: on_position_check failed")
		return
	}
	pos.LastCheckedEast = now

	if err := m.repo.TouchPosition(pos.PositionID, pos.LastCheckedEast, pos.HighWaterPrice); err != nil {
		log.WithError(err).Error("position_monitor: touch_position failed")
	}

	if decision == nil {
		return
	}

	result, err := m.gw.PlaceOrder(ctx, decision.ClientID, pos.Symbol, models.SideSell, pos.Shares, decision.Price)
	if err != nil {
		log.WithError(err).Error("position_monitor: place_order (sell) failed")
		m.incGatewayError("place_order")
		return
	}
	if result.Status != models.OrderFilled {
		m.incOrdersPlaced("sell", string(result.Status))
		log.WithField("status", result.Status).Warn("position_monitor: exit order did not fill")
		return
	}

	order := &models.Order{
		ClientID:     result.ClientID,
		Symbol:       result.Symbol,
		Side:         result.Side,
		Shares:       result.Shares,
		Status:       result.Status,
		FilledShares: result.FilledShares,
		AvgPrice:     result.AvgPrice,
		BrokerID:     result.BrokerID,
		CreatedEast:  decision.At,
		UpdatedEast:  result.UpdatedEast,
	}

	blacklistUntil, err := m.stratCtx.Calendar.AddTradingDays(result.UpdatedEast, m.stratCtx.Config.BlacklistDays)
	if err != nil {
		log.WithError(err).Warn("position_monitor: failed to compute blacklist expiry via calendar, falling back to calendar days")
		blacklistUntil = result.UpdatedEast.AddDate(0, 0, m.stratCtx.Config.BlacklistDays)
	}
	if err := m.repo.RecordClose(pos.PositionID, order, decision.Reason, result.AvgPrice, result.UpdatedEast, blacklistUntil); err != nil {
		log.WithError(err).Error("position_monitor: record_close failed")
		return
	}
	m.incOrdersPlaced("sell", string(result.Status))

	log.WithField("reason", decision.Reason).WithField("price", result.AvgPrice).Info("position_monitor: position closed")
}

func (m *positionMonitor) incOrdersPlaced(side, status string) {
	if m.metrics == nil {
		return
	}
	m.metrics.OrdersPlaced.WithLabelValues(side, status).Inc()
}

func (m *positionMonitor) incGatewayError(call string) {
	if m.metrics == nil {
		return
	}
	m.metrics.GatewayErrors.WithLabelValues(call).Inc()
}
