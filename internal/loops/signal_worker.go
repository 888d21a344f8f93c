package loops

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/arborfin/flowtrader/internal/clock"
	"github.com/arborfin/flowtrader/internal/dashboard"
	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
	"github.com/arborfin/flowtrader/internal/storage"
	"github.com/arborfin/flowtrader/internal/strategy"
)

// signalWorker drains the signal channel and runs each signal through the
// full admission pipeline of §4.5: insert-if-new, on_signal, reserve
// capacity, place the order, and record the outcome, grounded on the
// teacher's trading_cycle.go evaluateAndExecute sequencing.
type signalWorker struct {
	repo     storage.Repository
	gw       gateway.Gateway
	strategy strategy.Strategy
	stratCtx *strategy.Context
	clock    clock.Clock
	log      *logrus.Entry
	in       <-chan *models.Signal
	metrics  *dashboard.Metrics
}

func (w *signalWorker) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-w.in:
			if !ok {
				return nil
			}
			w.handle(ctx, sig)
		}
	}
}

func (w *signalWorker) handle(ctx context.Context, sig *models.Signal) {
	log := w.log.WithField("signal_id", sig.SignalID)
	w.incSignalsReceived()

	inserted, err := w.repo.InsertSignalIfNew(sig)
	if err != nil {
		log.WithError(err).Error("signal_worker: insert_signal_if_new failed")
		return
	}
	if !inserted {
		log.Debug("signal_worker: duplicate signal, skipping")
		w.incSignalsRejected("duplicate")
		return
	}

	decision, reason, err := w.strategy.OnSignal(ctx, w.stratCtx, sig)
	if err != nil {
		log.WithError(err).Error("signal_worker: on_signal failed")
		return
	}
	if decision == nil {
		log.WithField("reject_reason", reason).Info("signal_worker: signal rejected")
		w.incSignalsRejected(string(reason))
		return
	}

	dateKey := decision.ExecTimeEastern.Format("2006-01-02")
	reservationID, err := w.repo.ReserveDailyCapacity(dateKey, decision.PosRatio, w.stratCtx.Config.DailyGrossCap, w.stratCtx.Config.MaxTradesPerDay)
	if err != nil {
		if err == storage.ErrReservationRejected {
			log.WithField("symbol", decision.Symbol).Info("signal_worker: daily capacity rejected the trade")
			w.incSignalsRejected("daily_capacity")
			return
		}
		log.WithError(err).Error("signal_worker: reserve_daily_capacity failed")
		return
	}

	result, err := w.gw.PlaceOrder(ctx, decision.ClientID, decision.Symbol, models.SideBuy, decision.Shares, decision.LimitPrice)
	if err != nil {
		log.WithError(err).Error("signal_worker: place_order failed")
		w.incGatewayError("place_order")
		if rbErr := w.repo.RollbackDailyCapacity(dateKey, reservationID); rbErr != nil {
			log.WithError(rbErr).Error("signal_worker: rollback_daily_capacity failed after place_order error")
		}
		return
	}

	order := &models.Order{
		ClientID:     result.ClientID,
		Symbol:       result.Symbol,
		Side:         result.Side,
		Shares:       result.Shares,
		LimitPrice:   decision.LimitPrice,
		Status:       result.Status,
		FilledShares: result.FilledShares,
		AvgPrice:     result.AvgPrice,
		BrokerID:     result.BrokerID,
		RejectReason: result.RejectReason,
		CreatedEast:  decision.ExecTimeEastern,
		UpdatedEast:  result.UpdatedEast,
	}

	if result.Status != models.OrderFilled {
		w.incOrdersPlaced("buy", string(result.Status))
		if err := w.repo.RecordOrderEvent(order); err != nil {
			log.WithError(err).Error("signal_worker: record_order_event failed")
		}
		if err := w.repo.RollbackDailyCapacity(dateKey, reservationID); err != nil {
			log.WithError(err).Error("signal_worker: rollback_daily_capacity failed")
		}
		log.WithField("status", result.Status).Warn("signal_worker: order did not fill")
		return
	}

	scheduledExit, err := w.stratCtx.Calendar.AddTradingDays(decision.ExecTimeEastern, w.stratCtx.Config.HoldingDays)
	if err != nil {
		log.WithError(err).Error("signal_worker: failed to compute scheduled exit")
		scheduledExit = decision.ExecTimeEastern.AddDate(0, 0, w.stratCtx.Config.HoldingDays)
	}

	pos := models.NewPosition("", order.ClientID, decision.Symbol, result.FilledShares, result.AvgPrice, w.orderFee(result.FilledShares), result.UpdatedEast, scheduledExit)
	pos.Meta = decision.Meta

	if _, err := w.repo.RecordOpen(sig, order, pos); err != nil {
		log.WithError(err).Error("signal_worker: record_open failed")
		return
	}
	if err := w.repo.CommitDailyCapacity(dateKey, reservationID); err != nil {
		log.WithError(err).Error("signal_worker: commit_daily_capacity failed")
		return
	}
	w.incOrdersPlaced("buy", string(result.Status))

	log.WithField("symbol", decision.Symbol).WithField("shares", result.FilledShares).Info("signal_worker: position opened")
}

func (w *signalWorker) incSignalsReceived() {
	if w.metrics == nil {
		return
	}
	w.metrics.SignalsReceived.Inc()
}

func (w *signalWorker) incSignalsRejected(reason string) {
	if w.metrics == nil {
		return
	}
	w.metrics.SignalsRejected.WithLabelValues(reason).Inc()
}

func (w *signalWorker) incOrdersPlaced(side, status string) {
	if w.metrics == nil {
		return
	}
	w.metrics.OrdersPlaced.WithLabelValues(side, status).Inc()
}

func (w *signalWorker) incGatewayError(call string) {
	if w.metrics == nil {
		return
	}
	w.metrics.GatewayErrors.WithLabelValues(call).Inc()
}

func (w *signalWorker) orderFee(shares int) float64 {
	fee := float64(shares) * w.stratCtx.Config.FeePerShare
	if fee < w.stratCtx.Config.FeeMin {
		return w.stratCtx.Config.FeeMin
	}
	return fee
}
