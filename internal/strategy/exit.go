package strategy

import (
	"context"

	"github.com/arborfin/flowtrader/internal/gateway"
	"github.com/arborfin/flowtrader/internal/models"
)

// exitCheck is one priority-ordered condition from §4.4.2, grounded on
// the teacher's internal/models/state_machine.go transitionLookup idiom,
// flattened to a linear priority scan since this model has no state
// graph to look up. The ordered slice built by defaultExitChecks is the
// single source of truth for priority; a test can assert against its
// order directly.
type exitCheck func(pos *models.Position, bar gateway.MinuteBar, cfg checkConfig) (models.CloseReason, float64, bool)

// checkConfig carries only the thresholds an exit check needs, copied
// out of *config.StrategyConfig by OnPositionCheck. TrailingArmsOnProfit
// has no config key; OnPositionCheck always sets it to true.
type checkConfig struct {
	StopLoss              float64
	TakeProfit            float64
	TrailingStop          float64
	TrailingArmsOnProfit  bool
}

func checkScheduledExit(pos *models.Position, bar gateway.MinuteBar, _ checkConfig) (models.CloseReason, float64, bool) {
	if !bar.Timestamp.Before(pos.ScheduledExitEast) {
		return models.CloseTimed, bar.Close, true
	}
	return "", 0, false
}

func checkStrikeExit(pos *models.Position, bar gateway.MinuteBar, _ checkConfig) (models.CloseReason, float64, bool) {
	if pos.Meta.TriggeringStrike == 0 {
		// No strike stored: skipped without error, per the Design Notes'
		// resolved Open Question.
		return "", 0, false
	}
	if bar.High >= pos.Meta.TriggeringStrike && bar.Low <= pos.Meta.TriggeringStrike {
		return models.CloseStrike, pos.Meta.TriggeringStrike, true
	}
	return "", 0, false
}

func checkTakeProfit(pos *models.Position, bar gateway.MinuteBar, cfg checkConfig) (models.CloseReason, float64, bool) {
	threshold := pos.CostPrice * (1 + cfg.TakeProfit)
	if bar.High >= threshold {
		return models.CloseTakeProfit, threshold, true
	}
	return "", 0, false
}

func checkTrailingStop(pos *models.Position, bar gateway.MinuteBar, cfg checkConfig) (models.CloseReason, float64, bool) {
	if cfg.TrailingArmsOnProfit && !(pos.HighWaterPrice > pos.CostPrice) {
		return "", 0, false
	}
	threshold := pos.HighWaterPrice * (1 - cfg.TrailingStop)
	if bar.Low <= threshold {
		return models.CloseTrailingStop, threshold, true
	}
	return "", 0, false
}

func checkStopLoss(pos *models.Position, bar gateway.MinuteBar, cfg checkConfig) (models.CloseReason, float64, bool) {
	threshold := pos.CostPrice * (1 - cfg.StopLoss)
	if bar.Low <= threshold {
		return models.CloseStopLoss, threshold, true
	}
	return "", 0, false
}

// defaultExitChecks returns the strict §4.4.2 priority order:
// TIMED > STRIKE > TP > TRAIL > SL.
func defaultExitChecks() []exitCheck {
	return []exitCheck{
		checkScheduledExit,
		checkStrikeExit,
		checkTakeProfit,
		checkTrailingStop,
		checkStopLoss,
	}
}

// OnPositionCheck implements Strategy per §4.4.2: walk bars in order,
// update high_water_price monotonically, and test the ordered condition
// list against each bar until one triggers.
func (v *v1) OnPositionCheck(_ context.Context, ctx *Context, pos *models.Position, bars []gateway.MinuteBar) (*ExitDecision, error) {
	cc := checkConfig{
		StopLoss:             ctx.Config.StopLoss,
		TakeProfit:           ctx.Config.TakeProfit,
		TrailingStop:         ctx.Config.TrailingStop,
		TrailingArmsOnProfit: true,
	}

	for _, bar := range bars {
		pos.UpdateHighWater(bar.High)

		for _, check := range v.exitChecks {
			reason, price, triggered := check(pos, bar, cc)
			if !triggered {
				continue
			}
			return &ExitDecision{
				PositionID: pos.PositionID,
				Reason:     reason,
				Price:      price,
				ClientID:   models.SellClientID(pos.PositionID, bar.Timestamp),
				At:         bar.Timestamp,
			}, nil
		}
	}
	return nil, nil
}
