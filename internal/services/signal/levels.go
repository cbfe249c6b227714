package signal

import (
	"math"

	"RLSignal/internal/domain/models"
)

const (
	defaultATRPct      = 0.01
	atrStopMultiple    = 1.5
	longZoneBuffer     = 0.998
	shortZoneBuffer    = 1.002
	baseRewardMultiple = 1.5
	confRewardScale    = 2.0
)

// TradeLevels derives entry, stop and target for a directional action.
// It returns nil for HOLD, a non-positive price, or when the computed stop
// or target is not positive. A non-positive atr falls back to 1% of price.
func TradeLevels(action models.Action, price float64, smc models.StructuralSnapshot, atr, confidence float64) *models.TradeLevels {
	if price <= 0 || (action != models.ActionLong && action != models.ActionShort) {
		return nil
	}
	if atr <= 0 {
		atr = price * defaultATRPct
	}
	entry := price
	multiple := baseRewardMultiple + confidence*confRewardScale

	var stop, target float64
	if action == models.ActionLong {
		stop = price - atr*atrStopMultiple
		if ob, ok := NearestOrderBlock(smc.OrderBlocks, price, models.DirectionBullish); ok {
			stop = ob.Low * longZoneBuffer
		}
		for _, g := range smc.FairValueGaps {
			if g.Type != models.DirectionBullish || g.High >= price {
				continue
			}
			if s := g.Low * longZoneBuffer; s > stop {
				stop = s
			}
		}
		target = entry + (entry-stop)*multiple
	} else {
		stop = price + atr*atrStopMultiple
		if ob, ok := NearestOrderBlock(smc.OrderBlocks, price, models.DirectionBearish); ok {
			stop = ob.High * shortZoneBuffer
		}
		for _, g := range smc.FairValueGaps {
			if g.Type != models.DirectionBearish || g.Low <= price {
				continue
			}
			if s := g.High * shortZoneBuffer; s < stop {
				stop = s
			}
		}
		target = entry - (stop-entry)*multiple
	}

	if stop <= 0 || target <= 0 {
		return nil
	}

	return &models.TradeLevels{
		Entry:           Round(entry, 2),
		StopLoss:        Round(stop, 2),
		TakeProfit:      Round(target, 2),
		RiskRewardRatio: Round(riskReward(entry, stop, target), 2),
	}
}

// riskReward is zero when there is no risk distance.
func riskReward(entry, stop, target float64) float64 {
	risk := math.Abs(entry - stop)
	if risk == 0 {
		return 0
	}
	return math.Abs(target-entry) / risk
}
