package exitengine

import (
	"math"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/ledger"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// stopTarget computes the stop-loss and take-profit prices for the position.
// Percentages are measured against entry for longs and inverted for shorts.
func stopTarget(pos ledger.Position, stopPct, targetPct float64) (stop, target float64) {
	entry := pos.AvgEntryPrice
	if pos.Side == ledger.PositionSideShort {
		return entry * (1 + stopPct), entry * (1 - targetPct)
	}
	return entry * (1 - stopPct), entry * (1 + targetPct)
}

// stopHit checks the intrabar-extremes convention: a long stop triggers when
// the bar's low crosses it, a short stop when the high does.
func stopHit(pos ledger.Position, bar types.Bar, stop float64) bool {
	if pos.Side == ledger.PositionSideShort {
		return bar.High >= stop
	}
	return bar.Low <= stop
}

func targetHit(pos ledger.Position, bar types.Bar, target float64) bool {
	if pos.Side == ledger.PositionSideShort {
		return bar.Low <= target
	}
	return bar.High >= target
}

// fixedThreshold is the shared stop/target/forced-close machine behind
// intraday_time, aggressive, conservative and simple. timeReason names the
// exit when the time-of-day cutoff fires.
func (e *Engine) fixedThreshold(pos ledger.Position, cur types.Bar, stopPct, targetPct float64, exitTime, timeReason string) Decision {
	stop, target := stopTarget(pos, stopPct, targetPct)
	if stopHit(pos, cur, stop) {
		return Decision{ShouldExit: true, ExitPrice: stop, ExitReason: ReasonStopLoss}
	}
	if targetHit(pos, cur, target) {
		return Decision{ShouldExit: true, ExitPrice: target, ExitReason: ReasonTakeProfit}
	}
	if e.afterExitTime(cur.Timestamp, exitTime) {
		return Decision{ShouldExit: true, ExitPrice: cur.Close, ExitReason: timeReason}
	}
	return Decision{}
}

// priceAction runs the primary template: a 2% fixed stop, a trailing stop
// pinned to the prior bar's extreme once two consecutive bars have closed
// favorably, a 4% take profit, and a forced close at the session cutoff.
// Checks run strictly in that order.
func (e *Engine) priceAction(pos ledger.Position, cur, prev types.Bar, s PriceActionState) (Decision, State) {
	stop, target := stopTarget(pos, 0.02, 0.04)

	if stopHit(pos, cur, stop) {
		return Decision{ShouldExit: true, ExitPrice: stop, ExitReason: ReasonStopLoss}, s
	}
	if s.TrailingActive && stopHit(pos, cur, s.TrailingStop) {
		return Decision{ShouldExit: true, ExitPrice: s.TrailingStop, ExitReason: ReasonTrailingStop}, s
	}
	if targetHit(pos, cur, target) {
		return Decision{ShouldExit: true, ExitPrice: target, ExitReason: ReasonTakeProfit}, s
	}
	if e.afterExitTime(cur.Timestamp, "") {
		return Decision{ShouldExit: true, ExitPrice: cur.Close, ExitReason: ReasonMarketClose}, s
	}

	// Holding: advance the state machine for the next bar.
	profitable := cur.Close > pos.AvgEntryPrice
	if pos.Side == ledger.PositionSideShort {
		profitable = cur.Close < pos.AvgEntryPrice
	}
	if profitable {
		s.ProfitableBars++
	} else {
		s.ProfitableBars = 0
	}

	if s.ProfitableBars >= 2 {
		level := prev.Low
		if pos.Side == ledger.PositionSideShort {
			level = prev.High
		}
		if !s.TrailingActive {
			s.TrailingActive = true
			s.TrailingStop = level
		} else if pos.Side == ledger.PositionSideShort {
			// Tighten only: the trailing level never loosens.
			s.TrailingStop = math.Min(s.TrailingStop, level)
		} else {
			s.TrailingStop = math.Max(s.TrailingStop, level)
		}
	}
	return Decision{}, s
}
