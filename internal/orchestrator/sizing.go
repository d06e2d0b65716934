package orchestrator

import (
	"math"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// PositionSizer maps account equity and a signal to a share quantity.
// Returning 0 skips the entry.
type PositionSizer func(equity float64, sig types.Signal) float64

// EquityFractionSizer spends a fixed fraction of account equity per entry,
// floored to whole shares.
func EquityFractionSizer(fraction float64) PositionSizer {
	return func(equity float64, sig types.Signal) float64 {
		if sig.EntryPrice <= 0 || fraction <= 0 {
			return 0
		}
		return math.Floor(equity * fraction / sig.EntryPrice)
	}
}
