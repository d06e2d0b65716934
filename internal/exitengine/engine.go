package exitengine

import (
	"time"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/ledger"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// Exit template names.
const (
	TemplatePriceAction  = "price_action"
	TemplateIntradayTime = "intraday_time"
	TemplateAggressive   = "aggressive"
	TemplateConservative = "conservative"
	TemplateATRAdaptive  = "atr_adaptive"
	TemplateSimple       = "simple"
)

// Exit reasons surfaced on exit orders and trades.
const (
	ReasonStopLoss     = "Stop loss"
	ReasonTrailingStop = "Price action trailing stop"
	ReasonTakeProfit   = "Take profit"
	ReasonMarketClose  = "Market close"
	ReasonTimeExit     = "Time exit"
)

const defaultExitTime = "15:55"

// Decision is the outcome of one exit check for one open position.
type Decision struct {
	ShouldExit bool
	ExitPrice  float64
	ExitReason string
}

// Engine evaluates exit templates. It holds no per-position state itself;
// state travels in and out of Evaluate by value and is persisted by the
// caller.
type Engine struct {
	loc *time.Location
}

// NewEngine creates an exit engine whose session clock runs in the given
// timezone (the forced-close checks compare bar timestamps in this zone).
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{loc: loc}
}

// resolveTemplate maps a configured name to the template that actually runs.
// atr_adaptive is a reserved placeholder and falls back to simple until ATR
// sizing exists; unknown names fall back to simple as well.
func resolveTemplate(name string) string {
	switch name {
	case TemplatePriceAction, TemplateIntradayTime, TemplateAggressive,
		TemplateConservative, TemplateSimple:
		return name
	case TemplateATRAdaptive:
		return TemplateSimple
	default:
		return TemplateSimple
	}
}

// Evaluate runs the named template for one open position against the current
// and prior bars and the position's persisted state. exitTime overrides the
// time-of-day exit for templates that allow it ("HH:MM", empty for default).
func (e *Engine) Evaluate(template string, pos ledger.Position, cur, prev types.Bar, state State, exitTime string) (Decision, State) {
	switch resolveTemplate(template) {
	case TemplatePriceAction:
		s, _ := state.(PriceActionState)
		return e.priceAction(pos, cur, prev, s)
	case TemplateIntradayTime:
		return e.fixedThreshold(pos, cur, 0.03, 0.06, exitTime, ReasonTimeExit), SimpleState{}
	case TemplateAggressive:
		return e.fixedThreshold(pos, cur, 0.04, 0.08, "", ReasonMarketClose), SimpleState{}
	case TemplateConservative:
		return e.fixedThreshold(pos, cur, 0.015, 0.03, "", ReasonMarketClose), SimpleState{}
	default:
		return e.fixedThreshold(pos, cur, 0.05, 0.10, "", ReasonMarketClose), SimpleState{}
	}
}

// afterExitTime reports whether the bar's session-local time is at or past
// the HH:MM exit time.
func (e *Engine) afterExitTime(ts time.Time, exitTime string) bool {
	if exitTime == "" {
		exitTime = defaultExitTime
	}
	parsed, err := time.Parse("15:04", exitTime)
	if err != nil {
		parsed, _ = time.Parse("15:04", defaultExitTime)
	}
	local := ts.In(e.loc)
	cutoff := time.Date(local.Year(), local.Month(), local.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, e.loc)
	return !local.Before(cutoff)
}
