package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/config"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/exitengine"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/feed"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/fillsim"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/ledger"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/signals"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// ErrStaleBar marks a bar at or before the last applied timestamp for its
// ticker. Stale bars are rejected at ingestion and never touch engine state.
var ErrStaleBar = errors.New("stale or out-of-order bar")

// tickerState is the per-ticker bookkeeping the loop carries between bars.
type tickerState struct {
	lastTimestamp time.Time
	prevBar       types.Bar
	havePrev      bool
	window        []types.Bar
	barsSinceEval int
}

// Orchestrator ties bar ingestion to order settlement, signal-driven entries
// and exit monitoring. Bars for different tickers run in parallel on
// per-ticker workers; per-account atomicity is the ledger's job.
type Orchestrator struct {
	ledger    *ledger.Service
	simulator *fillsim.Simulator
	exits     *exitengine.Engine
	source    signals.Source
	sizer     PositionSizer
	cfg       config.Engine
	windowLen int

	mu      sync.Mutex
	tickers map[string]*tickerState
}

func New(
	ledgerSvc *ledger.Service,
	simulator *fillsim.Simulator,
	exits *exitengine.Engine,
	source signals.Source,
	sizer PositionSizer,
	cfg config.Engine,
	windowLen int,
) *Orchestrator {
	if sizer == nil {
		sizer = EquityFractionSizer(cfg.EquityFraction)
	}
	if windowLen <= 0 {
		windowLen = 30
	}
	return &Orchestrator{
		ledger:    ledgerSvc,
		simulator: simulator,
		exits:     exits,
		source:    source,
		sizer:     sizer,
		cfg:       cfg,
		windowLen: windowLen,
		tickers:   make(map[string]*tickerState),
	}
}

// Run consumes the feed until it closes or the context is cancelled,
// dispatching each bar to a per-ticker worker so tickers progress
// independently.
func (o *Orchestrator) Run(ctx context.Context, barFeed feed.Feed) error {
	bars, err := barFeed.Bars(ctx)
	if err != nil {
		return fmt.Errorf("failed to open bar feed: %w", err)
	}

	workers := make(map[string]chan types.Bar)
	var wg sync.WaitGroup
	defer func() {
		for _, ch := range workers {
			close(ch)
		}
		wg.Wait()
	}()

	for bar := range bars {
		ch, ok := workers[bar.Ticker]
		if !ok {
			ch = make(chan types.Bar, 64)
			workers[bar.Ticker] = ch
			wg.Add(1)
			go func(ticker string, in <-chan types.Bar) {
				defer wg.Done()
				for b := range in {
					if err := o.OnBar(ctx, b); err != nil && !errors.Is(err, ErrStaleBar) {
						log.Error().Err(err).Str("ticker", ticker).Msg("bar processing failed")
					}
				}
			}(bar.Ticker, ch)
		}
		select {
		case ch <- bar:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}

// OnBar applies one bar: settle pending orders, scan for entries, and on the
// monitoring cadence run exit checks for every open position on the ticker.
// Failures in one account's processing are logged and do not stop the tick.
func (o *Orchestrator) OnBar(ctx context.Context, bar types.Bar) error {
	state, err := o.admit(bar)
	if err != nil {
		log.Warn().
			Str("ticker", bar.Ticker).
			Time("timestamp", bar.Timestamp).
			Msg("rejected stale or out-of-order bar")
		return err
	}

	o.simulator.ProcessBar(bar)
	o.scanForEntries(ctx, bar, state.window)

	state.barsSinceEval++
	if state.barsSinceEval >= o.cfg.MonitorEvery {
		state.barsSinceEval = 0
		o.monitorPositions(bar, state)
	}

	state.prevBar = bar
	state.havePrev = true
	return nil
}

// admit enforces strictly increasing timestamps per ticker and returns the
// ticker's state with the bar appended to its scan window.
func (o *Orchestrator) admit(bar types.Bar) (*tickerState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state, ok := o.tickers[bar.Ticker]
	if !ok {
		state = &tickerState{}
		o.tickers[bar.Ticker] = state
	}
	if !state.lastTimestamp.IsZero() && !bar.Timestamp.After(state.lastTimestamp) {
		return nil, ErrStaleBar
	}
	state.lastTimestamp = bar.Timestamp

	state.window = append(state.window, bar)
	if len(state.window) > o.windowLen {
		state.window = state.window[len(state.window)-o.windowLen:]
	}
	return state, nil
}

// scanForEntries asks the signal source for entries on this bar and turns
// fresh signals into sized market buys for every active account. The scan
// runs at most once per bar timestamp by construction.
func (o *Orchestrator) scanForEntries(ctx context.Context, bar types.Bar, window []types.Bar) {
	sigs, err := o.source.Scan(ctx, bar.Ticker, window)
	if err != nil {
		// Guarded sources swallow errors; anything else is still not fatal.
		log.Error().Err(err).Str("ticker", bar.Ticker).Msg("signal source failed")
		return
	}
	if len(sigs) == 0 {
		return
	}

	accounts, err := o.ledger.DB().ListActiveAccounts()
	if err != nil {
		log.Error().Err(err).Msg("failed to list active accounts")
		return
	}

	for _, sig := range sigs {
		if sig.Side != types.SideBuy {
			continue
		}
		age := bar.Timestamp.Sub(sig.Timestamp)
		if age < 0 || age > o.cfg.SignalWindow.Std() {
			continue
		}
		for i := range accounts {
			o.enterFromSignal(&accounts[i], sig)
		}
	}
}

func (o *Orchestrator) enterFromSignal(account *ledger.Account, sig types.Signal) {
	qty := o.sizer(account.Equity, sig)
	if qty <= 0 {
		return
	}
	order := &types.Order{
		AccountID: account.AccountID,
		Ticker:    sig.Ticker,
		Side:      types.SideBuy,
		OrderType: types.OrderTypeMarket,
		Quantity:  qty,
		SignalRef: sig.SignalID,
	}
	if err := o.ledger.SubmitOrder(order); err != nil {
		log.Error().Err(err).
			Str("account_id", account.AccountID).
			Str("ticker", sig.Ticker).
			Msg("failed to submit entry order")
	}
}

// monitorPositions marks every open position on the ticker to market and
// runs the account's exit template, submitting a market sell for the full
// quantity when the template says to exit.
func (o *Orchestrator) monitorPositions(bar types.Bar, state *tickerState) {
	positions, err := o.ledger.DB().ListPositionsByTicker(bar.Ticker)
	if err != nil {
		log.Error().Err(err).Str("ticker", bar.Ticker).Msg("failed to list positions")
		return
	}

	prev := bar
	if state.havePrev {
		prev = state.prevBar
	}

	for i := range positions {
		pos := positions[i]
		if err := o.checkExit(pos, bar, prev); err != nil {
			log.Error().Err(err).
				Str("account_id", pos.AccountID).
				Str("ticker", pos.Ticker).
				Msg("exit check failed")
		}
	}
}

func (o *Orchestrator) checkExit(pos ledger.Position, cur, prev types.Bar) error {
	account, err := o.ledger.DB().GetAccount(pos.AccountID)
	if err != nil {
		return err
	}
	if account.Status == ledger.AccountStatusHalted {
		return nil
	}

	if err := o.ledger.MarkToMarket(pos.AccountID, pos.Ticker, cur.Close); err != nil {
		return err
	}

	template := account.ExitTemplate
	if template == "" {
		template = exitengine.TemplateSimple
	}

	state := exitengine.DecodeState(template, pos.ExitState)
	decision, next := o.exits.Evaluate(template, pos, cur, prev, state, account.ExitTime)

	if !decision.ShouldExit {
		encoded, err := exitengine.EncodeState(next)
		if err != nil {
			return err
		}
		return o.ledger.SaveExitState(pos.AccountID, pos.Ticker, encoded)
	}

	log.Info().
		Str("account_id", pos.AccountID).
		Str("ticker", pos.Ticker).
		Str("reason", decision.ExitReason).
		Float64("exit_price", decision.ExitPrice).
		Msg("exit triggered")

	order := &types.Order{
		AccountID: pos.AccountID,
		Ticker:    pos.Ticker,
		Side:      types.SideSell,
		OrderType: types.OrderTypeMarket,
		Quantity:  pos.Quantity,
		SignalRef: decision.ExitReason,
	}
	if err := o.ledger.SubmitOrder(order); err != nil {
		return err
	}
	// Template state dies with the exit decision; the fill removes the
	// position itself.
	return o.ledger.SaveExitState(pos.AccountID, pos.Ticker, "")
}
