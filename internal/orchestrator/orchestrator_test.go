package orchestrator_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/config"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/database"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/exitengine"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/feed"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/fillsim"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/ledger"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/orchestrator"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// stubSignals returns canned signals for the first scan only.
type stubSignals struct {
	signals []types.Signal
	calls   int
}

func (s *stubSignals) Scan(_ context.Context, _ string, _ []types.Bar) ([]types.Signal, error) {
	s.calls++
	if s.calls > 1 {
		return nil, nil
	}
	return s.signals, nil
}

type harness struct {
	ledger *ledger.Service
	orch   *orchestrator.Orchestrator
}

func newHarness(t *testing.T, cfg config.Engine, source *stubSignals) *harness {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "orch_test.db"))
	require.NoError(t, err)

	svc := ledger.NewService(db)
	sim := fillsim.NewSimulator(svc, cfg)
	exits := exitengine.NewEngine(time.UTC)
	orch := orchestrator.New(svc, sim, exits, source,
		orchestrator.EquityFractionSizer(cfg.EquityFraction), cfg, 30)
	return &harness{ledger: svc, orch: orch}
}

func sessionBar(minute int, open, high, low, closePrice float64) types.Bar {
	return types.Bar{
		Ticker:    "TICK",
		Timestamp: time.Date(2024, 6, 14, 10, minute, 0, 0, time.UTC),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    1_000_000,
		Timeframe: "5m",
	}
}

func TestStaleBarRejected(t *testing.T) {
	h := newHarness(t, config.DefaultEngine(), &stubSignals{})
	ctx := context.Background()

	require.NoError(t, h.orch.OnBar(ctx, sessionBar(10, 50, 51, 49, 50)))

	// Same timestamp and an older one are both rejected.
	err := h.orch.OnBar(ctx, sessionBar(10, 50, 51, 49, 50))
	assert.ErrorIs(t, err, orchestrator.ErrStaleBar)
	err = h.orch.OnBar(ctx, sessionBar(5, 50, 51, 49, 50))
	assert.ErrorIs(t, err, orchestrator.ErrStaleBar)

	// Time moves on, the ticker keeps processing.
	assert.NoError(t, h.orch.OnBar(ctx, sessionBar(15, 50, 51, 49, 50)))
}

func TestSignalOutsideRecencyWindowIgnored(t *testing.T) {
	cfg := config.DefaultEngine()
	bar := sessionBar(0, 50, 50.5, 49.5, 50)
	stale := types.Signal{
		Ticker:     "TICK",
		Side:       types.SideBuy,
		EntryPrice: 50,
		Timestamp:  bar.Timestamp.Add(-cfg.SignalWindow.Std() - time.Minute),
	}
	h := newHarness(t, cfg, &stubSignals{signals: []types.Signal{stale}})

	_, err := h.ledger.CreateAccount(100_000, "")
	require.NoError(t, err)

	require.NoError(t, h.orch.OnBar(context.Background(), bar))

	orders, err := h.ledger.DB().ListOpenOrders("TICK")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestZeroQuantitySizingSkipsEntry(t *testing.T) {
	cfg := config.DefaultEngine()
	bar := sessionBar(0, 50, 50.5, 49.5, 50)
	sig := types.Signal{
		Ticker: "TICK", Side: types.SideBuy,
		EntryPrice: 1_000_000, // sized quantity floors to zero
		Timestamp:  bar.Timestamp,
	}
	h := newHarness(t, cfg, &stubSignals{signals: []types.Signal{sig}})

	_, err := h.ledger.CreateAccount(10_000, "")
	require.NoError(t, err)

	require.NoError(t, h.orch.OnBar(context.Background(), bar))

	orders, err := h.ledger.DB().ListOpenOrders("TICK")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

// TestEndToEndStopLossScenario follows one signal from entry to a stop-loss
// exit: a $100k account buys 10% of equity at ~$50 (200 shares), the next
// bars breach the 2% stop, and the exit fill returns the cash with a small
// realized loss.
func TestEndToEndStopLossScenario(t *testing.T) {
	cfg := config.DefaultEngine()
	sig := types.Signal{
		Ticker:     "TICK",
		Side:       types.SideBuy,
		EntryPrice: 50,
		Timestamp:  time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC),
		SignalID:   "SIG_1",
	}
	source := &stubSignals{signals: []types.Signal{sig}}
	h := newHarness(t, cfg, source)

	account, err := h.ledger.CreateAccount(100_000, exitengine.TemplatePriceAction)
	require.NoError(t, err)

	bars := []types.Bar{
		sessionBar(0, 49.90, 50.40, 49.70, 50.00),  // signal bar: market buy submitted
		sessionBar(5, 50.10, 50.60, 49.95, 50.30),  // entry fills at 50.10 + slippage
		sessionBar(10, 49.60, 49.90, 48.80, 49.00), // low breaches the 2% stop -> exit order
		sessionBar(15, 49.00, 49.20, 48.70, 48.90), // exit fills at 49.00 - slippage
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Run(ctx, feed.NewReplay(bars)))

	final, err := h.ledger.DB().GetAccount(account.AccountID)
	require.NoError(t, err)

	// 10% of 100k at $50 = 200 shares.
	trades, err := h.ledger.DB().ListTrades(account.AccountID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, types.SideBuy, trades[0].Side)
	assert.Equal(t, 200.0, trades[0].Quantity)
	assert.Nil(t, trades[0].RealizedPnL)

	exit := trades[1]
	assert.Equal(t, types.SideSell, exit.Side)
	assert.Equal(t, 200.0, exit.Quantity)
	require.NotNil(t, exit.RealizedPnL)

	buyPrice := 50.10 * (1 + cfg.SlippageRate)
	sellPrice := 49.00 * (1 - cfg.SlippageRate)
	expectedPnL := (sellPrice-buyPrice)*200 - cfg.Commission
	assert.InDelta(t, expectedPnL, *exit.RealizedPnL, 1e-6)

	// Position removed, ledger invariants hold.
	positions, err := h.ledger.DB().ListPositions(account.AccountID)
	require.NoError(t, err)
	assert.Empty(t, positions)
	assert.InDelta(t, final.Cash, final.Equity, 1e-6)
	assert.Equal(t, 1, final.TotalTrades)
	assert.Equal(t, 1, final.LosingTrades)

	expectedCash := 100_000 - 200*buyPrice - cfg.Commission + 200*sellPrice - cfg.Commission
	assert.InDelta(t, expectedCash, final.Cash, 1e-6)
}

// TestReplayDeterministic replays the same bar sequence against two fresh
// ledgers and requires identical final balances and trade counts.
func TestReplayDeterministic(t *testing.T) {
	run := func() (cash, equity float64, trades int) {
		cfg := config.DefaultEngine()
		sig := types.Signal{
			Ticker:     "TICK",
			Side:       types.SideBuy,
			EntryPrice: 50,
			Timestamp:  time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC),
		}
		h := newHarness(t, cfg, &stubSignals{signals: []types.Signal{sig}})
		account, err := h.ledger.CreateAccount(100_000, exitengine.TemplatePriceAction)
		require.NoError(t, err)

		bars := []types.Bar{
			sessionBar(0, 49.90, 50.40, 49.70, 50.00),
			sessionBar(5, 50.10, 50.60, 49.95, 50.30),
			sessionBar(10, 49.60, 49.90, 48.80, 49.00),
			sessionBar(15, 49.00, 49.20, 48.70, 48.90),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, h.orch.Run(ctx, feed.NewReplay(bars)))

		final, err := h.ledger.DB().GetAccount(account.AccountID)
		require.NoError(t, err)
		all, err := h.ledger.DB().ListTrades(account.AccountID)
		require.NoError(t, err)
		return final.Cash, final.Equity, len(all)
	}

	cash1, equity1, trades1 := run()
	cash2, equity2, trades2 := run()
	assert.InDelta(t, cash1, cash2, 1e-9)
	assert.InDelta(t, equity1, equity2, 1e-9)
	assert.Equal(t, trades1, trades2)
}

// TestExitStatePersistedAcrossBars confirms the price_action state machine
// survives in the ledger between monitoring passes.
func TestExitStatePersistedAcrossBars(t *testing.T) {
	cfg := config.DefaultEngine()
	sig := types.Signal{
		Ticker:     "TICK",
		Side:       types.SideBuy,
		EntryPrice: 50,
		Timestamp:  time.Date(2024, 6, 14, 10, 0, 0, 0, time.UTC),
	}
	h := newHarness(t, cfg, &stubSignals{signals: []types.Signal{sig}})
	account, err := h.ledger.CreateAccount(100_000, exitengine.TemplatePriceAction)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, h.orch.OnBar(ctx, sessionBar(0, 49.90, 50.40, 49.70, 50.00)))
	require.NoError(t, h.orch.OnBar(ctx, sessionBar(5, 50.10, 50.60, 49.95, 50.30)))
	// Two profitable closes after entry activate the trailing stop.
	require.NoError(t, h.orch.OnBar(ctx, sessionBar(10, 50.40, 50.90, 50.30, 50.80)))
	require.NoError(t, h.orch.OnBar(ctx, sessionBar(15, 50.80, 51.30, 50.70, 51.20)))

	position, err := h.ledger.DB().GetPosition(account.AccountID, "TICK")
	require.NoError(t, err)
	require.NotNil(t, position)
	require.NotEmpty(t, position.ExitState)

	state := exitengine.DecodeState(exitengine.TemplatePriceAction, position.ExitState)
	s, ok := state.(exitengine.PriceActionState)
	require.True(t, ok)
	assert.GreaterOrEqual(t, s.ProfitableBars, 2)
	assert.True(t, s.TrailingActive)
}
