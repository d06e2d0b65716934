package ledger_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/database"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/exitengine"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/ledger"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

func newTestService(t *testing.T) *ledger.Service {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "ledger_test.db"))
	require.NoError(t, err)
	return ledger.NewService(db)
}

func TestCreateAccountSeedsBalances(t *testing.T) {
	svc := newTestService(t)

	account, err := svc.CreateAccount(100_000, exitengine.TemplatePriceAction)
	require.NoError(t, err)

	assert.Equal(t, 100_000.0, account.Cash)
	assert.Equal(t, 100_000.0, account.Equity)
	assert.Equal(t, 100_000.0, account.BuyingPower)
	assert.Equal(t, ledger.AccountStatusActive, account.Status)
	assert.Equal(t, exitengine.TemplatePriceAction, account.ExitTemplate)
}

func TestOpenOrIncreaseWeightedAverage(t *testing.T) {
	svc := newTestService(t)
	account, err := svc.CreateAccount(100_000, "")
	require.NoError(t, err)

	err = svc.Transact(account.AccountID, func(tx *gorm.DB) error {
		_, err := svc.OpenOrIncrease(tx, account.AccountID, "TICK", ledger.PositionSideLong, 100, 50, "")
		return err
	})
	require.NoError(t, err)

	err = svc.Transact(account.AccountID, func(tx *gorm.DB) error {
		_, err := svc.OpenOrIncrease(tx, account.AccountID, "TICK", ledger.PositionSideLong, 100, 60, "")
		return err
	})
	require.NoError(t, err)

	position, err := svc.DB().GetPosition(account.AccountID, "TICK")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, 200.0, position.Quantity)
	assert.InDelta(t, 55.0, position.AvgEntryPrice, 1e-9)
}

func TestReduceOrCloseDeletesAtZero(t *testing.T) {
	svc := newTestService(t)
	account, err := svc.CreateAccount(100_000, "")
	require.NoError(t, err)

	err = svc.Transact(account.AccountID, func(tx *gorm.DB) error {
		_, err := svc.OpenOrIncrease(tx, account.AccountID, "TICK", ledger.PositionSideLong, 100, 50, "")
		return err
	})
	require.NoError(t, err)

	// Partial reduction keeps the entry price and the row.
	err = svc.Transact(account.AccountID, func(tx *gorm.DB) error {
		realized, closed, err := svc.ReduceOrClose(tx, account.AccountID, "TICK", 40, 55)
		require.NoError(t, err)
		assert.False(t, closed)
		assert.InDelta(t, 200.0, realized, 1e-9) // (55-50)*40
		return nil
	})
	require.NoError(t, err)

	position, err := svc.DB().GetPosition(account.AccountID, "TICK")
	require.NoError(t, err)
	require.NotNil(t, position)
	assert.Equal(t, 60.0, position.Quantity)
	assert.Equal(t, 50.0, position.AvgEntryPrice)

	// Reducing to zero removes the row entirely, never leaving a zero-quantity position.
	err = svc.Transact(account.AccountID, func(tx *gorm.DB) error {
		_, closed, err := svc.ReduceOrClose(tx, account.AccountID, "TICK", 60, 45)
		require.NoError(t, err)
		assert.True(t, closed)
		return nil
	})
	require.NoError(t, err)

	position, err = svc.DB().GetPosition(account.AccountID, "TICK")
	require.NoError(t, err)
	assert.Nil(t, position)
}

func TestReduceOrCloseInsufficient(t *testing.T) {
	svc := newTestService(t)
	account, err := svc.CreateAccount(100_000, "")
	require.NoError(t, err)

	err = svc.Transact(account.AccountID, func(tx *gorm.DB) error {
		if _, err := svc.OpenOrIncrease(tx, account.AccountID, "TICK", ledger.PositionSideLong, 10, 50, ""); err != nil {
			return err
		}
		_, _, err := svc.ReduceOrClose(tx, account.AccountID, "TICK", 11, 50)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientPosition)

	// The rolled-back transaction must not have created the position.
	position, err := svc.DB().GetPosition(account.AccountID, "TICK")
	require.NoError(t, err)
	assert.Nil(t, position)
}

func TestApplyCashDeltaRejectsNegativeCash(t *testing.T) {
	svc := newTestService(t)
	account, err := svc.CreateAccount(1_000, "")
	require.NoError(t, err)

	err = svc.Transact(account.AccountID, func(tx *gorm.DB) error {
		_, err := svc.ApplyCashDelta(tx, account.AccountID, -1_500)
		return err
	})
	assert.ErrorIs(t, err, ledger.ErrNegativeCash)

	reloaded, err := svc.DB().GetAccount(account.AccountID)
	require.NoError(t, err)
	assert.Equal(t, 1_000.0, reloaded.Cash)
}

func TestMarkToMarketEquityInvariant(t *testing.T) {
	svc := newTestService(t)
	account, err := svc.CreateAccount(100_000, "")
	require.NoError(t, err)

	err = svc.Transact(account.AccountID, func(tx *gorm.DB) error {
		if _, err := svc.OpenOrIncrease(tx, account.AccountID, "TICK", ledger.PositionSideLong, 200, 50, ""); err != nil {
			return err
		}
		if _, err := svc.ApplyCashDelta(tx, account.AccountID, -200*50); err != nil {
			return err
		}
		return svc.RecomputeEquity(tx, account.AccountID)
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkToMarket(account.AccountID, "TICK", 55))

	reloaded, err := svc.DB().GetAccount(account.AccountID)
	require.NoError(t, err)
	position, err := svc.DB().GetPosition(account.AccountID, "TICK")
	require.NoError(t, err)
	require.NotNil(t, position)

	assert.InDelta(t, 55.0, position.CurrentPrice, 1e-9)
	assert.InDelta(t, 200*55.0, position.MarketValue, 1e-9)
	assert.InDelta(t, 1000.0, position.UnrealizedPnL, 1e-9)
	// equity == cash + sum of market values
	assert.InDelta(t, reloaded.Cash+position.MarketValue, reloaded.Equity, 1e-6)
}

func TestRecordTradeCounters(t *testing.T) {
	svc := newTestService(t)
	account, err := svc.CreateAccount(100_000, "")
	require.NoError(t, err)

	win := 125.0
	loss := -90.0
	for _, pnl := range []*float64{nil, &win, &loss} {
		p := pnl
		err = svc.Transact(account.AccountID, func(tx *gorm.DB) error {
			return svc.RecordTrade(tx, &ledger.Trade{
				OrderID:     "ORD_x",
				AccountID:   account.AccountID,
				Ticker:      "TICK",
				Side:        types.SideSell,
				Quantity:    10,
				Price:       50,
				RealizedPnL: p,
			})
		})
		require.NoError(t, err)
	}

	reloaded, err := svc.DB().GetAccount(account.AccountID)
	require.NoError(t, err)
	// The opening trade (nil P&L) does not count toward the round-trip stats.
	assert.Equal(t, 2, reloaded.TotalTrades)
	assert.Equal(t, 1, reloaded.WinningTrades)
	assert.Equal(t, 1, reloaded.LosingTrades)
	assert.InDelta(t, 35.0, reloaded.RealizedPnL, 1e-9)

	trades, err := svc.DB().ListTrades(account.AccountID)
	require.NoError(t, err)
	assert.Len(t, trades, 3)
}

func TestCancelOrderStates(t *testing.T) {
	svc := newTestService(t)
	account, err := svc.CreateAccount(100_000, "")
	require.NoError(t, err)

	order := &types.Order{
		AccountID: account.AccountID,
		Ticker:    "TICK",
		Side:      types.SideBuy,
		OrderType: types.OrderTypeLimit,
		Quantity:  10,
	}
	require.NoError(t, svc.SubmitOrder(order))
	assert.Equal(t, types.OrderStatusPending, order.Status)

	cancelled, err := svc.CancelOrder(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusCancelled, cancelled.Status)

	// Terminal states are immutable.
	_, err = svc.CancelOrder(order.OrderID)
	assert.Error(t, err)
}

func TestSubmitOrderValidation(t *testing.T) {
	svc := newTestService(t)

	err := svc.SubmitOrder(&types.Order{Side: types.SideBuy, Quantity: 0})
	assert.Error(t, err)

	err = svc.SubmitOrder(&types.Order{Side: "hold", Quantity: 1})
	assert.Error(t, err)
}
