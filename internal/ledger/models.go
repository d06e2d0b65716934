package ledger

import (
	"time"

	"gorm.io/gorm"
)

// Account statuses.
const (
	AccountStatusActive = "active"
	AccountStatusPaused = "paused"
	AccountStatusHalted = "halted"
	AccountStatusClosed = "closed"
)

// Position sides.
const (
	PositionSideLong  = "long"
	PositionSideShort = "short"
)

// Account is the virtual brokerage account of one strategy agent.
// Invariant: Equity == Cash + sum of position market values, and
// BuyingPower <= Cash.
type Account struct {
	gorm.Model     `json:"-"`
	AccountID      string  `gorm:"uniqueIndex" json:"account_id"`
	InitialBalance float64 `json:"initial_balance"`
	Cash           float64 `json:"cash"`
	Equity         float64 `json:"equity"`
	BuyingPower    float64 `json:"buying_power"`
	RealizedPnL    float64 `json:"realized_pnl"`
	RealizedPnLPct float64 `json:"realized_pnl_pct"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	Status         string  `json:"status"`

	// Exit-strategy configuration for this agent.
	ExitTemplate string `json:"exit_template"`
	ExitTime     string `json:"exit_time,omitempty"` // "HH:MM", defaults to 15:55
}

// Position is the open inventory of one account in one ticker. At most one
// row per (account, ticker); Quantity is always > 0 while the row exists.
type Position struct {
	gorm.Model       `json:"-"`
	AccountID        string  `gorm:"index:idx_account_ticker,unique" json:"account_id"`
	Ticker           string  `gorm:"index:idx_account_ticker,unique" json:"ticker"`
	Side             string  `json:"side"`
	Quantity         float64 `json:"quantity"`
	AvgEntryPrice    float64 `json:"avg_entry_price"`
	CurrentPrice     float64 `json:"current_price"`
	MarketValue      float64 `json:"market_value"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	SignalRef        string  `json:"signal_ref,omitempty"`

	// ExitState is the serialized per-position exit-template state machine,
	// written back by the orchestrator after every exit check and discarded
	// with the position.
	ExitState string    `json:"-"`
	OpenedAt  time.Time `json:"opened_at"`
}

// Trade is an immutable execution record, one per fill. RealizedPnL is set
// only when the fill reduces or closes a position.
type Trade struct {
	gorm.Model  `json:"-"`
	TradeID     string   `gorm:"uniqueIndex" json:"trade_id"`
	OrderID     string   `gorm:"index" json:"order_id"`
	AccountID   string   `gorm:"index" json:"account_id"`
	Ticker      string   `json:"ticker"`
	Side        string   `json:"side"`
	Quantity    float64  `json:"quantity"`
	Price       float64  `json:"price"`
	Commission  float64  `json:"commission"`
	Slippage    float64  `json:"slippage"`
	RealizedPnL *float64 `json:"realized_pnl,omitempty"`
	ExitReason  string   `json:"exit_reason,omitempty"`
}

// MarkPrice recomputes the derived fields of a position at the given price.
func (p *Position) MarkPrice(price float64) {
	p.CurrentPrice = price
	p.MarketValue = p.Quantity * price
	if p.Side == PositionSideShort {
		p.UnrealizedPnL = (p.AvgEntryPrice - price) * p.Quantity
	} else {
		p.UnrealizedPnL = (price - p.AvgEntryPrice) * p.Quantity
	}
	if p.AvgEntryPrice != 0 {
		p.UnrealizedPnLPct = p.UnrealizedPnL / (p.AvgEntryPrice * p.Quantity) * 100
	}
}
