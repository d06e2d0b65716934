package types

import (
	"time"

	"gorm.io/gorm"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order types.
const (
	OrderTypeMarket    = "market"
	OrderTypeLimit     = "limit"
	OrderTypeStop      = "stop"
	OrderTypeStopLimit = "stop_limit"
)

// Order statuses. pending -> partially_filled -> filled is monotonic;
// cancelled is reachable while not fully filled; rejected only from pending.
const (
	OrderStatusPending         = "pending"
	OrderStatusPartiallyFilled = "partially_filled"
	OrderStatusFilled          = "filled"
	OrderStatusCancelled       = "cancelled"
	OrderStatusRejected        = "rejected"
)

// Bar is one OHLCV sample for a ticker over a fixed interval. Bars are
// immutable and must arrive in strictly increasing timestamp order per ticker.
type Bar struct {
	Ticker    string    `json:"ticker"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timeframe string    `json:"timeframe"`
}

// Order is an intent to trade held by an account.
type Order struct {
	gorm.Model     `json:"-"`
	OrderID        string     `gorm:"uniqueIndex" json:"order_id"`
	AccountID      string     `gorm:"index" json:"account_id"`
	Ticker         string     `gorm:"index" json:"ticker"`
	Side           string     `json:"side"`
	OrderType      string     `json:"order_type"`
	Quantity       float64    `json:"quantity"`
	LimitPrice     float64    `json:"limit_price,omitempty"`
	StopPrice      float64    `json:"stop_price,omitempty"`
	Status         string     `json:"status"`
	FilledQuantity float64    `json:"filled_quantity"`
	AvgFillPrice   float64    `json:"avg_fill_price"`
	Commission     float64    `json:"commission"`
	Slippage       float64    `json:"slippage"`
	SignalRef      string     `json:"signal_ref,omitempty"`
	RejectReason   string     `json:"reject_reason,omitempty"`
	SubmittedAt    time.Time  `json:"submitted_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Remaining returns the unfilled quantity of the order.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

// Open reports whether the order can still fill or be cancelled.
func (o *Order) Open() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusPartiallyFilled
}

// Signal is an entry signal produced by the external scanner.
type Signal struct {
	Ticker     string    `json:"ticker"`
	Side       string    `json:"side"`
	EntryPrice float64   `json:"entry_price"`
	Timestamp  time.Time `json:"timestamp"`
	SignalID   string    `json:"signal_id,omitempty"`
}
