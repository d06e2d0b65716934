package fillsim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/config"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/ledger"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

// RiskError is an expected, terminal rejection of an order by the risk gate.
// The reason is surfaced verbatim on the rejected order.
type RiskError struct {
	Reason string
}

func (e *RiskError) Error() string { return e.Reason }

// Simulator settles pending orders against incoming bars. Fill prices are
// derived only from the current bar's OHLCV, with slippage and a fixed
// commission applied, and every commit is gated by the account's risk rules
// inside a single ledger transaction.
type Simulator struct {
	ledger *ledger.Service
	cfg    config.Engine
}

func NewSimulator(ledgerSvc *ledger.Service, cfg config.Engine) *Simulator {
	return &Simulator{ledger: ledgerSvc, cfg: cfg}
}

// ProcessBar attempts to settle every open order for the bar's ticker.
// A rejected order is terminal for that order only; remaining orders on the
// same bar are still processed.
func (s *Simulator) ProcessBar(bar types.Bar) {
	orders, err := s.ledger.DB().ListOpenOrders(bar.Ticker)
	if err != nil {
		log.Error().Err(err).Str("ticker", bar.Ticker).Msg("failed to load open orders")
		return
	}

	for i := range orders {
		order := &orders[i]
		err := s.TryFill(order, bar)
		if err == nil {
			continue
		}
		var riskErr *RiskError
		switch {
		case errors.As(err, &riskErr):
			s.terminate(order, riskErr.Reason)
		case errors.Is(err, ledger.ErrNegativeCash):
			// Invariant violation: the risk gate should have caught this.
			// Terminate the order and take the account out of processing
			// rather than retrying a known-fatal mutation every bar.
			s.terminate(order, err.Error())
			if haltErr := s.ledger.HaltAccount(order.AccountID, err.Error()); haltErr != nil {
				log.Error().Err(haltErr).
					Str("account_id", order.AccountID).
					Msg("failed to halt account")
			}
		default:
			log.Error().Err(err).
				Str("order_id", order.OrderID).
				Str("account_id", order.AccountID).
				Msg("fill commit failed")
		}
	}
}

// TryFill fills the order against the bar if its price condition is met.
// A bar that does not trigger the order leaves it open and returns nil.
// Risk gate failures return a *RiskError; the caller owns the rejection.
func (s *Simulator) TryFill(order *types.Order, bar types.Bar) error {
	basePrice, ok := fillPrice(order, bar)
	if !ok {
		return nil
	}

	qty := order.Remaining()
	if s.cfg.MaxParticipation > 0 {
		tradable := math.Floor(s.cfg.MaxParticipation * bar.Volume)
		if tradable < qty {
			qty = tradable
		}
		if qty <= 0 {
			// No tradable volume on this bar; revisit on the next one.
			return nil
		}
	}

	slipPerShare := basePrice * s.cfg.SlippageRate
	price := basePrice
	if order.Side == types.SideBuy {
		price += slipPerShare
	} else {
		price -= slipPerShare
	}
	slippage := slipPerShare * qty
	commission := s.cfg.Commission

	logger := log.With().
		Str("order_id", order.OrderID).
		Str("account_id", order.AccountID).
		Str("ticker", order.Ticker).
		Str("side", order.Side).
		Float64("quantity", qty).
		Float64("fill_price", price).
		Logger()

	err := s.ledger.Transact(order.AccountID, func(tx *gorm.DB) error {
		if err := s.checkRisk(tx, order, qty, price, commission, slippage); err != nil {
			return err
		}
		return s.commitFill(tx, order, qty, price, commission, slippage)
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("status", order.Status).
		Float64("filled_quantity", order.FilledQuantity).
		Msg("order filled")
	return nil
}

// checkRisk runs the admission rules in order; the first failure wins and
// nothing is committed.
func (s *Simulator) checkRisk(tx *gorm.DB, order *types.Order, qty, price, commission, slippage float64) error {
	account, err := ledger.AccountForUpdate(tx, order.AccountID)
	if err != nil {
		return err
	}
	if account.Status == ledger.AccountStatusHalted {
		return &RiskError{Reason: "account halted"}
	}
	notional := qty * price

	if order.Side == types.SideSell {
		position, err := ledger.PositionForUpdate(tx, order.AccountID, order.Ticker)
		if err != nil {
			return err
		}
		if position == nil || position.Quantity < order.Remaining() {
			return &RiskError{Reason: fmt.Sprintf(
				"insufficient position: selling %.0f %s but holding %.0f",
				order.Remaining(), order.Ticker, heldQty(position))}
		}
		return nil
	}

	cost := notional + commission
	if cost > account.BuyingPower {
		return &RiskError{Reason: fmt.Sprintf(
			"insufficient buying power: need %.2f, have %.2f", cost, account.BuyingPower)}
	}
	// The notional limit is judged on the whole unfilled order, not the
	// participation-capped chunk, so an oversized order cannot be admitted
	// piecemeal across bars.
	orderNotional := order.Remaining() * price
	if maxNotional := account.Equity * s.cfg.MaxPositionFraction; orderNotional > maxNotional {
		return &RiskError{Reason: fmt.Sprintf(
			"order notional %.2f exceeds limit %.2f (%.0f%% of equity)",
			orderNotional, maxNotional, s.cfg.MaxPositionFraction*100)}
	}
	position, err := ledger.PositionForUpdate(tx, order.AccountID, order.Ticker)
	if err != nil {
		return err
	}
	if position == nil {
		open, err := ledger.OpenPositionCount(tx, order.AccountID)
		if err != nil {
			return err
		}
		if int(open) >= s.cfg.MaxPositions {
			return &RiskError{Reason: fmt.Sprintf(
				"max concurrent positions reached (%d)", s.cfg.MaxPositions)}
		}
	}
	if reserve := account.Equity * s.cfg.MinReserveFraction; account.BuyingPower-cost < reserve {
		return &RiskError{Reason: fmt.Sprintf(
			"cash reserve breached: buying power after fill %.2f below reserve %.2f",
			account.BuyingPower-cost, reserve)}
	}
	return nil
}

// commitFill applies the ledger mutations and order/trade bookkeeping for a
// single fill as one unit of work on the open transaction.
func (s *Simulator) commitFill(tx *gorm.DB, order *types.Order, qty, price, commission, slippage float64) error {
	trade := &ledger.Trade{
		OrderID:    order.OrderID,
		AccountID:  order.AccountID,
		Ticker:     order.Ticker,
		Side:       order.Side,
		Quantity:   qty,
		Price:      price,
		Commission: commission,
		Slippage:   slippage,
	}

	if order.Side == types.SideBuy {
		if _, err := s.ledger.OpenOrIncrease(tx, order.AccountID, order.Ticker, ledger.PositionSideLong, qty, price, order.SignalRef); err != nil {
			return err
		}
		if _, err := s.ledger.ApplyCashDelta(tx, order.AccountID, -(qty*price + commission)); err != nil {
			return err
		}
	} else {
		realized, _, err := s.ledger.ReduceOrClose(tx, order.AccountID, order.Ticker, qty, price)
		if err != nil {
			return err
		}
		realized -= commission
		trade.RealizedPnL = &realized
		trade.ExitReason = order.SignalRef
		if _, err := s.ledger.ApplyCashDelta(tx, order.AccountID, qty*price-commission); err != nil {
			return err
		}
	}

	if err := s.ledger.RecordTrade(tx, trade); err != nil {
		return err
	}
	if err := s.ledger.RecomputeEquity(tx, order.AccountID); err != nil {
		return err
	}

	order.AvgFillPrice = (order.AvgFillPrice*order.FilledQuantity + price*qty) / (order.FilledQuantity + qty)
	order.FilledQuantity += qty
	order.Commission += commission
	order.Slippage += slippage
	if order.FilledQuantity >= order.Quantity {
		order.Status = types.OrderStatusFilled
		now := time.Now()
		order.CompletedAt = &now
	} else {
		order.Status = types.OrderStatusPartiallyFilled
	}
	return tx.Save(order).Error
}

// terminate ends an order the engine refuses to fill any further. An order
// with no fills becomes rejected; a partially filled order keeps its fills
// and has the remainder cancelled, since rejected is only reachable from
// pending.
func (s *Simulator) terminate(order *types.Order, reason string) {
	if order.FilledQuantity > 0 {
		order.Status = types.OrderStatusCancelled
	} else {
		order.Status = types.OrderStatusRejected
	}
	order.RejectReason = reason
	now := time.Now()
	order.CompletedAt = &now
	if err := s.ledger.DB().UpdateOrder(order); err != nil {
		log.Error().Err(err).Str("order_id", order.OrderID).Msg("failed to persist order termination")
		return
	}
	log.Warn().
		Str("order_id", order.OrderID).
		Str("account_id", order.AccountID).
		Str("status", order.Status).
		Str("reason", reason).
		Msg("order terminated by risk gate")
}

// fillPrice applies the per-order-type trigger and price rules against the
// bar. The second return is false when the order does not trigger.
func fillPrice(order *types.Order, bar types.Bar) (float64, bool) {
	switch order.OrderType {
	case types.OrderTypeMarket:
		return bar.Open, true
	case types.OrderTypeLimit:
		if order.Side == types.SideBuy {
			if bar.Low <= order.LimitPrice {
				return math.Min(order.LimitPrice, bar.Open), true
			}
		} else {
			if bar.High >= order.LimitPrice {
				return math.Max(order.LimitPrice, bar.Open), true
			}
		}
	case types.OrderTypeStop:
		if order.Side == types.SideBuy {
			if bar.High >= order.StopPrice {
				return math.Max(order.StopPrice, bar.Open), true
			}
		} else {
			if bar.Low <= order.StopPrice {
				return math.Min(order.StopPrice, bar.Open), true
			}
		}
	case types.OrderTypeStopLimit:
		triggered := false
		if order.Side == types.SideBuy {
			triggered = bar.High >= order.StopPrice
		} else {
			triggered = bar.Low <= order.StopPrice
		}
		if !triggered {
			return 0, false
		}
		if order.Side == types.SideBuy {
			if bar.Low <= order.LimitPrice {
				return order.LimitPrice, true
			}
		} else {
			if bar.High >= order.LimitPrice {
				return order.LimitPrice, true
			}
		}
	}
	return 0, false
}

func heldQty(p *ledger.Position) float64 {
	if p == nil {
		return 0
	}
	return p.Quantity
}
