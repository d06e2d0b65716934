package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInsufficientPosition = errors.New("insufficient position quantity")
	// ErrNegativeCash signals a ledger invariant violation: the risk gate
	// must reject any fill that would drive cash below zero, so hitting this
	// means a bug upstream. The transaction is rolled back and the account's
	// processing halts.
	ErrNegativeCash = errors.New("cash would go negative")
)

// Service is the single writer of Account/Position/Trade state. Every
// mutation for an account runs under that account's lock and inside one gorm
// transaction, so "check risk, commit fill, update equity" is atomic with
// respect to concurrent fills on the same account.
type Service struct {
	db *Database

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:    NewDatabase(gormDB),
		locks: make(map[string]*sync.Mutex),
	}
}

// DB exposes read-only access for handlers and the orchestrator.
func (s *Service) DB() *Database { return s.db }

func (s *Service) lockFor(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// Transact runs fn under the account's lock inside a database transaction.
// Any error from fn rolls the transaction back; nothing is committed.
func (s *Service) Transact(accountID string, fn func(tx *gorm.DB) error) error {
	l := s.lockFor(accountID)
	l.Lock()
	defer l.Unlock()

	tx := s.db.db.Begin()
	if err := tx.Error; err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// CreateAccount provisions a new agent account with the full balance as cash
// and buying power.
func (s *Service) CreateAccount(initialBalance float64, exitTemplate string) (*Account, error) {
	account := &Account{
		AccountID:      "ACC_" + uuid.New().String(),
		InitialBalance: initialBalance,
		Cash:           initialBalance,
		Equity:         initialBalance,
		BuyingPower:    initialBalance,
		Status:         AccountStatusActive,
		ExitTemplate:   exitTemplate,
	}
	if err := s.db.CreateAccount(account); err != nil {
		return nil, err
	}
	log.Info().
		Str("account_id", account.AccountID).
		Float64("initial_balance", initialBalance).
		Str("exit_template", exitTemplate).
		Msg("account provisioned")
	return account, nil
}

// OpenOrIncrease creates the position at price or folds qty into the existing
// one with a cost-weighted average entry. Cash is not touched here; the
// caller pairs this with ApplyCashDelta in the same transaction.
func (s *Service) OpenOrIncrease(tx *gorm.DB, accountID, ticker, side string, qty, price float64, signalRef string) (*Position, error) {
	position, err := getPosition(tx, accountID, ticker)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{
			AccountID:     accountID,
			Ticker:        ticker,
			Side:          side,
			Quantity:      qty,
			AvgEntryPrice: price,
			SignalRef:     signalRef,
			OpenedAt:      time.Now(),
		}
		position.MarkPrice(price)
		if err := tx.Create(position).Error; err != nil {
			return nil, err
		}
		return position, nil
	}

	total := position.Quantity + qty
	position.AvgEntryPrice = (position.Quantity*position.AvgEntryPrice + qty*price) / total
	position.Quantity = total
	position.MarkPrice(price)
	if err := tx.Save(position).Error; err != nil {
		return nil, err
	}
	return position, nil
}

// ReduceOrClose takes qty off the position, deleting it when it reaches zero.
// The average entry price is left untouched on a partial reduction. It
// returns the realized P&L of the reduction at the given price.
func (s *Service) ReduceOrClose(tx *gorm.DB, accountID, ticker string, qty, price float64) (realized float64, closed bool, err error) {
	position, err := getPosition(tx, accountID, ticker)
	if err != nil {
		return 0, false, err
	}
	if position == nil || position.Quantity < qty {
		return 0, false, ErrInsufficientPosition
	}

	if position.Side == PositionSideShort {
		realized = (position.AvgEntryPrice - price) * qty
	} else {
		realized = (price - position.AvgEntryPrice) * qty
	}

	if position.Quantity == qty {
		if err := tx.Unscoped().Delete(position).Error; err != nil {
			return 0, false, err
		}
		return realized, true, nil
	}

	position.Quantity -= qty
	position.MarkPrice(price)
	if err := tx.Save(position).Error; err != nil {
		return 0, false, err
	}
	return realized, false, nil
}

// ApplyCashDelta moves cash and buying power together. A delta that would
// leave cash negative is an invariant violation, not a normal rejection.
func (s *Service) ApplyCashDelta(tx *gorm.DB, accountID string, delta float64) (*Account, error) {
	account, err := getAccount(tx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Cash+delta < 0 {
		return nil, fmt.Errorf("%w: cash %.2f delta %.2f", ErrNegativeCash, account.Cash, delta)
	}
	account.Cash += delta
	account.BuyingPower += delta
	if account.BuyingPower < 0 {
		account.BuyingPower = 0
	}
	if err := tx.Save(account).Error; err != nil {
		return nil, err
	}
	return account, nil
}

// HaltAccount takes the account out of processing after an invariant
// violation. A halted account gets no new entries, fills or exit checks until
// an operator intervenes.
func (s *Service) HaltAccount(accountID, reason string) error {
	err := s.Transact(accountID, func(tx *gorm.DB) error {
		account, err := getAccount(tx, accountID)
		if err != nil {
			return err
		}
		account.Status = AccountStatusHalted
		return tx.Save(account).Error
	})
	if err != nil {
		return err
	}
	log.Error().
		Str("account_id", accountID).
		Str("reason", reason).
		Msg("account halted")
	return nil
}

// MarkToMarket reprices the position at price and recomputes account equity
// and total P&L from the full position set.
func (s *Service) MarkToMarket(accountID, ticker string, price float64) error {
	return s.Transact(accountID, func(tx *gorm.DB) error {
		position, err := getPosition(tx, accountID, ticker)
		if err != nil {
			return err
		}
		if position == nil {
			return nil
		}
		position.MarkPrice(price)
		if err := tx.Save(position).Error; err != nil {
			return err
		}
		return recomputeEquity(tx, accountID)
	})
}

// RecomputeEquity refreshes equity inside an existing transaction after the
// caller has finished its position/cash mutations.
func (s *Service) RecomputeEquity(tx *gorm.DB, accountID string) error {
	return recomputeEquity(tx, accountID)
}

func recomputeEquity(tx *gorm.DB, accountID string) error {
	account, err := getAccount(tx, accountID)
	if err != nil {
		return err
	}
	var positions []Position
	if err := tx.Where("account_id = ?", accountID).Find(&positions).Error; err != nil {
		return err
	}
	equity := account.Cash
	for i := range positions {
		equity += positions[i].MarketValue
	}
	account.Equity = equity
	account.RealizedPnLPct = 0
	if account.InitialBalance != 0 {
		account.RealizedPnLPct = account.RealizedPnL / account.InitialBalance * 100
	}
	return tx.Save(account).Error
}

// RecordTrade appends the immutable execution row and, when the trade reduced
// or closed a position, bumps the account's trade and win/loss counters.
func (s *Service) RecordTrade(tx *gorm.DB, trade *Trade) error {
	trade.TradeID = "TRD_" + uuid.New().String()
	if err := tx.Create(trade).Error; err != nil {
		return err
	}
	if trade.RealizedPnL == nil {
		return nil
	}

	account, err := getAccount(tx, trade.AccountID)
	if err != nil {
		return err
	}
	account.TotalTrades++
	account.RealizedPnL += *trade.RealizedPnL
	if *trade.RealizedPnL > 0 {
		account.WinningTrades++
	} else {
		account.LosingTrades++
	}
	return tx.Save(account).Error
}

// SaveExitState persists the serialized exit-template state for a position.
// A position that closed between the exit check and this write is gone; that
// is fine, the state dies with it.
func (s *Service) SaveExitState(accountID, ticker, state string) error {
	return s.Transact(accountID, func(tx *gorm.DB) error {
		position, err := getPosition(tx, accountID, ticker)
		if err != nil || position == nil {
			return err
		}
		position.ExitState = state
		return tx.Save(position).Error
	})
}

// SubmitOrder validates and persists a new order in pending state.
func (s *Service) SubmitOrder(order *types.Order) error {
	if order.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %v", order.Quantity)
	}
	if order.Side != types.SideBuy && order.Side != types.SideSell {
		return fmt.Errorf("unknown order side %q", order.Side)
	}
	order.OrderID = "ORD_" + uuid.New().String()
	order.Status = types.OrderStatusPending
	order.SubmittedAt = time.Now()
	if err := s.db.CreateOrder(order); err != nil {
		return err
	}
	log.Info().
		Str("order_id", order.OrderID).
		Str("account_id", order.AccountID).
		Str("ticker", order.Ticker).
		Str("side", order.Side).
		Str("order_type", order.OrderType).
		Float64("quantity", order.Quantity).
		Msg("order submitted")
	return nil
}

// CancelOrder moves an open order to cancelled. Terminal orders are immutable.
func (s *Service) CancelOrder(orderID string) (*types.Order, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, gorm.ErrRecordNotFound
	}
	if !order.Open() {
		return nil, fmt.Errorf("order %s is %s and cannot be cancelled", orderID, order.Status)
	}
	order.Status = types.OrderStatusCancelled
	now := time.Now()
	order.CompletedAt = &now
	if err := s.db.UpdateOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}
