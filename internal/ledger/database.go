package ledger

import (
	"errors"

	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
	"gorm.io/gorm"
)

// Database wraps gorm access for ledger records. All writes that belong to
// one fill go through a single transaction handle obtained from Service.
type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateAccount(account *Account) error {
	return d.db.Create(account).Error
}

func (d *Database) GetAccount(accountID string) (*Account, error) {
	return getAccount(d.db, accountID)
}

func (d *Database) ListActiveAccounts() ([]Account, error) {
	var accounts []Account
	if err := d.db.Where("status = ?", AccountStatusActive).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

func (d *Database) GetPosition(accountID, ticker string) (*Position, error) {
	return getPosition(d.db, accountID, ticker)
}

func (d *Database) ListPositions(accountID string) ([]Position, error) {
	var positions []Position
	if err := d.db.Where("account_id = ?", accountID).Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// ListPositionsByTicker returns every open position in the ticker across all
// accounts, used by the orchestrator's monitoring pass.
func (d *Database) ListPositionsByTicker(ticker string) ([]Position, error) {
	var positions []Position
	if err := d.db.Where("ticker = ?", ticker).Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

func (d *Database) CreateOrder(order *types.Order) error {
	return d.db.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) UpdateOrder(order *types.Order) error {
	return d.db.Save(order).Error
}

// ListOpenOrders returns pending and partially filled orders for a ticker in
// submission order.
func (d *Database) ListOpenOrders(ticker string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.
		Where("ticker = ? AND status IN ?", ticker,
			[]string{types.OrderStatusPending, types.OrderStatusPartiallyFilled}).
		Order("submitted_at asc").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) ListTrades(accountID string) ([]Trade, error) {
	var trades []Trade
	if err := d.db.Where("account_id = ?", accountID).Order("created_at asc").Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

// tx-scoped reads used inside Service.Transact closures.

// AccountForUpdate reads the account on the open transaction so risk checks
// see the same snapshot the commit will write against.
func AccountForUpdate(tx *gorm.DB, accountID string) (*Account, error) {
	return getAccount(tx, accountID)
}

// PositionForUpdate reads the (account, ticker) position on the open
// transaction; nil when no position exists.
func PositionForUpdate(tx *gorm.DB, accountID, ticker string) (*Position, error) {
	return getPosition(tx, accountID, ticker)
}

// OpenPositionCount counts the account's open positions on the transaction.
func OpenPositionCount(tx *gorm.DB, accountID string) (int64, error) {
	return countPositions(tx, accountID)
}

func getAccount(tx *gorm.DB, accountID string) (*Account, error) {
	var account Account
	if err := tx.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func getPosition(tx *gorm.DB, accountID, ticker string) (*Position, error) {
	var position Position
	err := tx.Where("account_id = ? AND ticker = ?", accountID, ticker).First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &position, nil
}

func countPositions(tx *gorm.DB, accountID string) (int64, error) {
	var count int64
	err := tx.Model(&Position{}).Where("account_id = ?", accountID).Count(&count).Error
	return count, err
}
