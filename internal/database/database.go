package database

import (
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/ledger"
	"github.com/edkim/ai-agent-prop-firm-sub005/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase opens the sqlite ledger store and migrates the schema. The
// engine resumes from whatever accounts, positions and pending orders the
// file already holds.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&ledger.Account{},
		&ledger.Position{},
		&ledger.Trade{},
		&types.Order{},
	)
	if err != nil {
		return nil, err
	}

	return db, nil
}
