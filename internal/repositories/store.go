package repositories

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store groups the repositories that share one database handle. A Store
// obtained inside ExecuteInTransaction is bound to that transaction.
type Store struct {
	db *gorm.DB

	Wallets      WalletRepository
	Ledger       LedgerRepository
	Transactions TransactionRepository
}

// NewStore creates a Store over db.
func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:           db,
		Wallets:      &walletRepository{db: db},
		Ledger:       &ledgerRepository{db: db},
		Transactions: &transactionRepository{db: db},
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ExecuteInTransaction runs fn as one all-or-nothing unit. Any error returned
// by fn rolls back every write fn made, and row locks taken inside fn are held
// until the unit ends.
func (s *Store) ExecuteInTransaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewStore(tx))
	})
}

var forUpdate = clause.Locking{Strength: "UPDATE"}
