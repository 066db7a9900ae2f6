// Package repotest opens throwaway stores for package tests.
package repotest

import (
	"context"
	"fmt"
	"testing"

	"fxwallet/internal/models"
	"fxwallet/internal/repositories"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewStore returns a migrated store over a private in-memory SQLite
// database. The pool is pinned to one connection so concurrent units of work
// serialize the way row locks serialize them on postgres.
func NewStore(t *testing.T) *repositories.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, repositories.Migrate(db))
	return repositories.NewStore(db)
}

// Fund credits amount to the user's wallet through a completed top-up so the
// ledger and the stored balance agree.
func Fund(t *testing.T, store *repositories.Store, userID uint, currency string, amount int64) *models.Wallet {
	t.Helper()
	ctx := context.Background()

	var wallet *models.Wallet
	err := store.ExecuteInTransaction(ctx, func(tx *repositories.Store) error {
		w, err := tx.Wallets.GetOrCreate(ctx, userID, currency)
		if err != nil {
			return err
		}
		seq := fmt.Sprintf("seed-%d-%s-%d", userID, currency, w.Balance)
		txn := &models.Transaction{
			UserID:         userID,
			Intent:         models.IntentTopUp,
			Amount:         amount,
			Currency:       currency,
			State:          models.StateCompleted,
			IdempotencyKey: seq,
			Reference:      seq,
		}
		if _, _, err := tx.Transactions.CreateOrFetch(ctx, txn); err != nil {
			return err
		}
		entry := &models.LedgerEntry{WalletID: w.ID, TransactionID: txn.ID, Amount: amount}
		if err := tx.Ledger.Append(ctx, entry); err != nil {
			return err
		}
		if err := tx.Wallets.AddBalance(ctx, w.ID, amount); err != nil {
			return err
		}
		wallet, err = tx.Wallets.GetByID(ctx, w.ID)
		return err
	})
	require.NoError(t, err)
	return wallet
}
