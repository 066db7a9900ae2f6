package wallet

import (
	"context"
	"fmt"
	"sort"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/money"
	"fxwallet/internal/repositories"

	"go.uber.org/zap"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Posting is one signed amount moved on one wallet.
type Posting struct {
	WalletID uint
	Amount   int64
}

type Service struct {
	store   *repositories.Store
	metrics MetricsCollector
	logger  *zap.Logger
}

// NewService creates a new wallet service
func NewService(store *repositories.Store, metrics MetricsCollector, logger *zap.Logger) *Service {
	if store == nil {
		panic("store is required")
	}
	// Metrics is optional, create no-op collector if nil
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, metrics: metrics, logger: logger}
}

// Store returns the store the service reads from.
func (s *Service) Store() *repositories.Store {
	return s.store
}

// Post applies the postings of txn on tx, which must be a store bound to an
// open unit of work. The wallets are locked in id order and held until that
// unit ends. Nothing is written if any debit exceeds its locked balance.
func (s *Service) Post(ctx context.Context, tx *repositories.Store, txn *models.Transaction, postings ...Posting) error {
	if txn == nil || txn.ID == 0 {
		return fmt.Errorf("post: transaction must be persisted first")
	}
	if len(postings) == 0 {
		return nil
	}

	ids := make([]uint, 0, len(postings))
	net := make(map[uint]int64, len(postings))
	for _, p := range postings {
		if p.Amount == 0 {
			return apperrors.Wrap(apperrors.ErrValidation, "zero posting on wallet %d", p.WalletID)
		}
		ids = append(ids, p.WalletID)
		net[p.WalletID] += p.Amount
	}

	locked, err := tx.Wallets.LockByIDs(ctx, ids...)
	if err != nil {
		return err
	}
	for id, delta := range net {
		w := locked[id]
		if delta < 0 && w.Balance+delta < 0 {
			return apperrors.Wrap(apperrors.ErrInsufficientFunds,
				"wallet %d holds %s %s, needs %s",
				id, money.FromMinor(w.Balance, w.Currency), w.Currency, money.FromMinor(-delta, w.Currency))
		}
	}

	entries := make([]*models.LedgerEntry, 0, len(postings))
	for _, p := range postings {
		entries = append(entries, &models.LedgerEntry{
			WalletID:      p.WalletID,
			TransactionID: txn.ID,
			Amount:        p.Amount,
		})
	}
	if err := tx.Ledger.Append(ctx, entries...); err != nil {
		return err
	}

	for _, id := range sortedKeys(net) {
		if err := tx.Wallets.AddBalance(ctx, id, net[id]); err != nil {
			return err
		}
		s.metrics.RecordBalanceChange(locked[id].Currency, net[id])
		s.logger.Debug("balance posted",
			zap.Uint("wallet_id", id),
			zap.Uint("transaction_id", txn.ID),
			zap.String("reference", txn.Reference),
			zap.Int64("delta", net[id]),
			zap.Int64("balance", locked[id].Balance+net[id]),
		)
	}
	return nil
}

// GetBalance returns the user's wallet in currency. A currency the user has
// never held reads as a zero balance without creating a row.
func (s *Service) GetBalance(ctx context.Context, userID uint, currency string) (*models.Wallet, error) {
	code, err := money.Currency(currency)
	if err != nil {
		return nil, err
	}
	w, err := s.store.Wallets.Get(ctx, userID, code)
	if apperrors.Is(err, apperrors.ErrWalletNotFound) {
		return &models.Wallet{UserID: userID, Currency: code}, nil
	}
	return w, err
}

func (s *Service) ListWallets(ctx context.Context, userID uint) ([]models.Wallet, error) {
	return s.store.Wallets.ListByUser(ctx, userID)
}

// ListTransactions pages through the user's transactions, newest first.
func (s *Service) ListTransactions(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, int64, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.Transactions.ListByUser(ctx, userID, limit, offset)
}

// GetTransaction returns the user's transaction with reference together with
// its ledger entries.
func (s *Service) GetTransaction(ctx context.Context, userID uint, reference string) (*models.Transaction, []models.LedgerEntry, error) {
	txn, err := s.store.Transactions.GetForUser(ctx, userID, reference)
	if err != nil {
		return nil, nil, err
	}
	entries, err := s.store.Ledger.ListByTransaction(ctx, txn.ID)
	if err != nil {
		return nil, nil, err
	}
	return txn, entries, nil
}

// Reconciliation compares a wallet's stored balance with its ledger.
type Reconciliation struct {
	WalletID      uint   `json:"wallet_id"`
	Currency      string `json:"currency"`
	StoredBalance int64  `json:"stored_balance"`
	LedgerBalance int64  `json:"ledger_balance"`
	Balanced      bool   `json:"balanced"`
}

// ReconcileWallet reads the wallet and its ledger sum under the wallet lock
// so no posting can land between the two reads.
func (s *Service) ReconcileWallet(ctx context.Context, walletID uint) (*Reconciliation, error) {
	var out *Reconciliation
	err := s.store.ExecuteInTransaction(ctx, func(tx *repositories.Store) error {
		locked, err := tx.Wallets.LockByIDs(ctx, walletID)
		if err != nil {
			return err
		}
		sum, err := tx.Ledger.SumByWallet(ctx, walletID)
		if err != nil {
			return err
		}
		w := locked[walletID]
		out = &Reconciliation{
			WalletID:      w.ID,
			Currency:      w.Currency,
			StoredBalance: w.Balance,
			LedgerBalance: sum,
			Balanced:      sum == w.Balance,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !out.Balanced {
		s.logger.Error("wallet out of balance with ledger",
			zap.Uint("wallet_id", walletID),
			zap.Int64("stored", out.StoredBalance),
			zap.Int64("ledger", out.LedgerBalance),
		)
	}
	return out, nil
}

func sortedKeys(m map[uint]int64) []uint {
	keys := make([]uint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
