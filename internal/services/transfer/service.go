// Package transfer moves money between users and out to bank accounts.
package transfer

import (
	"context"
	"strings"
	"time"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/money"
	"fxwallet/internal/providers"
	"fxwallet/internal/repositories"
	"fxwallet/internal/services/notification"
	"fxwallet/internal/services/wallet"

	"go.uber.org/zap"
)

const (
	operationInternal = "transfer"
	operationPayout   = "payout"
)

// Credit legs are keyed off the shared reference so the recipient's own
// idempotency keys never collide with them.
const creditKeyPrefix = "transfer-in:"

type InternalRequest struct {
	SenderID       uint
	RecipientID    uint
	Amount         int64
	Currency       string
	IdempotencyKey string
	Description    string
}

// InternalResult holds both legs of a transfer. Credit is nil on a replay
// served to the sender.
type InternalResult struct {
	Debit    *models.Transaction `json:"debit"`
	Credit   *models.Transaction `json:"credit,omitempty"`
	Replayed bool                `json:"replayed"`
}

type Service struct {
	store      *repositories.Store
	wallets    *wallet.Service
	payouts    map[string]providers.PayoutGateway
	accounts   providers.AccountCache
	reconciler Reconciler
	timeout    time.Duration
	notifier   *notification.Service
	metrics    wallet.MetricsCollector
	logger     *zap.Logger
}

type Options struct {
	Payouts         []providers.PayoutGateway
	Accounts        providers.AccountCache
	Reconciler      Reconciler
	ProviderTimeout time.Duration
	Notifier        *notification.Service
	Metrics         wallet.MetricsCollector
	Logger          *zap.Logger
}

func NewService(wallets *wallet.Service, opts Options) *Service {
	if wallets == nil {
		panic("wallets is required")
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = 5 * time.Second
	}
	if opts.Metrics == nil {
		opts.Metrics = &wallet.NoopMetricsCollector{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	payouts := make(map[string]providers.PayoutGateway, len(opts.Payouts))
	for _, p := range opts.Payouts {
		payouts[p.Provider()] = p
	}
	return &Service{
		store:      wallets.Store(),
		wallets:    wallets,
		payouts:    payouts,
		accounts:   opts.Accounts,
		reconciler: opts.Reconciler,
		timeout:    opts.ProviderTimeout,
		notifier:   opts.Notifier,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
	}
}

// Transfer moves req.Amount from the sender's wallet to the recipient's in
// one unit of work. Both wallets are locked before either balance is read.
// A repeated idempotency key returns the first transfer.
func (s *Service) Transfer(ctx context.Context, req InternalRequest) (*InternalResult, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration(operationInternal, time.Since(start)) }()

	currency, err := validateInternal(req)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.Transactions.GetByIdempotencyKey(ctx, req.SenderID, req.IdempotencyKey); err == nil {
		return s.replayInternal(existing)
	} else if !apperrors.Is(err, apperrors.ErrTransactionNotFound) {
		return nil, err
	}

	result := &InternalResult{}
	err = s.store.ExecuteInTransaction(ctx, func(tx *repositories.Store) error {
		source, err := tx.Wallets.GetOrCreate(ctx, req.SenderID, currency)
		if err != nil {
			return err
		}
		dest, err := tx.Wallets.GetOrCreate(ctx, req.RecipientID, currency)
		if err != nil {
			return err
		}
		if _, err := tx.Wallets.LockByIDs(ctx, source.ID, dest.ID); err != nil {
			return err
		}

		reference := models.NewReference()
		recipient, sender := req.RecipientID, req.SenderID
		debit := &models.Transaction{
			UserID:         req.SenderID,
			CounterpartyID: &recipient,
			Intent:         models.IntentTransfer,
			Amount:         -req.Amount,
			Currency:       currency,
			State:          models.StateCompleted,
			IdempotencyKey: req.IdempotencyKey,
			Reference:      reference,
			Description:    req.Description,
		}
		stored, created, err := tx.Transactions.CreateOrFetch(ctx, debit)
		if err != nil {
			return err
		}
		if !created {
			result.Debit, result.Replayed = stored, true
			return nil
		}
		credit := &models.Transaction{
			UserID:         req.RecipientID,
			CounterpartyID: &sender,
			Intent:         models.IntentTransfer,
			Amount:         req.Amount,
			Currency:       currency,
			State:          models.StateCompleted,
			IdempotencyKey: creditKeyPrefix + reference,
			Reference:      reference,
			Description:    req.Description,
		}
		if _, _, err := tx.Transactions.CreateOrFetch(ctx, credit); err != nil {
			return err
		}

		if err := s.wallets.Post(ctx, tx, stored, wallet.Posting{WalletID: source.ID, Amount: -req.Amount}); err != nil {
			return err
		}
		if err := s.wallets.Post(ctx, tx, credit, wallet.Posting{WalletID: dest.ID, Amount: req.Amount}); err != nil {
			return err
		}
		result.Debit, result.Credit = stored, credit
		return nil
	})
	if err != nil {
		s.metrics.RecordError(operationInternal, apperrors.Code(err))
		s.metrics.RecordOperationResult(operationInternal, "rejected")
		s.logger.Info("transfer rejected",
			zap.Uint("user_id", req.SenderID),
			zap.Uint("recipient_id", req.RecipientID),
			zap.Int64("amount", req.Amount),
			zap.Error(err),
		)
		return nil, err
	}
	if result.Replayed {
		return s.replayInternal(result.Debit)
	}

	s.metrics.RecordOperationResult(operationInternal, "completed")
	s.logger.Info("transfer completed",
		zap.Uint("user_id", req.SenderID),
		zap.Uint("recipient_id", req.RecipientID),
		zap.String("reference", result.Debit.Reference),
		zap.String("currency", currency),
		zap.Int64("amount", req.Amount),
	)
	s.notifier.TransactionChanged(ctx, result.Debit)
	s.notifier.TransactionChanged(ctx, result.Credit)
	return result, nil
}

func (s *Service) replayInternal(txn *models.Transaction) (*InternalResult, error) {
	if txn.Intent != models.IntentTransfer {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "idempotency key already used for a %s", txn.Intent)
	}
	s.metrics.RecordReplay(operationInternal)
	s.logger.Info("transfer replayed", zap.Uint("user_id", txn.UserID), zap.String("reference", txn.Reference))
	return &InternalResult{Debit: txn, Replayed: true}, nil
}

func validateInternal(req InternalRequest) (string, error) {
	if req.IdempotencyKey == "" {
		return "", apperrors.Wrap(apperrors.ErrValidation, "idempotency key is required")
	}
	if strings.HasPrefix(req.IdempotencyKey, creditKeyPrefix) {
		return "", apperrors.Wrap(apperrors.ErrValidation, "idempotency key prefix %q is reserved", creditKeyPrefix)
	}
	if req.Amount <= 0 {
		return "", apperrors.Wrap(apperrors.ErrValidation, "amount must be positive")
	}
	if req.SenderID == 0 || req.RecipientID == 0 {
		return "", apperrors.Wrap(apperrors.ErrValidation, "sender and recipient are required")
	}
	if req.SenderID == req.RecipientID {
		return "", apperrors.Wrap(apperrors.ErrValidation, "cannot transfer to self")
	}
	return money.Currency(req.Currency)
}
