package transfer

import (
	"context"
	"time"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/money"
	"fxwallet/internal/providers"
	"fxwallet/internal/repositories"
	"fxwallet/internal/services/wallet"

	"go.uber.org/zap"
)

// Metadata keys written on payout transactions.
const (
	MetaBankCode      = "bank_code"
	MetaAccountNumber = "account_number"
	MetaAccountName   = "account_name"
	MetaReason        = "reason"
)

type ExternalRequest struct {
	UserID         uint
	Provider       string
	BankCode       string
	AccountNumber  string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Reason         string
}

// ExternalResult is a payout and whether the rail has accepted it yet.
// A result with Accepted false is still reserved and waits on the rail.
type ExternalResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Accepted    bool                `json:"accepted"`
	Replayed    bool                `json:"replayed"`
}

// Withdraw sends money to a bank account in two phases. The amount is
// debited with a Pending payout in one local unit of work, then the rail is
// asked to pay it with no lock held. A rail that declines the payout gets
// the reservation refunded at once. A rail that does not answer in time
// leaves the payout Pending for a webhook or an operator to settle, and
// ErrProviderUnavailable is returned with the reservation in place.
func (s *Service) Withdraw(ctx context.Context, req ExternalRequest) (*ExternalResult, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration(operationPayout, time.Since(start)) }()

	if req.Provider == "" {
		req.Provider = models.ProviderPaystack
	}
	currency, err := validateExternal(req)
	if err != nil {
		return nil, err
	}
	gateway, ok := s.payouts[req.Provider]
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrUnknownProvider, "no payout rail %q", req.Provider)
	}
	log := s.logger.With(
		zap.String("operation", operationPayout),
		zap.Uint("user_id", req.UserID),
		zap.String("provider", req.Provider),
	)

	if existing, err := s.store.Transactions.GetByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey); err == nil {
		return s.replayPayout(ctx, gateway, existing, log)
	} else if !apperrors.Is(err, apperrors.ErrTransactionNotFound) {
		return nil, err
	}

	account, err := s.resolve(ctx, gateway, req.BankCode, req.AccountNumber)
	if err != nil {
		s.metrics.RecordError(operationPayout, apperrors.Code(err))
		log.Warn("account resolution failed", zap.String("bank_code", req.BankCode), zap.Error(err))
		return nil, err
	}

	var (
		txn     *models.Transaction
		created bool
	)
	err = s.store.ExecuteInTransaction(ctx, func(tx *repositories.Store) error {
		w, err := tx.Wallets.GetOrCreate(ctx, req.UserID, currency)
		if err != nil {
			return err
		}
		provider := req.Provider
		pending := &models.Transaction{
			UserID:         req.UserID,
			Intent:         models.IntentPayout,
			Amount:         -req.Amount,
			Currency:       currency,
			State:          models.StatePending,
			Provider:       &provider,
			IdempotencyKey: req.IdempotencyKey,
			Reference:      models.NewReference(),
			Description:    req.Reason,
			Metadata: models.JSON{
				MetaBankCode:      account.BankCode,
				MetaAccountNumber: account.AccountNumber,
				MetaAccountName:   account.AccountName,
				MetaReason:        req.Reason,
			},
		}
		txn, created, err = tx.Transactions.CreateOrFetch(ctx, pending)
		if err != nil || !created {
			return err
		}
		return s.wallets.Post(ctx, tx, txn, wallet.Posting{WalletID: w.ID, Amount: -req.Amount})
	})
	if err != nil {
		s.metrics.RecordError(operationPayout, apperrors.Code(err))
		s.metrics.RecordOperationResult(operationPayout, "rejected")
		log.Info("payout rejected", zap.Int64("amount", req.Amount), zap.Error(err))
		return nil, err
	}
	if !created {
		return s.replayPayout(ctx, gateway, txn, log)
	}

	log.Info("payout reserved",
		zap.String("reference", txn.Reference),
		zap.String("currency", currency),
		zap.Int64("amount", req.Amount),
	)
	return s.dispatch(ctx, gateway, txn, false, log)
}

// dispatch runs the rail call for a reserved payout. On a retry an earlier
// attempt may already be paying out, so a rejection says nothing about the
// money and the payout stays Pending.
func (s *Service) dispatch(ctx context.Context, gateway providers.PayoutGateway, txn *models.Transaction, retry bool, log *zap.Logger) (*ExternalResult, error) {
	account := providers.Account{
		BankCode:      txn.Metadata.String(MetaBankCode),
		AccountNumber: txn.Metadata.String(MetaAccountNumber),
		AccountName:   txn.Metadata.String(MetaAccountName),
	}
	log = log.With(zap.String("reference", txn.Reference))
	// Bookkeeping after the rail answered must not be lost to the caller going away.
	after := context.WithoutCancel(ctx)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	payout, err := gateway.InitiatePayout(callCtx, providers.PayoutRequest{
		Reference: txn.Reference,
		Amount:    txn.Magnitude(),
		Currency:  txn.Currency,
		Account:   account,
		Reason:    txn.Metadata.String(MetaReason),
	})

	switch {
	case err == nil:
		stored, err := s.attach(after, txn.ID, payout.ProviderReference)
		if err != nil {
			return nil, err
		}
		s.metrics.RecordOperationResult(operationPayout, "accepted")
		log.Info("payout accepted", zap.String("provider_reference", payout.ProviderReference), zap.String("status", payout.Status))
		return &ExternalResult{Transaction: stored, Accepted: true}, nil

	case apperrors.Is(err, apperrors.ErrProviderRejected) && !retry:
		log.Warn("payout declined by rail", zap.Error(err))
		if s.accounts != nil {
			if cerr := s.accounts.Invalidate(after, account.BankCode, account.AccountNumber); cerr != nil {
				log.Warn("account cache invalidation failed", zap.Error(cerr))
			}
		}
		if s.reconciler != nil {
			userID := txn.UserID
			_, rerr := s.reconciler.Apply(after, &providers.Event{
				ID:        "payout-declined:" + txn.Reference,
				Provider:  gateway.Provider(),
				Type:      "payout.declined",
				Reference: txn.Reference,
				UserID:    &userID,
				Reason:    err.Error(),
			}, providers.OutcomeFailed)
			if rerr != nil {
				log.Error("refund of declined payout failed", zap.Error(rerr))
			}
		}
		s.metrics.RecordOperationResult(operationPayout, "declined")
		s.metrics.RecordError(operationPayout, apperrors.Code(err))
		return nil, err

	default:
		// The rail may have queued the payout; only a webhook can say.
		s.metrics.RecordOperationResult(operationPayout, "pending")
		s.metrics.RecordError(operationPayout, apperrors.ErrProviderUnavailable.Code)
		log.Warn("payout outcome unknown, left pending", zap.Error(err))
		if !apperrors.Is(err, apperrors.ErrProviderUnavailable) {
			err = apperrors.Wrap(apperrors.ErrProviderUnavailable, "%v", err)
		}
		return nil, err
	}
}

// attach records the rail's reference unless a webhook already settled the
// payout or set one.
func (s *Service) attach(ctx context.Context, id uint, providerRef string) (*models.Transaction, error) {
	var stored *models.Transaction
	err := s.store.ExecuteInTransaction(ctx, func(tx *repositories.Store) error {
		locked, err := tx.Transactions.LockByID(ctx, id)
		if err != nil {
			return err
		}
		stored = locked
		if locked.ProviderReference != nil || providerRef == "" {
			return nil
		}
		locked.ProviderReference = &providerRef
		return tx.Transactions.Save(ctx, locked)
	})
	return stored, err
}

func (s *Service) replayPayout(ctx context.Context, gateway providers.PayoutGateway, txn *models.Transaction, log *zap.Logger) (*ExternalResult, error) {
	if txn.Intent != models.IntentPayout {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "idempotency key already used for a %s", txn.Intent)
	}
	s.metrics.RecordReplay(operationPayout)
	log.Info("payout replayed", zap.String("reference", txn.Reference), zap.String("state", txn.State))

	if txn.State == models.StatePending && txn.ProviderReference == nil && txn.ProviderName() == gateway.Provider() {
		res, err := s.redispatch(ctx, gateway, txn, log)
		if err != nil {
			return nil, err
		}
		res.Replayed = true
		return res, nil
	}
	return &ExternalResult{Transaction: txn, Accepted: txn.ProviderReference != nil, Replayed: true}, nil
}

// redispatch asks the rail whether an earlier attempt reached it before
// sending the payout again.
func (s *Service) redispatch(ctx context.Context, gateway providers.PayoutGateway, txn *models.Transaction, log *zap.Logger) (*ExternalResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	found, err := gateway.LookupPayout(callCtx, txn.Reference)
	cancel()
	if err != nil {
		s.metrics.RecordError(operationPayout, apperrors.ErrProviderUnavailable.Code)
		log.Warn("payout lookup failed, left pending", zap.String("reference", txn.Reference), zap.Error(err))
		if !apperrors.Is(err, apperrors.ErrProviderUnavailable) {
			err = apperrors.Wrap(apperrors.ErrProviderUnavailable, "%v", err)
		}
		return nil, err
	}
	if found == nil {
		return s.dispatch(ctx, gateway, txn, true, log)
	}

	stored, err := s.attach(context.WithoutCancel(ctx), txn.ID, found.ProviderReference)
	if err != nil {
		return nil, err
	}
	log.Info("payout found on rail",
		zap.String("reference", txn.Reference),
		zap.String("provider_reference", found.ProviderReference),
		zap.String("status", found.Status),
	)
	return &ExternalResult{Transaction: stored, Accepted: true}, nil
}

// resolve looks the account up through the cache. A rail that does not know
// the account turns into a validation error the caller can fix.
func (s *Service) resolve(ctx context.Context, gateway providers.PayoutGateway, bankCode, accountNumber string) (*providers.Account, error) {
	if s.accounts != nil {
		if account, ok, err := s.accounts.Get(ctx, bankCode, accountNumber); err == nil && ok {
			return account, nil
		} else if err != nil {
			s.logger.Warn("account cache read failed", zap.Error(err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	account, err := gateway.ResolveAccount(callCtx, bankCode, accountNumber)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrProviderRejected) {
			return nil, apperrors.Wrap(apperrors.ErrValidation, "account %s at bank %s could not be resolved", accountNumber, bankCode)
		}
		return nil, err
	}
	if s.accounts != nil {
		if err := s.accounts.Set(ctx, account); err != nil {
			s.logger.Warn("account cache write failed", zap.Error(err))
		}
	}
	return account, nil
}

func validateExternal(req ExternalRequest) (string, error) {
	if req.IdempotencyKey == "" {
		return "", apperrors.Wrap(apperrors.ErrValidation, "idempotency key is required")
	}
	if req.Amount <= 0 {
		return "", apperrors.Wrap(apperrors.ErrValidation, "amount must be positive")
	}
	if req.BankCode == "" || req.AccountNumber == "" {
		return "", apperrors.Wrap(apperrors.ErrValidation, "bank code and account number are required")
	}
	return money.Currency(req.Currency)
}
