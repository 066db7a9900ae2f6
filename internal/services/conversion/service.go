// Package conversion moves value between two of a user's wallets in
// different currencies at a live rate, net of a basis-point fee.
package conversion

import (
	"context"
	"time"

	"fxwallet/internal/config"
	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/money"
	"fxwallet/internal/repositories"
	"fxwallet/internal/services/notification"
	"fxwallet/internal/services/wallet"

	"go.uber.org/zap"
)

// Accepted rate band, in fixed point: 0.0001 to 10,000.
const (
	MinScaledRate int64 = 100
	MaxScaledRate int64 = 10_000 * money.RateScale
)

const operation = "conversion"

// Metadata keys written on conversion transactions.
const (
	MetaFrom       = "from_currency"
	MetaTo         = "to_currency"
	MetaRate       = "rate"
	MetaFeeBps     = "fee_bps"
	MetaGross      = "gross_amount"
	MetaFee        = "fee"
	MetaConverted  = "converted_amount"
	MetaDestWallet = "destination_wallet_id"
)

type Request struct {
	UserID         uint
	From           string
	To             string
	Amount         int64
	IdempotencyKey string
}

// Result describes a conversion. Converted is what the destination wallet
// received; Gross is the pre-fee amount and Fee the difference.
type Result struct {
	Transaction *models.Transaction `json:"transaction"`
	From        string              `json:"from_currency"`
	To          string              `json:"to_currency"`
	Amount      int64               `json:"amount"`
	Rate        string              `json:"rate"`
	FeeBps      int64               `json:"fee_bps"`
	Gross       int64               `json:"gross_amount"`
	Fee         int64               `json:"fee"`
	Converted   int64               `json:"converted_amount"`
	Replayed    bool                `json:"replayed"`
}

type Service struct {
	store      *repositories.Store
	wallets    *wallet.Service
	rates      RateSource
	defaultBps int64
	schedule   *config.FeeSchedule
	notifier   *notification.Service
	metrics    wallet.MetricsCollector
	logger     *zap.Logger
}

func NewService(
	wallets *wallet.Service,
	rates RateSource,
	cfg config.ConversionConfig,
	notifier *notification.Service,
	metrics wallet.MetricsCollector,
	logger *zap.Logger,
) *Service {
	if wallets == nil || rates == nil {
		panic("wallets and rates are required")
	}
	if metrics == nil {
		metrics = &wallet.NoopMetricsCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      wallets.Store(),
		wallets:    wallets,
		rates:      rates,
		defaultBps: cfg.FeeBps,
		schedule:   cfg.FeeSchedule,
		notifier:   notifier,
		metrics:    metrics,
		logger:     logger.With(zap.String("operation", operation)),
	}
}

// Convert debits req.Amount from the From wallet and credits the converted
// amount net of fee to the To wallet in one unit of work. A repeated
// idempotency key returns the first conversion unchanged, rebuilt from its
// stored metadata without fetching a rate.
func (s *Service) Convert(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration(operation, time.Since(start)) }()

	from, to, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.Transactions.GetByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey); err == nil {
		return s.replay(existing)
	} else if !apperrors.Is(err, apperrors.ErrTransactionNotFound) {
		return nil, err
	}

	scaledRate, err := s.quote(ctx, from, to)
	if err != nil {
		s.metrics.RecordError(operation, apperrors.Code(err))
		return nil, err
	}
	fromScale, _ := money.Scale(from)
	toScale, _ := money.Scale(to)
	gross, err := money.Convert(req.Amount, scaledRate, fromScale, toScale)
	if err != nil {
		return nil, err
	}
	bps := s.schedule.Bps(from, to, s.defaultBps)
	fee := money.BasisPoints(gross, bps)
	converted := gross - fee
	if converted <= 0 {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "%d %s converts to nothing after fees", req.Amount, from)
	}

	var (
		stored   *models.Transaction
		replayed bool
	)
	err = s.store.ExecuteInTransaction(ctx, func(tx *repositories.Store) error {
		source, err := tx.Wallets.GetOrCreate(ctx, req.UserID, from)
		if err != nil {
			return err
		}
		dest, err := tx.Wallets.GetOrCreate(ctx, req.UserID, to)
		if err != nil {
			return err
		}

		txn := &models.Transaction{
			UserID:         req.UserID,
			Intent:         models.IntentConversion,
			Amount:         -req.Amount,
			Currency:       from,
			State:          models.StateCompleted,
			IdempotencyKey: req.IdempotencyKey,
			Reference:      models.NewReference(),
			Description:    from + " to " + to,
			Metadata: models.JSON{
				MetaFrom:       from,
				MetaTo:         to,
				MetaRate:       money.FormatRate(scaledRate),
				MetaFeeBps:     bps,
				MetaGross:      gross,
				MetaFee:        fee,
				MetaConverted:  converted,
				MetaDestWallet: dest.ID,
			},
		}
		var created bool
		stored, created, err = tx.Transactions.CreateOrFetch(ctx, txn)
		if err != nil {
			return err
		}
		if !created {
			replayed = true
			return nil
		}
		return s.wallets.Post(ctx, tx, stored,
			wallet.Posting{WalletID: source.ID, Amount: -req.Amount},
			wallet.Posting{WalletID: dest.ID, Amount: converted},
		)
	})
	if err != nil {
		s.metrics.RecordError(operation, apperrors.Code(err))
		s.metrics.RecordOperationResult(operation, "rejected")
		return nil, err
	}
	if replayed {
		return s.replay(stored)
	}

	s.metrics.RecordOperationResult(operation, "completed")
	s.logger.Info("conversion completed",
		zap.Uint("user_id", req.UserID),
		zap.String("reference", stored.Reference),
		zap.String("from", from),
		zap.String("to", to),
		zap.Int64("amount", req.Amount),
		zap.Int64("converted", converted),
		zap.Int64("fee", fee),
		zap.String("rate", money.FormatRate(scaledRate)),
	)
	s.notifier.TransactionChanged(ctx, stored)

	return &Result{
		Transaction: stored,
		From:        from,
		To:          to,
		Amount:      req.Amount,
		Rate:        money.FormatRate(scaledRate),
		FeeBps:      bps,
		Gross:       gross,
		Fee:         fee,
		Converted:   converted,
	}, nil
}

func (s *Service) validate(req Request) (from, to string, err error) {
	if req.IdempotencyKey == "" {
		return "", "", apperrors.Wrap(apperrors.ErrValidation, "idempotency key is required")
	}
	if req.Amount <= 0 {
		return "", "", apperrors.Wrap(apperrors.ErrValidation, "amount must be positive")
	}
	if from, err = money.Currency(req.From); err != nil {
		return "", "", err
	}
	if to, err = money.Currency(req.To); err != nil {
		return "", "", err
	}
	if from == to {
		return "", "", apperrors.Wrap(apperrors.ErrValidation, "cannot convert %s to itself", from)
	}
	return from, to, nil
}

// quote fetches the live rate and rejects anything outside the accepted band.
func (s *Service) quote(ctx context.Context, from, to string) (int64, error) {
	rates, err := s.rates.Rates(ctx, from)
	if err != nil {
		return 0, err
	}
	raw, ok := rates[to]
	if !ok {
		return 0, apperrors.Wrap(apperrors.ErrConversionUnavailable, "no %s/%s rate", from, to)
	}
	scaled, err := money.ScaleRate(raw)
	if err != nil {
		return 0, err
	}
	if scaled < MinScaledRate || scaled > MaxScaledRate {
		s.logger.Warn("rate outside accepted band",
			zap.String("from", from),
			zap.String("to", to),
			zap.Float64("rate", raw),
		)
		return 0, apperrors.Wrap(apperrors.ErrRateOutOfBand, "%s/%s rate %v", from, to, raw)
	}
	return scaled, nil
}

func (s *Service) replay(txn *models.Transaction) (*Result, error) {
	if txn.Intent != models.IntentConversion {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "idempotency key already used for a %s", txn.Intent)
	}
	s.metrics.RecordReplay(operation)
	s.logger.Info("conversion replayed", zap.Uint("user_id", txn.UserID), zap.String("reference", txn.Reference))

	meta := txn.Metadata
	bps, _ := meta.Int64(MetaFeeBps)
	gross, _ := meta.Int64(MetaGross)
	fee, _ := meta.Int64(MetaFee)
	converted, ok := meta.Int64(MetaConverted)
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrInternalInconsistency, "conversion %s has no stored result", txn.Reference)
	}
	return &Result{
		Transaction: txn,
		From:        meta.String(MetaFrom),
		To:          meta.String(MetaTo),
		Amount:      txn.Magnitude(),
		Rate:        meta.String(MetaRate),
		FeeBps:      bps,
		Gross:       gross,
		Fee:         fee,
		Converted:   converted,
		Replayed:    true,
	}, nil
}
