// Package topup starts top-ups on the card and wallet rails. No money moves
// here: the wallet is credited only once reconciliation confirms payment.
package topup

import (
	"context"
	"sort"
	"time"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/money"
	"fxwallet/internal/providers"
	"fxwallet/internal/repositories"
	"fxwallet/internal/services/wallet"

	"go.uber.org/zap"
)

const operation = "topup"

const MetaRedirectURL = "redirect_url"

type Request struct {
	UserID         uint
	Provider       string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Email          string
	Description    string
}

// Result tells the client where to pay. RedirectURL is empty for rails
// that return only an order id to approve and capture.
type Result struct {
	Transaction       *models.Transaction `json:"transaction"`
	ProviderReference string              `json:"provider_reference,omitempty"`
	RedirectURL       string              `json:"redirect_url,omitempty"`
	Replayed          bool                `json:"replayed"`
}

// Reconciler fails a top-up the rail refused to start.
type Reconciler interface {
	Apply(ctx context.Context, ev *providers.Event, outcome providers.Outcome) (*models.Transaction, error)
}

type Service struct {
	store      *repositories.Store
	gateways   map[string]providers.CheckoutGateway
	reconciler Reconciler
	timeout    time.Duration
	metrics    wallet.MetricsCollector
	logger     *zap.Logger
}

func NewService(
	store *repositories.Store,
	gateways []providers.CheckoutGateway,
	reconciler Reconciler,
	providerTimeout time.Duration,
	metrics wallet.MetricsCollector,
	logger *zap.Logger,
) *Service {
	if store == nil {
		panic("store is required")
	}
	if providerTimeout <= 0 {
		providerTimeout = 5 * time.Second
	}
	if metrics == nil {
		metrics = &wallet.NoopMetricsCollector{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]providers.CheckoutGateway, len(gateways))
	for _, g := range gateways {
		byName[g.Provider()] = g
	}
	return &Service{
		store:      store,
		gateways:   byName,
		reconciler: reconciler,
		timeout:    providerTimeout,
		metrics:    metrics,
		logger:     logger.With(zap.String("operation", operation)),
	}
}

// Providers lists the rails a top-up can start on.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.gateways))
	for name := range s.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitiateTopUp records a Pending top-up and asks the rail for a checkout.
// A repeated idempotency key returns the recorded checkout, asking the rail
// again only if the first attempt never got an answer.
func (s *Service) InitiateTopUp(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() { s.metrics.RecordOperationDuration(operation, time.Since(start)) }()

	currency, err := validate(req)
	if err != nil {
		return nil, err
	}
	gateway, ok := s.gateways[req.Provider]
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrUnknownProvider, "no checkout rail %q", req.Provider)
	}

	provider := req.Provider
	pending := &models.Transaction{
		UserID:         req.UserID,
		Intent:         models.IntentTopUp,
		Amount:         req.Amount,
		Currency:       currency,
		State:          models.StatePending,
		Provider:       &provider,
		IdempotencyKey: req.IdempotencyKey,
		Reference:      models.NewReference(),
		Description:    req.Description,
	}
	txn, created, err := s.store.Transactions.CreateOrFetch(ctx, pending)
	if err != nil {
		s.metrics.RecordError(operation, apperrors.Code(err))
		return nil, err
	}
	if !created {
		return s.replay(ctx, gateway, txn, req.Email)
	}

	s.logger.Info("top-up recorded",
		zap.Uint("user_id", req.UserID),
		zap.String("provider", req.Provider),
		zap.String("reference", txn.Reference),
		zap.Int64("amount", req.Amount),
		zap.String("currency", currency),
	)
	return s.checkout(ctx, gateway, txn, req.Email)
}

func (s *Service) checkout(ctx context.Context, gateway providers.CheckoutGateway, txn *models.Transaction, email string) (*Result, error) {
	log := s.logger.With(
		zap.Uint("user_id", txn.UserID),
		zap.String("provider", gateway.Provider()),
		zap.String("reference", txn.Reference),
	)
	after := context.WithoutCancel(ctx)

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	session, err := gateway.CreateCheckout(callCtx, providers.CheckoutRequest{
		Reference:   txn.Reference,
		UserID:      txn.UserID,
		Email:       email,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		Description: txn.Description,
	})
	if err != nil {
		s.metrics.RecordError(operation, apperrors.Code(err))
		if apperrors.Is(err, apperrors.ErrProviderRejected) && s.reconciler != nil {
			userID := txn.UserID
			if _, rerr := s.reconciler.Apply(after, &providers.Event{
				ID:        "checkout-declined:" + txn.Reference,
				Provider:  gateway.Provider(),
				Type:      "checkout.declined",
				Reference: txn.Reference,
				UserID:    &userID,
				Reason:    err.Error(),
			}, providers.OutcomeFailed); rerr != nil {
				log.Error("failing declined top-up", zap.Error(rerr))
			}
			s.metrics.RecordOperationResult(operation, "declined")
		} else {
			s.metrics.RecordOperationResult(operation, "pending")
		}
		log.Warn("checkout creation failed", zap.Error(err))
		return nil, err
	}

	var stored *models.Transaction
	err = s.store.ExecuteInTransaction(after, func(tx *repositories.Store) error {
		locked, err := tx.Transactions.LockByID(after, txn.ID)
		if err != nil {
			return err
		}
		stored = locked
		if locked.ProviderReference != nil {
			return nil
		}
		ref := session.ProviderReference
		locked.ProviderReference = &ref
		locked.Metadata = models.NewJSON(locked.Metadata)
		if session.RedirectURL != "" {
			locked.Metadata[MetaRedirectURL] = session.RedirectURL
		}
		return tx.Transactions.Save(after, locked)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordOperationResult(operation, "initiated")
	log.Info("checkout created", zap.String("provider_reference", session.ProviderReference))
	return &Result{
		Transaction:       stored,
		ProviderReference: stored.ProviderRef(),
		RedirectURL:       stored.Metadata.String(MetaRedirectURL),
	}, nil
}

func (s *Service) replay(ctx context.Context, gateway providers.CheckoutGateway, txn *models.Transaction, email string) (*Result, error) {
	if txn.Intent != models.IntentTopUp {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "idempotency key already used for a %s", txn.Intent)
	}
	s.metrics.RecordReplay(operation)
	s.logger.Info("top-up replayed",
		zap.Uint("user_id", txn.UserID),
		zap.String("reference", txn.Reference),
		zap.String("state", txn.State),
	)

	if txn.State == models.StatePending && txn.ProviderReference == nil && txn.ProviderName() == gateway.Provider() {
		res, err := s.checkout(ctx, gateway, txn, email)
		if err != nil {
			return nil, err
		}
		res.Replayed = true
		return res, nil
	}
	return &Result{
		Transaction:       txn,
		ProviderReference: txn.ProviderRef(),
		RedirectURL:       txn.Metadata.String(MetaRedirectURL),
		Replayed:          true,
	}, nil
}

func validate(req Request) (string, error) {
	if req.IdempotencyKey == "" {
		return "", apperrors.Wrap(apperrors.ErrValidation, "idempotency key is required")
	}
	if req.Amount <= 0 {
		return "", apperrors.Wrap(apperrors.ErrValidation, "amount must be positive")
	}
	if req.UserID == 0 {
		return "", apperrors.Wrap(apperrors.ErrValidation, "user is required")
	}
	return money.Currency(req.Currency)
}
