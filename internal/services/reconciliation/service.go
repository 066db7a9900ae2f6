// Package reconciliation applies provider outcomes to pending transactions.
// It is the only code that moves a transaction out of Pending, and the only
// place a top-up's money reaches a wallet.
package reconciliation

import (
	"context"
	"net/http"
	"time"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/providers"
	"fxwallet/internal/repositories"
	"fxwallet/internal/services/notification"
	"fxwallet/internal/services/wallet"

	"go.uber.org/zap"
)

const operation = "reconciliation"

// Metadata keys written when an outcome is applied.
const (
	MetaFailureReason   = "failure_reason"
	MetaProviderEventID = "provider_event_id"
	MetaCaptureID       = "capture_id"
	MetaResolvedAt      = "resolved_at"
)

// WebhookResult reports what an inbound event did.
type WebhookResult struct {
	Provider    string              `json:"provider"`
	EventID     string              `json:"event_id"`
	EventType   string              `json:"event_type"`
	Outcome     string              `json:"outcome"`
	Ignored     bool                `json:"ignored"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
}

type Service struct {
	store    *repositories.Store
	wallets  *wallet.Service
	registry *providers.Registry
	capture  providers.CaptureGateway
	timeout  time.Duration
	notifier *notification.Service
	metrics  wallet.MetricsCollector
	logger   *zap.Logger
}

func NewService(
	wallets *wallet.Service,
	registry *providers.Registry,
	capture providers.CaptureGateway,
	providerTimeout time.Duration,
	notifier *notification.Service,
	metrics wallet.MetricsCollector,
	logger *zap.Logger,
) *Service {
	if wallets == nil {
		panic("wallets is required")
	}
	if registry == nil {
		registry = providers.NewRegistry()
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
	return &Service{
		store:    wallets.Store(),
		wallets:  wallets,
		registry: registry,
		capture:  capture,
		timeout:  providerTimeout,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.With(zap.String("operation", operation)),
	}
}

// HandleWebhook authenticates rawBody with the named provider's verifier and
// applies the event. Nothing is read from the payload before the signature
// checks out. Events for references this service never issued are
// acknowledged and ignored, since redelivery cannot make them match.
func (s *Service) HandleWebhook(ctx context.Context, provider string, rawBody []byte, headers http.Header) (*WebhookResult, error) {
	hook, err := s.registry.Lookup(provider)
	if err != nil {
		return nil, err
	}
	ev, err := hook.Verify(rawBody, headers)
	if err != nil {
		s.metrics.RecordError(operation, apperrors.Code(err))
		s.logger.Warn("webhook rejected", zap.String("provider", provider), zap.Error(err))
		return nil, err
	}

	outcome := hook.Classify(ev)
	result := &WebhookResult{Provider: provider, EventID: ev.ID, EventType: ev.Type, Outcome: outcome.String()}
	if outcome == providers.OutcomeIgnore {
		result.Ignored = true
		return result, nil
	}

	reference, err := hook.ExtractCorrelation(ev)
	if err != nil {
		return nil, err
	}
	ev.Reference = reference
	ev.Provider = provider

	txn, err := s.Apply(ctx, ev, outcome)
	if apperrors.Is(err, apperrors.ErrTransactionNotFound) {
		s.logger.Warn("webhook for unknown reference",
			zap.String("provider", provider),
			zap.String("reference", reference),
			zap.String("event_type", ev.Type),
		)
		result.Ignored = true
		return result, nil
	}
	if err != nil {
		return nil, err
	}
	result.Transaction = txn
	return result, nil
}

// Apply moves the transaction ev names to the state outcome implies.
// A terminal transaction is returned unchanged, which makes redelivered
// events harmless. Events whose amount or currency disagree with the stored
// transaction are rejected without touching it.
func (s *Service) Apply(ctx context.Context, ev *providers.Event, outcome providers.Outcome) (*models.Transaction, error) {
	target := TargetState(outcome)
	log := s.logger.With(
		zap.String("provider", ev.Provider),
		zap.String("reference", ev.Reference),
		zap.String("event_id", ev.ID),
		zap.String("outcome", outcome.String()),
	)

	txn, err := s.store.Transactions.FindByReference(ctx, repositories.ReferenceQuery{
		Reference: ev.Reference,
		Provider:  ev.Provider,
		UserID:    ev.UserID,
	})
	if err != nil {
		return nil, err
	}
	if txn.IsTerminal() || target == "" {
		s.metrics.RecordReconciliation(ev.Provider, "noop")
		log.Info("event on settled transaction ignored", zap.String("state", txn.State))
		return txn, nil
	}
	if err := checkConsistency(txn, ev); err != nil {
		s.metrics.RecordReconciliation(ev.Provider, "inconsistent")
		log.Error("event disagrees with transaction",
			zap.Uint("transaction_id", txn.ID),
			zap.Int64("stored_amount", txn.Magnitude()),
			zap.String("stored_currency", txn.Currency),
			zap.Int64("event_amount", ev.Amount),
			zap.String("event_currency", ev.Currency),
		)
		return nil, err
	}

	var (
		current *models.Transaction
		changed bool
	)
	err = s.store.ExecuteInTransaction(ctx, func(tx *repositories.Store) error {
		locked, err := tx.Transactions.LockByID(ctx, txn.ID)
		if err != nil {
			return err
		}
		current = locked
		if locked.IsTerminal() || locked.State == target {
			return nil
		}
		if !CanTransition(locked.State, target) {
			return apperrors.Wrap(apperrors.ErrInvalidTransition, "%s -> %s", locked.State, target)
		}

		if err := s.settle(ctx, tx, locked, target); err != nil {
			return err
		}

		locked.State = target
		if ev.ProviderReference != "" {
			ref := ev.ProviderReference
			locked.ProviderReference = &ref
		}
		locked.Metadata = mergeMetadata(locked.Metadata, ev, target)
		if err := tx.Transactions.Save(ctx, locked); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		s.metrics.RecordError(operation, apperrors.Code(err))
		return nil, err
	}
	if !changed {
		s.metrics.RecordReconciliation(ev.Provider, "noop")
		log.Info("event raced a settled transaction", zap.String("state", current.State))
		return current, nil
	}

	s.metrics.RecordReconciliation(ev.Provider, outcome.String())
	log.Info("transaction reconciled",
		zap.Uint("user_id", current.UserID),
		zap.String("intent", current.Intent),
		zap.String("state", current.State),
	)
	if current.IsTerminal() {
		s.notifier.TransactionChanged(ctx, current)
	}
	return current, nil
}

// settle writes the ledger effect of moving txn to target, under the
// transaction row lock the caller holds.
func (s *Service) settle(ctx context.Context, tx *repositories.Store, txn *models.Transaction, target string) error {
	switch {
	case target == models.StateCompleted && txn.IsCredit():
		w, err := tx.Wallets.GetOrCreate(ctx, txn.UserID, txn.Currency)
		if err != nil {
			return err
		}
		return s.wallets.Post(ctx, tx, txn, wallet.Posting{WalletID: w.ID, Amount: txn.Magnitude()})

	case target == models.StateFailed && txn.Intent == models.IntentPayout && txn.Amount < 0:
		// The reservation was debited when the payout was created.
		w, err := tx.Wallets.Get(ctx, txn.UserID, txn.Currency)
		if err != nil {
			return err
		}
		return s.wallets.Post(ctx, tx, txn, wallet.Posting{WalletID: w.ID, Amount: txn.Magnitude()})
	}
	return nil
}

func checkConsistency(txn *models.Transaction, ev *providers.Event) error {
	if ev.Currency != "" && ev.Currency != txn.Currency {
		return apperrors.Wrap(apperrors.ErrInternalInconsistency,
			"%s: event currency %s, transaction currency %s", txn.Reference, ev.Currency, txn.Currency)
	}
	if ev.HasAmount && ev.Amount != txn.Magnitude() {
		return apperrors.Wrap(apperrors.ErrInternalInconsistency,
			"%s: event amount %d, transaction amount %d", txn.Reference, ev.Amount, txn.Magnitude())
	}
	return nil
}

func mergeMetadata(meta models.JSON, ev *providers.Event, target string) models.JSON {
	out := models.NewJSON(meta)
	for k, v := range ev.Metadata {
		out[k] = v
	}
	if ev.ID != "" {
		out[MetaProviderEventID] = ev.ID
	}
	if target == models.StateFailed && ev.Reason != "" {
		out[MetaFailureReason] = ev.Reason
	}
	if target != models.StateRequiresAction {
		out[MetaResolvedAt] = time.Now().UTC().Format(time.RFC3339)
	}
	return out
}
