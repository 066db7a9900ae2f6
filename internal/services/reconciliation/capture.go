package reconciliation

import (
	"context"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/providers"

	"go.uber.org/zap"
)

// CapturePayPal settles an approved PayPal order and applies the capture
// as the top-up's outcome. The capture call runs before any lock is taken.
// A transaction that already settled is returned without calling PayPal.
func (s *Service) CapturePayPal(ctx context.Context, userID uint, orderID string) (*models.Transaction, error) {
	if s.capture == nil {
		return nil, apperrors.Wrap(apperrors.ErrUnknownProvider, "paypal capture is not configured")
	}
	txn, err := s.store.Transactions.FindByProviderReference(ctx, models.ProviderPaypal, orderID, &userID)
	if err != nil {
		return nil, err
	}
	if txn.IsTerminal() {
		s.metrics.RecordReconciliation(models.ProviderPaypal, "noop")
		return txn, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	capture, err := s.capture.CaptureOrder(callCtx, orderID)
	if err != nil {
		s.logger.Warn("paypal capture failed",
			zap.String("reference", txn.Reference),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil, err
	}
	if capture.Outcome == providers.OutcomeIgnore {
		s.logger.Info("paypal capture pending",
			zap.String("reference", txn.Reference),
			zap.String("status", capture.Status),
		)
		return txn, nil
	}

	ev := &providers.Event{
		ID:                capture.CaptureID,
		Provider:          models.ProviderPaypal,
		Type:              "capture",
		Reference:         txn.Reference,
		UserID:            &userID,
		Amount:            capture.Amount,
		HasAmount:         true,
		Currency:          capture.Currency,
		ProviderReference: orderID,
		Reason:            capture.Status,
		Metadata:          map[string]interface{}{MetaCaptureID: capture.CaptureID},
	}
	return s.Apply(ctx, ev, capture.Outcome)
}
