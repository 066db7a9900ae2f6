package transfer

import (
	"context"

	"fxwallet/internal/models"
	"fxwallet/internal/providers"
)

// Reconciler applies a provider outcome to a pending transaction. Payouts
// the rail explicitly declined are failed through it, so the refund follows
// the same path a failure webhook would.
type Reconciler interface {
	Apply(ctx context.Context, ev *providers.Event, outcome providers.Outcome) (*models.Transaction, error)
}
