package models

import (
	"time"
)

// Transaction intents
const (
	IntentTopUp      = "TOPUP"
	IntentPayout     = "PAYOUT"
	IntentTransfer   = "TRANSFER"
	IntentConversion = "CONVERSION"
)

// Transaction states
const (
	StatePending        = "pending"
	StateRequiresAction = "requires_action"
	StateCompleted      = "completed"
	StateFailed         = "failed"
	StateCancelled      = "cancelled"
)

// Providers
const (
	ProviderStripe   = "stripe"
	ProviderPaystack = "paystack"
	ProviderPaypal   = "paypal"
)

// Transaction records one intended or completed money movement owned by UserID.
// Amount is signed from the owner's point of view: debits are negative.
type Transaction struct {
	ID                uint      `gorm:"primarykey" json:"id"`
	UserID            uint      `gorm:"not null;uniqueIndex:idx_tx_user_idempotency" json:"user_id"`
	CounterpartyID    *uint     `json:"counterparty_id,omitempty"`
	Intent            string    `gorm:"size:16;not null" json:"intent"`
	Amount            int64     `gorm:"not null" json:"amount"`
	Currency          string    `gorm:"size:3;not null" json:"currency"`
	State             string    `gorm:"size:20;not null;default:'pending';index" json:"state"`
	Provider          *string   `gorm:"size:16" json:"provider,omitempty"`
	ProviderReference *string   `gorm:"index" json:"provider_reference,omitempty"`
	IdempotencyKey    string    `gorm:"not null;uniqueIndex:idx_tx_user_idempotency" json:"idempotency_key"`
	Reference         string    `gorm:"not null;index" json:"reference"`
	Description       string    `json:"description,omitempty"`
	Metadata          JSON      `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsTerminal reports whether no further transition is allowed.
func (t *Transaction) IsTerminal() bool {
	return IsTerminalState(t.State)
}

// IsTerminalState reports whether state is Completed, Failed or Cancelled.
func IsTerminalState(state string) bool {
	switch state {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// ProviderName returns the provider or "" for internal flows.
func (t *Transaction) ProviderName() string {
	if t.Provider == nil {
		return ""
	}
	return *t.Provider
}

// ProviderRef returns the provider reference or "".
func (t *Transaction) ProviderRef() string {
	if t.ProviderReference == nil {
		return ""
	}
	return *t.ProviderReference
}

// Magnitude returns the absolute amount.
func (t *Transaction) Magnitude() int64 {
	if t.Amount < 0 {
		return -t.Amount
	}
	return t.Amount
}

// IsCredit reports whether the owner's balance grows when the transaction settles.
func (t *Transaction) IsCredit() bool {
	return t.Amount > 0
}
