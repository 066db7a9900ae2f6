// Package providers declares the capabilities the wallet needs from external
// payment rails. Each rail lives in its own subpackage and is selected by
// name through a Registry, never by inspecting concrete types.
package providers

import (
	"context"
	"net/http"
	"sort"

	apperrors "fxwallet/internal/errors"
)

// Outcome is what an inbound event means for the transaction it names.
type Outcome int

const (
	OutcomeIgnore Outcome = iota
	OutcomeSucceeded
	OutcomeFailed
	OutcomeRequiresAction
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeFailed:
		return "failed"
	case OutcomeRequiresAction:
		return "requires_action"
	default:
		return "ignore"
	}
}

// Event is a verified inbound notification, normalised across rails.
// Amount is in minor units and only meaningful when HasAmount is set.
// Metadata is merged into the transaction's metadata when the event applies.
type Event struct {
	ID                string
	Provider          string
	Type              string
	Reference         string
	UserID            *uint
	Amount            int64
	HasAmount         bool
	Currency          string
	ProviderReference string
	Reason            string
	Metadata          map[string]interface{}
	Raw               []byte
}

// Webhook authenticates and interprets one rail's inbound events. Verify
// must check the signature over rawBody before decoding any of it.
type Webhook interface {
	Provider() string
	Verify(rawBody []byte, headers http.Header) (*Event, error)
	ExtractCorrelation(ev *Event) (string, error)
	Classify(ev *Event) Outcome
}

// Registry maps a route's provider segment to its Webhook.
type Registry struct {
	webhooks map[string]Webhook
}

func NewRegistry(hooks ...Webhook) *Registry {
	r := &Registry{webhooks: make(map[string]Webhook, len(hooks))}
	for _, h := range hooks {
		r.webhooks[h.Provider()] = h
	}
	return r
}

func (r *Registry) Lookup(provider string) (Webhook, error) {
	h, ok := r.webhooks[provider]
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrUnknownProvider, "%q", provider)
	}
	return h, nil
}

// Providers lists registered names in order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.webhooks))
	for name := range r.webhooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckoutRequest asks a rail to collect Amount from the user. Reference is
// our correlation id and must come back on every event for the payment.
type CheckoutRequest struct {
	Reference   string
	UserID      uint
	Email       string
	Amount      int64
	Currency    string
	Description string
}

// Checkout is where the user completes payment. RedirectURL is empty for
// capture-later rails that hand back only an order id.
type Checkout struct {
	ProviderReference string
	RedirectURL       string
}

// CheckoutGateway starts a top-up on a rail.
type CheckoutGateway interface {
	Provider() string
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

// Capture is a settled capture-later payment.
type Capture struct {
	OrderID   string
	CaptureID string
	Reference string
	Status    string
	Outcome   Outcome
	Amount    int64
	Currency  string
}

// CaptureGateway settles an order the user has approved.
type CaptureGateway interface {
	CaptureOrder(ctx context.Context, orderID string) (*Capture, error)
}

// Account is a resolved bank destination.
type Account struct {
	BankCode      string `json:"bank_code"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

// AccountCache holds resolved accounts for a bounded time.
type AccountCache interface {
	Get(ctx context.Context, bankCode, accountNumber string) (*Account, bool, error)
	Set(ctx context.Context, account *Account) error
	Invalidate(ctx context.Context, bankCode, accountNumber string) error
}

// PayoutRequest sends Amount to Account. The rail deduplicates on Reference,
// so repeating a request after a timeout cannot pay twice.
type PayoutRequest struct {
	Reference string
	Amount    int64
	Currency  string
	Account   Account
	Reason    string
}

type PayoutResult struct {
	ProviderReference string
	Status            string
}

// PayoutGateway moves money out to bank accounts. Errors wrap
// ErrProviderRejected when the rail declined the request and
// ErrProviderUnavailable when the outcome is unknown. LookupPayout returns
// nil with no error when the rail has no payout under reference.
type PayoutGateway interface {
	Provider() string
	ResolveAccount(ctx context.Context, bankCode, accountNumber string) (*Account, error)
	InitiatePayout(ctx context.Context, req PayoutRequest) (*PayoutResult, error)
	LookupPayout(ctx context.Context, reference string) (*PayoutResult, error)
}

// StatusError classifies an HTTP answer from a rail. 4xx responses other
// than 408 and 429 are rejections; everything else leaves the outcome open.
func StatusError(provider string, status int, message string) error {
	switch {
	case status >= 400 && status < 500 && status != http.StatusRequestTimeout && status != http.StatusTooManyRequests:
		return apperrors.Wrap(apperrors.ErrProviderRejected, "%s: %d %s", provider, status, message)
	default:
		return apperrors.Wrap(apperrors.ErrProviderUnavailable, "%s: %d %s", provider, status, message)
	}
}

// TransportError wraps a failed round trip. The request may have reached the
// rail, so the outcome is unknown.
func TransportError(provider string, err error) error {
	return apperrors.Wrap(apperrors.ErrProviderUnavailable, "%s: %v", provider, err)
}
