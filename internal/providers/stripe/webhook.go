package stripe

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/providers"

	"github.com/stripe/stripe-go/v72/webhook"
)

// Event types the wallet acts on.
const (
	EventCheckoutCompleted           = "checkout.session.completed"
	EventCheckoutAsyncSucceeded      = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed         = "checkout.session.async_payment_failed"
	EventCheckoutExpired             = "checkout.session.expired"
	EventPaymentIntentRequiresAction = "payment_intent.requires_action"
)

// SignatureHeader carries the timestamped HMAC Stripe signs each delivery with.
const SignatureHeader = "Stripe-Signature"

// Webhook verifies Stripe deliveries with the endpoint secret.
type Webhook struct {
	secret string
}

var _ providers.Webhook = (*Webhook)(nil)

func NewWebhook(secret string) *Webhook {
	return &Webhook{secret: secret}
}

func (w *Webhook) Provider() string { return models.ProviderStripe }

// eventObject covers the fields read from checkout sessions and payment intents.
type eventObject struct {
	ID            string            `json:"id"`
	Object        string            `json:"object"`
	Amount        int64             `json:"amount"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentStatus string            `json:"payment_status"`
	ClientRefID   string            `json:"client_reference_id"`
	Metadata      map[string]string `json:"metadata"`
}

func (w *Webhook) Verify(rawBody []byte, headers http.Header) (*providers.Event, error) {
	evt, err := webhook.ConstructEvent(rawBody, headers.Get(SignatureHeader), w.secret)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrSignatureInvalid, "stripe: %v", err)
	}

	out := &providers.Event{
		ID:       evt.ID,
		Provider: models.ProviderStripe,
		Type:     evt.Type,
		Raw:      rawBody,
	}
	if evt.Data == nil || len(evt.Data.Raw) == 0 {
		return out, nil
	}

	var obj eventObject
	if err := json.Unmarshal(evt.Data.Raw, &obj); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "stripe: decode %s object: %v", evt.Type, err)
	}

	out.Reference = obj.Metadata["reference"]
	if out.Reference == "" {
		out.Reference = obj.ClientRefID
	}
	if id, err := strconv.ParseUint(obj.Metadata["user_id"], 10, 64); err == nil {
		uid := uint(id)
		out.UserID = &uid
	}
	out.Currency = strings.ToUpper(obj.Currency)

	switch obj.Object {
	case "checkout.session":
		out.Amount, out.HasAmount = obj.AmountTotal, true
		out.ProviderReference = obj.ID
		out.Reason = obj.PaymentStatus
	case "payment_intent":
		out.Amount, out.HasAmount = obj.Amount, true
	}
	return out, nil
}

func (w *Webhook) ExtractCorrelation(ev *providers.Event) (string, error) {
	if ev.Reference == "" {
		return "", apperrors.Wrap(apperrors.ErrValidation, "stripe event %s carries no reference", ev.ID)
	}
	return ev.Reference, nil
}

// Classify maps event types to outcomes. A completed session whose payment
// is still processing settles later through async_payment_succeeded.
func (w *Webhook) Classify(ev *providers.Event) providers.Outcome {
	switch ev.Type {
	case EventCheckoutCompleted:
		if ev.Reason == "paid" || ev.Reason == "no_payment_required" {
			return providers.OutcomeSucceeded
		}
		return providers.OutcomeIgnore
	case EventCheckoutAsyncSucceeded:
		return providers.OutcomeSucceeded
	case EventCheckoutAsyncFailed, EventCheckoutExpired:
		return providers.OutcomeFailed
	case EventPaymentIntentRequiresAction:
		return providers.OutcomeRequiresAction
	}
	return providers.OutcomeIgnore
}
