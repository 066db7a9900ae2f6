package paystack

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"
	"net/http"
	"strconv"
	"strings"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/providers"
)

const (
	EventTransferSuccess  = "transfer.success"
	EventTransferFailed   = "transfer.failed"
	EventTransferReversed = "transfer.reversed"
	EventChargeSuccess    = "charge.success"
)

// SignatureHeader holds the hex HMAC of the raw body keyed with the secret
// key. Paystack sends SHA-512; SHA-256 signatures are accepted as well and
// told apart by length.
const SignatureHeader = "X-Paystack-Signature"

type Webhook struct {
	secret []byte
}

var _ providers.Webhook = (*Webhook)(nil)

func NewWebhook(secretKey string) *Webhook {
	return &Webhook{secret: []byte(secretKey)}
}

func (w *Webhook) Provider() string { return models.ProviderPaystack }

type payload struct {
	Event string `json:"event"`
	Data  struct {
		ID              json.Number     `json:"id"`
		Reference       string          `json:"reference"`
		Amount          json.Number     `json:"amount"`
		Currency        string          `json:"currency"`
		Status          string          `json:"status"`
		TransferCode    string          `json:"transfer_code"`
		Reason          string          `json:"reason"`
		GatewayResponse string          `json:"gateway_response"`
		Metadata        json.RawMessage `json:"metadata"`
	} `json:"data"`
}

// Sign returns the signature Paystack would send for body.
func Sign(body []byte, secretKey string) string {
	return hex.EncodeToString(mac(sha512.New, []byte(secretKey), body))
}

// SignSHA256 returns the HMAC-SHA256 form of the signature.
func SignSHA256(body []byte, secretKey string) string {
	return hex.EncodeToString(mac(sha256.New, []byte(secretKey), body))
}

func mac(h func() hash.Hash, key, body []byte) []byte {
	m := hmac.New(h, key)
	m.Write(body)
	return m.Sum(nil)
}

func (w *Webhook) Verify(rawBody []byte, headers http.Header) (*providers.Event, error) {
	got, err := hex.DecodeString(headers.Get(SignatureHeader))
	if err != nil || len(got) == 0 {
		return nil, apperrors.Wrap(apperrors.ErrSignatureInvalid, "paystack: missing or malformed signature")
	}
	var want []byte
	switch len(got) {
	case sha512.Size:
		want = mac(sha512.New, w.secret, rawBody)
	case sha256.Size:
		want = mac(sha256.New, w.secret, rawBody)
	}
	if want == nil || !hmac.Equal(got, want) {
		return nil, apperrors.Wrap(apperrors.ErrSignatureInvalid, "paystack: signature mismatch")
	}

	var p payload
	if err := json.Unmarshal(rawBody, &p); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrValidation, "paystack: decode event: %v", err)
	}

	ev := &providers.Event{
		Provider:  models.ProviderPaystack,
		Type:      p.Event,
		Reference: p.Data.Reference,
		Currency:  strings.ToUpper(p.Data.Currency),
		Raw:       rawBody,
		Reason:    p.Data.Reason,
	}
	if amount, err := p.Data.Amount.Int64(); err == nil {
		ev.Amount, ev.HasAmount = amount, true
	}

	switch {
	case strings.HasPrefix(p.Event, "transfer."):
		ev.ProviderReference = p.Data.TransferCode
		ev.ID = p.Event + ":" + p.Data.TransferCode
	default:
		ev.ProviderReference = p.Data.ID.String()
		ev.ID = p.Event + ":" + p.Data.ID.String()
		if ev.Reason == "" {
			ev.Reason = p.Data.GatewayResponse
		}
		ev.UserID = userIDFromMetadata(p.Data.Metadata)
	}
	return ev, nil
}

// Metadata is whatever the initializer passed; a string user_id is the only
// field read.
func userIDFromMetadata(raw json.RawMessage) *uint {
	var meta struct {
		UserID string `json:"user_id"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &meta) != nil {
		return nil
	}
	id, err := strconv.ParseUint(meta.UserID, 10, 64)
	if err != nil {
		return nil
	}
	uid := uint(id)
	return &uid
}

func (w *Webhook) ExtractCorrelation(ev *providers.Event) (string, error) {
	if ev.Reference == "" {
		return "", apperrors.Wrap(apperrors.ErrValidation, "paystack event %s carries no reference", ev.Type)
	}
	return ev.Reference, nil
}

func (w *Webhook) Classify(ev *providers.Event) providers.Outcome {
	switch ev.Type {
	case EventTransferSuccess, EventChargeSuccess:
		return providers.OutcomeSucceeded
	case EventTransferFailed, EventTransferReversed:
		return providers.OutcomeFailed
	}
	return providers.OutcomeIgnore
}
