package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/providers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v72"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string) http.Header {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	h := http.Header{}
	h.Set(SignatureHeader, fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil))))
	return h
}

func eventPayload(eventType, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","object":"event","api_version":%q,"type":%q,"data":{"object":%s}}`,
		stripe.APIVersion, eventType, object))
}

func TestWebhook_Verify(t *testing.T) {
	hook := NewWebhook(testSecret)
	session := `{"id":"cs_1","object":"checkout.session","amount_total":2500,"currency":"usd",` +
		`"payment_status":"paid","client_reference_id":"ref_1","metadata":{"reference":"ref_1","user_id":"42"}}`

	t.Run("valid signature", func(t *testing.T) {
		payload := eventPayload(EventCheckoutCompleted, session)
		ev, err := hook.Verify(payload, sign(payload, testSecret))
		require.NoError(t, err)

		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, "ref_1", ev.Reference)
		assert.Equal(t, "cs_1", ev.ProviderReference)
		assert.Equal(t, int64(2500), ev.Amount)
		assert.True(t, ev.HasAmount)
		assert.Equal(t, "USD", ev.Currency)
		require.NotNil(t, ev.UserID)
		assert.Equal(t, uint(42), *ev.UserID)
		assert.Equal(t, providers.OutcomeSucceeded, hook.Classify(ev))

		ref, err := hook.ExtractCorrelation(ev)
		require.NoError(t, err)
		assert.Equal(t, "ref_1", ref)
	})

	t.Run("wrong secret", func(t *testing.T) {
		payload := eventPayload(EventCheckoutCompleted, session)
		_, err := hook.Verify(payload, sign(payload, "whsec_other"))
		assert.True(t, errors.Is(err, apperrors.ErrSignatureInvalid))
	})

	t.Run("tampered body", func(t *testing.T) {
		payload := eventPayload(EventCheckoutCompleted, session)
		headers := sign(payload, testSecret)
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-3] = ' '
		_, err := hook.Verify(tampered, headers)
		assert.True(t, errors.Is(err, apperrors.ErrSignatureInvalid))
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := hook.Verify(eventPayload(EventCheckoutCompleted, session), http.Header{})
		assert.True(t, errors.Is(err, apperrors.ErrSignatureInvalid))
	})
}

func TestWebhook_Classify(t *testing.T) {
	hook := NewWebhook(testSecret)
	tests := []struct {
		eventType string
		reason    string
		want      providers.Outcome
	}{
		{EventCheckoutCompleted, "paid", providers.OutcomeSucceeded},
		{EventCheckoutCompleted, "unpaid", providers.OutcomeIgnore},
		{EventCheckoutAsyncSucceeded, "paid", providers.OutcomeSucceeded},
		{EventCheckoutAsyncFailed, "unpaid", providers.OutcomeFailed},
		{EventCheckoutExpired, "unpaid", providers.OutcomeFailed},
		{EventPaymentIntentRequiresAction, "", providers.OutcomeRequiresAction},
		{"customer.created", "", providers.OutcomeIgnore},
	}
	for _, tt := range tests {
		t.Run(tt.eventType+"/"+tt.reason, func(t *testing.T) {
			assert.Equal(t, tt.want, hook.Classify(&providers.Event{Type: tt.eventType, Reason: tt.reason}))
		})
	}
}

func TestGateway_CreateCheckout(t *testing.T) {
	t.Run("session created", func(t *testing.T) {
		var gotPath, gotIdempotency string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotIdempotency = r.Header.Get("Idempotency-Key")
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "ref_1", r.PostForm.Get("metadata[reference]"))
			assert.Equal(t, "2500", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
			assert.Equal(t, "usd", r.PostForm.Get("line_items[0][price_data][currency]"))
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"id":"cs_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_1"}`)
		}))
		defer srv.Close()

		gw := NewGateway(Config{SecretKey: "sk_test", BackendURL: srv.URL, SuccessURL: "https://x/ok", CancelURL: "https://x/no"}, nil)
		out, err := gw.CreateCheckout(context.Background(), providers.CheckoutRequest{
			Reference: "ref_1",
			UserID:    42,
			Amount:    2500,
			Currency:  "USD",
		})
		require.NoError(t, err)
		assert.Equal(t, "cs_1", out.ProviderReference)
		assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_1", out.RedirectURL)
		assert.Equal(t, "/v1/checkout/sessions", gotPath)
		assert.Equal(t, "checkout-ref_1", gotIdempotency)
	})

	t.Run("declined request", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"Invalid currency"}}`)
		}))
		defer srv.Close()

		gw := NewGateway(Config{SecretKey: "sk_test", BackendURL: srv.URL}, nil)
		_, err := gw.CreateCheckout(context.Background(), providers.CheckoutRequest{Reference: "r", Amount: 1, Currency: "USD"})
		assert.True(t, errors.Is(err, apperrors.ErrProviderRejected), "got %v", err)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"type":"api_error","message":"down"}}`)
		}))
		defer srv.Close()

		gw := NewGateway(Config{SecretKey: "sk_test", BackendURL: srv.URL}, nil)
		_, err := gw.CreateCheckout(context.Background(), providers.CheckoutRequest{Reference: "r", Amount: 1, Currency: "USD"})
		assert.True(t, errors.Is(err, apperrors.ErrProviderUnavailable), "got %v", err)
	})
}
