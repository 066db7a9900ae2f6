// Package stripe is the hosted-checkout card rail.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"fxwallet/internal/models"
	"fxwallet/internal/providers"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"go.uber.org/zap"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	// BackendURL overrides the API host, for tests.
	BackendURL string
	HTTPClient *http.Client
}

// Gateway creates Stripe checkout sessions for top-ups.
type Gateway struct {
	api    *client.API
	cfg    Config
	logger *zap.Logger
}

var _ providers.CheckoutGateway = (*Gateway)(nil)

func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient:        cfg.HTTPClient,
		MaxNetworkRetries: stripe.Int64(0),
	}
	if cfg.BackendURL != "" {
		backendCfg.URL = stripe.String(cfg.BackendURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	api := client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})

	return &Gateway{api: api, cfg: cfg, logger: logger.With(zap.String("provider", models.ProviderStripe))}
}

func (g *Gateway) Provider() string { return models.ProviderStripe }

// CreateCheckout opens a one-item payment session. The reference travels in
// the session and payment intent metadata so every later event can be tied
// back to the transaction. The reference doubles as the idempotency key, so a
// retried call returns the session Stripe already made.
func (g *Gateway) CreateCheckout(ctx context.Context, req providers.CheckoutRequest) (*providers.Checkout, error) {
	userID := strconv.FormatUint(uint64(req.UserID), 10)
	description := req.Description
	if description == "" {
		description = "Wallet top-up"
	}

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(strings.ToLower(req.Currency)),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
					UnitAmount: stripe.Int64(req.Amount),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(g.cfg.SuccessURL),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.Reference),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"reference": req.Reference, "user_id": userID},
		},
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.AddMetadata("reference", req.Reference)
	params.AddMetadata("user_id", userID)
	params.SetIdempotencyKey("checkout-" + req.Reference)
	params.Context = ctx

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		g.logger.Warn("checkout session failed", zap.String("reference", req.Reference), zap.Error(err))
		return nil, classify(err)
	}

	g.logger.Info("checkout session created",
		zap.String("reference", req.Reference),
		zap.String("session_id", session.ID),
	)
	return &providers.Checkout{ProviderReference: session.ID, RedirectURL: session.URL}, nil
}

func classify(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode != 0 {
		return providers.StatusError(models.ProviderStripe, stripeErr.HTTPStatusCode, stripeErr.Msg)
	}
	return providers.TransportError(models.ProviderStripe, fmt.Errorf("checkout session: %w", err))
}
