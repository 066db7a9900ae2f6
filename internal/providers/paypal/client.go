// Package paypal is the capture-later wallet rail. Orders are created at
// top-up time and captured once the payer approves them.
package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"fxwallet/internal/models"
	"fxwallet/internal/money"
	"fxwallet/internal/providers"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const DefaultBaseURL = "https://api-m.sandbox.paypal.com"

type Config struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	ReturnURL    string
	CancelURL    string
	HTTPClient   *http.Client
}

// Client authenticates with the client-credentials grant. The token is
// fetched on the caller's context, so its deadline bounds the exchange too,
// and reused until it expires.
type Client struct {
	baseURL    string
	cfg        Config
	creds      clientcredentials.Config
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.Mutex
	token *oauth2.Token
}

var (
	_ providers.CheckoutGateway = (*Client)(nil)
	_ providers.CaptureGateway  = (*Client)(nil)
)

func NewClient(cfg Config, logger *zap.Logger) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     baseURL + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	return &Client{
		baseURL:    baseURL,
		cfg:        cfg,
		creds:      creds,
		httpClient: httpClient,
		logger:     logger.With(zap.String("provider", models.ProviderPaypal)),
	}
}

// accessToken returns the cached token or exchanges the credentials for a
// new one.
func (c *Client) accessToken(ctx context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Valid() {
		return c.token, nil
	}
	tok, err := c.creds.Token(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return nil, providers.StatusError(models.ProviderPaypal, re.Response.StatusCode, "token: "+re.ErrorCode)
		}
		return nil, providers.TransportError(models.ProviderPaypal, fmt.Errorf("token: %w", err))
	}
	c.token = tok
	return tok, nil
}

func (c *Client) Provider() string { return models.ProviderPaypal }

type amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type purchaseUnit struct {
	ReferenceID string `json:"reference_id"`
	CustomID    string `json:"custom_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      amount `json:"amount"`
}

type orderRequest struct {
	Intent             string         `json:"intent"`
	PurchaseUnits      []purchaseUnit `json:"purchase_units"`
	ApplicationContext struct {
		ReturnURL string `json:"return_url,omitempty"`
		CancelURL string `json:"cancel_url,omitempty"`
	} `json:"application_context"`
}

type link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type orderResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []link `json:"links"`
}

// CreateCheckout creates a CAPTURE-intent order. The order id is the
// provider reference the user later captures with.
func (c *Client) CreateCheckout(ctx context.Context, req providers.CheckoutRequest) (*providers.Checkout, error) {
	body := orderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []purchaseUnit{{
			ReferenceID: req.Reference,
			CustomID:    req.Reference,
			Description: req.Description,
			Amount: amount{
				CurrencyCode: req.Currency,
				Value:        money.FormatMinor(req.Amount, req.Currency),
			},
		}},
	}
	body.ApplicationContext.ReturnURL = c.cfg.ReturnURL
	body.ApplicationContext.CancelURL = c.cfg.CancelURL

	var order orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", "order-"+req.Reference, body, &order); err != nil {
		return nil, err
	}

	checkout := &providers.Checkout{ProviderReference: order.ID}
	for _, l := range order.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			checkout.RedirectURL = l.Href
			break
		}
	}
	c.logger.Info("order created", zap.String("reference", req.Reference), zap.String("order_id", order.ID))
	return checkout, nil
}

type captureResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		ReferenceID string `json:"reference_id"`
		Payments    struct {
			Captures []struct {
				ID       string `json:"id"`
				Status   string `json:"status"`
				CustomID string `json:"custom_id"`
				Amount   amount `json:"amount"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// CaptureOrder settles an approved order and reports the first capture.
func (c *Client) CaptureOrder(ctx context.Context, orderID string) (*providers.Capture, error) {
	var resp captureResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+orderID+"/capture", "capture-"+orderID, struct{}{}, &resp); err != nil {
		return nil, err
	}
	if len(resp.PurchaseUnits) == 0 || len(resp.PurchaseUnits[0].Payments.Captures) == 0 {
		return nil, providers.TransportError(models.ProviderPaypal, fmt.Errorf("order %s returned no capture", orderID))
	}

	unit := resp.PurchaseUnits[0]
	capture := unit.Payments.Captures[0]
	settled, err := money.ParseMinor(capture.Amount.Value, capture.Amount.CurrencyCode)
	if err != nil {
		return nil, err
	}
	reference := unit.ReferenceID
	if reference == "" {
		reference = capture.CustomID
	}

	c.logger.Info("order captured",
		zap.String("order_id", orderID),
		zap.String("capture_id", capture.ID),
		zap.String("status", capture.Status),
	)
	return &providers.Capture{
		OrderID:   resp.ID,
		CaptureID: capture.ID,
		Reference: reference,
		Status:    capture.Status,
		Outcome:   CaptureOutcome(capture.Status),
		Amount:    settled,
		Currency:  strings.ToUpper(capture.Amount.CurrencyCode),
	}, nil
}

// CaptureOutcome maps a capture status to a transaction outcome. PENDING
// captures are under review and settle later.
func CaptureOutcome(status string) providers.Outcome {
	switch status {
	case "COMPLETED":
		return providers.OutcomeSucceeded
	case "DECLINED", "FAILED":
		return providers.OutcomeFailed
	}
	return providers.OutcomeIgnore
}

type apiError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path, requestID string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("paypal: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("PayPal-Request-Id", requestID)

	tok, err := c.accessToken(ctx)
	if err != nil {
		c.logger.Warn("token exchange failed", zap.Error(err))
		return err
	}
	tok.SetAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("path", path), zap.Error(err))
		return providers.TransportError(models.ProviderPaypal, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.TransportError(models.ProviderPaypal, err)
	}
	if resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		return providers.StatusError(models.ProviderPaypal, resp.StatusCode, apiErr.Name+" "+apiErr.Message)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return providers.TransportError(models.ProviderPaypal, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
