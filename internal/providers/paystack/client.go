// Package paystack is the bank-transfer rail: account resolution, payouts
// to bank accounts and hosted checkout for top-ups.
package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/providers"

	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.paystack.co"

var errNotFound = errors.New("paystack: not found")

type Config struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	HTTPClient  *http.Client
}

// Client calls the Paystack REST API. It holds no locks and keeps no state
// between calls.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

var (
	_ providers.PayoutGateway   = (*Client)(nil)
	_ providers.CheckoutGateway = (*Client)(nil)
)

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With(zap.String("provider", models.ProviderPaystack)),
	}
}

func (c *Client) Provider() string { return models.ProviderPaystack }

// envelope is the wrapper every Paystack response uses.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type resolveData struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
}

func (c *Client) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (*providers.Account, error) {
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)

	var data resolveData
	if err := c.do(ctx, http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &data); err != nil {
		return nil, err
	}
	return &providers.Account{
		BankCode:      bankCode,
		AccountNumber: data.AccountNumber,
		AccountName:   data.AccountName,
	}, nil
}

type recipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

type recipientData struct {
	RecipientCode string `json:"recipient_code"`
}

type transferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Reason    string `json:"reason,omitempty"`
	Reference string `json:"reference"`
	Currency  string `json:"currency"`
}

type transferData struct {
	TransferCode string `json:"transfer_code"`
	Reference    string `json:"reference"`
	Status       string `json:"status"`
}

// InitiatePayout creates a transfer recipient for the account and queues a
// transfer from the balance. Paystack rejects a second transfer with the same
// reference, which makes a retried payout safe.
func (c *Client) InitiatePayout(ctx context.Context, req providers.PayoutRequest) (*providers.PayoutResult, error) {
	var recipient recipientData
	err := c.do(ctx, http.MethodPost, "/transferrecipient", recipientRequest{
		Type:          "nuban",
		Name:          req.Account.AccountName,
		AccountNumber: req.Account.AccountNumber,
		BankCode:      req.Account.BankCode,
		Currency:      req.Currency,
	}, &recipient)
	if err != nil {
		return nil, err
	}

	var transfer transferData
	err = c.do(ctx, http.MethodPost, "/transfer", transferRequest{
		Source:    "balance",
		Amount:    req.Amount,
		Recipient: recipient.RecipientCode,
		Reason:    req.Reason,
		Reference: req.Reference,
		Currency:  req.Currency,
	}, &transfer)
	if err != nil {
		return nil, err
	}
	if transfer.Status == "failed" || transfer.Status == "reversed" {
		return nil, apperrors.Wrap(apperrors.ErrProviderRejected, "paystack: transfer %s %s", req.Reference, transfer.Status)
	}

	c.logger.Info("transfer queued",
		zap.String("reference", req.Reference),
		zap.String("transfer_code", transfer.TransferCode),
		zap.String("status", transfer.Status),
	)
	return &providers.PayoutResult{ProviderReference: transfer.TransferCode, Status: transfer.Status}, nil
}

// LookupPayout verifies a transfer by our reference.
func (c *Client) LookupPayout(ctx context.Context, reference string) (*providers.PayoutResult, error) {
	var transfer transferData
	err := c.do(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &transfer)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &providers.PayoutResult{ProviderReference: transfer.TransferCode, Status: transfer.Status}, nil
}

type initializeRequest struct {
	Email       string            `json:"email"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// CreateCheckout initializes a hosted payment page. The charge.success event
// for it carries our reference.
func (c *Client) CreateCheckout(ctx context.Context, req providers.CheckoutRequest) (*providers.Checkout, error) {
	var data initializeData
	err := c.do(ctx, http.MethodPost, "/transaction/initialize", initializeRequest{
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		CallbackURL: c.cfg.CallbackURL,
		Metadata:    map[string]string{"user_id": strconv.FormatUint(uint64(req.UserID), 10)},
	}, &data)
	if err != nil {
		return nil, err
	}
	return &providers.Checkout{ProviderReference: data.AccessCode, RedirectURL: data.AuthorizationURL}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("paystack: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("paystack: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("path", req.URL.Path), zap.Error(err))
		return providers.TransportError(models.ProviderPaystack, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return providers.TransportError(models.ProviderPaystack, err)
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", errNotFound, providers.StatusError(models.ProviderPaystack, resp.StatusCode, env.Message))
	}
	if resp.StatusCode >= 300 {
		return providers.StatusError(models.ProviderPaystack, resp.StatusCode, env.Message)
	}
	if decodeErr != nil {
		return providers.TransportError(models.ProviderPaystack, fmt.Errorf("decode response: %w", decodeErr))
	}
	if !env.Status {
		return apperrors.Wrap(apperrors.ErrProviderRejected, "paystack: %s", env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return providers.TransportError(models.ProviderPaystack, fmt.Errorf("decode response data: %w", err))
		}
	}
	return nil
}
