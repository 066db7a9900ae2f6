package handlers

import (
	"context"

	"fxwallet/internal/models"
	"fxwallet/internal/money"
	"fxwallet/internal/services/topup"
	"fxwallet/internal/utils"

	"github.com/gofiber/fiber/v2"
)

type TopUpService interface {
	InitiateTopUp(ctx context.Context, req topup.Request) (*topup.Result, error)
}

type CaptureService interface {
	CapturePayPal(ctx context.Context, userID uint, orderID string) (*models.Transaction, error)
}

type TopUpHandler struct {
	topUpService   TopUpService
	captureService CaptureService
}

func NewTopUpHandler(topUpService TopUpService, captureService CaptureService) *TopUpHandler {
	return &TopUpHandler{topUpService: topUpService, captureService: captureService}
}

func (h *TopUpHandler) Initiate(c *fiber.Ctx) error {
	claims, err := currentClaims(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		Provider       string  `json:"provider"`
		Amount         float64 `json:"amount"`
		Currency       string  `json:"currency"`
		Description    string  `json:"description"`
		IdempotencyKey string  `json:"idempotency_key"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	key, err := idempotencyKey(c, input.IdempotencyKey)
	if err != nil {
		return utils.Error(c, err)
	}
	currency, err := money.Currency(input.Currency)
	if err != nil {
		return utils.Error(c, err)
	}
	amount, err := minorAmount(input.Amount, currency)
	if err != nil {
		return utils.Error(c, err)
	}

	res, err := h.topUpService.InitiateTopUp(c.UserContext(), topup.Request{
		UserID:         claims.UserID,
		Provider:       input.Provider,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: key,
		Email:          claims.Email,
		Description:    input.Description,
	})
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Accepted(c, fiber.Map{
		"transaction":        res.Transaction,
		"amount":             amountOf(res.Transaction.Amount, res.Transaction.Currency),
		"provider_reference": res.ProviderReference,
		"redirect_url":       res.RedirectURL,
		"replayed":           res.Replayed,
	})
}

// CapturePayPal settles an order the user approved on PayPal.
func (h *TopUpHandler) CapturePayPal(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	txn, err := h.captureService.CapturePayPal(c.UserContext(), userID, c.Params("orderID"))
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Success(c, fiber.Map{
		"transaction": txn,
		"amount":      amountOf(txn.Amount, txn.Currency),
	})
}
