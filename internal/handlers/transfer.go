package handlers

import (
	"context"

	"fxwallet/internal/money"
	"fxwallet/internal/services/transfer"
	"fxwallet/internal/utils"

	"github.com/gofiber/fiber/v2"
)

type TransferService interface {
	Transfer(ctx context.Context, req transfer.InternalRequest) (*transfer.InternalResult, error)
	Withdraw(ctx context.Context, req transfer.ExternalRequest) (*transfer.ExternalResult, error)
}

type TransferHandler struct {
	transferService TransferService
}

func NewTransferHandler(transferService TransferService) *TransferHandler {
	return &TransferHandler{transferService: transferService}
}

func (h *TransferHandler) Transfer(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		RecipientID    uint    `json:"recipient_id"`
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

	res, err := h.transferService.Transfer(c.UserContext(), transfer.InternalRequest{
		SenderID:       userID,
		RecipientID:    input.RecipientID,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: key,
		Description:    input.Description,
	})
	if err != nil {
		return utils.Error(c, err)
	}
	status := fiber.StatusCreated
	if res.Replayed {
		status = fiber.StatusOK
	}
	return utils.Respond(c, status, fiber.Map{
		"transaction": res.Debit,
		"amount":      amountOf(res.Debit.Amount, res.Debit.Currency),
		"replayed":    res.Replayed,
	})
}

// Withdraw answers 202: the payout is reserved and waits on the rail.
func (h *TransferHandler) Withdraw(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		Provider       string  `json:"provider"`
		BankCode       string  `json:"bank_code"`
		AccountNumber  string  `json:"account_number"`
		Amount         float64 `json:"amount"`
		Currency       string  `json:"currency"`
		Reason         string  `json:"reason"`
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

	res, err := h.transferService.Withdraw(c.UserContext(), transfer.ExternalRequest{
		UserID:         userID,
		Provider:       input.Provider,
		BankCode:       input.BankCode,
		AccountNumber:  input.AccountNumber,
		Amount:         amount,
		Currency:       currency,
		IdempotencyKey: key,
		Reason:         input.Reason,
	})
	if err != nil {
		return utils.Error(c, err)
	}
	return utils.Accepted(c, fiber.Map{
		"transaction": res.Transaction,
		"amount":      amountOf(res.Transaction.Amount, res.Transaction.Currency),
		"accepted":    res.Accepted,
		"replayed":    res.Replayed,
	})
}
