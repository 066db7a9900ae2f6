package handlers

import (
	"context"

	"fxwallet/internal/money"
	"fxwallet/internal/services/conversion"
	"fxwallet/internal/utils"

	"github.com/gofiber/fiber/v2"
)

type ConversionService interface {
	Convert(ctx context.Context, req conversion.Request) (*conversion.Result, error)
}

type ConversionHandler struct {
	conversionService ConversionService
}

func NewConversionHandler(conversionService ConversionService) *ConversionHandler {
	return &ConversionHandler{conversionService: conversionService}
}

func (h *ConversionHandler) Convert(c *fiber.Ctx) error {
	userID, err := currentUser(c)
	if err != nil {
		return utils.Unauthorized(c, "invalid claims")
	}

	var input struct {
		From           string  `json:"from_currency"`
		To             string  `json:"to_currency"`
		Amount         float64 `json:"amount"`
		IdempotencyKey string  `json:"idempotency_key"`
	}
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "invalid request format")
	}
	key, err := idempotencyKey(c, input.IdempotencyKey)
	if err != nil {
		return utils.Error(c, err)
	}
	from, err := money.Currency(input.From)
	if err != nil {
		return utils.Error(c, err)
	}
	amount, err := minorAmount(input.Amount, from)
	if err != nil {
		return utils.Error(c, err)
	}

	res, err := h.conversionService.Convert(c.UserContext(), conversion.Request{
		UserID:         userID,
		From:           from,
		To:             input.To,
		Amount:         amount,
		IdempotencyKey: key,
	})
	if err != nil {
		return utils.Error(c, err)
	}
	status := fiber.StatusCreated
	if res.Replayed {
		status = fiber.StatusOK
	}
	return utils.Respond(c, status, fiber.Map{
		"conversion": res,
		"debited":    amountOf(res.Amount, res.From),
		"credited":   amountOf(res.Converted, res.To),
		"fee":        amountOf(res.Fee, res.To),
	})
}
