// Package handlers is the HTTP surface. Handlers parse input, convert
// amounts to minor units once, and leave every decision to the services.
package handlers

import (
	"errors"
	"strings"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/middleware"
	"fxwallet/internal/models"
	"fxwallet/internal/money"

	"github.com/gofiber/fiber/v2"
)

// IdempotencyHeader carries the caller's key for a mutating request. A key
// in the body is used when the header is absent.
const IdempotencyHeader = "Idempotency-Key"

var errNoClaims = errors.New("no authenticated user on request")

func currentClaims(c *fiber.Ctx) (*models.UserClaims, error) {
	claims, ok := middleware.Claims(c)
	if !ok {
		return nil, errNoClaims
	}
	return claims, nil
}

func currentUser(c *fiber.Ctx) (uint, error) {
	claims, err := currentClaims(c)
	if err != nil {
		return 0, err
	}
	return claims.UserID, nil
}

func idempotencyKey(c *fiber.Ctx, fromBody string) (string, error) {
	key := strings.TrimSpace(c.Get(IdempotencyHeader))
	if key == "" {
		key = strings.TrimSpace(fromBody)
	}
	if key == "" {
		return "", apperrors.Wrap(apperrors.ErrValidation, "%s header is required", IdempotencyHeader)
	}
	if len(key) > 255 {
		return "", apperrors.Wrap(apperrors.ErrValidation, "idempotency key too long")
	}
	return key, nil
}

// minorAmount is the one place a request amount leaves floating point.
func minorAmount(amount float64, currency string) (int64, error) {
	if amount <= 0 {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "amount must be greater than 0")
	}
	return money.ToMinor(amount, currency)
}

// Amount is a minor-unit value rendered for clients.
type Amount struct {
	Minor    int64  `json:"minor"`
	Display  string `json:"display"`
	Currency string `json:"currency"`
}

func amountOf(minor int64, currency string) Amount {
	return Amount{Minor: minor, Display: money.FormatMinor(minor, currency), Currency: currency}
}
