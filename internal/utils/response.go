package utils

import (
	apperrors "fxwallet/internal/errors"

	"github.com/gofiber/fiber/v2"
)

// Respond sends a JSON response with the specified status code.
func Respond(c *fiber.Ctx, status int, data interface{}) error {
	return c.Status(status).JSON(data)
}

// Success sends a successful JSON response.
func Success(c *fiber.Ctx, data interface{}) error {
	return Respond(c, fiber.StatusOK, data)
}

// Created sends a JSON response with status 201.
func Created(c *fiber.Ctx, data interface{}) error {
	return Respond(c, fiber.StatusCreated, data)
}

// Accepted sends a JSON response with status 202.
func Accepted(c *fiber.Ctx, data interface{}) error {
	return Respond(c, fiber.StatusAccepted, data)
}

// BadRequest sends a JSON error response with status 400.
func BadRequest(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusBadRequest, fiber.Map{"error": message, "code": apperrors.ErrValidation.Code})
}

// Unauthorized sends a JSON error response with status 401.
func Unauthorized(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusUnauthorized, fiber.Map{"error": message})
}

// Forbidden sends a JSON error response with status 403.
func Forbidden(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusForbidden, fiber.Map{"error": message})
}

// NotFound sends a JSON error response with status 404.
func NotFound(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusNotFound, fiber.Map{"error": message})
}

// InternalError sends a JSON error response with status 500.
func InternalError(c *fiber.Ctx, message string) error {
	return Respond(c, fiber.StatusInternalServerError, fiber.Map{"error": message})
}

var statusByCode = map[string]int{
	apperrors.ErrValidation.Code:            fiber.StatusBadRequest,
	apperrors.ErrInsufficientFunds.Code:     fiber.StatusPaymentRequired,
	apperrors.ErrSignatureInvalid.Code:      fiber.StatusUnauthorized,
	apperrors.ErrInternalInconsistency.Code: fiber.StatusConflict,
	apperrors.ErrInvalidTransition.Code:     fiber.StatusConflict,
	apperrors.ErrProviderRejected.Code:      fiber.StatusBadGateway,
	apperrors.ErrProviderUnavailable.Code:   fiber.StatusServiceUnavailable,
	apperrors.ErrConversionUnavailable.Code: fiber.StatusServiceUnavailable,
	apperrors.ErrRateOutOfBand.Code:         fiber.StatusServiceUnavailable,
	apperrors.ErrWalletNotFound.Code:        fiber.StatusNotFound,
	apperrors.ErrTransactionNotFound.Code:   fiber.StatusNotFound,
	apperrors.ErrUnknownProvider.Code:       fiber.StatusNotFound,
}

// StatusFor maps a domain error to its HTTP status. Unclassified errors are 500.
func StatusFor(err error) int {
	if status, ok := statusByCode[apperrors.Code(err)]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// Error sends err with the status its class maps to. Unclassified errors
// are reported without detail.
func Error(c *fiber.Ctx, err error) error {
	code := apperrors.Code(err)
	if code == "" {
		return InternalError(c, "internal server error")
	}
	return Respond(c, StatusFor(err), fiber.Map{"error": err.Error(), "code": code})
}
