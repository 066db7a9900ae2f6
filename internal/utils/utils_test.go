package utils

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.Wrap(apperrors.ErrValidation, "amount"), fiber.StatusBadRequest},
		{apperrors.ErrInsufficientFunds, fiber.StatusPaymentRequired},
		{apperrors.ErrSignatureInvalid, fiber.StatusUnauthorized},
		{apperrors.ErrInternalInconsistency, fiber.StatusConflict},
		{apperrors.ErrProviderRejected, fiber.StatusBadGateway},
		{apperrors.ErrProviderUnavailable, fiber.StatusServiceUnavailable},
		{apperrors.ErrTransactionNotFound, fiber.StatusNotFound},
		{fmt.Errorf("disk full"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestToken(t *testing.T) {
	claims := &models.UserClaims{UserID: 7, Email: "a@b.c", Role: "user", Permissions: []string{models.PermissionWalletRead}}

	token, err := GenerateToken("s3cret", claims, time.Minute)
	require.NoError(t, err)

	parsed, err := ParseToken("s3cret", token)
	require.NoError(t, err)
	assert.Equal(t, uint(7), parsed.UserID)
	assert.True(t, parsed.HasPermission(models.PermissionWalletRead))

	_, err = ParseToken("other", token)
	assert.Error(t, err)

	expired, err := GenerateToken("s3cret", claims, -time.Minute)
	require.NoError(t, err)
	_, err = ParseToken("s3cret", expired)
	assert.Error(t, err)
}

func TestGetPagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", 20, 0},
		{"?page=3&limit=10", 10, 20},
		{"?page=0&limit=-1", 20, 0},
		{"?limit=500", 100, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			app := fiber.New()
			var got Pagination
			app.Get("/", func(c *fiber.Ctx) error {
				got = GetPagination(c, 20, 100)
				return nil
			})
			_, err := app.Test(httptest.NewRequest("GET", "/"+tt.query, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, got.Limit)
			assert.Equal(t, tt.wantOffset, got.Offset)
		})
	}

	p := Pagination{Limit: 20}
	p.SetTotal(41)
	assert.Equal(t, 3, p.LastPage)
}
