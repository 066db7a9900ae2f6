package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainErrorMatching(t *testing.T) {
	wrapped := Wrap(ErrInsufficientFunds, "wallet %d has %d", 7, 10)

	assert.True(t, stderrors.Is(wrapped, ErrInsufficientFunds))
	assert.False(t, stderrors.Is(wrapped, ErrValidation))
	assert.Equal(t, "INSUFFICIENT_FUNDS", Code(wrapped))
	assert.Contains(t, wrapped.Error(), "wallet 7 has 10")

	doubly := fmt.Errorf("transfer: %w", wrapped)
	assert.True(t, Is(doubly, ErrInsufficientFunds))
	assert.Equal(t, "", Code(stderrors.New("plain")))
}
