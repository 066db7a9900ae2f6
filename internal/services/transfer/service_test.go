package transfer

import (
	"context"
	"fmt"
	"sync"
	"testing"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/repositories/repotest"
	"fxwallet/internal/services/wallet"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInternal(t *testing.T) (*Service, *wallet.Service) {
	t.Helper()
	wallets := wallet.NewService(repotest.NewStore(t), nil, nil)
	return NewService(wallets, Options{}), wallets
}

func balanceOf(t *testing.T, wallets *wallet.Service, userID uint, currency string) int64 {
	t.Helper()
	w, err := wallets.GetBalance(context.Background(), userID, currency)
	require.NoError(t, err)
	return w.Balance
}

func TestService_Transfer(t *testing.T) {
	svc, wallets := newInternal(t)
	ctx := context.Background()
	repotest.Fund(t, svc.store, 1, "USD", 10_000)

	res, err := svc.Transfer(ctx, InternalRequest{
		SenderID:       1,
		RecipientID:    2,
		Amount:         2500,
		Currency:       "usd",
		IdempotencyKey: "t1",
		Description:    "rent",
	})
	require.NoError(t, err)
	require.NotNil(t, res.Credit)
	assert.False(t, res.Replayed)

	assert.Equal(t, res.Debit.Reference, res.Credit.Reference)
	assert.Equal(t, int64(-2500), res.Debit.Amount)
	assert.Equal(t, int64(2500), res.Credit.Amount)
	assert.Equal(t, models.StateCompleted, res.Debit.State)
	assert.Equal(t, models.StateCompleted, res.Credit.State)
	require.NotNil(t, res.Debit.CounterpartyID)
	assert.Equal(t, uint(2), *res.Debit.CounterpartyID)

	assert.Equal(t, int64(7500), balanceOf(t, wallets, 1, "USD"))
	assert.Equal(t, int64(2500), balanceOf(t, wallets, 2, "USD"))

	t.Run("replay with a different amount returns the first transfer", func(t *testing.T) {
		again, err := svc.Transfer(ctx, InternalRequest{
			SenderID:       1,
			RecipientID:    2,
			Amount:         9999,
			Currency:       "USD",
			IdempotencyKey: "t1",
		})
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, res.Debit.ID, again.Debit.ID)
		assert.Equal(t, int64(-2500), again.Debit.Amount)
		assert.Equal(t, int64(7500), balanceOf(t, wallets, 1, "USD"))

		entries, err := svc.store.Ledger.ListByTransaction(ctx, res.Debit.ID)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("recipient keys are independent of the sender's", func(t *testing.T) {
		_, err := svc.Transfer(ctx, InternalRequest{
			SenderID:       2,
			RecipientID:    1,
			Amount:         500,
			Currency:       "USD",
			IdempotencyKey: "t1",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(8000), balanceOf(t, wallets, 1, "USD"))
		assert.Equal(t, int64(2000), balanceOf(t, wallets, 2, "USD"))
	})

	t.Run("recipient cannot replay the credit leg with its key", func(t *testing.T) {
		_, err := svc.Transfer(ctx, InternalRequest{
			SenderID:       2,
			RecipientID:    1,
			Amount:         2500,
			Currency:       "USD",
			IdempotencyKey: creditKeyPrefix + res.Credit.Reference,
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Equal(t, int64(8000), balanceOf(t, wallets, 1, "USD"))
		assert.Equal(t, int64(2000), balanceOf(t, wallets, 2, "USD"))
	})
}

func TestService_TransferRejections(t *testing.T) {
	svc, wallets := newInternal(t)
	ctx := context.Background()
	repotest.Fund(t, svc.store, 1, "USD", 1000)

	tests := []struct {
		name    string
		req     InternalRequest
		wantErr error
	}{
		{
			name:    "insufficient funds",
			req:     InternalRequest{SenderID: 1, RecipientID: 2, Amount: 1001, Currency: "USD", IdempotencyKey: "a"},
			wantErr: apperrors.ErrInsufficientFunds,
		},
		{
			name:    "self transfer",
			req:     InternalRequest{SenderID: 1, RecipientID: 1, Amount: 10, Currency: "USD", IdempotencyKey: "b"},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "zero amount",
			req:     InternalRequest{SenderID: 1, RecipientID: 2, Amount: 0, Currency: "USD", IdempotencyKey: "c"},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "missing key",
			req:     InternalRequest{SenderID: 1, RecipientID: 2, Amount: 10, Currency: "USD"},
			wantErr: apperrors.ErrValidation,
		},
		{
			name:    "unknown currency",
			req:     InternalRequest{SenderID: 1, RecipientID: 2, Amount: 10, Currency: "XYZ", IdempotencyKey: "d"},
			wantErr: apperrors.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Transfer(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, int64(1000), balanceOf(t, wallets, 1, "USD"))
			assert.Equal(t, int64(0), balanceOf(t, wallets, 2, "USD"))
			_, err = svc.store.Transactions.GetByIdempotencyKey(ctx, 1, tt.req.IdempotencyKey)
			assert.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
		})
	}
}

func TestService_TransferOpposingDirections(t *testing.T) {
	svc, wallets := newInternal(t)
	ctx := context.Background()
	repotest.Fund(t, svc.store, 1, "EUR", 5000)
	repotest.Fund(t, svc.store, 2, "EUR", 5000)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Transfer(ctx, InternalRequest{SenderID: 1, RecipientID: 2, Amount: 100, Currency: "EUR", IdempotencyKey: fmt.Sprintf("ab-%d", i)})
			errs <- err
		}(i)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Transfer(ctx, InternalRequest{SenderID: 2, RecipientID: 1, Amount: 100, Currency: "EUR", IdempotencyKey: fmt.Sprintf("ba-%d", i)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(5000), balanceOf(t, wallets, 1, "EUR"))
	assert.Equal(t, int64(5000), balanceOf(t, wallets, 2, "EUR"))
	for _, user := range []uint{1, 2} {
		w, err := wallets.GetBalance(ctx, user, "EUR")
		require.NoError(t, err)
		rec, err := wallets.ReconcileWallet(ctx, w.ID)
		require.NoError(t, err)
		assert.True(t, rec.Balanced)
	}
}
