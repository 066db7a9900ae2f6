package transfer

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"
	"fxwallet/internal/providers"
	"fxwallet/internal/providers/paystack"
	"fxwallet/internal/repositories/cache"
	"fxwallet/internal/repositories/repotest"
	"fxwallet/internal/services/reconciliation"
	"fxwallet/internal/services/wallet"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPayoutGateway struct {
	mock.Mock
}

func (m *MockPayoutGateway) Provider() string { return models.ProviderPaystack }

func (m *MockPayoutGateway) ResolveAccount(ctx context.Context, bankCode, accountNumber string) (*providers.Account, error) {
	args := m.Called(ctx, bankCode, accountNumber)
	if a := args.Get(0); a != nil {
		return a.(*providers.Account), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPayoutGateway) InitiatePayout(ctx context.Context, req providers.PayoutRequest) (*providers.PayoutResult, error) {
	args := m.Called(ctx, req)
	if r := args.Get(0); r != nil {
		return r.(*providers.PayoutResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockPayoutGateway) LookupPayout(ctx context.Context, reference string) (*providers.PayoutResult, error) {
	args := m.Called(ctx, reference)
	if r := args.Get(0); r != nil {
		return r.(*providers.PayoutResult), args.Error(1)
	}
	return nil, args.Error(1)
}

var account = &providers.Account{BankCode: "058", AccountNumber: "0123456789", AccountName: "ADA OBI"}

type payoutFixture struct {
	svc      *Service
	wallets  *wallet.Service
	gateway  *MockPayoutGateway
	accounts *cache.AccountCache
}

func newPayoutFixture(t *testing.T) *payoutFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	accounts := cache.NewAccountCache(cache.NewCacheService(client, time.Minute), time.Hour)

	wallets := wallet.NewService(repotest.NewStore(t), nil, nil)
	gateway := &MockPayoutGateway{}
	svc := NewService(wallets, Options{
		Payouts:         []providers.PayoutGateway{gateway},
		Accounts:        accounts,
		Reconciler:      reconciliation.NewService(wallets, nil, nil, 0, nil, nil, nil),
		ProviderTimeout: 2 * time.Second,
	})
	repotest.Fund(t, wallets.Store(), 1, "NGN", 100_000)
	return &payoutFixture{svc: svc, wallets: wallets, gateway: gateway, accounts: accounts}
}

func withdrawal(key string, amount int64) ExternalRequest {
	return ExternalRequest{
		UserID:         1,
		BankCode:       account.BankCode,
		AccountNumber:  account.AccountNumber,
		Amount:         amount,
		Currency:       "NGN",
		IdempotencyKey: key,
		Reason:         "savings",
	}
}

func TestService_Withdraw(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()

	f.gateway.On("ResolveAccount", mock.Anything, "058", "0123456789").Return(account, nil).Once()
	f.gateway.On("InitiatePayout", mock.Anything, mock.MatchedBy(func(req providers.PayoutRequest) bool {
		return req.Amount == 40_000 && req.Currency == "NGN" && req.Account == *account
	})).Run(func(args mock.Arguments) {
		// Funds are reserved before the rail answers.
		assert.Equal(t, int64(60_000), balanceOf(t, f.wallets, 1, "NGN"))
		_, hasDeadline := args.Get(0).(context.Context).Deadline()
		assert.True(t, hasDeadline)
	}).Return(&providers.PayoutResult{ProviderReference: "TRF_abc", Status: "pending"}, nil).Once()

	res, err := f.svc.Withdraw(ctx, withdrawal("w1", 40_000))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, models.StatePending, res.Transaction.State)
	assert.Equal(t, "TRF_abc", res.Transaction.ProviderRef())
	assert.Equal(t, int64(-40_000), res.Transaction.Amount)
	assert.Equal(t, "ADA OBI", res.Transaction.Metadata.String(MetaAccountName))
	assert.Equal(t, int64(60_000), balanceOf(t, f.wallets, 1, "NGN"))

	cached, ok, err := f.accounts.Get(ctx, "058", "0123456789")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, account, cached)

	t.Run("replay does not call the rail again", func(t *testing.T) {
		again, err := f.svc.Withdraw(ctx, withdrawal("w1", 1))
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, res.Transaction.ID, again.Transaction.ID)
		assert.Equal(t, int64(60_000), balanceOf(t, f.wallets, 1, "NGN"))
	})

	t.Run("second payout uses the cached account", func(t *testing.T) {
		f.gateway.On("InitiatePayout", mock.Anything, mock.Anything).
			Return(&providers.PayoutResult{ProviderReference: "TRF_def", Status: "pending"}, nil).Once()
		_, err := f.svc.Withdraw(ctx, withdrawal("w2", 10_000))
		require.NoError(t, err)
		assert.Equal(t, int64(50_000), balanceOf(t, f.wallets, 1, "NGN"))
	})

	f.gateway.AssertExpectations(t)
}

func TestService_WithdrawDeclinedIsRefunded(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()

	f.gateway.On("ResolveAccount", mock.Anything, "058", "0123456789").Return(account, nil)
	f.gateway.On("InitiatePayout", mock.Anything, mock.Anything).
		Return(nil, apperrors.Wrap(apperrors.ErrProviderRejected, "paystack: 400 recipient invalid")).Once()

	_, err := f.svc.Withdraw(ctx, withdrawal("w1", 40_000))
	assert.ErrorIs(t, err, apperrors.ErrProviderRejected)
	assert.Equal(t, int64(100_000), balanceOf(t, f.wallets, 1, "NGN"))

	txn, err := f.svc.store.Transactions.GetByIdempotencyKey(ctx, 1, "w1")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, txn.State)
	assert.NotEmpty(t, txn.Metadata.String(reconciliation.MetaFailureReason))

	entries, err := f.svc.store.Ledger.ListByTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(-40_000), entries[0].Amount)
	assert.Equal(t, int64(40_000), entries[1].Amount)

	_, ok, err := f.accounts.Get(ctx, "058", "0123456789")
	require.NoError(t, err)
	assert.False(t, ok, "declined destination must not stay cached")

	t.Run("replay of a failed payout is returned as is", func(t *testing.T) {
		again, err := f.svc.Withdraw(ctx, withdrawal("w1", 40_000))
		require.NoError(t, err)
		assert.True(t, again.Replayed)
		assert.Equal(t, models.StateFailed, again.Transaction.State)
		f.gateway.AssertNumberOfCalls(t, "InitiatePayout", 1)
	})
}

func TestService_WithdrawUnavailableStaysPending(t *testing.T) {
	f := newPayoutFixture(t)
	ctx := context.Background()

	f.gateway.On("ResolveAccount", mock.Anything, "058", "0123456789").Return(account, nil).Once()
	f.gateway.On("InitiatePayout", mock.Anything, mock.Anything).
		Return(nil, providers.TransportError(models.ProviderPaystack, context.DeadlineExceeded)).Once()

	_, err := f.svc.Withdraw(ctx, withdrawal("w1", 40_000))
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	assert.Equal(t, int64(60_000), balanceOf(t, f.wallets, 1, "NGN"))

	txn, err := f.svc.store.Transactions.GetByIdempotencyKey(ctx, 1, "w1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, txn.State)
	assert.Nil(t, txn.ProviderReference)

	t.Run("replay retries the rail with the same reference", func(t *testing.T) {
		f.gateway.On("LookupPayout", mock.Anything, txn.Reference).Return(nil, nil).Once()
		f.gateway.On("InitiatePayout", mock.Anything, mock.MatchedBy(func(req providers.PayoutRequest) bool {
			return req.Reference == txn.Reference
		})).Return(&providers.PayoutResult{ProviderReference: "TRF_late", Status: "pending"}, nil).Once()

		res, err := f.svc.Withdraw(ctx, withdrawal("w1", 40_000))
		require.NoError(t, err)
		assert.True(t, res.Replayed)
		assert.True(t, res.Accepted)
		assert.Equal(t, "TRF_late", res.Transaction.ProviderRef())
		assert.Equal(t, int64(60_000), balanceOf(t, f.wallets, 1, "NGN"))
	})
}

func TestService_WithdrawRetryNeverRefunds(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(g *MockPayoutGateway, reference string)
		wantErr     error
		wantRef     string
		wantRetried bool
	}{
		{
			name: "earlier attempt found on the rail",
			setup: func(g *MockPayoutGateway, reference string) {
				g.On("LookupPayout", mock.Anything, reference).
					Return(&providers.PayoutResult{ProviderReference: "TRF_first", Status: "pending"}, nil).Once()
			},
			wantRef: "TRF_first",
		},
		{
			name: "resend rejected as a duplicate",
			setup: func(g *MockPayoutGateway, reference string) {
				g.On("LookupPayout", mock.Anything, reference).Return(nil, nil).Once()
				g.On("InitiatePayout", mock.Anything, mock.Anything).
					Return(nil, providers.StatusError(models.ProviderPaystack, 400, "Duplicate Transfer Reference")).Once()
			},
			wantErr:     apperrors.ErrProviderUnavailable,
			wantRetried: true,
		},
		{
			name: "lookup unavailable",
			setup: func(g *MockPayoutGateway, reference string) {
				g.On("LookupPayout", mock.Anything, reference).
					Return(nil, providers.TransportError(models.ProviderPaystack, context.DeadlineExceeded)).Once()
			},
			wantErr: apperrors.ErrProviderUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPayoutFixture(t)
			ctx := context.Background()

			f.gateway.On("ResolveAccount", mock.Anything, "058", "0123456789").Return(account, nil).Once()
			f.gateway.On("InitiatePayout", mock.Anything, mock.Anything).
				Return(nil, providers.TransportError(models.ProviderPaystack, context.DeadlineExceeded)).Once()
			_, err := f.svc.Withdraw(ctx, withdrawal("w1", 40_000))
			require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)

			pending, err := f.svc.store.Transactions.GetByIdempotencyKey(ctx, 1, "w1")
			require.NoError(t, err)
			tt.setup(f.gateway, pending.Reference)

			res, err := f.svc.Withdraw(ctx, withdrawal("w1", 40_000))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.False(t, apperrors.Is(err, apperrors.ErrProviderRejected))
			} else {
				require.NoError(t, err)
				assert.True(t, res.Replayed)
				assert.True(t, res.Accepted)
				assert.Equal(t, tt.wantRef, res.Transaction.ProviderRef())
			}

			stored, err := f.svc.store.Transactions.GetByID(ctx, pending.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatePending, stored.State)
			assert.Equal(t, int64(60_000), balanceOf(t, f.wallets, 1, "NGN"))

			entries, err := f.svc.store.Ledger.ListByTransaction(ctx, pending.ID)
			require.NoError(t, err)
			assert.Len(t, entries, 1)

			calls := 1
			if tt.wantRetried {
				calls = 2
			}
			f.gateway.AssertNumberOfCalls(t, "InitiatePayout", calls)
			f.gateway.AssertExpectations(t)
		})
	}
}

// Against the real rail client: the first transfer outlives the provider
// timeout, the resend is refused as a duplicate, and a later success webhook
// still settles the reservation.
func TestService_WithdrawSlowRailThenDuplicate(t *testing.T) {
	var transfers atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/bank/resolve":
			fmt.Fprint(w, `{"status":true,"message":"ok","data":{"account_number":"0123456789","account_name":"ADA OBI"}}`)
		case r.URL.Path == "/transferrecipient":
			fmt.Fprint(w, `{"status":true,"message":"ok","data":{"recipient_code":"RCP_1"}}`)
		case r.URL.Path == "/transfer":
			if transfers.Add(1) == 1 {
				time.Sleep(300 * time.Millisecond)
				fmt.Fprint(w, `{"status":true,"message":"queued","data":{"transfer_code":"TRF_1","status":"pending"}}`)
				return
			}
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"status":false,"message":"Duplicate Transfer Reference"}`)
		case strings.HasPrefix(r.URL.Path, "/transfer/verify/"):
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"status":false,"message":"Transfer not found"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	wallets := wallet.NewService(repotest.NewStore(t), nil, nil)
	recon := reconciliation.NewService(wallets, nil, nil, 0, nil, nil, nil)
	svc := NewService(wallets, Options{
		Payouts:         []providers.PayoutGateway{paystack.NewClient(paystack.Config{SecretKey: "sk_test", BaseURL: srv.URL}, nil)},
		Reconciler:      recon,
		ProviderTimeout: 100 * time.Millisecond,
	})
	repotest.Fund(t, wallets.Store(), 1, "NGN", 100_000)
	ctx := context.Background()

	_, err := svc.Withdraw(ctx, withdrawal("w1", 40_000))
	require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)

	_, err = svc.Withdraw(ctx, withdrawal("w1", 40_000))
	require.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
	assert.Equal(t, int32(2), transfers.Load())

	txn, err := svc.store.Transactions.GetByIdempotencyKey(ctx, 1, "w1")
	require.NoError(t, err)
	assert.Equal(t, models.StatePending, txn.State)
	assert.Equal(t, int64(60_000), balanceOf(t, wallets, 1, "NGN"))

	settled, err := recon.Apply(ctx, &providers.Event{
		ID:                "transfer.success:TRF_1",
		Provider:          models.ProviderPaystack,
		Type:              paystack.EventTransferSuccess,
		Reference:         txn.Reference,
		Amount:            40_000,
		HasAmount:         true,
		Currency:          "NGN",
		ProviderReference: "TRF_1",
	}, providers.OutcomeSucceeded)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, settled.State)
	assert.Equal(t, int64(60_000), balanceOf(t, wallets, 1, "NGN"))
}

func TestService_WithdrawRejectedBeforeReserving(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(g *MockPayoutGateway)
		req     ExternalRequest
		wantErr error
	}{
		{
			name: "insufficient funds",
			setup: func(g *MockPayoutGateway) {
				g.On("ResolveAccount", mock.Anything, mock.Anything, mock.Anything).Return(account, nil)
			},
			req:     withdrawal("w1", 100_001),
			wantErr: apperrors.ErrInsufficientFunds,
		},
		{
			name: "unknown account",
			setup: func(g *MockPayoutGateway) {
				g.On("ResolveAccount", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, apperrors.Wrap(apperrors.ErrProviderRejected, "paystack: 422 could not resolve"))
			},
			req:     withdrawal("w1", 1000),
			wantErr: apperrors.ErrValidation,
		},
		{
			name: "resolution unavailable",
			setup: func(g *MockPayoutGateway) {
				g.On("ResolveAccount", mock.Anything, mock.Anything, mock.Anything).
					Return(nil, apperrors.Wrap(apperrors.ErrProviderUnavailable, "paystack: 503"))
			},
			req:     withdrawal("w1", 1000),
			wantErr: apperrors.ErrProviderUnavailable,
		},
		{
			name:    "unknown rail",
			setup:   func(g *MockPayoutGateway) {},
			req:     func() ExternalRequest { r := withdrawal("w1", 1000); r.Provider = "stripe"; return r }(),
			wantErr: apperrors.ErrUnknownProvider,
		},
		{
			name:    "missing account number",
			setup:   func(g *MockPayoutGateway) {},
			req:     func() ExternalRequest { r := withdrawal("w1", 1000); r.AccountNumber = ""; return r }(),
			wantErr: apperrors.ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPayoutFixture(t)
			tt.setup(f.gateway)

			_, err := f.svc.Withdraw(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int64(100_000), balanceOf(t, f.wallets, 1, "NGN"))
			f.gateway.AssertNotCalled(t, "InitiatePayout", mock.Anything, mock.Anything)
		})
	}
}
