package repositories

import (
	"context"
	"errors"
	"fmt"
	"sort"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletRepository defines the wallet operations. Only the wallet service may
// call AddBalance, and only while holding the row lock from LockByIDs.
type WalletRepository interface {
	GetOrCreate(ctx context.Context, userID uint, currency string) (*models.Wallet, error)
	Get(ctx context.Context, userID uint, currency string) (*models.Wallet, error)
	GetByID(ctx context.Context, id uint) (*models.Wallet, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Wallet, error)
	LockByIDs(ctx context.Context, ids ...uint) (map[uint]*models.Wallet, error)
	AddBalance(ctx context.Context, walletID uint, delta int64) error
}

type walletRepository struct {
	db *gorm.DB
}

// GetOrCreate returns the user's wallet in currency, creating an empty one on
// first use. Concurrent creators race on the (user_id, currency) index and the
// loser reads the winner's row.
func (r *walletRepository) GetOrCreate(ctx context.Context, userID uint, currency string) (*models.Wallet, error) {
	wallet := &models.Wallet{UserID: userID, Currency: currency}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "currency"}},
			DoNothing: true,
		}).
		Create(wallet).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return r.Get(ctx, userID, currency)
}

func (r *walletRepository) Get(ctx context.Context, userID uint, currency string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND currency = ?", userID, currency).
		First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) GetByID(ctx context.Context, id uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.WithContext(ctx).First(&wallet, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

func (r *walletRepository) ListByUser(ctx context.Context, userID uint) ([]models.Wallet, error) {
	var wallets []models.Wallet
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("currency").
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}

// LockByIDs takes FOR UPDATE locks on the given wallets one row at a time in
// ascending id order. Every multi-wallet operation goes through here, so two
// transfers between the same pair of wallets never wait on each other in a cycle.
func (r *walletRepository) LockByIDs(ctx context.Context, ids ...uint) (map[uint]*models.Wallet, error) {
	ordered := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	locked := make(map[uint]*models.Wallet, len(ordered))
	for _, id := range ordered {
		var wallet models.Wallet
		err := r.db.WithContext(ctx).Clauses(forUpdate).First(&wallet, id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperrors.Wrap(apperrors.ErrWalletNotFound, "wallet %d", id)
			}
			return nil, fmt.Errorf("failed to lock wallet %d: %w", id, err)
		}
		locked[id] = &wallet
	}
	return locked, nil
}

func (r *walletRepository) AddBalance(ctx context.Context, walletID uint, delta int64) error {
	result := r.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Update("balance", gorm.Expr("balance + ?", delta))
	if result.Error != nil {
		return fmt.Errorf("failed to update wallet balance: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrWalletNotFound
	}
	return nil
}
