package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "fxwallet/internal/errors"
	"fxwallet/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferenceQuery locates a transaction by the correlation reference a
// provider echoes back. UserID narrows the lookup to the owner when known.
type ReferenceQuery struct {
	Reference string
	Provider  string
	UserID    *uint
}

// TransactionRepository defines the transaction store operations.
type TransactionRepository interface {
	// CreateOrFetch is the idempotency guard: it inserts tx unless a row with the
	// same (user_id, idempotency_key) exists, in which case that row is returned
	// unchanged and created is false.
	CreateOrFetch(ctx context.Context, tx *models.Transaction) (stored *models.Transaction, created bool, err error)
	GetByID(ctx context.Context, id uint) (*models.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, userID uint, key string) (*models.Transaction, error)
	GetForUser(ctx context.Context, userID uint, reference string) (*models.Transaction, error)
	FindByReference(ctx context.Context, q ReferenceQuery) (*models.Transaction, error)
	FindByProviderReference(ctx context.Context, provider, providerRef string, userID *uint) (*models.Transaction, error)
	LockByID(ctx context.Context, id uint) (*models.Transaction, error)
	Save(ctx context.Context, tx *models.Transaction) error
	ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, int64, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)
}

type transactionRepository struct {
	db *gorm.DB
}

func (r *transactionRepository) CreateOrFetch(ctx context.Context, tx *models.Transaction) (*models.Transaction, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(tx)
	if result.Error != nil {
		return nil, false, fmt.Errorf("failed to create transaction: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return tx, true, nil
	}

	existing, err := r.GetByIdempotencyKey(ctx, tx.UserID, tx.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *transactionRepository) GetByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).First(&tx, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (r *transactionRepository) GetByIdempotencyKey(ctx context.Context, userID uint, key string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&tx).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (r *transactionRepository) GetForUser(ctx context.Context, userID uint, reference string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND reference = ?", userID, reference).
		Order("id").
		First(&tx).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

// FindByReference expects exactly one match. A reference shared by several
// rows for the same provider is reported as an inconsistency, never guessed at.
func (r *transactionRepository) FindByReference(ctx context.Context, q ReferenceQuery) (*models.Transaction, error) {
	query := r.db.WithContext(ctx).Where("reference = ?", q.Reference)
	if q.Provider != "" {
		query = query.Where("provider = ?", q.Provider)
	}
	if q.UserID != nil {
		query = query.Where("user_id = ?", *q.UserID)
	}

	var txs []models.Transaction
	if err := query.Limit(2).Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	switch len(txs) {
	case 0:
		return nil, apperrors.Wrap(apperrors.ErrTransactionNotFound, "reference %s", q.Reference)
	case 1:
		return &txs[0], nil
	default:
		return nil, apperrors.Wrap(apperrors.ErrInternalInconsistency, "reference %s matches several transactions", q.Reference)
	}
}

func (r *transactionRepository) FindByProviderReference(ctx context.Context, provider, providerRef string, userID *uint) (*models.Transaction, error) {
	query := r.db.WithContext(ctx).Where("provider = ? AND provider_reference = ?", provider, providerRef)
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	var tx models.Transaction
	if err := query.First(&tx).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

func (r *transactionRepository) LockByID(ctx context.Context, id uint) (*models.Transaction, error) {
	var tx models.Transaction
	if err := r.db.WithContext(ctx).Clauses(forUpdate).First(&tx, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &tx, nil
}

// Save persists the mutable columns. Amount, currency, owner, intent and the
// idempotency key are fixed at creation.
func (r *transactionRepository) Save(ctx context.Context, tx *models.Transaction) error {
	err := r.db.WithContext(ctx).
		Model(tx).
		Select("State", "ProviderReference", "Metadata", "UpdatedAt").
		Updates(tx).Error
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return nil
}

func (r *transactionRepository) ListByUser(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, int64, error) {
	var (
		txs   []models.Transaction
		total int64
	)
	base := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&txs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	return txs, total, nil
}

func (r *transactionRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("state IN ? AND created_at < ?", []string{models.StatePending, models.StateRequiresAction}, before).
		Order("created_at").
		Limit(limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list pending transactions: %w", err)
	}
	return txs, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrTransactionNotFound
	}
	return fmt.Errorf("failed to get transaction: %w", err)
}
