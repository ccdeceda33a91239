package repository

import (
	"context"
	"errors"
	"time"

	"corebank/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// debitTypes are the ledger rows counted against a daily limit.
var debitTypes = []string{model.TransactionTypeWithdrawal, model.TransactionTypeTransfer}

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) CreateTransaction(ctx context.Context, trans *model.Transaction) error {
	return translateError(r.db.WithContext(ctx).Create(trans).Error)
}

func (r *TransactionRepository) GetTransactionByReference(ctx context.Context, reference string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) LockTransaction(ctx context.Context, reference string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reference = ?", reference).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, translateError(err)
	}
	return &trans, nil
}

func (r *TransactionRepository) UpdateTransactionStatus(ctx context.Context, id int64, fromStatus, toStatus string) error {
	if !model.CanTransactionTransitionTo(fromStatus, toStatus) {
		return ErrStatusConflict
	}

	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Update("status", toStatus)
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrStatusConflict
	}
	return nil
}

// FindTransactionByIdempotencyKey returns nil, nil when the key is unused.
func (r *TransactionRepository) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, translateError(err)
	}
	return &trans, nil
}

func (r *TransactionRepository) ListTransactions(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	var transactions []*model.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.Transaction{}).Where("account_id = ?", accountID)

	err := query.Count(&total).Error
	if err != nil {
		return nil, 0, err
	}

	err = query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// LatestTransaction returns nil, nil for an account with no ledger rows.
func (r *TransactionRepository) LatestTransaction(ctx context.Context, accountID int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("id DESC").
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

func (r *TransactionRepository) SumDebitsSince(ctx context.Context, accountID int64, since time.Time) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("account_id = ? AND direction = ? AND status = ? AND type IN ? AND created_at >= ?",
			accountID, model.DirectionDebit, model.TransactionStatusCompleted, debitTypes, since).
		Scan(&total).Error
	return total, translateError(err)
}
