package repository

import (
	"context"
	"errors"

	"corebank/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CodeRepository struct {
	db *gorm.DB
}

func NewCodeRepository(db *gorm.DB) *CodeRepository {
	return &CodeRepository{db: db}
}

// CreateCode relies on the unique index on code; a collision surfaces as ErrDuplicate.
func (r *CodeRepository) CreateCode(ctx context.Context, code *model.AuthorizationCode) error {
	return translateError(r.db.WithContext(ctx).Create(code).Error)
}

func (r *CodeRepository) GetCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	return r.first(ctx, r.db, code)
}

func (r *CodeRepository) LockCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	return r.first(ctx, r.db.Clauses(clause.Locking{Strength: "UPDATE"}), code)
}

func (r *CodeRepository) UpdateCode(ctx context.Context, code *model.AuthorizationCode) error {
	result := r.db.WithContext(ctx).
		Model(&model.AuthorizationCode{}).
		Where("id = ?", code.ID).
		Updates(map[string]interface{}{
			"used":            code.Used,
			"used_at":         code.UsedAt,
			"used_by":         code.UsedBy,
			"transaction_ref": code.TransactionRef,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCodeNotFound
	}
	return nil
}

func (r *CodeRepository) first(ctx context.Context, db *gorm.DB, code string) (*model.AuthorizationCode, error) {
	var c model.AuthorizationCode
	err := db.WithContext(ctx).Where("code = ?", code).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, translateError(err)
	}
	return &c, nil
}
