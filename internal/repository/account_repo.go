package repository

import (
	"context"
	"errors"
	"sort"

	"corebank/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) CreateAccount(ctx context.Context, account *model.Account) error {
	return translateError(r.db.WithContext(ctx).Create(account).Error)
}

func (r *AccountRepository) GetAccount(ctx context.Context, id int64) (*model.Account, error) {
	return r.first(ctx, r.db, "id = ?", id)
}

func (r *AccountRepository) GetAccountByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	return r.first(ctx, r.db, "user_id = ?", userID)
}

func (r *AccountRepository) FindAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	return r.first(ctx, r.db, "account_number = ?", number)
}

func (r *AccountRepository) ListAccounts(ctx context.Context, afterID int64, limit int) ([]*model.Account, error) {
	var accounts []*model.Account
	err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// LockAccounts takes SELECT ... FOR UPDATE on each row, one at a time in
// ascending id order, so two transfers between the same pair of accounts
// always queue on the same first row.
func (r *AccountRepository) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*model.Account, error) {
	ordered := uniqueSorted(ids)
	locked := make(map[int64]*model.Account, len(ordered))
	for _, id := range ordered {
		account, err := r.first(ctx, r.db.Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
		if err != nil {
			return nil, err
		}
		locked[id] = account
	}
	return locked, nil
}

func (r *AccountRepository) UpdateAccount(ctx context.Context, account *model.Account) error {
	result := r.db.WithContext(ctx).
		Model(&model.Account{}).
		Where("id = ?", account.ID).
		Updates(map[string]interface{}{
			"balance":        account.Balance,
			"ledger_balance": account.LedgerBalance,
			"status":         account.Status,
			"version":        account.Version,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *AccountRepository) first(ctx context.Context, db *gorm.DB, query string, arg interface{}) (*model.Account, error) {
	var account model.Account
	err := db.WithContext(ctx).Where(query, arg).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, translateError(err)
	}
	return &account, nil
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
