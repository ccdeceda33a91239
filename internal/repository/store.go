package repository

import (
	"context"
	"errors"
	"time"

	"corebank/internal/model"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCodeNotFound        = errors.New("authorization code not found")
	ErrDuplicate           = errors.New("unique constraint violated")
	ErrLockTimeout         = errors.New("lock wait timeout")
	ErrStatusConflict      = errors.New("row not in expected status")
)

// Reader is the non-locking read side of the store.
type Reader interface {
	GetAccount(ctx context.Context, id int64) (*model.Account, error)
	GetAccountByUserID(ctx context.Context, userID int64) (*model.Account, error)
	FindAccountByNumber(ctx context.Context, number string) (*model.Account, error)
	ListAccounts(ctx context.Context, afterID int64, limit int) ([]*model.Account, error)

	GetTransactionByReference(ctx context.Context, reference string) (*model.Transaction, error)
	ListTransactions(ctx context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error)
	LatestTransaction(ctx context.Context, accountID int64) (*model.Transaction, error)
	SumDebitsSince(ctx context.Context, accountID int64, since time.Time) (int64, error)

	GetCode(ctx context.Context, code string) (*model.AuthorizationCode, error)

	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id int64) error
	RecordOutboxFailure(ctx context.Context, id int64, maxRetries int) error
}

// Tx is a unit of work. Every Lock* call takes an exclusive row lock held
// until the unit of work ends; a lock that cannot be taken within the store's
// lock timeout fails with ErrLockTimeout and nothing is applied.
type Tx interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	// LockAccounts locks the rows in ascending id order regardless of argument order.
	LockAccounts(ctx context.Context, ids ...int64) (map[int64]*model.Account, error)
	FindAccountByNumber(ctx context.Context, number string) (*model.Account, error)
	UpdateAccount(ctx context.Context, account *model.Account) error

	CreateTransaction(ctx context.Context, trans *model.Transaction) error
	LockTransaction(ctx context.Context, reference string) (*model.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, id int64, fromStatus, toStatus string) error
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*model.Transaction, error)
	SumDebitsSince(ctx context.Context, accountID int64, since time.Time) (int64, error)

	CreateCode(ctx context.Context, code *model.AuthorizationCode) error
	LockCode(ctx context.Context, code string) (*model.AuthorizationCode, error)
	UpdateCode(ctx context.Context, code *model.AuthorizationCode) error

	CreateOutbox(ctx context.Context, msg *model.OutboxMessage) error
}

// Store runs units of work. If fn returns an error every write made through
// tx is discarded.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(tx Tx) error) error
}
