package repository

import (
	"context"
	"database/sql"
	"time"

	"gorm.io/gorm"
)

// GormStore is the MySQL backed Store. Reads go through the embedded
// repositories bound to the root handle; InTx rebinds them to the transaction.
type GormStore struct {
	*AccountRepository
	*TransactionRepository
	*CodeRepository
	*OutboxRepository

	db          *gorm.DB
	lockTimeout time.Duration
}

func NewGormStore(db *gorm.DB, lockTimeout time.Duration) *GormStore {
	return &GormStore{
		AccountRepository:     NewAccountRepository(db),
		TransactionRepository: NewTransactionRepository(db),
		CodeRepository:        NewCodeRepository(db),
		OutboxRepository:      NewOutboxRepository(db),
		db:                    db,
		lockTimeout:           lockTimeout,
	}
}

type gormTx struct {
	*AccountRepository
	*TransactionRepository
	*CodeRepository
	*OutboxRepository
}

var (
	_ Store = (*GormStore)(nil)
	_ Tx    = (*gormTx)(nil)
)

// txOptions makes every plain read inside a unit see rows committed before
// it, not the snapshot taken by the unit's first read. The daily limit sum
// runs after the account row lock and must include debits committed while
// the unit waited for it.
var txOptions = &sql.TxOptions{Isolation: sql.LevelReadCommitted}

func (s *GormStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.lockTimeout > 0 {
			// innodb_lock_wait_timeout has one second granularity
			secs := int((s.lockTimeout + time.Second - 1) / time.Second)
			if err := tx.Exec("SET SESSION innodb_lock_wait_timeout = ?", secs).Error; err != nil {
				return err
			}
		}
		return fn(&gormTx{
			AccountRepository:     NewAccountRepository(tx),
			TransactionRepository: NewTransactionRepository(tx),
			CodeRepository:        NewCodeRepository(tx),
			OutboxRepository:      NewOutboxRepository(tx),
		})
	}, txOptions)
	return translateError(err)
}
