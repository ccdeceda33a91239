// Package memory is an in-process repository.Store. It keeps the guarantees
// the engine relies on from MySQL: exclusive row locks with a bounded wait,
// unique constraints, and all-or-nothing commit of a unit of work.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"corebank/internal/model"
	"corebank/internal/repository"
)

const DefaultLockTimeout = 3 * time.Second

type Store struct {
	mu sync.RWMutex

	nextAccountID int64
	nextTxnID     int64
	nextCodeID    int64
	nextOutboxID  int64

	accounts map[int64]*model.Account
	txns     []*model.Transaction // id order
	codes    map[string]*model.AuthorizationCode
	outbox   []*model.OutboxMessage

	locks       *rowLocks
	lockTimeout time.Duration
	now         func() time.Time
}

func NewStore(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		accounts:    make(map[int64]*model.Account),
		codes:       make(map[string]*model.AuthorizationCode),
		locks:       newRowLocks(),
		lockTimeout: lockTimeout,
		now:         time.Now,
	}
}

var _ repository.Store = (*Store)(nil)

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	t := newTx(s)
	defer t.release()

	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

// ============================================================================
// Reader
// ============================================================================

func (s *Store) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (s *Store) GetAccountByUserID(_ context.Context, userID int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.accounts {
		if a.UserID == userID {
			return cloneAccount(a), nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (s *Store) FindAccountByNumber(_ context.Context, number string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a := s.accountByNumberLocked(number); a != nil {
		return cloneAccount(a), nil
	}
	return nil, repository.ErrAccountNotFound
}

func (s *Store) ListAccounts(_ context.Context, afterID int64, limit int) ([]*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int64, 0, len(s.accounts))
	for id := range s.accounts {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]*model.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneAccount(s.accounts[id]))
	}
	return out, nil
}

func (s *Store) GetTransactionByReference(_ context.Context, reference string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t := s.txnByReferenceLocked(reference); t != nil {
		return cloneTransaction(t), nil
	}
	return nil, repository.ErrTransactionNotFound
}

func (s *Store) ListTransactions(_ context.Context, accountID int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []*model.Transaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].AccountID == accountID {
			matched = append(matched, s.txns[i])
		}
	}
	total := int64(len(matched))
	start := (page - 1) * pageSize
	if start < 0 || start >= len(matched) {
		return []*model.Transaction{}, total, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*model.Transaction, 0, end-start)
	for _, t := range matched[start:end] {
		out = append(out, cloneTransaction(t))
	}
	return out, total, nil
}

func (s *Store) LatestTransaction(_ context.Context, accountID int64) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.txns) - 1; i >= 0; i-- {
		if s.txns[i].AccountID == accountID {
			return cloneTransaction(s.txns[i]), nil
		}
	}
	return nil, nil
}

func (s *Store) SumDebitsSince(_ context.Context, accountID int64, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sumDebits(s.txns, nil, accountID, since), nil
}

func (s *Store) GetCode(_ context.Context, code string) (*model.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, repository.ErrCodeNotFound
	}
	return cloneCode(c), nil
}

func (s *Store) GetPendingMessages(_ context.Context, limit int) ([]*model.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.OutboxMessage
	for _, m := range s.outbox {
		if m.Status != model.OutboxStatusPending {
			continue
		}
		cp := *m
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkOutboxSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.ID == id {
			m.Status = model.OutboxStatusSent
			m.UpdatedAt = s.now()
			return nil
		}
	}
	return nil
}

func (s *Store) RecordOutboxFailure(_ context.Context, id int64, maxRetries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.outbox {
		if m.ID == id {
			m.RetryCount++
			if m.RetryCount >= maxRetries {
				m.Status = model.OutboxStatusFailed
			}
			m.UpdatedAt = s.now()
			return nil
		}
	}
	return nil
}

// Outbox returns a copy of every outbox row, for inspection.
func (s *Store) Outbox() []model.OutboxMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.OutboxMessage, 0, len(s.outbox))
	for _, m := range s.outbox {
		out = append(out, *m)
	}
	return out
}

// ============================================================================
// helpers (callers hold s.mu)
// ============================================================================

func (s *Store) accountByNumberLocked(number string) *model.Account {
	for _, a := range s.accounts {
		if a.AccountNumber == number {
			return a
		}
	}
	return nil
}

func (s *Store) txnByReferenceLocked(reference string) *model.Transaction {
	for _, t := range s.txns {
		if t.Reference == reference {
			return t
		}
	}
	return nil
}

func (s *Store) txnByIdempotencyKeyLocked(key string) *model.Transaction {
	for _, t := range s.txns {
		if t.IdempotencyKey != nil && *t.IdempotencyKey == key {
			return t
		}
	}
	return nil
}

// sumDebits totals completed withdrawal/transfer debits. overrides holds
// uncommitted status changes keyed by transaction id.
func sumDebits(txns []*model.Transaction, overrides map[int64]string, accountID int64, since time.Time) int64 {
	var total int64
	for _, t := range txns {
		status := t.Status
		if st, ok := overrides[t.ID]; ok {
			status = st
		}
		if t.AccountID != accountID || t.Direction != model.DirectionDebit || status != model.TransactionStatusCompleted {
			continue
		}
		if t.Type != model.TransactionTypeWithdrawal && t.Type != model.TransactionTypeTransfer {
			continue
		}
		if t.CreatedAt.Before(since) {
			continue
		}
		total += t.Amount
	}
	return total
}

func cloneAccount(a *model.Account) *model.Account {
	cp := *a
	return &cp
}

func cloneTransaction(t *model.Transaction) *model.Transaction {
	cp := *t
	return &cp
}

func cloneCode(c *model.AuthorizationCode) *model.AuthorizationCode {
	cp := *c
	return &cp
}

func duplicate(what, value string) error {
	return fmt.Errorf("%w: %s %q", repository.ErrDuplicate, what, value)
}
