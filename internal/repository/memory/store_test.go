package memory

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"corebank/internal/model"
	"corebank/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createAccount(t *testing.T, s *Store, userID int64, number string) *model.Account {
	t.Helper()
	account := &model.Account{
		UserID:        userID,
		AccountNumber: number,
		AccountType:   model.AccountTypeCurrent,
		Currency:      "USD",
		Status:        model.AccountStatusActive,
	}
	require.NoError(t, s.InTx(context.Background(), func(tx repository.Tx) error {
		return tx.CreateAccount(context.Background(), account)
	}))
	return account
}

func TestRollbackDiscardsEveryWrite(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()
	a := createAccount(t, s, 1, "1000000001")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockAccounts(ctx, a.ID)
		if err != nil {
			return err
		}
		acc := locked[a.ID]
		acc.Balance = 500
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return err
		}
		if err := tx.CreateTransaction(ctx, &model.Transaction{Reference: "TXN-1", AccountID: a.ID, Amount: 500}); err != nil {
			return err
		}
		if err := tx.CreateOutbox(ctx, &model.OutboxMessage{EventID: "e1", MessageKey: "TXN-1", Topic: "t", Payload: "{}"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Balance)
	_, err = s.GetTransactionByReference(ctx, "TXN-1")
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
	assert.Empty(t, s.Outbox())

	// locks were released
	require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.LockAccounts(ctx, a.ID)
		return err
	}))
}

func TestStagedWritesVisibleInsideTx(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()
	a := createAccount(t, s, 1, "1000000001")

	err := s.InTx(ctx, func(tx repository.Tx) error {
		key := "idem-1"
		trans := &model.Transaction{
			Reference:      "TXN-1",
			AccountID:      a.ID,
			Type:           model.TransactionTypeWithdrawal,
			Direction:      model.DirectionDebit,
			Amount:         300,
			Status:         model.TransactionStatusCompleted,
			IdempotencyKey: &key,
			CreatedAt:      time.Now(),
		}
		require.NoError(t, tx.CreateTransaction(ctx, trans))

		found, err := tx.FindTransactionByIdempotencyKey(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, "TXN-1", found.Reference)

		sum, err := tx.SumDebitsSince(ctx, a.ID, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(300), sum)

		// reentrant: the row is already held by this unit of work
		_, err = tx.LockTransaction(ctx, "TXN-1")
		require.NoError(t, err)
		_, err = tx.LockTransaction(ctx, "TXN-1")
		require.NoError(t, err)

		require.NoError(t, tx.UpdateTransactionStatus(ctx, trans.ID, model.TransactionStatusCompleted, model.TransactionStatusReversed))
		sum, err = tx.SumDebitsSince(ctx, a.ID, time.Now().Add(-time.Minute))
		require.NoError(t, err)
		assert.Zero(t, sum)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetTransactionByReference(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionStatusReversed, got.Status)
}

func TestUpdateTransactionStatusConflict(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()
	a := createAccount(t, s, 1, "1000000001")

	trans := &model.Transaction{Reference: "TXN-1", AccountID: a.ID, Status: model.TransactionStatusCompleted}
	require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateTransaction(ctx, trans)
	}))

	move := func() error {
		return s.InTx(ctx, func(tx repository.Tx) error {
			return tx.UpdateTransactionStatus(ctx, trans.ID, model.TransactionStatusCompleted, model.TransactionStatusReversed)
		})
	}
	require.NoError(t, move())
	assert.ErrorIs(t, move(), repository.ErrStatusConflict)

	err := s.InTx(ctx, func(tx repository.Tx) error {
		return tx.UpdateTransactionStatus(ctx, 999, model.TransactionStatusCompleted, model.TransactionStatusReversed)
	})
	assert.ErrorIs(t, err, repository.ErrTransactionNotFound)
}

func TestLockTimeout(t *testing.T) {
	s := NewStore(30 * time.Millisecond)
	ctx := context.Background()
	a := createAccount(t, s, 1, "1000000001")

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.InTx(ctx, func(tx repository.Tx) error {
			_, err := tx.LockAccounts(ctx, a.ID)
			close(held)
			<-done
			return err
		})
	}()
	<-held
	defer close(done)

	start := time.Now()
	err := s.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.LockAccounts(ctx, a.ID)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrLockTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestRowLocksDropIdleSlots(t *testing.T) {
	l := newRowLocks()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		key := "txn:TXN-" + strconv.Itoa(i)
		require.NoError(t, l.acquire(ctx, key, time.Second))
		l.release(key)
	}
	assert.Zero(t, l.size())

	// a waiter that times out leaves nothing behind
	require.NoError(t, l.acquire(ctx, "account:1", time.Second))
	err := l.acquire(ctx, "account:1", 10*time.Millisecond)
	assert.ErrorIs(t, err, repository.ErrLockTimeout)
	assert.Equal(t, 1, l.size())

	// a waiter keeps the slot alive across the holder's release
	got := make(chan error, 1)
	go func() { got <- l.acquire(ctx, "account:1", time.Second) }()
	assert.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.slots["account:1"].refs == 2
	}, time.Second, time.Millisecond)
	l.release("account:1")
	require.NoError(t, <-got)
	assert.Equal(t, 1, l.size())
	l.release("account:1")
	assert.Zero(t, l.size())
}

func TestStoreLeavesNoLockSlots(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()
	a := createAccount(t, s, 1, "1000000001")
	b := createAccount(t, s, 2, "1000000002")

	for i := 0; i < 20; i++ {
		require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error {
			_, err := tx.LockAccounts(ctx, a.ID, b.ID)
			return err
		}))
	}
	assert.Zero(t, s.locks.size())
}

func TestLockAccountsSortsAndDedupes(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()
	a := createAccount(t, s, 1, "1000000001")
	b := createAccount(t, s, 2, "1000000002")

	require.NoError(t, s.InTx(ctx, func(unit repository.Tx) error {
		locked, err := unit.LockAccounts(ctx, b.ID, a.ID, b.ID)
		if err != nil {
			return err
		}
		assert.Len(t, locked, 2)
		assert.Equal(t, []string{accountKey(a.ID), accountKey(b.ID)}, unit.(*tx).held)
		return nil
	}))

	err := s.InTx(ctx, func(tx repository.Tx) error {
		_, err := tx.LockAccounts(ctx, 404)
		return err
	})
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
}

func TestCommitRechecksUniqueness(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreateAccount(ctx, &model.Account{UserID: 1, AccountNumber: "1000000001"}); err != nil {
			return err
		}
		// a concurrent unit of work takes the same number and commits first
		createAccount(t, s, 2, "1000000001")
		return nil
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	_, err = s.GetAccountByUserID(ctx, 1)
	assert.ErrorIs(t, err, repository.ErrAccountNotFound)
	got, err := s.FindAccountByNumber(ctx, "1000000001")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UserID)
}

func TestDuplicateCode(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()
	create := func() error {
		return s.InTx(ctx, func(tx repository.Tx) error {
			return tx.CreateCode(ctx, &model.AuthorizationCode{Code: "AUTHAAAA", Type: model.TransactionTypeDeposit})
		})
	}
	require.NoError(t, create())
	assert.ErrorIs(t, create(), repository.ErrDuplicate)
}

func TestOutboxLifecycle(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()
	for _, id := range []string{"e1", "e2"} {
		msg := &model.OutboxMessage{EventID: id, MessageKey: id, Topic: "t", Payload: "{}"}
		require.NoError(t, s.InTx(ctx, func(tx repository.Tx) error {
			return tx.CreateOutbox(ctx, msg)
		}))
	}

	pending, err := s.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, s.MarkOutboxSent(ctx, pending[0].ID))
	require.NoError(t, s.RecordOutboxFailure(ctx, pending[1].ID, 2))
	pending, err = s.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)

	require.NoError(t, s.RecordOutboxFailure(ctx, pending[0].ID, 2))
	pending, err = s.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	all := s.Outbox()
	assert.Equal(t, model.OutboxStatusSent, all[0].Status)
	assert.Equal(t, model.OutboxStatusFailed, all[1].Status)
}

func TestListAccountsPages(t *testing.T) {
	s := NewStore(time.Second)
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		createAccount(t, s, i, "10000000"+strconv.FormatInt(10+i, 10))
	}
	page, err := s.ListAccounts(ctx, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	page, err = s.ListAccounts(ctx, page[1].ID, 10)
	require.NoError(t, err)
	assert.Len(t, page, 3)
	assert.Equal(t, int64(3), page[0].ID)
}
