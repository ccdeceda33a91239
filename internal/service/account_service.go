package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"corebank/internal/model"
	"corebank/internal/repository"
	"corebank/pkg/idgen"

	"github.com/sirupsen/logrus"
)

const maxAccountNumberAttempts = 5

// AccountService owns account lifecycle. It never changes a balance.
type AccountService struct {
	store repository.Store
	cache AccountCache
	log   *logrus.Entry

	// overridable in tests
	newAccountNumber func() (string, error)
	redelete         time.Duration
}

func NewAccountService(store repository.Store, cache AccountCache) *AccountService {
	return &AccountService{
		store:            store,
		cache:            cache,
		log:              logrus.WithField("component", "accounts"),
		newAccountNumber: idgen.GenerateAccountNumber,
		redelete:         defaultCacheRedelete,
	}
}

type OpenAccountRequest struct {
	UserID      int64
	Currency    string
	AccountType string
}

func validAccountType(t string) bool {
	switch t {
	case model.AccountTypeSavings, model.AccountTypeCurrent, model.AccountTypeCorporate:
		return true
	}
	return false
}

// Open creates the user's account with a zero balance. Each user holds at
// most one account.
func (s *AccountService) Open(ctx context.Context, req *OpenAccountRequest) (*model.Account, error) {
	if req.UserID <= 0 {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidRequest)
	}
	if req.AccountType == "" {
		req.AccountType = model.AccountTypeSavings
	}
	if !validAccountType(req.AccountType) {
		return nil, fmt.Errorf("%w: unknown account type %q", ErrInvalidRequest, req.AccountType)
	}
	currency := strings.ToUpper(req.Currency)
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3 letter code", ErrInvalidRequest)
	}

	if _, err := s.store.GetAccountByUserID(ctx, req.UserID); err == nil {
		return nil, ErrAccountExists
	} else if !errors.Is(err, repository.ErrAccountNotFound) {
		return nil, err
	}

	for attempt := 1; attempt <= maxAccountNumberAttempts; attempt++ {
		number, err := s.newAccountNumber()
		if err != nil {
			return nil, fmt.Errorf("account number: %w", err)
		}
		account := &model.Account{
			UserID:        req.UserID,
			AccountNumber: number,
			AccountType:   req.AccountType,
			Currency:      currency,
			Status:        model.AccountStatusActive,
		}
		err = s.store.InTx(ctx, func(tx repository.Tx) error {
			return tx.CreateAccount(ctx, account)
		})
		if err == nil {
			s.log.WithFields(logrus.Fields{"account_id": account.ID, "user_id": account.UserID}).Info("account opened")
			return account, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, err
		}
		// the user may have raced us to the same account
		if _, getErr := s.store.GetAccountByUserID(ctx, req.UserID); getErr == nil {
			return nil, ErrAccountExists
		}
	}
	return nil, ErrCodeGenerationExhausted
}

func (s *AccountService) Get(ctx context.Context, id int64) (*model.Account, error) {
	if s.cache != nil {
		if account, ok := s.cache.GetAccount(ctx, id); ok {
			return account, nil
		}
	}
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if s.cache != nil {
		s.cache.SetAccount(ctx, account)
	}
	return account, nil
}

// FindAccountByNumber resolves an externally addressable account number.
func (s *AccountService) FindAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	account, err := s.store.FindAccountByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (s *AccountService) GetByUserID(ctx context.Context, userID int64) (*model.Account, error) {
	account, err := s.store.GetAccountByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// ChangeStatus moves the account along the lifecycle graph. Closing needs
// both balances at zero.
func (s *AccountService) ChangeStatus(ctx context.Context, id int64, target string) (*model.Account, error) {
	var updated *model.Account
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockAccounts(ctx, id)
		if err != nil {
			return err
		}
		account := locked[id]
		if !model.CanAccountTransitionTo(account.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, account.Status, target)
		}
		if target == model.AccountStatusClosed && (account.Balance != 0 || account.LedgerBalance != 0) {
			return ErrAccountHasBalance
		}
		account.Status = target
		account.Version++
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrAccountNotFound):
			return nil, ErrAccountNotFound
		case errors.Is(err, repository.ErrLockTimeout):
			return nil, fmt.Errorf("%w: %v", ErrContention, err)
		}
		return nil, err
	}
	if s.cache != nil {
		evict(ctx, s.cache, s.redelete, id)
	}
	s.log.WithFields(logrus.Fields{"account_id": id, "status": target}).Info("account status changed")
	return updated, nil
}

// History returns one page of the account's ledger rows, newest first.
func (s *AccountService) History(ctx context.Context, id int64, page, pageSize int) ([]*model.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, 0, err
	}
	return s.store.ListTransactions(ctx, id, page, pageSize)
}

func (s *AccountService) GetTransaction(ctx context.Context, reference string) (*model.Transaction, error) {
	t, err := s.store.GetTransactionByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return t, nil
}
