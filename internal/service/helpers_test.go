package service

import (
	"context"
	"testing"
	"time"

	"corebank/internal/config"
	"corebank/internal/model"
	"corebank/internal/repository/memory"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	store    *memory.Store
	policy   *Policy
	codes    *CodeService
	ledger   *LedgerService
	accounts *AccountService
}

func testLedgerConfig() config.LedgerConfig {
	return config.LedgerConfig{
		MinAmount: 1,
		MaxAmount: 1_000_000_000,
		Bounds: map[string]config.AmountBounds{
			model.TransactionTypeWithdrawal: {Min: 100, Max: 10_000_000},
		},
		Fees: map[string]map[string]config.FeeRule{
			model.TransactionTypeWithdrawal: {
				model.ChannelCash: {Fixed: 100},
				model.ChannelWire: {Fixed: 2500, Percentage: "0.5"},
			},
			model.TransactionTypeTransfer: {
				model.ChannelInternal: {Fixed: 50},
			},
		},
		DailyLimits: map[string]int64{
			model.AccountTypeSavings: 100_000,
		},
		DailyWindowTZ: "UTC",
	}
}

func testCodesConfig() config.CodesConfig {
	return config.CodesConfig{
		Prefix:              "AUTH",
		RandomLength:        8,
		DefaultExpiry:       time.Hour,
		MaxGenerateAttempts: 3,
	}
}

func newTestEnv(t *testing.T, opts ...LedgerOption) *testEnv {
	t.Helper()
	store := memory.NewStore(2 * time.Second)
	policy, err := NewPolicy(testLedgerConfig())
	require.NoError(t, err)
	codes := NewCodeService(store, testCodesConfig())
	return &testEnv{
		store:    store,
		policy:   policy,
		codes:    codes,
		ledger:   NewLedgerService(store, policy, codes, opts...),
		accounts: NewAccountService(store, nil),
	}
}

var nextTestUser int64

// openAccount opens a current account (no daily cap) and funds it.
func (e *testEnv) openAccount(t *testing.T, balance int64) *model.Account {
	return e.openTypedAccount(t, model.AccountTypeCurrent, balance)
}

func (e *testEnv) openTypedAccount(t *testing.T, accountType string, balance int64) *model.Account {
	t.Helper()
	nextTestUser++
	account, err := e.accounts.Open(context.Background(), &OpenAccountRequest{
		UserID:      nextTestUser,
		Currency:    "NGN",
		AccountType: accountType,
	})
	require.NoError(t, err)
	if balance > 0 {
		_, err := e.ledger.Deposit(context.Background(), &DepositRequest{AccountID: account.ID, Amount: balance})
		require.NoError(t, err)
	}
	return e.reload(t, account.ID)
}

func (e *testEnv) reload(t *testing.T, id int64) *model.Account {
	t.Helper()
	account, err := e.store.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return account
}

func int64Ptr(v int64) *int64 { return &v }
