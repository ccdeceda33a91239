package model

import (
	"time"
)

const (
	AccountStatusActive    = "active"
	AccountStatusInactive  = "inactive"
	AccountStatusSuspended = "suspended"
	AccountStatusFrozen    = "frozen"
	AccountStatusClosed    = "closed"
)

const (
	AccountTypeSavings   = "savings"
	AccountTypeCurrent   = "current"
	AccountTypeCorporate = "corporate"
)

// AccountStatusTransitions lists the statuses reachable from each status.
// Accounts are never deleted; closed is terminal.
var AccountStatusTransitions = map[string][]string{
	AccountStatusActive:    {AccountStatusInactive, AccountStatusSuspended, AccountStatusFrozen, AccountStatusClosed},
	AccountStatusInactive:  {AccountStatusActive, AccountStatusClosed},
	AccountStatusSuspended: {AccountStatusActive, AccountStatusClosed},
	AccountStatusFrozen:    {AccountStatusActive, AccountStatusClosed},
}

func CanAccountTransitionTo(currentStatus, targetStatus string) bool {
	allowed, exists := AccountStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// Account is a customer wallet. Balance and LedgerBalance are minor units and
// only the money-movement engine writes them.
type Account struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        int64     `gorm:"uniqueIndex;not null" json:"user_id"`
	AccountNumber string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"account_number"`
	AccountType   string    `gorm:"type:varchar(20);not null;default:savings" json:"account_type"`
	Balance       int64     `gorm:"not null;default:0" json:"balance"`        // available
	LedgerBalance int64     `gorm:"not null;default:0" json:"ledger_balance"` // available + pending
	Currency      string    `gorm:"type:varchar(3);not null" json:"currency"`
	Status        string    `gorm:"type:varchar(20);index;not null" json:"status"`
	Version       int       `gorm:"not null;default:0" json:"version"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string {
	return "account"
}

func (a *Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// Credit adds amount to both balances.
func (a *Account) Credit(amount int64) {
	a.Balance += amount
	a.LedgerBalance += amount
	a.Version++
}

// Debit removes amount from both balances. Callers check sufficiency first.
func (a *Account) Debit(amount int64) {
	a.Balance -= amount
	a.LedgerBalance -= amount
	a.Version++
}
