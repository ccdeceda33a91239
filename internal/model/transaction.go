package model

import (
	"time"
)

// ============================================================================
// Transaction types, directions and statuses
// ============================================================================

const (
	TransactionTypeDeposit    = "deposit"
	TransactionTypeWithdrawal = "withdrawal"
	TransactionTypeTransfer   = "transfer"
	TransactionTypeFee        = "fee"
	TransactionTypeRefund     = "refund"
)

const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusReversed  = "reversed"
)

var TransactionStatusTransitions = map[string][]string{
	TransactionStatusPending:   {TransactionStatusCompleted, TransactionStatusFailed},
	TransactionStatusCompleted: {TransactionStatusReversed},
}

func CanTransactionTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range TransactionStatusTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// ============================================================================
// Ledger row
// ============================================================================

// Transaction is one append-only ledger row for one account.
//
// Rules:
//  1. Snapshots (PreviousBalance, NewBalance) are written once and never edited.
//  2. A correction is a new refund row with ReversalOf set; the original only moves completed -> reversed.
//  3. Debit rows satisfy NewBalance = PreviousBalance - (Amount + Fee); credit rows NewBalance = PreviousBalance + Amount.
type Transaction struct {
	ID                    int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Reference             string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"reference"`
	IdempotencyKey        *string    `gorm:"type:varchar(64);uniqueIndex" json:"idempotency_key,omitempty"`
	AccountID             int64      `gorm:"index:idx_txn_account_created;not null" json:"account_id"`
	CounterpartyAccountID *int64     `gorm:"index" json:"counterparty_account_id,omitempty"`
	Type                  string     `gorm:"type:varchar(20);not null" json:"type"`
	Direction             string     `gorm:"type:varchar(10);not null" json:"direction"`
	Channel               string     `gorm:"type:varchar(20);not null" json:"channel"`
	Amount                int64      `gorm:"not null" json:"amount"`
	Fee                   int64      `gorm:"not null;default:0" json:"fee"`
	PreviousBalance       int64      `gorm:"not null" json:"previous_balance"`
	NewBalance            int64      `gorm:"not null" json:"new_balance"`
	Status                string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Description           string     `gorm:"type:varchar(256)" json:"description"`
	Metadata              Metadata   `gorm:"serializer:json;type:text" json:"metadata"`
	RelatedReference      *string    `gorm:"type:varchar(64);index" json:"related_reference,omitempty"`
	ReversalOf            *string    `gorm:"type:varchar(64);index" json:"reversal_of,omitempty"`
	ActorID               int64      `gorm:"not null;default:0" json:"actor_id"`
	CompletedAt           *time.Time `json:"completed_at"`
	CreatedAt             time.Time  `gorm:"index:idx_txn_account_created" json:"created_at"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}

// Debited returns the total that left the account on this row.
func (t *Transaction) Debited() int64 {
	if t.Direction == DirectionDebit {
		return t.Amount + t.Fee
	}
	return 0
}

// SnapshotValid reports whether the balance snapshots agree with amount, fee and direction.
func (t *Transaction) SnapshotValid() bool {
	switch t.Direction {
	case DirectionDebit:
		return t.NewBalance == t.PreviousBalance-(t.Amount+t.Fee) && t.NewBalance >= 0
	case DirectionCredit:
		return t.NewBalance == t.PreviousBalance+t.Amount
	default:
		return false
	}
}
