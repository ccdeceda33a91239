package service

import (
	"errors"
)

// Kind groups failures by how a caller should react to them.
type Kind int

const (
	KindInfrastructure Kind = iota
	KindValidation
	KindState
	KindContention
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindState:
		return "state"
	case KindContention:
		return "contention"
	default:
		return "infrastructure"
	}
}

// Error is a typed failure reason returned by the engines. Sentinels are
// compared with errors.Is; wrapped instances keep the sentinel identity.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	ErrAmountOutOfRange       = newError(KindValidation, "AmountOutOfRange", "amount out of range")
	ErrSelfTransferNotAllowed = newError(KindValidation, "SelfTransferNotAllowed", "cannot transfer to the same account")
	ErrTypeMismatch           = newError(KindValidation, "TypeMismatch", "authorization code type mismatch")
	ErrAmountExceedsCeiling   = newError(KindValidation, "AmountExceedsCeiling", "amount exceeds authorization code ceiling")
	ErrInvalidMetadata        = newError(KindValidation, "InvalidMetadata", "payment details do not match channel")
	ErrInvalidRequest         = newError(KindValidation, "InvalidRequest", "invalid request")

	ErrAccountNotFound         = newError(KindState, "AccountNotFound", "account not found")
	ErrAccountInactive         = newError(KindState, "AccountInactive", "account is not active")
	ErrRecipientInactive       = newError(KindState, "RecipientInactive", "recipient account is not active")
	ErrRecipientNotFound       = newError(KindState, "RecipientNotFound", "recipient account not found")
	ErrCodeNotFound            = newError(KindState, "CodeNotFound", "authorization code not found")
	ErrCodeExpired             = newError(KindState, "CodeExpired", "authorization code expired")
	ErrCodeAlreadyUsed         = newError(KindState, "CodeAlreadyUsed", "authorization code already used")
	ErrDailyLimitExceeded      = newError(KindState, "DailyLimitExceeded", "daily limit exceeded")
	ErrInsufficientBalance     = newError(KindState, "InsufficientBalance", "insufficient balance")
	ErrTransactionNotFound     = newError(KindState, "TransactionNotFound", "transaction not found")
	ErrNotReversible           = newError(KindState, "NotReversible", "transaction cannot be reversed")
	ErrDuplicateRequest        = newError(KindState, "DuplicateRequest", "idempotency key reused for a different request")
	ErrInvalidStatusTransition = newError(KindState, "InvalidStatusTransition", "status transition not allowed")
	ErrAccountHasBalance       = newError(KindState, "AccountHasBalance", "account with a balance cannot be closed")
	ErrAccountExists           = newError(KindState, "AccountExists", "user already has an account")
	ErrBalanceOverflow         = newError(KindState, "BalanceOverflow", "balance would overflow")

	ErrContention = newError(KindContention, "Contention", "resource busy, retry the operation")

	ErrCodeGenerationExhausted = newError(KindInfrastructure, "CodeGenerationExhausted", "could not generate a unique value")
)

// KindOf reports the kind of err. Errors that are not *Error are
// infrastructure failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

// CodeOf returns the failure code of err, or "Internal".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "Internal"
}
