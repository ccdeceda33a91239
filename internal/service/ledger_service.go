package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"corebank/internal/infrastructure/lock"
	"corebank/internal/model"
	"corebank/internal/repository"
	"corebank/pkg/idgen"

	"github.com/sirupsen/logrus"
)

// Locker is an optional cross-process guard taken before the storage
// transaction. Row locks remain the source of truth.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// AccountCache is a read-through account cache; the engine only invalidates.
type AccountCache interface {
	GetAccount(ctx context.Context, id int64) (*model.Account, bool)
	SetAccount(ctx context.Context, account *model.Account)
	Invalidate(ctx context.Context, ids ...int64)
}

// LedgerService is the only path through which balances change. Every
// operation runs in one storage transaction: row locks on the accounts it
// touches, the ledger rows, the balance updates and the completion event are
// committed together or not at all.
type LedgerService struct {
	store  repository.Store
	policy *Policy
	codes  *CodeService
	locker Locker
	cache  AccountCache
	topic  string
	now    func() time.Time
	log    *logrus.Entry

	redelete time.Duration
}

type LedgerOption func(*LedgerService)

func WithLocker(l Locker) LedgerOption {
	return func(s *LedgerService) { s.locker = l }
}

func WithCache(c AccountCache) LedgerOption {
	return func(s *LedgerService) { s.cache = c }
}

// WithCacheRedelete sets how long after a commit the touched accounts are
// evicted a second time. Zero disables the second eviction.
func WithCacheRedelete(d time.Duration) LedgerOption {
	return func(s *LedgerService) { s.redelete = d }
}

func WithClock(now func() time.Time) LedgerOption {
	return func(s *LedgerService) { s.now = now }
}

// WithTopic sets the topic completion events are published to.
func WithTopic(topic string) LedgerOption {
	return func(s *LedgerService) { s.topic = topic }
}

func NewLedgerService(store repository.Store, policy *Policy, codes *CodeService, opts ...LedgerOption) *LedgerService {
	s := &LedgerService{
		store:  store,
		policy: policy,
		codes:  codes,
		topic:  "ledger.transaction",
		now:    time.Now,
		log:    logrus.WithField("component", "ledger"),

		redelete: defaultCacheRedelete,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LedgerService) Policy() *Policy {
	return s.policy
}

// ============================================================================
// Requests
// ============================================================================

type DepositRequest struct {
	AccountID      int64
	Amount         int64
	Channel        string
	Description    string
	Metadata       model.Metadata
	AuthCode       string
	ActorID        int64
	IdempotencyKey string
}

type WithdrawRequest struct {
	AccountID      int64
	Amount         int64
	Fee            *int64 // nil: computed from the fee table
	Channel        string
	Description    string
	Metadata       model.Metadata
	AuthCode       string
	ActorID        int64
	IdempotencyKey string
}

type TransferRequest struct {
	SenderAccountID        int64
	RecipientAccountNumber string
	Amount                 int64
	Fee                    *int64 // nil: computed from the fee table
	Channel                string
	Description            string
	Metadata               model.Metadata
	AuthCode               string
	ActorID                int64
	IdempotencyKey         string
}

type ReverseRequest struct {
	Reference string
	ActorID   int64
	Reason    string
}

// ============================================================================
// Deposit
// ============================================================================

func (s *LedgerService) Deposit(ctx context.Context, req *DepositRequest) (*model.Transaction, error) {
	if err := s.policy.ValidateAmount(req.Amount, model.TransactionTypeDeposit); err != nil {
		return nil, err
	}
	md, err := normalizeMetadata(req.Metadata, req.Channel, model.ChannelCash)
	if err != nil {
		return nil, err
	}
	account, err := s.getAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	u := unit{
		op:             model.TransactionTypeDeposit,
		idempotencyKey: req.IdempotencyKey,
		accountIDs:     []int64{account.ID},
		matches: func(t *model.Transaction) bool {
			return t.Type == model.TransactionTypeDeposit && t.AccountID == account.ID && t.Amount == req.Amount
		},
	}
	rows, err := s.execute(ctx, u, func(tx repository.Tx, ref string, now time.Time) ([]*model.Transaction, error) {
		if req.AuthCode != "" {
			if _, err := s.codes.Redeem(ctx, tx, &RedeemRequest{
				Code:           req.AuthCode,
				UserID:         redeemer(req.ActorID, account.UserID),
				Type:           model.TransactionTypeDeposit,
				Amount:         req.Amount,
				TransactionRef: ref,
			}); err != nil {
				return nil, err
			}
		}

		locked, err := tx.LockAccounts(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		acc := locked[account.ID]
		if !acc.IsActive() {
			return nil, ErrAccountInactive
		}
		if err := checkCredit(acc, req.Amount); err != nil {
			return nil, err
		}

		prev := acc.Balance
		acc.Credit(req.Amount)
		row := &model.Transaction{
			Reference:       ref,
			IdempotencyKey:  optional(req.IdempotencyKey),
			AccountID:       acc.ID,
			Type:            model.TransactionTypeDeposit,
			Direction:       model.DirectionCredit,
			Channel:         md.Channel,
			Amount:          req.Amount,
			PreviousBalance: prev,
			NewBalance:      acc.Balance,
			Status:          model.TransactionStatusCompleted,
			Description:     req.Description,
			Metadata:        md,
			ActorID:         req.ActorID,
			CompletedAt:     &now,
			CreatedAt:       now,
		}
		if err := tx.CreateTransaction(ctx, row); err != nil {
			return nil, err
		}
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return nil, err
		}
		return []*model.Transaction{row}, nil
	})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// ============================================================================
// Withdraw
// ============================================================================

func (s *LedgerService) Withdraw(ctx context.Context, req *WithdrawRequest) (*model.Transaction, error) {
	if err := s.policy.ValidateAmount(req.Amount, model.TransactionTypeWithdrawal); err != nil {
		return nil, err
	}
	md, err := normalizeMetadata(req.Metadata, req.Channel, model.ChannelCash)
	if err != nil {
		return nil, err
	}
	fee, err := s.resolveFee(req.Fee, req.Amount, model.TransactionTypeWithdrawal, md.Channel)
	if err != nil {
		return nil, err
	}
	account, err := s.getAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	u := unit{
		op:             model.TransactionTypeWithdrawal,
		idempotencyKey: req.IdempotencyKey,
		accountIDs:     []int64{account.ID},
		matches: func(t *model.Transaction) bool {
			return t.Type == model.TransactionTypeWithdrawal && t.AccountID == account.ID && t.Amount == req.Amount
		},
	}
	rows, err := s.execute(ctx, u, func(tx repository.Tx, ref string, now time.Time) ([]*model.Transaction, error) {
		if req.AuthCode != "" {
			if _, err := s.codes.Redeem(ctx, tx, &RedeemRequest{
				Code:           req.AuthCode,
				UserID:         redeemer(req.ActorID, account.UserID),
				Type:           model.TransactionTypeWithdrawal,
				Amount:         req.Amount,
				TransactionRef: ref,
			}); err != nil {
				return nil, err
			}
		}

		locked, err := tx.LockAccounts(ctx, account.ID)
		if err != nil {
			return nil, err
		}
		acc := locked[account.ID]
		if !acc.IsActive() {
			return nil, ErrAccountInactive
		}
		if acc.Balance-fee < req.Amount {
			return nil, fmt.Errorf("%w: available %d, required %d", ErrInsufficientBalance, acc.Balance, req.Amount+fee)
		}
		total := req.Amount + fee
		if err := s.checkDailyLimit(ctx, tx, acc, req.Amount, s.policy.WindowStart(now)); err != nil {
			return nil, err
		}

		prev := acc.Balance
		acc.Debit(total)
		row := &model.Transaction{
			Reference:       ref,
			IdempotencyKey:  optional(req.IdempotencyKey),
			AccountID:       acc.ID,
			Type:            model.TransactionTypeWithdrawal,
			Direction:       model.DirectionDebit,
			Channel:         md.Channel,
			Amount:          req.Amount,
			Fee:             fee,
			PreviousBalance: prev,
			NewBalance:      acc.Balance,
			Status:          model.TransactionStatusCompleted,
			Description:     req.Description,
			Metadata:        md,
			ActorID:         req.ActorID,
			CompletedAt:     &now,
			CreatedAt:       now,
		}
		if err := tx.CreateTransaction(ctx, row); err != nil {
			return nil, err
		}
		if err := tx.UpdateAccount(ctx, acc); err != nil {
			return nil, err
		}
		return []*model.Transaction{row}, nil
	})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// ============================================================================
// Transfer
// ============================================================================

// Transfer debits the sender amount+fee and credits the recipient amount.
// The returned row is the sender's; the recipient gets a mirrored credit row
// linked through RelatedReference.
func (s *LedgerService) Transfer(ctx context.Context, req *TransferRequest) (*model.Transaction, error) {
	if err := s.policy.ValidateAmount(req.Amount, model.TransactionTypeTransfer); err != nil {
		return nil, err
	}
	md, err := normalizeMetadata(req.Metadata, req.Channel, model.ChannelInternal)
	if err != nil {
		return nil, err
	}
	fee, err := s.resolveFee(req.Fee, req.Amount, model.TransactionTypeTransfer, md.Channel)
	if err != nil {
		return nil, err
	}
	sender, err := s.getAccount(ctx, req.SenderAccountID)
	if err != nil {
		return nil, err
	}
	recipient, err := s.store.FindAccountByNumber(ctx, req.RecipientAccountNumber)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrRecipientNotFound
		}
		return nil, err
	}
	if recipient.ID == sender.ID {
		return nil, ErrSelfTransferNotAllowed
	}

	u := unit{
		op:             model.TransactionTypeTransfer,
		idempotencyKey: req.IdempotencyKey,
		accountIDs:     []int64{sender.ID, recipient.ID},
		matches: func(t *model.Transaction) bool {
			return t.Type == model.TransactionTypeTransfer && t.AccountID == sender.ID &&
				t.Direction == model.DirectionDebit && t.Amount == req.Amount &&
				t.CounterpartyAccountID != nil && *t.CounterpartyAccountID == recipient.ID
		},
	}
	rows, err := s.execute(ctx, u, func(tx repository.Tx, ref string, now time.Time) ([]*model.Transaction, error) {
		if req.AuthCode != "" {
			if _, err := s.codes.Redeem(ctx, tx, &RedeemRequest{
				Code:           req.AuthCode,
				UserID:         redeemer(req.ActorID, sender.UserID),
				Type:           model.TransactionTypeTransfer,
				Amount:         req.Amount,
				TransactionRef: ref,
			}); err != nil {
				return nil, err
			}
		}

		locked, err := tx.LockAccounts(ctx, sender.ID, recipient.ID)
		if err != nil {
			return nil, err
		}
		from, to := locked[sender.ID], locked[recipient.ID]
		if !from.IsActive() {
			return nil, ErrAccountInactive
		}
		if !to.IsActive() {
			return nil, ErrRecipientInactive
		}
		if from.Balance-fee < req.Amount {
			return nil, fmt.Errorf("%w: available %d, required %d", ErrInsufficientBalance, from.Balance, req.Amount+fee)
		}
		total := req.Amount + fee
		if err := s.checkDailyLimit(ctx, tx, from, req.Amount, s.policy.WindowStart(now)); err != nil {
			return nil, err
		}
		if err := checkCredit(to, req.Amount); err != nil {
			return nil, err
		}

		mirrorRef := idgen.GenerateTransactionRef()
		fromPrev, toPrev := from.Balance, to.Balance
		from.Debit(total)
		to.Credit(req.Amount)

		debit := &model.Transaction{
			Reference:             ref,
			IdempotencyKey:        optional(req.IdempotencyKey),
			AccountID:             from.ID,
			CounterpartyAccountID: &to.ID,
			Type:                  model.TransactionTypeTransfer,
			Direction:             model.DirectionDebit,
			Channel:               md.Channel,
			Amount:                req.Amount,
			Fee:                   fee,
			PreviousBalance:       fromPrev,
			NewBalance:            from.Balance,
			Status:                model.TransactionStatusCompleted,
			Description:           req.Description,
			Metadata:              md,
			RelatedReference:      &mirrorRef,
			ActorID:               req.ActorID,
			CompletedAt:           &now,
			CreatedAt:             now,
		}
		credit := &model.Transaction{
			Reference:             mirrorRef,
			AccountID:             to.ID,
			CounterpartyAccountID: &from.ID,
			Type:                  model.TransactionTypeTransfer,
			Direction:             model.DirectionCredit,
			Channel:               md.Channel,
			Amount:                req.Amount,
			PreviousBalance:       toPrev,
			NewBalance:            to.Balance,
			Status:                model.TransactionStatusCompleted,
			Description:           req.Description,
			Metadata:              md,
			RelatedReference:      &debit.Reference,
			ActorID:               req.ActorID,
			CompletedAt:           &now,
			CreatedAt:             now,
		}
		for _, row := range []*model.Transaction{debit, credit} {
			if err := tx.CreateTransaction(ctx, row); err != nil {
				return nil, err
			}
		}
		for _, acc := range []*model.Account{from, to} {
			if err := tx.UpdateAccount(ctx, acc); err != nil {
				return nil, err
			}
		}
		return []*model.Transaction{debit, credit}, nil
	})
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

// ============================================================================
// Reverse
// ============================================================================

// Reverse offsets a completed deposit, withdrawal or transfer with refund
// rows and moves the original to reversed. A transfer is reversed through
// its debit reference and both sides are undone.
func (s *LedgerService) Reverse(ctx context.Context, req *ReverseRequest) ([]*model.Transaction, error) {
	original, err := s.store.GetTransactionByReference(ctx, req.Reference)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	if err := reversible(original); err != nil {
		return nil, err
	}

	ids := []int64{original.AccountID}
	if original.Type == model.TransactionTypeTransfer && original.CounterpartyAccountID != nil {
		ids = append(ids, *original.CounterpartyAccountID)
	}

	u := unit{op: "reversal", accountIDs: ids}
	return s.execute(ctx, u, func(tx repository.Tx, ref string, now time.Time) ([]*model.Transaction, error) {
		orig, err := tx.LockTransaction(ctx, req.Reference)
		if err != nil {
			return nil, err
		}
		if err := reversible(orig); err != nil {
			return nil, err
		}
		var mirror *model.Transaction
		if orig.Type == model.TransactionTypeTransfer {
			if orig.RelatedReference == nil {
				return nil, fmt.Errorf("%w: transfer %s has no counterpart row", ErrNotReversible, orig.Reference)
			}
			if mirror, err = tx.LockTransaction(ctx, *orig.RelatedReference); err != nil {
				return nil, err
			}
			if mirror.Status != model.TransactionStatusCompleted {
				return nil, fmt.Errorf("%w: counterpart row is %s", ErrNotReversible, mirror.Status)
			}
		}

		locked, err := tx.LockAccounts(ctx, ids...)
		if err != nil {
			return nil, err
		}
		for _, acc := range locked {
			if acc.Status == model.AccountStatusClosed {
				return nil, ErrAccountInactive
			}
		}

		refund := func(acc *model.Account, reference, direction string, amount int64, counterparty *int64) (*model.Transaction, error) {
			prev := acc.Balance
			if direction == model.DirectionDebit {
				if acc.Balance < amount {
					return nil, fmt.Errorf("%w: available %d, reversal needs %d", ErrInsufficientBalance, acc.Balance, amount)
				}
				acc.Debit(amount)
			} else {
				if err := checkCredit(acc, amount); err != nil {
					return nil, err
				}
				acc.Credit(amount)
			}
			origRef := req.Reference
			return &model.Transaction{
				Reference:             reference,
				AccountID:             acc.ID,
				CounterpartyAccountID: counterparty,
				Type:                  model.TransactionTypeRefund,
				Direction:             direction,
				Channel:               orig.Channel,
				Amount:                amount,
				PreviousBalance:       prev,
				NewBalance:            acc.Balance,
				Status:                model.TransactionStatusCompleted,
				Description:           "reversal of " + origRef,
				Metadata:              model.Metadata{Channel: orig.Channel, Reason: req.Reason},
				ReversalOf:            &origRef,
				ActorID:               req.ActorID,
				CompletedAt:           &now,
				CreatedAt:             now,
			}, nil
		}

		var rows []*model.Transaction
		owner := locked[orig.AccountID]
		switch orig.Type {
		case model.TransactionTypeDeposit:
			row, err := refund(owner, ref, model.DirectionDebit, orig.Amount, nil)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		case model.TransactionTypeWithdrawal:
			row, err := refund(owner, ref, model.DirectionCredit, orig.Amount+orig.Fee, nil)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		case model.TransactionTypeTransfer:
			counterparty := locked[*orig.CounterpartyAccountID]
			back, err := refund(owner, ref, model.DirectionCredit, orig.Amount+orig.Fee, &counterparty.ID)
			if err != nil {
				return nil, err
			}
			out, err := refund(counterparty, idgen.GenerateTransactionRef(), model.DirectionDebit, orig.Amount, &owner.ID)
			if err != nil {
				return nil, err
			}
			back.RelatedReference, out.RelatedReference = &out.Reference, &back.Reference
			rows = append(rows, back, out)
		}

		for _, row := range rows {
			if err := tx.CreateTransaction(ctx, row); err != nil {
				return nil, err
			}
		}
		for _, acc := range locked {
			if err := tx.UpdateAccount(ctx, acc); err != nil {
				return nil, err
			}
		}
		for _, t := range []*model.Transaction{orig, mirror} {
			if t == nil {
				continue
			}
			if err := tx.UpdateTransactionStatus(ctx, t.ID, model.TransactionStatusCompleted, model.TransactionStatusReversed); err != nil {
				if errors.Is(err, repository.ErrStatusConflict) {
					return nil, fmt.Errorf("%w: %s changed concurrently", ErrNotReversible, t.Reference)
				}
				return nil, err
			}
		}
		return rows, nil
	})
}

func reversible(t *model.Transaction) error {
	switch {
	case t.Status != model.TransactionStatusCompleted:
		return fmt.Errorf("%w: status is %s", ErrNotReversible, t.Status)
	case t.Type == model.TransactionTypeRefund || t.ReversalOf != nil:
		return fmt.Errorf("%w: reversal rows are final", ErrNotReversible)
	case t.Type == model.TransactionTypeTransfer && t.Direction == model.DirectionCredit:
		return fmt.Errorf("%w: reverse the transfer through its debit reference", ErrNotReversible)
	case t.Type == model.TransactionTypeFee:
		return fmt.Errorf("%w: fee rows are not reversible", ErrNotReversible)
	}
	return nil
}

// ============================================================================
// Daily limit
// ============================================================================

type debitSummer interface {
	SumDebitsSince(ctx context.Context, accountID int64, since time.Time) (int64, error)
}

// ValidateDailyLimit sums the account's completed withdrawal and transfer
// debits since windowStart and rejects proposed if the account type's cap
// would be passed. Fees do not count toward the cap.
func (s *LedgerService) ValidateDailyLimit(ctx context.Context, account *model.Account, proposed int64, windowStart time.Time) error {
	return s.checkDailyLimit(ctx, s.store, account, proposed, windowStart)
}

func (s *LedgerService) checkDailyLimit(ctx context.Context, src debitSummer, account *model.Account, proposed int64, windowStart time.Time) error {
	if !s.policy.HasDailyLimit(account.AccountType) {
		return nil
	}
	spent, err := src.SumDebitsSince(ctx, account.ID, windowStart)
	if err != nil {
		return err
	}
	return s.policy.CheckDailyLimit(account.AccountType, spent, proposed)
}

// ============================================================================
// Unit of work
// ============================================================================

type unit struct {
	op             string
	idempotencyKey string
	accountIDs     []int64
	// matches reports whether a row found under the same idempotency key
	// records this very request.
	matches func(*model.Transaction) bool
}

type unitFunc func(tx repository.Tx, ref string, now time.Time) ([]*model.Transaction, error)

// execute runs fn in one storage transaction together with the idempotency
// lookup and the completion event. rows[0] is the primary row.
func (s *LedgerService) execute(ctx context.Context, u unit, fn unitFunc) ([]*model.Transaction, error) {
	if s.locker != nil {
		keys := make([]string, 0, len(u.accountIDs))
		for _, id := range u.accountIDs {
			keys = append(keys, lockKey(id))
		}
		release, err := s.locker.Acquire(ctx, keys...)
		if err != nil {
			if errors.Is(err, lock.ErrLockFailed) {
				return nil, fmt.Errorf("%w: %v", ErrContention, err)
			}
			return nil, fmt.Errorf("distributed lock: %w", err)
		}
		defer release()
	}

	ref := idgen.GenerateTransactionRef()
	var (
		rows   []*model.Transaction
		replay bool
	)
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		rows, replay = nil, false
		if u.idempotencyKey != "" {
			existing, err := tx.FindTransactionByIdempotencyKey(ctx, u.idempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				rows, replay = []*model.Transaction{existing}, true
				return nil
			}
		}

		now := s.now()
		var err error
		if rows, err = fn(tx, ref, now); err != nil {
			return err
		}
		return s.enqueueCompleted(ctx, tx, rows, now)
	})
	if err != nil && u.idempotencyKey != "" && errors.Is(err, repository.ErrDuplicate) {
		// a concurrent request with the same key committed first
		if existing, findErr := s.findByKey(ctx, u.idempotencyKey); findErr == nil && existing != nil {
			rows, replay, err = []*model.Transaction{existing}, true, nil
		}
	}
	if err != nil {
		return nil, s.mapError(u, err)
	}

	if replay {
		if u.matches != nil && !u.matches(rows[0]) {
			return nil, fmt.Errorf("%w: key %q", ErrDuplicateRequest, u.idempotencyKey)
		}
		s.log.WithFields(logrus.Fields{"op": u.op, "reference": rows[0].Reference}).Info("idempotent replay")
		return rows, nil
	}

	if s.cache != nil {
		evict(ctx, s.cache, s.redelete, u.accountIDs...)
	}
	for _, row := range rows {
		s.log.WithFields(logrus.Fields{
			"op":          u.op,
			"reference":   row.Reference,
			"account_id":  row.AccountID,
			"direction":   row.Direction,
			"amount":      row.Amount,
			"fee":         row.Fee,
			"new_balance": row.NewBalance,
		}).Info("ledger row committed")
	}
	return rows, nil
}

// defaultCacheRedelete bounds how long a read that started before a commit
// can keep a stale snapshot in the cache.
const defaultCacheRedelete = 500 * time.Millisecond

// evict drops ids from the cache now and again after delay. A reader that
// loaded an account before the commit may write it back after the first
// eviction; the second one removes it.
func evict(ctx context.Context, cache AccountCache, delay time.Duration, ids ...int64) {
	cache.Invalidate(ctx, ids...)
	if delay <= 0 {
		return
	}
	bg := context.WithoutCancel(ctx)
	time.AfterFunc(delay, func() { cache.Invalidate(bg, ids...) })
}

func lockKey(accountID int64) string {
	return fmt.Sprintf("ledger:account:%d", accountID)
}

func (s *LedgerService) findByKey(ctx context.Context, key string) (*model.Transaction, error) {
	var found *model.Transaction
	err := s.store.InTx(ctx, func(tx repository.Tx) error {
		var err error
		found, err = tx.FindTransactionByIdempotencyKey(ctx, key)
		return err
	})
	return found, err
}

func (s *LedgerService) mapError(u unit, err error) error {
	var typed *Error
	switch {
	case errors.As(err, &typed):
		return err
	case errors.Is(err, repository.ErrLockTimeout):
		s.log.WithFields(logrus.Fields{"op": u.op, "accounts": u.accountIDs}).Warn("lock wait timed out")
		return fmt.Errorf("%w: %v", ErrContention, err)
	case errors.Is(err, repository.ErrAccountNotFound):
		return ErrAccountNotFound
	case errors.Is(err, repository.ErrTransactionNotFound):
		return ErrTransactionNotFound
	}
	s.log.WithError(err).WithField("op", u.op).Error("ledger operation failed")
	return fmt.Errorf("%s: %w", u.op, err)
}

func (s *LedgerService) enqueueCompleted(ctx context.Context, tx repository.Tx, rows []*model.Transaction, now time.Time) error {
	event := model.TransactionEvent{
		EventID:      idgen.GenerateEventID(),
		Event:        model.EventTransactionCompleted,
		Transactions: rows,
		OccurredAt:   now,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return tx.CreateOutbox(ctx, &model.OutboxMessage{
		EventID:    event.EventID,
		MessageKey: rows[0].Reference,
		Topic:      s.topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

// ============================================================================
// helpers
// ============================================================================

func (s *LedgerService) getAccount(ctx context.Context, id int64) (*model.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

func (s *LedgerService) resolveFee(fee *int64, amount int64, txType, channel string) (int64, error) {
	if fee == nil {
		return checkFee(s.policy.ComputeFee(amount, txType, channel), amount)
	}
	if *fee < 0 {
		return 0, fmt.Errorf("%w: fee must not be negative", ErrInvalidRequest)
	}
	return checkFee(*fee, amount)
}

// checkFee rejects a fee that cannot be added to amount without overflow.
func checkFee(fee, amount int64) (int64, error) {
	if fee > math.MaxInt64-amount {
		return 0, fmt.Errorf("%w: fee %d on amount %d", ErrAmountOutOfRange, fee, amount)
	}
	return fee, nil
}

func normalizeMetadata(md model.Metadata, channel, fallback string) (model.Metadata, error) {
	if channel == "" {
		channel = md.Channel
	}
	if channel == "" {
		channel = fallback
	}
	md.Channel = channel
	if !md.Valid() {
		return md, fmt.Errorf("%w: channel %q", ErrInvalidMetadata, channel)
	}
	return md, nil
}

func checkCredit(acc *model.Account, amount int64) error {
	if acc.Balance > math.MaxInt64-amount || acc.LedgerBalance > math.MaxInt64-amount {
		return ErrBalanceOverflow
	}
	return nil
}

// redeemer is the user recorded as consuming a code: the acting user, or the
// account owner for internal callers.
func redeemer(actorID, ownerID int64) int64 {
	if actorID != 0 {
		return actorID
	}
	return ownerID
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
