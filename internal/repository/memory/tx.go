package memory

import (
	"context"
	"sort"
	"strconv"
	"time"

	"corebank/internal/model"
	"corebank/internal/repository"
)

// tx stages every write and applies them in one step on commit. Row locks
// are held until release, after the commit has become visible.
type tx struct {
	s    *Store
	held []string

	accounts    map[int64]*model.Account // created or updated
	newAccounts []int64
	txns        []*model.Transaction
	txnStatus   map[int64]string
	codes       map[string]*model.AuthorizationCode
	newCodes    []string
	outbox      []*model.OutboxMessage
}

func newTx(s *Store) *tx {
	return &tx{
		s:         s,
		accounts:  make(map[int64]*model.Account),
		txnStatus: make(map[int64]string),
		codes:     make(map[string]*model.AuthorizationCode),
	}
}

var _ repository.Tx = (*tx)(nil)

func (t *tx) lock(ctx context.Context, key string) error {
	for _, k := range t.held {
		if k == key {
			return nil
		}
	}
	if err := t.s.locks.acquire(ctx, key, t.s.lockTimeout); err != nil {
		return err
	}
	t.held = append(t.held, key)
	return nil
}

func (t *tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		t.s.locks.release(t.held[i])
	}
	t.held = nil
}

func accountKey(id int64) string { return "account:" + strconv.FormatInt(id, 10) }
func txnKey(ref string) string   { return "txn:" + ref }
func codeKey(code string) string { return "code:" + code }

// ============================================================================
// accounts
// ============================================================================

func (t *tx) CreateAccount(_ context.Context, account *model.Account) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if err := t.checkAccountUniqueLocked(account); err != nil {
		return err
	}
	t.s.nextAccountID++
	account.ID = t.s.nextAccountID
	now := t.s.now()
	account.CreatedAt, account.UpdatedAt = now, now
	t.accounts[account.ID] = cloneAccount(account)
	t.newAccounts = append(t.newAccounts, account.ID)
	return nil
}

func (t *tx) checkAccountUniqueLocked(account *model.Account) error {
	for _, a := range t.s.accounts {
		if a.AccountNumber == account.AccountNumber {
			return duplicate("account_number", account.AccountNumber)
		}
		if a.UserID == account.UserID {
			return duplicate("user_id", strconv.FormatInt(account.UserID, 10))
		}
	}
	for _, id := range t.newAccounts {
		a := t.accounts[id]
		if a.ID == account.ID {
			continue
		}
		if a.AccountNumber == account.AccountNumber {
			return duplicate("account_number", account.AccountNumber)
		}
		if a.UserID == account.UserID {
			return duplicate("user_id", strconv.FormatInt(account.UserID, 10))
		}
	}
	return nil
}

func (t *tx) LockAccounts(ctx context.Context, ids ...int64) (map[int64]*model.Account, error) {
	ordered := append([]int64(nil), ids...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	locked := make(map[int64]*model.Account, len(ordered))
	for _, id := range ordered {
		if _, done := locked[id]; done {
			continue
		}
		if err := t.lock(ctx, accountKey(id)); err != nil {
			return nil, err
		}
		a, err := t.readAccount(id)
		if err != nil {
			return nil, err
		}
		locked[id] = a
	}
	return locked, nil
}

func (t *tx) readAccount(id int64) (*model.Account, error) {
	if a, ok := t.accounts[id]; ok {
		return cloneAccount(a), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (t *tx) FindAccountByNumber(ctx context.Context, number string) (*model.Account, error) {
	for _, a := range t.accounts {
		if a.AccountNumber == number {
			return cloneAccount(a), nil
		}
	}
	return t.s.FindAccountByNumber(ctx, number)
}

func (t *tx) UpdateAccount(ctx context.Context, account *model.Account) error {
	if err := t.lock(ctx, accountKey(account.ID)); err != nil {
		return err
	}
	if _, err := t.readAccount(account.ID); err != nil {
		return err
	}
	cp := cloneAccount(account)
	cp.UpdatedAt = t.s.now()
	t.accounts[account.ID] = cp
	return nil
}

// ============================================================================
// transactions
// ============================================================================

func (t *tx) CreateTransaction(_ context.Context, trans *model.Transaction) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if err := t.checkTransactionUniqueLocked(trans); err != nil {
		return err
	}
	t.s.nextTxnID++
	trans.ID = t.s.nextTxnID
	if trans.CreatedAt.IsZero() {
		trans.CreatedAt = t.s.now()
	}
	t.txns = append(t.txns, cloneTransaction(trans))
	return nil
}

func (t *tx) checkTransactionUniqueLocked(trans *model.Transaction) error {
	if existing := t.s.txnByReferenceLocked(trans.Reference); existing != nil && existing.ID != trans.ID {
		return duplicate("reference", trans.Reference)
	}
	if trans.IdempotencyKey != nil {
		if existing := t.s.txnByIdempotencyKeyLocked(*trans.IdempotencyKey); existing != nil && existing.ID != trans.ID {
			return duplicate("idempotency_key", *trans.IdempotencyKey)
		}
	}
	for _, staged := range t.txns {
		if staged.ID == trans.ID {
			continue
		}
		if staged.Reference == trans.Reference {
			return duplicate("reference", trans.Reference)
		}
		if trans.IdempotencyKey != nil && staged.IdempotencyKey != nil && *staged.IdempotencyKey == *trans.IdempotencyKey {
			return duplicate("idempotency_key", *trans.IdempotencyKey)
		}
	}
	return nil
}

func (t *tx) stagedTransaction(match func(*model.Transaction) bool) *model.Transaction {
	for _, staged := range t.txns {
		if match(staged) {
			return staged
		}
	}
	return nil
}

func (t *tx) LockTransaction(ctx context.Context, reference string) (*model.Transaction, error) {
	if err := t.lock(ctx, txnKey(reference)); err != nil {
		return nil, err
	}
	found := t.stagedTransaction(func(x *model.Transaction) bool { return x.Reference == reference })
	if found == nil {
		t.s.mu.RLock()
		found = t.s.txnByReferenceLocked(reference)
		if found != nil {
			found = cloneTransaction(found)
		}
		t.s.mu.RUnlock()
	}
	if found == nil {
		return nil, repository.ErrTransactionNotFound
	}
	out := cloneTransaction(found)
	if st, ok := t.txnStatus[out.ID]; ok {
		out.Status = st
	}
	return out, nil
}

func (t *tx) UpdateTransactionStatus(_ context.Context, id int64, fromStatus, toStatus string) error {
	if !model.CanTransactionTransitionTo(fromStatus, toStatus) {
		return repository.ErrStatusConflict
	}

	current, ok := t.txnStatus[id]
	if !ok {
		if staged := t.stagedTransaction(func(x *model.Transaction) bool { return x.ID == id }); staged != nil {
			current = staged.Status
		} else {
			t.s.mu.RLock()
			for _, c := range t.s.txns {
				if c.ID == id {
					current = c.Status
					ok = true
					break
				}
			}
			t.s.mu.RUnlock()
			if !ok {
				return repository.ErrTransactionNotFound
			}
		}
	}
	if current != fromStatus {
		return repository.ErrStatusConflict
	}
	t.txnStatus[id] = toStatus
	return nil
}

func (t *tx) FindTransactionByIdempotencyKey(_ context.Context, key string) (*model.Transaction, error) {
	if staged := t.stagedTransaction(func(x *model.Transaction) bool {
		return x.IdempotencyKey != nil && *x.IdempotencyKey == key
	}); staged != nil {
		return cloneTransaction(staged), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	if found := t.s.txnByIdempotencyKeyLocked(key); found != nil {
		return cloneTransaction(found), nil
	}
	return nil, nil
}

func (t *tx) SumDebitsSince(_ context.Context, accountID int64, since time.Time) (int64, error) {
	t.s.mu.RLock()
	committed := sumDebits(t.s.txns, t.txnStatus, accountID, since)
	t.s.mu.RUnlock()
	return committed + sumDebits(t.txns, t.txnStatus, accountID, since), nil
}

// ============================================================================
// authorization codes
// ============================================================================

func (t *tx) CreateCode(_ context.Context, code *model.AuthorizationCode) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	if _, exists := t.s.codes[code.Code]; exists {
		return duplicate("code", code.Code)
	}
	if _, exists := t.codes[code.Code]; exists {
		return duplicate("code", code.Code)
	}
	t.s.nextCodeID++
	code.ID = t.s.nextCodeID
	now := t.s.now()
	code.CreatedAt, code.UpdatedAt = now, now
	t.codes[code.Code] = cloneCode(code)
	t.newCodes = append(t.newCodes, code.Code)
	return nil
}

func (t *tx) LockCode(ctx context.Context, code string) (*model.AuthorizationCode, error) {
	if err := t.lock(ctx, codeKey(code)); err != nil {
		return nil, err
	}
	if c, ok := t.codes[code]; ok {
		return cloneCode(c), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	c, ok := t.s.codes[code]
	if !ok {
		return nil, repository.ErrCodeNotFound
	}
	return cloneCode(c), nil
}

func (t *tx) UpdateCode(ctx context.Context, code *model.AuthorizationCode) error {
	if err := t.lock(ctx, codeKey(code.Code)); err != nil {
		return err
	}
	if _, ok := t.codes[code.Code]; !ok {
		t.s.mu.RLock()
		_, ok = t.s.codes[code.Code]
		t.s.mu.RUnlock()
		if !ok {
			return repository.ErrCodeNotFound
		}
	}
	cp := cloneCode(code)
	cp.UpdatedAt = t.s.now()
	t.codes[code.Code] = cp
	return nil
}

// ============================================================================
// outbox
// ============================================================================

func (t *tx) CreateOutbox(_ context.Context, msg *model.OutboxMessage) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.nextOutboxID++
	msg.ID = t.s.nextOutboxID
	if msg.Status == "" {
		msg.Status = model.OutboxStatusPending
	}
	now := t.s.now()
	msg.CreatedAt, msg.UpdatedAt = now, now
	cp := *msg
	t.outbox = append(t.outbox, &cp)
	return nil
}

// ============================================================================
// commit
// ============================================================================

func (t *tx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	// Another unit of work may have committed a conflicting row since ours was staged.
	for _, id := range t.newAccounts {
		a := t.accounts[id]
		for _, c := range t.s.accounts {
			if c.AccountNumber == a.AccountNumber {
				return duplicate("account_number", a.AccountNumber)
			}
			if c.UserID == a.UserID {
				return duplicate("user_id", strconv.FormatInt(a.UserID, 10))
			}
		}
	}
	for _, staged := range t.txns {
		if t.s.txnByReferenceLocked(staged.Reference) != nil {
			return duplicate("reference", staged.Reference)
		}
		if staged.IdempotencyKey != nil && t.s.txnByIdempotencyKeyLocked(*staged.IdempotencyKey) != nil {
			return duplicate("idempotency_key", *staged.IdempotencyKey)
		}
	}
	for _, code := range t.newCodes {
		if _, exists := t.s.codes[code]; exists {
			return duplicate("code", code)
		}
	}

	for id, a := range t.accounts {
		t.s.accounts[id] = a
	}
	for _, c := range t.s.txns {
		if st, ok := t.txnStatus[c.ID]; ok {
			c.Status = st
		}
	}
	for _, staged := range t.txns {
		if st, ok := t.txnStatus[staged.ID]; ok {
			staged.Status = st
		}
		t.s.txns = append(t.s.txns, staged)
	}
	sort.SliceStable(t.s.txns, func(i, j int) bool { return t.s.txns[i].ID < t.s.txns[j].ID })
	for code, c := range t.codes {
		t.s.codes[code] = c
	}
	t.s.outbox = append(t.s.outbox, t.outbox...)
	sort.SliceStable(t.s.outbox, func(i, j int) bool { return t.s.outbox[i].ID < t.s.outbox[j].ID })
	return nil
}
