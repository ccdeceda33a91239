package job

import (
	"context"
	"time"

	"corebank/internal/model"
	"corebank/internal/repository"

	"github.com/sirupsen/logrus"
)

// Mismatch is an account whose balance disagrees with its newest ledger row,
// or whose newest row has inconsistent snapshots.
type Mismatch struct {
	AccountID      int64
	Balance        int64
	LedgerBalance  int64
	Reference      string
	SnapshotValid  bool
	ExpectedAmount int64 // new_balance of the newest row
}

// ReconcileJob walks every account and compares it against the ledger. It
// only reports; corrections go through reversals.
type ReconcileJob struct {
	store     repository.Reader
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
	log       *logrus.Entry
}

func NewReconcileJob(store repository.Reader, interval time.Duration) *ReconcileJob {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &ReconcileJob{
		store:     store,
		stopCh:    make(chan struct{}),
		interval:  interval,
		batchSize: 200,
		log:       logrus.WithField("component", "reconcile"),
	}
}

func (j *ReconcileJob) Start(ctx context.Context) {
	j.log.Info("reconcile job started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("context cancelled, reconcile job exiting")
			return
		case <-j.stopCh:
			j.log.Info("reconcile job stopped")
			return
		case <-ticker.C:
			if _, err := j.RunOnce(ctx); err != nil {
				j.log.WithError(err).Error("reconcile run failed")
			}
		}
	}
}

func (j *ReconcileJob) Stop() {
	close(j.stopCh)
}

// RunOnce checks all accounts and returns the mismatches found.
func (j *ReconcileJob) RunOnce(ctx context.Context) ([]Mismatch, error) {
	var (
		mismatches []Mismatch
		afterID    int64
		checked    int
	)
	for {
		accounts, err := j.store.ListAccounts(ctx, afterID, j.batchSize)
		if err != nil {
			return mismatches, err
		}
		if len(accounts) == 0 {
			break
		}
		for _, account := range accounts {
			afterID = account.ID
			checked++

			m, err := j.check(ctx, account)
			if err != nil {
				return mismatches, err
			}
			if m == nil {
				continue
			}
			// money may have moved between the two reads; look again
			fresh, err := j.store.GetAccount(ctx, account.ID)
			if err != nil {
				return mismatches, err
			}
			if m, err = j.check(ctx, fresh); err != nil {
				return mismatches, err
			}
			if m != nil {
				mismatches = append(mismatches, *m)
			}
		}
	}

	for _, m := range mismatches {
		j.log.WithFields(logrus.Fields{
			"account_id":     m.AccountID,
			"balance":        m.Balance,
			"ledger_balance": m.LedgerBalance,
			"reference":      m.Reference,
			"snapshot_valid": m.SnapshotValid,
			"expected":       m.ExpectedAmount,
		}).Error("ledger mismatch")
	}
	j.log.WithFields(logrus.Fields{"checked": checked, "mismatches": len(mismatches)}).Info("reconcile run finished")
	return mismatches, nil
}

func (j *ReconcileJob) check(ctx context.Context, account *model.Account) (*Mismatch, error) {
	latest, err := j.store.LatestTransaction(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		if account.Balance == 0 && account.LedgerBalance == 0 {
			return nil, nil
		}
		return &Mismatch{
			AccountID:     account.ID,
			Balance:       account.Balance,
			LedgerBalance: account.LedgerBalance,
			SnapshotValid: true,
		}, nil
	}
	valid := latest.SnapshotValid()
	if valid && latest.NewBalance == account.Balance && account.Balance >= 0 {
		return nil, nil
	}
	return &Mismatch{
		AccountID:      account.ID,
		Balance:        account.Balance,
		LedgerBalance:  account.LedgerBalance,
		Reference:      latest.Reference,
		SnapshotValid:  valid,
		ExpectedAmount: latest.NewBalance,
	}, nil
}
