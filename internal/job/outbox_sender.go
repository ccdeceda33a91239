package job

import (
	"context"
	"time"

	"corebank/internal/config"
	"corebank/internal/infrastructure/mq"
	"corebank/internal/model"
	"corebank/internal/repository"

	"github.com/sirupsen/logrus"
)

// OutboxSender relays committed completion events to the broker. Publishing
// happens after the ledger commit, so a broker outage delays notifications
// and never touches balances.
type OutboxSender struct {
	store      repository.Reader
	publisher  mq.Publisher
	stopCh     chan struct{}
	interval   time.Duration
	batchSize  int
	maxRetries int
	log        *logrus.Entry
}

func NewOutboxSender(store repository.Reader, publisher mq.Publisher, cfg config.JobsConfig) *OutboxSender {
	s := &OutboxSender{
		store:      store,
		publisher:  publisher,
		stopCh:     make(chan struct{}),
		interval:   cfg.OutboxInterval,
		batchSize:  cfg.OutboxBatch,
		maxRetries: cfg.MaxRetryCount,
		log:        logrus.WithField("component", "outbox_sender"),
	}
	if s.interval <= 0 {
		s.interval = time.Second
	}
	if s.batchSize <= 0 {
		s.batchSize = 100
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 5
	}
	return s
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("outbox sender started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("context cancelled, outbox sender exiting")
			return
		case <-s.stopCh:
			s.log.Info("outbox sender stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// RunOnce publishes one batch of pending events and returns how many were sent.
func (s *OutboxSender) RunOnce(ctx context.Context) int {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("load pending messages")
		return 0
	}

	sent := 0
	for _, msg := range messages {
		if s.sendMessage(ctx, msg) {
			sent++
		}
	}
	return sent
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	fields := logrus.Fields{"id": msg.ID, "event_id": msg.EventID, "topic": msg.Topic, "key": msg.MessageKey}

	err := s.publisher.Publish(ctx, msg.Topic, msg.MessageKey, []byte(msg.Payload))
	if err == nil {
		if updateErr := s.store.MarkOutboxSent(ctx, msg.ID); updateErr != nil {
			// the event will be published again; consumers dedupe on event_id
			s.log.WithFields(fields).WithError(updateErr).Error("mark message sent")
			return false
		}
		s.log.WithFields(fields).Debug("message published")
		return true
	}

	s.log.WithFields(fields).WithError(err).Warn("publish failed")
	if err := s.store.RecordOutboxFailure(ctx, msg.ID, s.maxRetries); err != nil {
		s.log.WithFields(fields).WithError(err).Error("record publish failure")
	}
	if msg.RetryCount+1 >= s.maxRetries {
		s.log.WithFields(fields).Error("message exceeded max retries, marked failed")
	}
	return false
}
