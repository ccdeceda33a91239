package mq

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Publisher delivers one event. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

// LogPublisher only logs events. It backs the "none" notify provider so the
// outbox still drains in environments without a broker.
type LogPublisher struct {
	log *logrus.Entry
}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{log: logrus.WithField("component", "publisher")}
}

func (p *LogPublisher) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.log.WithFields(logrus.Fields{"topic": topic, "key": key, "bytes": len(payload)}).Info("event dropped, no broker configured")
	return nil
}

func (p *LogPublisher) Close() error { return nil }
