package mq

import (
	"context"
	"fmt"
	"time"

	"corebank/internal/config"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const flushTimeout = 5 * time.Second

type NATSPublisher struct {
	nc *nats.Conn
}

func NewNATSPublisher(cfg *config.NATSConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("corebank"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	logrus.WithField("url", cfg.URL).Info("nats connected")
	return &NATSPublisher{nc: nc}, nil
}

// Publish uses the topic as subject and carries the key in a header.
func (p *NATSPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	msg := nats.NewMsg(topic)
	msg.Header.Set("Event-Key", key)
	msg.Data = payload
	if err := p.nc.PublishMsg(msg); err != nil {
		return err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return p.nc.FlushWithContext(ctx)
}

func (p *NATSPublisher) Close() error {
	return p.nc.Drain()
}
