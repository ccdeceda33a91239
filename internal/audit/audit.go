// Package audit records who did what to which account or code. It is called
// by the HTTP layer around engine calls, never by the engine itself.
package audit

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	EventAccountOpened     = "account.opened"
	EventAccountStatus     = "account.status_changed"
	EventDeposit           = "ledger.deposit"
	EventWithdrawal        = "ledger.withdrawal"
	EventTransfer          = "ledger.transfer"
	EventReversal          = "ledger.reversal"
	EventCodeGenerated     = "code.generated"
	EventOperationRejected = "ledger.rejected"
)

type Logger interface {
	RecordEvent(ctx context.Context, event string, actor int64, subject string, details map[string]any)
}

// LogrusLogger writes one JSON line per event to its own stream, separate
// from the application log.
type LogrusLogger struct {
	log *logrus.Logger
}

func NewLogrusLogger(out io.Writer) *LogrusLogger {
	if out == nil {
		out = os.Stdout
	}
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	return &LogrusLogger{log: l}
}

func (a *LogrusLogger) RecordEvent(_ context.Context, event string, actor int64, subject string, details map[string]any) {
	fields := logrus.Fields{
		"audit":   true,
		"event":   event,
		"actor":   actor,
		"subject": subject,
	}
	for k, v := range details {
		if _, reserved := fields[k]; reserved {
			k = "detail_" + k
		}
		fields[k] = v
	}
	a.log.WithFields(fields).Info(event)
}
