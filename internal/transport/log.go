package transport

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/mailpipe/internal/pkg/logger"
)

// Log accepts every message and only writes a log line. Used in development.
type Log struct{}

// NewLog returns the development transport.
func NewLog() *Log { return &Log{} }

// Name implements Transport.
func (*Log) Name() string { return "log" }

// Send implements Transport.
func (l *Log) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := validate(msg); err != nil {
		return SendResult{}, err
	}
	id := "log-" + uuid.NewString()
	logger.Info("email accepted by log transport",
		"to", msg.To, "from", msg.From, "subject", msg.Subject, "message_id", id, "bounce", msg.BounceAddress)
	return SendResult{MessageID: id, Provider: l.Name(), SentAt: time.Now().UTC()}, nil
}
