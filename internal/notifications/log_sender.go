package notifications

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// LogSender writes messages to the structured log instead of delivering them. Used in
// development and when no mail transport is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender returns a sender that logs through logger (a no-op logger when nil).
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.Named("mail")}
}

func (s *LogSender) Send(_ context.Context, msg Message) (SendResult, error) {
	if err := msg.validate(); err != nil {
		return SendResult{}, err
	}
	id := ulid.Make().String()
	s.logger.Info("email captured",
		zap.String("messageId", id),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("bytes", len(msg.HTML)),
	)
	return SendResult{MessageID: id, Transport: "log"}, nil
}
