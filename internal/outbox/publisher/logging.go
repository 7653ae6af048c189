package publisher

import (
	"context"

	"aurum-outbox/internal/common/logging"
)

// LoggingPublisher logs each message instead of sending it anywhere. Used by
// cmd/outboxd in development mode, so the relay runs without a broker.
type LoggingPublisher struct{}

// NewLoggingPublisher returns a Publisher that only logs.
func NewLoggingPublisher() *LoggingPublisher {
	return &LoggingPublisher{}
}

// Publish logs the message at info level and never fails.
func (p *LoggingPublisher) Publish(ctx context.Context, msg Message) error {
	logging.InfoContext(ctx, "outbox message published",
		"message_id", msg.MessageID,
		"correlation_id", msg.CorrelationID,
		"subject", msg.Subject,
		"event_type", msg.EventTypeName,
	)
	return nil
}
