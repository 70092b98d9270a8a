package events

import (
	"context"

	"go.uber.org/zap"
)

// LogSink handles rejection events by logging them. Nothing is persisted.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a new logging sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Handle satisfies messaging.Handler[LimitRejectedEvent].
func (s *LogSink) Handle(_ context.Context, event *LimitRejectedEvent) error {
	s.logger.Info("limit rejected",
		zap.String("key", event.Key),
		zap.String("identifier", event.Identifier),
		zap.Int64("count", event.Count),
		zap.Int64("max", event.Max),
		zap.Int64("durationMs", event.DurationMs),
		zap.String("instance", event.Instance),
		zap.String("clientIp", event.ClientIP),
		zap.Time("rejectedAt", event.RejectedAt),
	)

	return nil
}
