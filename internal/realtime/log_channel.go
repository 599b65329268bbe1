package realtime

import (
	"context"

	"go.uber.org/zap"
)

// LogChannel records events without delivering them. Used when Redis is disabled.
type LogChannel struct {
	logger *zap.Logger
}

// NewLogChannel constructs a LogChannel.
func NewLogChannel(logger *zap.Logger) *LogChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogChannel{logger: logger}
}

// EmitToSubjects logs the event and its recipients.
func (c *LogChannel) EmitToSubjects(_ context.Context, subjectIDs []string, event string, _ interface{}) error {
	c.logger.Info("realtime event (log only)", zap.String("event", event), zap.Strings("recipients", subjectIDs))
	return nil
}
