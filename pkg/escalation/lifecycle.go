package escalation

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogOnlyLifecycle is used when no platform lifecycle client is configured.
// Pause and flag intents are logged so operators can act on them manually.
type LogOnlyLifecycle struct {
	logger *logrus.Entry
}

// NewLogOnlyLifecycle creates a lifecycle that records intents without
// touching the platform
func NewLogOnlyLifecycle(logger *logrus.Logger) *LogOnlyLifecycle {
	return &LogOnlyLifecycle{
		logger: logger.WithField("component", "lifecycle"),
	}
}

// Pause logs the pause intent
func (l *LogOnlyLifecycle) Pause(ctx context.Context, resourceID, reason, pausedBy string) error {
	l.logger.WithFields(logrus.Fields{
		"resource_id": resourceID,
		"reason":      reason,
		"paused_by":   pausedBy,
	}).Warn("Pause requested, no platform lifecycle client configured")
	return nil
}

// Flag logs the flag intent
func (l *LogOnlyLifecycle) Flag(ctx context.Context, resourceID, flag string) error {
	l.logger.WithFields(logrus.Fields{
		"resource_id": resourceID,
		"flag":        flag,
	}).Warn("Flag requested, no platform lifecycle client configured")
	return nil
}
