package notify

import (
	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/errors"
	"watchdog-server/pkg/store"
)

// MultiPublisher fans each alert out to several publishers. Every publisher
// is attempted even when an earlier one fails.
type MultiPublisher struct {
	logger     *logrus.Entry
	publishers []Publisher
}

// NewMultiPublisher creates a fan-out publisher
func NewMultiPublisher(logger *logrus.Logger, publishers ...Publisher) *MultiPublisher {
	return &MultiPublisher{
		logger:     logger.WithField("component", "multi_publisher"),
		publishers: publishers,
	}
}

// PublishAlert delivers the alert to all publishers, returning the first
// failure after every delivery was attempted
func (m *MultiPublisher) PublishAlert(alert *store.Alert) error {
	var firstErr error
	for _, p := range m.publishers {
		if err := p.PublishAlert(alert); err != nil {
			m.logger.WithError(err).WithField("alert_id", alert.ID).
				Warn("Alert delivery failed on one channel")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return errors.Wrap(firstErr, "partial alert delivery")
	}
	return nil
}
