// Package threshold adapts the chat-path alert threshold from reviewer
// feedback. Too many false positives raise the bar; consistently accurate
// alerts lower it back toward the floor.
package threshold

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/config"
	"watchdog-server/pkg/errors"
	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/store"
)

// Controller processes reviewer feedback and adjusts the shared alert
// threshold
type Controller struct {
	logger   *logrus.Entry
	repo     store.Repository
	settings *config.SettingsService
	cfg      config.ThresholdConfig
	nowFn    func() time.Time
}

// NewController creates a threshold controller
func NewController(logger *logrus.Logger, repo store.Repository, settings *config.SettingsService, cfg config.ThresholdConfig) *Controller {
	return &Controller{
		logger:   logger.WithField("component", "threshold"),
		repo:     repo,
		settings: settings,
		cfg:      cfg,
		nowFn:    time.Now,
	}
}

// SubmitFeedback records a reviewer verdict on an alert, resolves the alert
// and re-evaluates the threshold
func (c *Controller) SubmitFeedback(ctx context.Context, alertID, reviewerID, verdict, notes string) error {
	if !store.ValidVerdict(verdict) {
		return errors.Wrap(errors.ErrInvalidFeedback, "submitting feedback").
			WithField("verdict", verdict)
	}

	if err := c.repo.ResolveAlert(ctx, alertID, verdict); err != nil {
		return err
	}

	feedback := &store.Feedback{
		ID:         uuid.New().String(),
		AlertID:    alertID,
		ReviewerID: reviewerID,
		Verdict:    verdict,
		Notes:      notes,
		CreatedAt:  c.nowFn(),
	}
	if err := c.repo.SaveFeedback(ctx, feedback); err != nil {
		return err
	}

	metrics.FeedbackReceived.WithLabelValues(verdict).Inc()
	metrics.AlertsResolved.WithLabelValues(verdict).Inc()

	c.logger.WithFields(logrus.Fields{
		"alert_id": alertID,
		"verdict":  verdict,
	}).Info("Reviewer feedback recorded")

	return c.Adjust(ctx)
}

// Adjust recomputes the trailing false-positive rate and moves the threshold
// when it crosses a band. Concurrent adjustments resolve last-writer-wins
// through the settings compare-and-swap.
func (c *Controller) Adjust(ctx context.Context) error {
	since := c.nowFn().Add(-c.cfg.FeedbackWindow)
	feedback, err := c.repo.ListFeedbackSince(ctx, since)
	if err != nil {
		return errors.Wrap(err, "loading feedback window")
	}

	if len(feedback) == 0 {
		return nil
	}

	falsePositives := 0
	for _, fb := range feedback {
		if fb.Verdict == store.FeedbackFalsePositive {
			falsePositives++
		}
	}
	fpRate := float64(falsePositives) / float64(len(feedback))

	snapshot := c.settings.Threshold()

	var target float64
	var direction string
	switch {
	case fpRate > c.cfg.HighFPRate:
		target = snapshot.AlertThreshold + c.cfg.RaiseStep
		direction = "up"
	case fpRate < c.cfg.LowFPRate:
		target = snapshot.AlertThreshold - c.cfg.LowerStep
		direction = "down"
	default:
		return nil
	}

	if target > c.cfg.Max {
		target = c.cfg.Max
	}
	if target < c.cfg.Min {
		target = c.cfg.Min
	}

	if target == snapshot.AlertThreshold {
		return nil
	}

	if !c.settings.CompareAndSwapThreshold(snapshot, target) {
		// Another writer adjusted first; its view of the window wins
		c.logger.Debug("Threshold adjustment lost compare-and-swap race")
		return nil
	}

	metrics.AlertThreshold.Set(c.settings.Threshold().AlertThreshold)
	metrics.ThresholdAdjustments.WithLabelValues(direction).Inc()

	c.logger.WithFields(logrus.Fields{
		"fp_rate":       fpRate,
		"feedback_size": len(feedback),
		"threshold":     target,
		"direction":     direction,
	}).Info("Alert threshold adjusted")

	return nil
}
