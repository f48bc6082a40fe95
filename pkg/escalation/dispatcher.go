// Package escalation maps risk scores onto tiered response actions and
// executes them best-effort against the platform collaborators.
package escalation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/notify"
	"watchdog-server/pkg/store"
)

// Escalation actions
const (
	ActionLogIncident   = "log_incident"
	ActionAlertMonitor  = "alert_monitor"
	ActionAlertAdmin    = "alert_admin"
	ActionAutoPause     = "auto_pause"
	ActionEmergencyFlag = "emergency_flag"
	ActionFlagSession   = "flag_session"
)

// PausedByAI is the actor recorded when the watchdog pauses a booking
const PausedByAI = "paused_by_ai"

// SessionLifecycle is the platform collaborator that can pause or flag the
// underlying booking or conversation
type SessionLifecycle interface {
	Pause(ctx context.Context, resourceID, reason, pausedBy string) error
	Flag(ctx context.Context, resourceID, flag string) error
}

// Request carries one escalation evaluation
type Request struct {
	SessionID  string
	ResourceID string
	UserID     string
	Score      float64
	Status     string
	Details    map[string]interface{}
}

// Outcome records the result of a single executed action
type Outcome struct {
	Action string
	Err    error
}

// Dispatcher executes the action set for a score band. Every action runs
// even when earlier ones fail; failures are logged and recorded, never
// propagated to the monitoring loop.
type Dispatcher struct {
	logger    *logrus.Entry
	repo      store.Repository
	publisher notify.Publisher
	lifecycle SessionLifecycle
}

// NewDispatcher creates an escalation dispatcher
func NewDispatcher(logger *logrus.Logger, repo store.Repository, publisher notify.Publisher, lifecycle SessionLifecycle) *Dispatcher {
	return &Dispatcher{
		logger:    logger.WithField("component", "escalation"),
		repo:      repo,
		publisher: publisher,
		lifecycle: lifecycle,
	}
}

// ActionsForScore returns the action set for a score band
func ActionsForScore(score float64) []string {
	switch {
	case score >= 90:
		return []string{ActionLogIncident, ActionAlertMonitor, ActionAlertAdmin, ActionAutoPause, ActionEmergencyFlag}
	case score >= 70:
		return []string{ActionLogIncident, ActionAlertMonitor, ActionAlertAdmin, ActionFlagSession}
	case score >= 50:
		return []string{ActionLogIncident, ActionAlertMonitor}
	case score >= 30:
		return []string{ActionLogIncident}
	default:
		return nil
	}
}

// Dispatch runs the action set for the request's score band
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) []Outcome {
	actions := ActionsForScore(req.Score)
	if len(actions) == 0 {
		return nil
	}

	outcomes := make([]Outcome, 0, len(actions))
	for _, action := range actions {
		err := d.execute(ctx, action, req)
		outcomes = append(outcomes, Outcome{Action: action, Err: err})

		outcome := "success"
		if err != nil {
			outcome = "failure"
			d.logger.WithError(err).WithFields(logrus.Fields{
				"session_id": req.SessionID,
				"action":     action,
			}).Error("Escalation action failed")
		}
		metrics.EscalationActions.WithLabelValues(action, outcome).Inc()

		d.recordOutcome(ctx, req.SessionID, action, outcome, err)
	}

	d.logger.WithFields(logrus.Fields{
		"session_id": req.SessionID,
		"score":      req.Score,
		"actions":    len(actions),
	}).Info("Escalation dispatched")

	return outcomes
}

func (d *Dispatcher) execute(ctx context.Context, action string, req Request) error {
	switch action {
	case ActionLogIncident:
		return d.repo.AppendIncident(ctx, &store.IncidentLog{
			ID:        uuid.New().String(),
			SessionID: req.SessionID,
			Score:     req.Score,
			Status:    req.Status,
			Details:   req.Details,
			CreatedAt: time.Now(),
		})

	case ActionAlertMonitor:
		return d.notifyAudience(ctx, req, "monitor", "high")

	case ActionAlertAdmin:
		return d.notifyAudience(ctx, req, "admin", "critical")

	case ActionAutoPause:
		return d.lifecycle.Pause(ctx, req.ResourceID, "high_risk_score", PausedByAI)

	case ActionEmergencyFlag:
		return d.lifecycle.Flag(ctx, req.ResourceID, "emergency")

	case ActionFlagSession:
		return d.lifecycle.Flag(ctx, req.ResourceID, "flagged_for_review")

	default:
		return nil
	}
}

func (d *Dispatcher) notifyAudience(ctx context.Context, req Request, audience, severity string) error {
	details := map[string]interface{}{"audience": audience}
	for k, v := range req.Details {
		details[k] = v
	}

	alert := &store.Alert{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Type:      store.AlertTypeEscalation,
		Severity:  severity,
		Score:     req.Score,
		Message:   "session risk escalated",
		Details:   details,
		CreatedAt: time.Now(),
	}

	if err := d.repo.SaveAlert(ctx, alert); err != nil {
		return err
	}

	metrics.AlertsCreated.WithLabelValues(alert.Type, alert.Severity).Inc()

	return d.publisher.PublishAlert(alert)
}

func (d *Dispatcher) recordOutcome(ctx context.Context, sessionID, action, outcome string, actionErr error) {
	entry := &store.EscalationLog{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Action:    action,
		Outcome:   outcome,
		CreatedAt: time.Now(),
	}
	if actionErr != nil {
		entry.Error = actionErr.Error()
	}

	if err := d.repo.AppendEscalation(ctx, entry); err != nil {
		d.logger.WithError(err).Warn("Failed to record escalation outcome")
	}
}
