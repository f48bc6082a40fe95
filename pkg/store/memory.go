// Package store persists monitoring artifacts. The default implementation is
// an in-memory repository suitable for single-node deployments; database
// backends implement the same interface.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/errors"
)

// Repository is the persistence collaborator used by the monitoring engine
type Repository interface {
	SaveAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, id string) (*Alert, error)
	ListAlerts(ctx context.Context, sessionID string) ([]*Alert, error)
	ResolveAlert(ctx context.Context, id, feedback string) error

	SaveSnapshot(ctx context.Context, snapshot *SessionSnapshot) error
	GetSnapshot(ctx context.Context, sessionID string) (*SessionSnapshot, error)
	ListSnapshots(ctx context.Context) ([]*SessionSnapshot, error)

	AppendIncident(ctx context.Context, incident *IncidentLog) error
	ListIncidents(ctx context.Context, sessionID string) ([]*IncidentLog, error)

	AppendEscalation(ctx context.Context, entry *EscalationLog) error
	ListEscalations(ctx context.Context, sessionID string) ([]*EscalationLog, error)

	SaveFeedback(ctx context.Context, feedback *Feedback) error
	ListFeedbackSince(ctx context.Context, since time.Time) ([]*Feedback, error)
}

// MemoryStore is a thread-safe in-memory Repository
type MemoryStore struct {
	mu          sync.RWMutex
	alerts      map[string]*Alert
	alertOrder  []string
	snapshots   map[string]*SessionSnapshot
	incidents   map[string][]*IncidentLog
	escalations map[string][]*EscalationLog
	feedback    []*Feedback

	logger *logrus.Entry
}

// NewMemoryStore creates an empty in-memory repository
func NewMemoryStore(logger *logrus.Logger) *MemoryStore {
	return &MemoryStore{
		alerts:      make(map[string]*Alert),
		snapshots:   make(map[string]*SessionSnapshot),
		incidents:   make(map[string][]*IncidentLog),
		escalations: make(map[string][]*EscalationLog),
		logger:      logger.WithField("component", "memory_store"),
	}
}

// SaveAlert stores or replaces an alert
func (s *MemoryStore) SaveAlert(_ context.Context, alert *Alert) error {
	if alert == nil || alert.ID == "" {
		return errors.NewInvalidInput("alert requires an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[alert.ID]; !exists {
		s.alertOrder = append(s.alertOrder, alert.ID)
	}
	cp := *alert
	s.alerts[alert.ID] = &cp

	return nil
}

// GetAlert retrieves an alert by id
func (s *MemoryStore) GetAlert(_ context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	alert, ok := s.alerts[id]
	if !ok {
		return nil, errors.Wrap(errors.ErrAlertNotFound, "getting alert").
			WithField("alert_id", id)
	}

	cp := *alert
	return &cp, nil
}

// ListAlerts returns alerts in creation order, optionally filtered by session
func (s *MemoryStore) ListAlerts(_ context.Context, sessionID string) ([]*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Alert
	for _, id := range s.alertOrder {
		alert := s.alerts[id]
		if sessionID != "" && alert.SessionID != sessionID {
			continue
		}
		cp := *alert
		result = append(result, &cp)
	}

	return result, nil
}

// ResolveAlert marks an alert resolved with the reviewer's verdict
func (s *MemoryStore) ResolveAlert(_ context.Context, id, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	alert, ok := s.alerts[id]
	if !ok {
		return errors.Wrap(errors.ErrAlertNotFound, "resolving alert").
			WithField("alert_id", id)
	}
	if alert.Resolved {
		return errors.Wrap(errors.ErrAlertResolved, "resolving alert").
			WithField("alert_id", id)
	}

	now := time.Now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.Feedback = feedback

	return nil
}

// SaveSnapshot stores or replaces a session snapshot
func (s *MemoryStore) SaveSnapshot(_ context.Context, snapshot *SessionSnapshot) error {
	if snapshot == nil || snapshot.SessionID == "" {
		return errors.NewInvalidInput("snapshot requires a session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *snapshot
	s.snapshots[snapshot.SessionID] = &cp

	return nil
}

// GetSnapshot retrieves a session snapshot
func (s *MemoryStore) GetSnapshot(_ context.Context, sessionID string) (*SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[sessionID]
	if !ok {
		return nil, errors.NewSessionNotFound(sessionID)
	}

	cp := *snapshot
	return &cp, nil
}

// ListSnapshots returns all session snapshots
func (s *MemoryStore) ListSnapshots(_ context.Context) ([]*SessionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*SessionSnapshot, 0, len(s.snapshots))
	for _, snapshot := range s.snapshots {
		cp := *snapshot
		result = append(result, &cp)
	}

	return result, nil
}

// AppendIncident appends an incident log entry
func (s *MemoryStore) AppendIncident(_ context.Context, incident *IncidentLog) error {
	if incident == nil || incident.SessionID == "" {
		return errors.NewInvalidInput("incident requires a session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *incident
	s.incidents[incident.SessionID] = append(s.incidents[incident.SessionID], &cp)

	return nil
}

// ListIncidents returns incident log entries for a session
func (s *MemoryStore) ListIncidents(_ context.Context, sessionID string) ([]*IncidentLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.incidents[sessionID]
	result := make([]*IncidentLog, 0, len(entries))
	for _, entry := range entries {
		cp := *entry
		result = append(result, &cp)
	}

	return result, nil
}

// AppendEscalation appends an escalation log entry
func (s *MemoryStore) AppendEscalation(_ context.Context, entry *EscalationLog) error {
	if entry == nil || entry.SessionID == "" {
		return errors.NewInvalidInput("escalation entry requires a session id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.escalations[entry.SessionID] = append(s.escalations[entry.SessionID], &cp)

	return nil
}

// ListEscalations returns escalation log entries for a session
func (s *MemoryStore) ListEscalations(_ context.Context, sessionID string) ([]*EscalationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.escalations[sessionID]
	result := make([]*EscalationLog, 0, len(entries))
	for _, entry := range entries {
		cp := *entry
		result = append(result, &cp)
	}

	return result, nil
}

// SaveFeedback appends a reviewer feedback record
func (s *MemoryStore) SaveFeedback(_ context.Context, feedback *Feedback) error {
	if feedback == nil || feedback.AlertID == "" {
		return errors.Wrap(errors.ErrInvalidFeedback, "saving feedback")
	}
	if !ValidVerdict(feedback.Verdict) {
		return errors.Wrap(errors.ErrInvalidFeedback, "saving feedback").
			WithField("verdict", feedback.Verdict)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *feedback
	s.feedback = append(s.feedback, &cp)

	return nil
}

// ListFeedbackSince returns feedback records created at or after the cutoff
func (s *MemoryStore) ListFeedbackSince(_ context.Context, since time.Time) ([]*Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Feedback
	for _, fb := range s.feedback {
		if fb.CreatedAt.Before(since) {
			continue
		}
		cp := *fb
		result = append(result, &cp)
	}

	return result, nil
}
