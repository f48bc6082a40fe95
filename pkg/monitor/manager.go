// Package monitor owns the lifecycle of live monitoring sessions: the
// periodic analysis loops, transcript callbacks and the chat analysis path.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/analyzer"
	"watchdog-server/pkg/audio"
	"watchdog-server/pkg/behavior"
	"watchdog-server/pkg/config"
	"watchdog-server/pkg/errors"
	"watchdog-server/pkg/escalation"
	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/notify"
	"watchdog-server/pkg/scoring"
	"watchdog-server/pkg/store"
)

// Dependencies wires the manager to its detectors and collaborators
type Dependencies struct {
	Config     config.MonitoringConfig
	Settings   *config.SettingsService
	Violations *analyzer.ViolationAnalyzer
	Emotions   *analyzer.EmotionAnalyzer
	Audio      *audio.Detector
	Behavior   *behavior.Detector
	Engine     *scoring.Engine
	Dispatcher *escalation.Dispatcher
	Repo       store.Repository
	Publisher  notify.Publisher
}

// StartRequest describes a session to monitor
type StartRequest struct {
	SessionID  string
	Type       string
	ResourceID string
	UserID     string
	ProviderID string
	Locale     string
	Source     audio.SignalSource
}

// ChatRequest is a single chat message to analyze
type ChatRequest struct {
	SessionID  string
	ResourceID string
	UserID     string
	Locale     string
	Text       string
}

// ChatResult is the outcome of analyzing one chat message
type ChatResult struct {
	Score        float64                   `json:"score"`
	Status       string                    `json:"status"`
	Violations   []analyzer.ViolationEvent `json:"violations,omitempty"`
	AlertCreated bool                      `json:"alert_created"`
	AlertID      string                    `json:"alert_id,omitempty"`
}

// Manager runs all active monitoring sessions
type Manager struct {
	logger *logrus.Entry
	deps   Dependencies

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session monitor manager
func NewManager(logger *logrus.Logger, deps Dependencies) *Manager {
	return &Manager{
		logger:   logger.WithField("component", "monitor"),
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// StartMonitoring begins monitoring a session. Rejected when monitoring is
// disabled, when the session is already monitored, or at capacity.
func (m *Manager) StartMonitoring(ctx context.Context, req StartRequest) error {
	if !m.deps.Settings.Enabled() {
		metrics.SessionRejections.WithLabelValues("disabled").Inc()
		return errors.NewMonitoringDisabled()
	}
	if req.SessionID == "" {
		return errors.NewInvalidInput("session id required")
	}
	if req.Type != SessionTypeCall && req.Type != SessionTypeChat {
		return errors.NewInvalidInput("unknown session type",
			map[string]interface{}{"session_type": req.Type})
	}

	sess := &Session{
		ID:         req.SessionID,
		Type:       req.Type,
		ResourceID: req.ResourceID,
		UserID:     req.UserID,
		ProviderID: req.ProviderID,
		Locale:     req.Locale,
		StartedAt:  time.Now(),
		status:     scoring.StatusSafe,
	}

	m.mu.Lock()
	if _, exists := m.sessions[req.SessionID]; exists {
		m.mu.Unlock()
		metrics.SessionRejections.WithLabelValues("duplicate").Inc()
		return errors.Wrap(errors.ErrSessionAlreadyExists, "starting monitoring").
			WithField("session_id", req.SessionID)
	}
	if m.deps.Config.MaxConcurrentSessions > 0 && len(m.sessions) >= m.deps.Config.MaxConcurrentSessions {
		m.mu.Unlock()
		metrics.SessionRejections.WithLabelValues("capacity").Inc()
		return errors.Wrap(errors.ErrUnavailable, "session capacity reached").
			WithField("session_id", req.SessionID)
	}
	m.sessions[req.SessionID] = sess
	m.mu.Unlock()

	sctx, cancel := context.WithCancel(context.Background())
	sess.cancel = cancel

	if req.Type == SessionTypeCall && req.Source != nil {
		sess.wg.Add(1)
		go m.audioLoop(sctx, sess, req.Source)
	}
	sess.wg.Add(1)
	go m.patternLoop(sctx, sess)

	m.persistSnapshot(ctx, sess, nil)

	metrics.SessionsActive.Inc()
	metrics.SessionsStarted.WithLabelValues(req.Type).Inc()

	m.logger.WithFields(logrus.Fields{
		"session_id":   req.SessionID,
		"session_type": req.Type,
		"user_id":      req.UserID,
	}).Info("Monitoring started")

	return nil
}

// StopMonitoring stops a session's analysis loops and persists the final
// snapshot. Idempotent; stopping an unknown or already-stopped session is a
// no-op. Returns after both loops have exited, so no tick runs afterward.
func (m *Manager) StopMonitoring(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	sess.cancel()
	sess.wg.Wait()

	now := time.Now()
	m.persistSnapshot(ctx, sess, &now)

	snap := sess.snapshot()
	metrics.SessionsActive.Dec()
	metrics.SessionsStopped.WithLabelValues(sess.Type, snap.Status).Inc()
	metrics.SessionDuration.WithLabelValues(sess.Type).Observe(now.Sub(sess.StartedAt).Seconds())

	m.logger.WithFields(logrus.Fields{
		"session_id":  sessionID,
		"final_score": snap.RiskScore,
		"status":      snap.Status,
	}).Info("Monitoring stopped")

	return nil
}

// OnTranscript receives an incremental transcript fragment from the ASR
// collaborator and analyzes it immediately
func (m *Manager) OnTranscript(sessionID, text string) error {
	sess, err := m.session(sessionID)
	if err != nil {
		return err
	}

	events, violationScore := m.deps.Violations.Analyze(text, sess.Locale)
	vector := m.deps.Emotions.Analyze(text, sess.Locale)

	m.deps.Behavior.RecordAction(sess.UserID, "message")
	for range events {
		m.deps.Behavior.RecordAction(sess.UserID, behavior.ActionViolation)
	}

	sess.mu.Lock()
	sess.transcript.WriteString(text)
	sess.transcript.WriteString(" ")
	sess.violations = append(sess.violations, events...)
	sess.textEmotions = vector
	if vector.Dominant != "neutral" {
		sess.appendDominantLocked(vector.Dominant)
	}
	sess.mu.Unlock()

	m.updateScore(sess, nil)

	if violationScore > 0 {
		m.logger.WithFields(logrus.Fields{
			"session_id":      sessionID,
			"violation_score": violationScore,
		}).Warn("Violations found in transcript")
	}

	return nil
}

// AnalyzeChatMessage runs the chat-path analysis for one message. An alert is
// surfaced only when the composite score reaches the adaptive threshold; the
// static escalation bands always run.
func (m *Manager) AnalyzeChatMessage(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if !m.deps.Settings.Enabled() {
		return nil, errors.NewMonitoringDisabled()
	}
	if req.Text == "" {
		return nil, errors.NewInvalidInput("empty chat message")
	}

	events, violationScore := m.deps.Violations.Analyze(req.Text, req.Locale)
	vector := m.deps.Emotions.Analyze(req.Text, req.Locale)

	m.deps.Behavior.RecordAction(req.UserID, "chat_message")
	for range events {
		m.deps.Behavior.RecordAction(req.UserID, behavior.ActionViolation)
	}
	patterns := m.deps.Behavior.DetectUserPatterns(req.UserID)

	result := m.deps.Engine.Compute(scoring.Input{
		Violations:     events,
		ViolationScore: violationScore,
		TextEmotions:   vector,
		Patterns:       patterns,
	})
	status := scoring.Classify(result.Score)

	chatResult := &ChatResult{
		Score:      result.Score,
		Status:     status,
		Violations: events,
	}

	threshold := m.deps.Settings.Threshold().AlertThreshold
	if result.Score >= threshold {
		alert := m.createAlert(ctx, alertParams{
			sessionID: req.SessionID,
			userID:    req.UserID,
			alertType: store.AlertTypeRiskThreshold,
			severity:  severityForScore(result.Score),
			score:     result.Score,
			message:   "chat message crossed alert threshold",
			details: map[string]interface{}{
				"threshold": threshold,
				"status":    status,
			},
		})
		chatResult.AlertCreated = true
		chatResult.AlertID = alert.ID
	}

	m.deps.Dispatcher.Dispatch(ctx, escalation.Request{
		SessionID:  req.SessionID,
		ResourceID: req.ResourceID,
		UserID:     req.UserID,
		Score:      result.Score,
		Status:     status,
		Details:    map[string]interface{}{"path": "chat"},
	})

	// Fold into the live session when this chat thread is also monitored
	if sess, err := m.session(req.SessionID); err == nil {
		sess.mu.Lock()
		sess.violations = append(sess.violations, events...)
		sess.textEmotions = vector
		sess.mu.Unlock()
		m.updateScore(sess, patterns)
	}

	return chatResult, nil
}

// Session returns a snapshot of a live session
func (m *Manager) Session(sessionID string) (Snapshot, error) {
	sess, err := m.session(sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.snapshot(), nil
}

// Sessions returns snapshots of all live sessions
func (m *Manager) Sessions() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Snapshot, 0, len(m.sessions))
	for _, sess := range m.sessions {
		result = append(result, sess.snapshot())
	}
	return result
}

// Shutdown stops every live session, bounded by the context deadline
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		select {
		case <-ctx.Done():
			m.logger.Warn("Shutdown deadline reached with sessions remaining")
			return
		default:
		}
		if err := m.StopMonitoring(ctx, id); err != nil {
			m.logger.WithError(err).WithField("session_id", id).Warn("Failed to stop session during shutdown")
		}
	}
}

func (m *Manager) session(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.NewSessionNotFound(sessionID)
	}
	return sess, nil
}

// audioLoop samples the signal source on every audio tick
func (m *Manager) audioLoop(ctx context.Context, sess *Session, source audio.SignalSource) {
	defer sess.wg.Done()

	ticker := time.NewTicker(m.deps.Config.AudioSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		m.audioTick(ctx, sess, source)
		metrics.TickLatency.WithLabelValues("audio").Observe(time.Since(start).Seconds())
	}
}

func (m *Manager) audioTick(ctx context.Context, sess *Session, source audio.SignalSource) {
	sample, err := source.NextSample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.DetectorErrors.WithLabelValues("signal_source").Inc()
		m.logger.WithError(err).WithField("session_id", sess.ID).Debug("Signal source read failed")
		return
	}

	voice, err := m.deps.Audio.Analyze(sample)
	if err != nil {
		metrics.DetectorErrors.WithLabelValues("voice_emotion").Inc()
		m.logger.WithError(err).WithField("session_id", sess.ID).Debug("Voice analysis failed")
		return
	}

	sess.mu.Lock()
	sess.voiceEmotions = voice
	sess.hasVoice = true
	sess.audioTicks++
	if voice.Dominant != "neutral" {
		sess.appendDominantLocked(voice.Dominant)
	}
	sess.mu.Unlock()

	metrics.AudioTicksTotal.WithLabelValues(sess.ID).Inc()

	if emotion, triggered := audio.FastPath(voice); triggered {
		metrics.FastPathAlerts.WithLabelValues(emotion).Inc()
		m.createAlert(ctx, alertParams{
			sessionID: sess.ID,
			userID:    sess.UserID,
			alertType: store.AlertTypeEmotionalTone,
			severity:  "high",
			score:     sess.snapshot().RiskScore,
			message:   "acute emotional state detected in voice",
			details: map[string]interface{}{
				"emotion":   emotion,
				"intensity": voiceIntensity(voice, emotion),
			},
		})
	}

	m.updateScore(sess, nil)
}

// patternLoop re-evaluates behavior patterns and escalation on every pattern
// tick
func (m *Manager) patternLoop(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(m.deps.Config.PatternInterval)
	defer ticker.Stop()
	defer sess.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		m.patternTick(ctx, sess)
		metrics.TickLatency.WithLabelValues("pattern").Observe(time.Since(start).Seconds())
	}
}

func (m *Manager) patternTick(ctx context.Context, sess *Session) {
	sess.mu.RLock()
	state := behavior.SessionState{
		StartedAt:        sess.StartedAt,
		TranscriptLength: sess.transcript.Len(),
		ViolationCount:   sess.violationCountLocked(),
		RecentDominants:  append([]string(nil), sess.recentDominants...),
	}
	sess.mu.RUnlock()

	patterns := m.deps.Behavior.DetectUserPatterns(sess.UserID)
	patterns = append(patterns, m.deps.Behavior.DetectSessionPatterns(state)...)

	score, status := m.updateScore(sess, patterns)

	sess.mu.Lock()
	sess.patternTicks++
	shouldEscalate := bandFloor(score) > sess.escalatedBand
	if shouldEscalate {
		sess.escalatedBand = bandFloor(score)
	}
	sess.mu.Unlock()

	metrics.PatternTicksTotal.WithLabelValues(sess.ID).Inc()

	if shouldEscalate {
		m.deps.Dispatcher.Dispatch(ctx, escalation.Request{
			SessionID:  sess.ID,
			ResourceID: sess.ResourceID,
			UserID:     sess.UserID,
			Score:      score,
			Status:     status,
			Details:    map[string]interface{}{"path": "call"},
		})
	}

	m.persistSnapshot(ctx, sess, nil)
}

// updateScore recomputes the composite score from current session state and
// folds it into the monotonic running score
func (m *Manager) updateScore(sess *Session, patterns []behavior.Pattern) (float64, string) {
	sess.mu.Lock()
	input := scoring.Input{
		Violations:    append([]analyzer.ViolationEvent(nil), sess.violations...),
		TextEmotions:  sess.textEmotions,
		VoiceEmotions: sess.voiceEmotions,
		HasVoice:      sess.hasVoice,
		Patterns:      patterns,
	}
	sess.mu.Unlock()

	result := m.deps.Engine.Compute(input)

	// The fold must happen under the lock, or a concurrent tick could write
	// a stale lower score over a higher one
	sess.mu.Lock()
	previousStatus := sess.status
	sess.riskScore = foldScore(sess.riskScore, result.Score)
	score := sess.riskScore
	status := scoring.Classify(score)
	sess.status = status
	sess.mu.Unlock()

	if status != previousStatus {
		metrics.SessionStatusChanges.WithLabelValues(previousStatus, status).Inc()
		m.logger.WithFields(logrus.Fields{
			"session_id": sess.ID,
			"from":       previousStatus,
			"to":         status,
			"score":      score,
		}).Warn("Session classification changed")
	}

	return score, status
}

type alertParams struct {
	sessionID string
	userID    string
	alertType string
	severity  string
	score     float64
	message   string
	details   map[string]interface{}
}

func (m *Manager) createAlert(ctx context.Context, p alertParams) *store.Alert {
	alert := &store.Alert{
		ID:        uuid.New().String(),
		SessionID: p.sessionID,
		UserID:    p.userID,
		Type:      p.alertType,
		Severity:  p.severity,
		Score:     p.score,
		Message:   p.message,
		Details:   p.details,
		CreatedAt: time.Now(),
	}

	if err := m.deps.Repo.SaveAlert(ctx, alert); err != nil {
		m.logger.WithError(err).Error("Failed to persist alert")
	}
	metrics.AlertsCreated.WithLabelValues(p.alertType, p.severity).Inc()

	if err := m.deps.Publisher.PublishAlert(alert); err != nil {
		m.logger.WithError(err).WithField("alert_id", alert.ID).Warn("Alert notification failed")
	}

	return alert
}

func (m *Manager) persistSnapshot(ctx context.Context, sess *Session, stoppedAt *time.Time) {
	snap := sess.snapshot()

	record := &store.SessionSnapshot{
		SessionID:        snap.ID,
		SessionType:      snap.Type,
		UserID:           snap.UserID,
		ProviderID:       snap.ProviderID,
		Status:           snap.Status,
		RiskScore:        snap.RiskScore,
		ViolationCount:   snap.ViolationCount,
		TranscriptLength: snap.TranscriptLength,
		StartedAt:        snap.StartedAt,
		UpdatedAt:        time.Now(),
		StoppedAt:        stoppedAt,
	}

	if err := m.deps.Repo.SaveSnapshot(ctx, record); err != nil {
		m.logger.WithError(err).WithField("session_id", snap.ID).Warn("Failed to persist session snapshot")
	}
}

func severityForScore(score float64) string {
	switch {
	case score >= 90:
		return "critical"
	case score >= 70:
		return "high"
	case score >= 50:
		return "medium"
	default:
		return "low"
	}
}

func bandFloor(score float64) float64 {
	switch {
	case score >= 90:
		return 90
	case score >= 70:
		return 70
	case score >= 50:
		return 50
	case score >= 30:
		return 30
	default:
		return 0
	}
}

func voiceIntensity(v audio.VoiceEmotion, emotion string) float64 {
	switch emotion {
	case "anger":
		return v.Anger
	case "distress":
		return v.Distress
	case "fear":
		return v.Fear
	default:
		return 0
	}
}
