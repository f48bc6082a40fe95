// Package behavior tracks per-user action history across sessions and
// detects suspicious behavior patterns.
package behavior

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/metrics"
)

// Pattern severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Pattern types
const (
	PatternRepetitiveBehavior  = "repetitive_behavior"
	PatternRapidEscalation     = "rapid_escalation"
	PatternLowEngagement       = "low_engagement"
	PatternSustainedDistress   = "sustained_distress"
	PatternExcessiveViolations = "excessive_violations"
)

// ActionViolation marks an action entry as a content violation for the
// rapid-escalation window
const ActionViolation = "violation"

// Pattern represents a detected behavior pattern
type Pattern struct {
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Confidence  float64   `json:"confidence"`
	Description string    `json:"description"`
	DetectedAt  time.Time `json:"detected_at"`
}

// TimedAction is a single recorded user action
type TimedAction struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

// UserProfile holds the rolling action window for one user. Shared across
// that user's sessions.
type UserProfile struct {
	UserID      string        `json:"user_id"`
	Actions     []TimedAction `json:"actions"`
	LastUpdated time.Time     `json:"last_updated"`
}

// SessionState is the per-session snapshot the detector evaluates on each
// pattern tick
type SessionState struct {
	StartedAt        time.Time
	TranscriptLength int
	ViolationCount   int
	// RecentDominants holds the dominant emotion of recent analysis ticks,
	// newest last
	RecentDominants []string
}

// Detector detects behavior patterns from user action history and session
// state. Safe for concurrent use across sessions.
type Detector struct {
	mu       sync.RWMutex
	profiles map[string]*UserProfile

	profileWindow        time.Duration
	repetitiveActions    int
	repetitiveDistinct   int
	escalationWindow     time.Duration
	escalationViolations int

	logger *logrus.Entry
	nowFn  func() time.Time
}

// Config holds detector tuning
type Config struct {
	ProfileWindow        time.Duration
	RepetitiveActions    int
	RepetitiveDistinct   int
	EscalationWindow     time.Duration
	EscalationViolations int
}

// NewDetector creates a behavior pattern detector
func NewDetector(logger *logrus.Logger, cfg Config) *Detector {
	if cfg.ProfileWindow <= 0 {
		cfg.ProfileWindow = 24 * time.Hour
	}
	if cfg.RepetitiveActions <= 0 {
		cfg.RepetitiveActions = 10
	}
	if cfg.RepetitiveDistinct <= 0 {
		cfg.RepetitiveDistinct = 3
	}
	if cfg.EscalationWindow <= 0 {
		cfg.EscalationWindow = time.Hour
	}
	if cfg.EscalationViolations <= 0 {
		cfg.EscalationViolations = 3
	}

	return &Detector{
		profiles:             make(map[string]*UserProfile),
		profileWindow:        cfg.ProfileWindow,
		repetitiveActions:    cfg.RepetitiveActions,
		repetitiveDistinct:   cfg.RepetitiveDistinct,
		escalationWindow:     cfg.EscalationWindow,
		escalationViolations: cfg.EscalationViolations,
		logger:               logger.WithField("component", "behavior_detector"),
		nowFn:                time.Now,
	}
}

// RecordAction appends an action to the user's rolling window, pruning
// anything older than the profile window
func (d *Detector) RecordAction(userID, actionType string) {
	now := d.nowFn()

	d.mu.Lock()
	defer d.mu.Unlock()

	profile, ok := d.profiles[userID]
	if !ok {
		profile = &UserProfile{UserID: userID}
		d.profiles[userID] = profile
	}

	profile.Actions = append(profile.Actions, TimedAction{Type: actionType, Timestamp: now})
	profile.LastUpdated = now
	profile.Actions = pruneActions(profile.Actions, now.Add(-d.profileWindow))
}

// Profile returns a copy of the user's action window, or nil when the user
// has no recorded actions
func (d *Detector) Profile(userID string) *UserProfile {
	d.mu.RLock()
	defer d.mu.RUnlock()

	profile, ok := d.profiles[userID]
	if !ok {
		return nil
	}

	cp := &UserProfile{
		UserID:      profile.UserID,
		Actions:     append([]TimedAction(nil), profile.Actions...),
		LastUpdated: profile.LastUpdated,
	}
	return cp
}

// DetectUserPatterns evaluates the user's action history
func (d *Detector) DetectUserPatterns(userID string) []Pattern {
	now := d.nowFn()

	d.mu.RLock()
	profile, ok := d.profiles[userID]
	var actions []TimedAction
	if ok {
		actions = append([]TimedAction(nil), profile.Actions...)
	}
	d.mu.RUnlock()

	if len(actions) == 0 {
		return nil
	}

	metrics.DetectorRuns.WithLabelValues("behavior").Inc()

	var patterns []Pattern

	if p, found := d.detectRepetitive(actions, now); found {
		patterns = append(patterns, p)
	}
	if p, found := d.detectRapidEscalation(actions, now); found {
		patterns = append(patterns, p)
	}

	for _, p := range patterns {
		d.logger.WithFields(logrus.Fields{
			"user_id":  userID,
			"pattern":  p.Type,
			"severity": p.Severity,
		}).Info("Behavior pattern detected")
	}

	return patterns
}

// DetectSessionPatterns evaluates the current session state
func (d *Detector) DetectSessionPatterns(state SessionState) []Pattern {
	now := d.nowFn()
	var patterns []Pattern

	if now.Sub(state.StartedAt) > 30*time.Minute && state.TranscriptLength < 100 {
		patterns = append(patterns, Pattern{
			Type:        PatternLowEngagement,
			Severity:    SeverityMedium,
			Confidence:  0.7,
			Description: "long session with almost no conversation",
			DetectedAt:  now,
		})
	}

	if sustainedNegative(state.RecentDominants) {
		patterns = append(patterns, Pattern{
			Type:        PatternSustainedDistress,
			Severity:    SeverityHigh,
			Confidence:  0.85,
			Description: "distress or fear dominant across consecutive readings",
			DetectedAt:  now,
		})
	}

	if state.ViolationCount > 5 {
		patterns = append(patterns, Pattern{
			Type:        PatternExcessiveViolations,
			Severity:    SeverityHigh,
			Confidence:  0.9,
			Description: "violation count exceeded session limit",
			DetectedAt:  now,
		})
	}

	return patterns
}

func (d *Detector) detectRepetitive(actions []TimedAction, now time.Time) (Pattern, bool) {
	if len(actions) < d.repetitiveActions {
		return Pattern{}, false
	}

	recent := actions[len(actions)-d.repetitiveActions:]
	distinct := make(map[string]struct{}, len(recent))
	for _, a := range recent {
		distinct[a.Type] = struct{}{}
	}

	if len(distinct) >= d.repetitiveDistinct {
		return Pattern{}, false
	}

	return Pattern{
		Type:        PatternRepetitiveBehavior,
		Severity:    SeverityMedium,
		Confidence:  0.8,
		Description: "recent actions collapse to very few distinct types",
		DetectedAt:  now,
	}, true
}

func (d *Detector) detectRapidEscalation(actions []TimedAction, now time.Time) (Pattern, bool) {
	cutoff := now.Add(-d.escalationWindow)
	violations := 0
	for _, a := range actions {
		if a.Timestamp.Before(cutoff) {
			continue
		}
		if strings.HasPrefix(a.Type, ActionViolation) {
			violations++
		}
	}

	if violations <= d.escalationViolations {
		return Pattern{}, false
	}

	return Pattern{
		Type:        PatternRapidEscalation,
		Severity:    SeverityHigh,
		Confidence:  0.9,
		Description: "violation rate climbing within the last hour",
		DetectedAt:  now,
	}, true
}

// sustainedNegative reports whether the three most recent dominant readings
// are all distress or fear
func sustainedNegative(dominants []string) bool {
	if len(dominants) < 3 {
		return false
	}

	for _, dom := range dominants[len(dominants)-3:] {
		if dom != "distress" && dom != "fear" {
			return false
		}
	}
	return true
}

func pruneActions(actions []TimedAction, cutoff time.Time) []TimedAction {
	idx := 0
	for idx < len(actions) && actions[idx].Timestamp.Before(cutoff) {
		idx++
	}
	if idx == 0 {
		return actions
	}
	return append(actions[:0], actions[idx:]...)
}
