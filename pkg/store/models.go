package store

import "time"

// Reviewer feedback verdicts
const (
	FeedbackAccurate      = "accurate"
	FeedbackFalsePositive = "false_positive"
)

// Alert types
const (
	AlertTypeRiskThreshold = "risk_threshold"
	AlertTypeEmotionalTone = "emotional_tone"
	AlertTypeEscalation    = "escalation"
)

// Alert represents a surfaced monitoring alert awaiting review
type Alert struct {
	ID         string                 `json:"id"`
	SessionID  string                 `json:"session_id"`
	UserID     string                 `json:"user_id,omitempty"`
	Type       string                 `json:"type"`
	Severity   string                 `json:"severity"`
	Score      float64                `json:"score"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	Resolved   bool                   `json:"resolved"`
	ResolvedAt *time.Time             `json:"resolved_at,omitempty"`
	Feedback   string                 `json:"feedback,omitempty"`
}

// SessionSnapshot is the persisted state of a monitoring session
type SessionSnapshot struct {
	SessionID        string     `json:"session_id"`
	SessionType      string     `json:"session_type"`
	UserID           string     `json:"user_id"`
	ProviderID       string     `json:"provider_id,omitempty"`
	Status           string     `json:"status"`
	RiskScore        float64    `json:"risk_score"`
	ViolationCount   int        `json:"violation_count"`
	TranscriptLength int        `json:"transcript_length"`
	StartedAt        time.Time  `json:"started_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StoppedAt        *time.Time `json:"stopped_at,omitempty"`
}

// IncidentLog records an escalation band being entered
type IncidentLog struct {
	ID        string                 `json:"id"`
	SessionID string                 `json:"session_id"`
	Score     float64                `json:"score"`
	Status    string                 `json:"status"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// EscalationLog records the outcome of a single escalation action
type EscalationLog struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is a reviewer verdict on an alert
type Feedback struct {
	ID         string    `json:"id"`
	AlertID    string    `json:"alert_id"`
	ReviewerID string    `json:"reviewer_id"`
	Verdict    string    `json:"verdict"`
	Notes      string    `json:"notes,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidVerdict reports whether the verdict is one the threshold controller
// understands
func ValidVerdict(verdict string) bool {
	return verdict == FeedbackAccurate || verdict == FeedbackFalsePositive
}
