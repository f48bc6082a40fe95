package monitor

import (
	"strings"
	"sync"
	"time"

	"watchdog-server/pkg/analyzer"
	"watchdog-server/pkg/audio"
)

// Session types
const (
	SessionTypeCall = "call"
	SessionTypeChat = "chat"
)

// maxRecentDominants bounds the per-session dominant emotion history
const maxRecentDominants = 20

// Session is the live state of one monitored session. All mutable fields are
// guarded by mu; tick goroutines and transcript callbacks touch them
// concurrently.
type Session struct {
	ID         string
	Type       string
	ResourceID string
	UserID     string
	ProviderID string
	Locale     string
	StartedAt  time.Time

	mu              sync.RWMutex
	riskScore       float64
	status          string
	violations      []analyzer.ViolationEvent
	transcript      strings.Builder
	textEmotions    analyzer.EmotionVector
	voiceEmotions   audio.VoiceEmotion
	hasVoice        bool
	recentDominants []string
	escalatedBand   float64
	audioTicks      uint64
	patternTicks    uint64

	cancel func()
	wg     sync.WaitGroup
}

// Snapshot is a read-only copy of session state
type Snapshot struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	UserID           string    `json:"user_id"`
	ProviderID       string    `json:"provider_id,omitempty"`
	Status           string    `json:"status"`
	RiskScore        float64   `json:"risk_score"`
	ViolationCount   int       `json:"violation_count"`
	TranscriptLength int       `json:"transcript_length"`
	AudioTicks       uint64    `json:"audio_ticks"`
	PatternTicks     uint64    `json:"pattern_ticks"`
	StartedAt        time.Time `json:"started_at"`
}

func (s *Session) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		ID:               s.ID,
		Type:             s.Type,
		UserID:           s.UserID,
		ProviderID:       s.ProviderID,
		Status:           s.status,
		RiskScore:        s.riskScore,
		ViolationCount:   s.violationCountLocked(),
		TranscriptLength: s.transcript.Len(),
		AudioTicks:       s.audioTicks,
		PatternTicks:     s.patternTicks,
		StartedAt:        s.StartedAt,
	}
}

// violationCountLocked counts individual matches, not rules. Callers hold mu.
func (s *Session) violationCountLocked() int {
	count := 0
	for _, v := range s.violations {
		count += v.MatchCount
	}
	return count
}

func (s *Session) appendDominantLocked(dominant string) {
	s.recentDominants = append(s.recentDominants, dominant)
	if len(s.recentDominants) > maxRecentDominants {
		s.recentDominants = s.recentDominants[len(s.recentDominants)-maxRecentDominants:]
	}
}

// foldScore applies the monotonic running-score fold: a session's risk never
// decreases while it is being monitored
func foldScore(previous, tick float64) float64 {
	if tick > previous {
		return tick
	}
	return previous
}
