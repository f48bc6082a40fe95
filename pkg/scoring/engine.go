// Package scoring combines detector outputs into a composite risk score and
// classifies sessions into review bands.
package scoring

import (
	"time"

	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/analyzer"
	"watchdog-server/pkg/audio"
	"watchdog-server/pkg/behavior"
	"watchdog-server/pkg/config"
	"watchdog-server/pkg/metrics"
)

// Session classification statuses
const (
	StatusSafe        = "safe"
	StatusNeedsReview = "needs_review"
	StatusSuspicious  = "suspicious"
	StatusCritical    = "critical"
)

// Input carries one tick's detector outputs into the scoring engine
type Input struct {
	Violations     []analyzer.ViolationEvent
	ViolationScore float64
	TextEmotions   analyzer.EmotionVector
	VoiceEmotions  audio.VoiceEmotion
	HasVoice       bool
	Patterns       []behavior.Pattern
}

// Result is the computed composite risk
type Result struct {
	Score      float64            `json:"score"`
	Confidence float64            `json:"confidence"`
	Components map[string]float64 `json:"components"`
	ComputedAt time.Time          `json:"computed_at"`
}

// Engine computes composite risk scores from weighted detector outputs
type Engine struct {
	logger *logrus.Entry
	cfg    config.ScoringConfig
}

// NewEngine creates a scoring engine
func NewEngine(logger *logrus.Logger, cfg config.ScoringConfig) *Engine {
	return &Engine{
		logger: logger.WithField("component", "scoring_engine"),
		cfg:    cfg,
	}
}

// Compute folds violations, text emotions, the dominant voice emotion and
// behavior patterns into a single score in [0,100]. When the combined
// detector confidence falls below the minimum, the score is discounted
// before clamping.
func (e *Engine) Compute(input Input) Result {
	components := make(map[string]float64, 4)

	violationScore := input.ViolationScore
	if violationScore == 0 {
		for _, v := range input.Violations {
			violationScore += v.Score()
		}
	}
	if violationScore > e.cfg.ViolationCap {
		violationScore = e.cfg.ViolationCap
	}
	components["violations"] = violationScore

	textScore := input.TextEmotions.Anger*e.cfg.TextAngerWeight +
		input.TextEmotions.Threat*e.cfg.TextThreatWeight +
		input.TextEmotions.Distress*e.cfg.TextDistressWeight +
		input.TextEmotions.Fear*e.cfg.TextFearWeight
	components["text_emotions"] = textScore

	var voiceScore float64
	if input.HasVoice {
		switch input.VoiceEmotions.Dominant {
		case "anger":
			voiceScore = e.cfg.VoiceAngerBonus
		case "distress":
			voiceScore = e.cfg.VoiceDistressBonus
		case "fear":
			voiceScore = e.cfg.VoiceFearBonus
		}
	}
	components["voice_emotions"] = voiceScore

	var patternScore float64
	for _, p := range input.Patterns {
		switch p.Severity {
		case behavior.SeverityHigh:
			patternScore += e.cfg.PatternHighWeight
		case behavior.SeverityMedium:
			patternScore += e.cfg.PatternMediumWeight
		default:
			patternScore += e.cfg.PatternLowWeight
		}
	}
	components["patterns"] = patternScore

	score := violationScore + textScore + voiceScore + patternScore

	confidence := e.combinedConfidence(input)
	if confidence < e.cfg.MinConfidence {
		score *= e.cfg.LowConfidencePenalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	metrics.RiskScoreDistribution.WithLabelValues("composite").Observe(score)

	return Result{
		Score:      score,
		Confidence: confidence,
		Components: components,
		ComputedAt: time.Now(),
	}
}

// combinedConfidence averages the confidences of the detectors that actually
// contributed to this tick
func (e *Engine) combinedConfidence(input Input) float64 {
	sum := input.TextEmotions.Confidence
	count := 1.0

	if input.HasVoice {
		sum += input.VoiceEmotions.Confidence
		count++
	}

	return sum / count
}

// Classify maps a composite score onto a session status. Pure function of
// the score.
func Classify(score float64) string {
	switch {
	case score >= 80:
		return StatusCritical
	case score >= 60:
		return StatusSuspicious
	case score >= 30:
		return StatusNeedsReview
	default:
		return StatusSafe
	}
}
