package scoring

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdog-server/pkg/analyzer"
	"watchdog-server/pkg/audio"
	"watchdog-server/pkg/behavior"
	"watchdog-server/pkg/config"
	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/rules"
)

func defaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		ViolationCap:         100,
		TextAngerWeight:      30,
		TextThreatWeight:     40,
		TextDistressWeight:   25,
		TextFearWeight:       20,
		VoiceAngerBonus:      25,
		VoiceDistressBonus:   30,
		VoiceFearBonus:       20,
		PatternHighWeight:    35,
		PatternMediumWeight:  20,
		PatternLowWeight:     10,
		MinConfidence:        0.5,
		LowConfidencePenalty: 0.7,
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	metrics.Init(logger)
	return NewEngine(logger, defaultScoringConfig())
}

func TestComputeEmptyInput(t *testing.T) {
	e := newTestEngine(t)

	result := e.Compute(Input{
		TextEmotions: analyzer.EmotionVector{Confidence: 1},
	})

	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, StatusSafe, Classify(result.Score))
}

func TestComputeScamMessageReachesCritical(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	metrics.Init(logger)

	registry := rules.NewRegistry(logger, "en")
	violations := analyzer.NewViolationAnalyzer(logger, registry)
	emotions := analyzer.NewEmotionAnalyzer(logger, registry)
	e := NewEngine(logger, defaultScoringConfig())

	text := "send money to my bank account 1234-5678-9012-3456, you bitch"
	events, violationScore := violations.Analyze(text, "en")
	vector := emotions.Analyze(text, "en")

	require.NotEmpty(t, events)
	result := e.Compute(Input{
		Violations:     events,
		ViolationScore: violationScore,
		TextEmotions:   vector,
	})

	// Violations 100 plus full anger weight 30, discounted by the single
	// lexicon match's low confidence: 130 * 0.7
	assert.InDelta(t, 91.0, result.Score, 1e-9)
	assert.Equal(t, StatusCritical, Classify(result.Score))
}

func TestComputeTextEmotionWeights(t *testing.T) {
	e := newTestEngine(t)

	result := e.Compute(Input{
		TextEmotions: analyzer.EmotionVector{
			Anger:      0.5,
			Threat:     0.5,
			Distress:   0.2,
			Fear:       0.1,
			Confidence: 1,
		},
	})

	// 0.5*30 + 0.5*40 + 0.2*25 + 0.1*20 = 42
	assert.InDelta(t, 42.0, result.Score, 1e-9)
	assert.Equal(t, StatusNeedsReview, Classify(result.Score))
}

func TestComputeVoiceDominantBonus(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		dominant string
		bonus    float64
	}{
		{"anger", 25},
		{"distress", 30},
		{"fear", 20},
		{"calm", 0},
		{"neutral", 0},
	}

	for _, tt := range tests {
		t.Run(tt.dominant, func(t *testing.T) {
			result := e.Compute(Input{
				TextEmotions:  analyzer.EmotionVector{Confidence: 1},
				VoiceEmotions: audio.VoiceEmotion{Dominant: tt.dominant, Confidence: 1},
				HasVoice:      true,
			})
			assert.InDelta(t, tt.bonus, result.Score, 1e-9)
		})
	}
}

func TestComputePatternWeights(t *testing.T) {
	e := newTestEngine(t)

	result := e.Compute(Input{
		TextEmotions: analyzer.EmotionVector{Confidence: 1},
		Patterns: []behavior.Pattern{
			{Severity: behavior.SeverityHigh},
			{Severity: behavior.SeverityMedium},
			{Severity: behavior.SeverityLow},
		},
	})

	assert.InDelta(t, 65.0, result.Score, 1e-9)
	assert.Equal(t, StatusSuspicious, Classify(result.Score))
}

func TestComputeLowConfidenceDiscount(t *testing.T) {
	e := newTestEngine(t)

	result := e.Compute(Input{
		ViolationScore: 50,
		TextEmotions:   analyzer.EmotionVector{Confidence: 0.3},
	})

	assert.InDelta(t, 35.0, result.Score, 1e-9)
	assert.InDelta(t, 0.3, result.Confidence, 1e-9)
}

func TestComputeConfidenceAveragesVoice(t *testing.T) {
	e := newTestEngine(t)

	result := e.Compute(Input{
		ViolationScore: 40,
		TextEmotions:   analyzer.EmotionVector{Confidence: 0.2},
		VoiceEmotions:  audio.VoiceEmotion{Confidence: 1.0},
		HasVoice:       true,
	})

	// (0.2 + 1.0) / 2 = 0.6, above the minimum
	assert.InDelta(t, 0.6, result.Confidence, 1e-9)
	assert.InDelta(t, 40.0, result.Score, 1e-9)
}

func TestComputeViolationScoreDerivedFromEvents(t *testing.T) {
	e := newTestEngine(t)

	result := e.Compute(Input{
		Violations: []analyzer.ViolationEvent{
			{MatchCount: 2, Weight: 30},
			{MatchCount: 1, Weight: 15},
		},
		TextEmotions: analyzer.EmotionVector{Confidence: 1},
	})

	assert.InDelta(t, 75.0, result.Score, 1e-9)
}

func TestComputeClampsToHundred(t *testing.T) {
	e := newTestEngine(t)

	result := e.Compute(Input{
		ViolationScore: 500,
		TextEmotions:   analyzer.EmotionVector{Anger: 1, Threat: 1, Confidence: 1},
	})

	assert.Equal(t, 100.0, result.Score)
}

func TestClassifyBands(t *testing.T) {
	tests := []struct {
		score  float64
		status string
	}{
		{0, StatusSafe},
		{29.9, StatusSafe},
		{30, StatusNeedsReview},
		{59.9, StatusNeedsReview},
		{60, StatusSuspicious},
		{79.9, StatusSuspicious},
		{80, StatusCritical},
		{100, StatusCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, Classify(tt.score), "score %v", tt.score)
	}
}
