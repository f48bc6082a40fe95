package analyzer

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/rules"
)

func testSetup(t *testing.T) (*logrus.Logger, *rules.Registry) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	metrics.Init(logger)
	return logger, rules.NewRegistry(logger, "en")
}

func TestViolationAnalyzerCleanText(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewViolationAnalyzer(logger, registry)

	events, score := a.Analyze("thank you so much for the wonderful session", "en")
	assert.Empty(t, events)
	assert.Equal(t, 0.0, score)
}

func TestViolationAnalyzerEmptyText(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewViolationAnalyzer(logger, registry)

	events, score := a.Analyze("   ", "en")
	assert.Empty(t, events)
	assert.Equal(t, 0.0, score)
}

func TestViolationAnalyzerScamWithPII(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewViolationAnalyzer(logger, registry)

	text := "send money to my bank account 1234-5678-9012-3456, you bitch"
	events, score := a.Analyze(text, "en")

	require.NotEmpty(t, events)
	assert.Equal(t, 100.0, score)

	categories := map[rules.Category]bool{}
	for _, e := range events {
		categories[e.Type] = true
	}
	assert.True(t, categories[rules.CategoryProfanity])
	assert.True(t, categories[rules.CategoryScam])
	assert.True(t, categories[rules.CategoryPersonalInfo])

	// No single category reaches three matches, so rule severities stand
	for _, e := range events {
		if e.Type == rules.CategoryProfanity {
			assert.Equal(t, "low", e.Severity)
		} else {
			assert.Equal(t, "high", e.Severity)
		}
	}
}

func TestViolationAnalyzerSeverityEscalatesPerCategory(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewViolationAnalyzer(logger, registry)

	// Three profanity matches plus one email: four matches total, but only
	// the profanity category crosses the escalation threshold
	text := "you bitch, you bastard, you asshole, mail me at winner@lottoclub.net"
	events, _ := a.Analyze(text, "en")
	require.NotEmpty(t, events)

	seen := map[rules.Category]string{}
	for _, e := range events {
		seen[e.Type] = e.Severity
	}
	assert.Equal(t, "high", seen[rules.CategoryProfanity])
	assert.Equal(t, "medium", seen[rules.CategoryPersonalInfo])
}

func TestViolationAnalyzerSingleMatchKeepsRuleSeverity(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewViolationAnalyzer(logger, registry)

	events, score := a.Analyze("what an asshole", "en")
	require.Len(t, events, 1)
	assert.Equal(t, rules.CategoryProfanity, events[0].Type)
	assert.Equal(t, "low", events[0].Severity)
	assert.Equal(t, 15.0, score)
	assert.Equal(t, 15.0, events[0].Score())
}

func TestViolationAnalyzerRepeatedMatchesAccumulate(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewViolationAnalyzer(logger, registry)

	_, score := a.Analyze("send money now, send money fast, send money today", "en")
	assert.Equal(t, 90.0, score)
}

func TestViolationAnalyzerArabicLocale(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewViolationAnalyzer(logger, registry)

	events, score := a.Analyze("حول لي فلوس على حسابي البنكي", "ar")
	require.NotEmpty(t, events)
	assert.Greater(t, score, 0.0)
}

func TestEmotionAnalyzerNeutralText(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewEmotionAnalyzer(logger, registry)

	v := a.Analyze("the weather is lovely today", "en")
	assert.Equal(t, "neutral", v.Dominant)
	assert.Equal(t, 0.0, v.Anger)
	assert.Equal(t, 0.0, v.Fear)
}

func TestEmotionAnalyzerEmptyText(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewEmotionAnalyzer(logger, registry)

	v := a.Analyze("", "en")
	assert.Equal(t, "neutral", v.Dominant)
	assert.Equal(t, 0.0, v.Confidence)
}

func TestEmotionAnalyzerAngerDominant(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewEmotionAnalyzer(logger, registry)

	v := a.Analyze("I am so angry and furious at you, I hate this", "en")
	assert.Equal(t, "anger", v.Dominant)
	assert.Greater(t, v.Anger, v.Fear)
	assert.Greater(t, v.Anger, 0.0)
}

func TestEmotionAnalyzerScoreIsShareOfMatches(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewEmotionAnalyzer(logger, registry)

	// A single threat match owns the whole distribution, however short the text
	v := a.Analyze("I will kill you", "en")
	assert.InDelta(t, 1.0, v.Threat, 1e-9)
	assert.Equal(t, "threat", v.Dominant)
	assert.InDelta(t, 0.1, v.Confidence, 1e-9)

	// One anger match against two fear matches splits 1/3 to 2/3
	v = a.Analyze("I am angry and scared, scared of everything", "en")
	assert.InDelta(t, 1.0/3.0, v.Anger, 1e-9)
	assert.InDelta(t, 2.0/3.0, v.Fear, 1e-9)
	assert.Equal(t, "fear", v.Dominant)
}

func TestEmotionAnalyzerConfidenceScalesWithMatches(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewEmotionAnalyzer(logger, registry)

	weak := a.Analyze("I am a bit scared", "en")
	assert.InDelta(t, 0.1, weak.Confidence, 1e-9)

	// Ten lexicon matches saturate the confidence
	strong := a.Analyze("angry furious hate rage pissed annoyed scared afraid terrified worried", "en")
	assert.Equal(t, 1.0, strong.Confidence)
	assert.Equal(t, "anger", strong.Dominant)
}

func TestEmotionAnalyzerThreatDetection(t *testing.T) {
	logger, registry := testSetup(t)
	a := NewEmotionAnalyzer(logger, registry)

	v := a.Analyze("I will find you and make you pay", "en")
	assert.Equal(t, "threat", v.Dominant)
	assert.Greater(t, v.Threat, 0.0)
}
