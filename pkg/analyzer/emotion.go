package analyzer

import (
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/rules"
)

// EmotionVector holds per-emotion intensities detected in text, each in
// [0,1]. Confidence reflects how much lexicon evidence backed the analysis.
type EmotionVector struct {
	Anger      float64   `json:"anger"`
	Fear       float64   `json:"fear"`
	Distress   float64   `json:"distress"`
	Threat     float64   `json:"threat"`
	Dominant   string    `json:"dominant"`
	Confidence float64   `json:"confidence"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// EmotionAnalyzer scores emotional intensity in session text against the
// locale emotion lexicons
type EmotionAnalyzer struct {
	logger   *logrus.Entry
	registry *rules.Registry
}

// NewEmotionAnalyzer creates a text emotion analyzer
func NewEmotionAnalyzer(logger *logrus.Logger, registry *rules.Registry) *EmotionAnalyzer {
	return &EmotionAnalyzer{
		logger:   logger.WithField("component", "emotion_analyzer"),
		registry: registry,
	}
}

// Analyze counts lexicon matches per emotion and scores each emotion as its
// share of the total matches across all four lexicons. Confidence is total
// matches divided by ten, capped at one; a lone scattered term produces a
// low-confidence vector.
func (a *EmotionAnalyzer) Analyze(text, locale string) EmotionVector {
	vector := EmotionVector{
		Dominant:   "neutral",
		AnalyzedAt: time.Now(),
	}

	if strings.TrimSpace(text) == "" {
		return vector
	}

	start := time.Now()
	defer func() {
		metrics.DetectorLatency.WithLabelValues("text_emotion").Observe(time.Since(start).Seconds())
	}()
	metrics.DetectorRuns.WithLabelValues("text_emotion").Inc()

	ruleSet := a.registry.ForLocale(locale)
	lowered := strings.ToLower(text)

	anger := countTerms(lowered, ruleSet.EmotionTerms(rules.EmotionAnger))
	fear := countTerms(lowered, ruleSet.EmotionTerms(rules.EmotionFear))
	distress := countTerms(lowered, ruleSet.EmotionTerms(rules.EmotionDistress))
	threat := countTerms(lowered, ruleSet.EmotionTerms(rules.EmotionThreat))

	total := anger + fear + distress + threat
	if total == 0 {
		return vector
	}

	vector.Anger = anger / total
	vector.Fear = fear / total
	vector.Distress = distress / total
	vector.Threat = threat / total

	vector.Confidence = total / 10
	if vector.Confidence > 1 {
		vector.Confidence = 1
	}

	vector.Dominant = dominantEmotion(vector)

	return vector
}

func countTerms(lowered string, terms []string) float64 {
	var count float64
	for _, term := range terms {
		count += float64(strings.Count(lowered, term))
	}
	return count
}

func dominantEmotion(v EmotionVector) string {
	dominant := "neutral"
	max := 0.0

	for _, candidate := range []struct {
		name  string
		value float64
	}{
		{"anger", v.Anger},
		{"fear", v.Fear},
		{"distress", v.Distress},
		{"threat", v.Threat},
	} {
		if candidate.value > max {
			max = candidate.value
			dominant = candidate.name
		}
	}

	return dominant
}
