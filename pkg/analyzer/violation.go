package analyzer

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/rules"
)

// ViolationEvent represents a single rule match in analyzed text
type ViolationEvent struct {
	ID          string         `json:"id"`
	Type        rules.Category `json:"type"`
	Rule        string         `json:"rule"`
	Severity    string         `json:"severity"`
	MatchCount  int            `json:"match_count"`
	Weight      float64        `json:"weight"`
	Description string         `json:"description"`
	DetectedAt  time.Time      `json:"detected_at"`
}

// Score returns the event's contribution to the violation score
func (v ViolationEvent) Score() float64 {
	return float64(v.MatchCount) * v.Weight
}

// ViolationAnalyzer detects content violations in session text using the
// locale rule tables
type ViolationAnalyzer struct {
	logger   *logrus.Entry
	registry *rules.Registry
}

// NewViolationAnalyzer creates a text violation analyzer
func NewViolationAnalyzer(logger *logrus.Logger, registry *rules.Registry) *ViolationAnalyzer {
	return &ViolationAnalyzer{
		logger:   logger.WithField("component", "violation_analyzer"),
		registry: registry,
	}
}

// Analyze runs every rule for the locale against the text. The returned score
// is the sum of match count times rule weight across all matched rules. When
// a category accumulates three or more matches, that category's events are
// raised to high severity.
func (a *ViolationAnalyzer) Analyze(text, locale string) ([]ViolationEvent, float64) {
	if strings.TrimSpace(text) == "" {
		return nil, 0
	}

	start := time.Now()
	defer func() {
		metrics.DetectorLatency.WithLabelValues("violation").Observe(time.Since(start).Seconds())
	}()
	metrics.DetectorRuns.WithLabelValues("violation").Inc()

	ruleSet := a.registry.ForLocale(locale)

	var events []ViolationEvent
	var score float64
	totalMatches := 0
	categoryMatches := make(map[rules.Category]int)

	for _, rule := range ruleSet.ViolationRules() {
		matches := rule.Regex.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}

		totalMatches += len(matches)
		categoryMatches[rule.Category] += len(matches)
		score += float64(len(matches)) * rule.Weight

		events = append(events, ViolationEvent{
			ID:          uuid.New().String(),
			Type:        rule.Category,
			Rule:        rule.Name,
			Severity:    rule.Severity,
			MatchCount:  len(matches),
			Weight:      rule.Weight,
			Description: string(rule.Category) + " rule matched",
			DetectedAt:  time.Now(),
		})

		metrics.ViolationsFound.WithLabelValues(string(rule.Category), rule.Severity).
			Add(float64(len(matches)))
	}

	// Dense matches within one category indicate a serious incident
	// regardless of per-rule severity
	for i := range events {
		if categoryMatches[events[i].Type] >= 3 {
			events[i].Severity = "high"
		}
	}

	if len(events) > 0 {
		a.logger.WithFields(logrus.Fields{
			"locale":  ruleSet.Locale,
			"matches": totalMatches,
			"score":   score,
		}).Debug("Content violations detected")
	}

	return events, score
}
