package config

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ThresholdState is the shared adaptive alert threshold. LastAdjusted records
// when the threshold controller last moved it.
type ThresholdState struct {
	AlertThreshold float64   `json:"alert_threshold"`
	LastAdjusted   time.Time `json:"last_adjusted"`
	Version        uint64    `json:"version"`
}

// SettingsService owns the mutable monitoring settings shared between the
// chat analysis path and the threshold controller. Reads return a snapshot;
// writes go through compare-and-swap so concurrent adjustments resolve
// last-writer-wins without partial updates.
type SettingsService struct {
	mu        sync.RWMutex
	enabled   bool
	threshold ThresholdState

	minThreshold float64
	maxThreshold float64

	logger *logrus.Entry
}

// NewSettingsService creates a settings service seeded from configuration
func NewSettingsService(logger *logrus.Logger, cfg *Config) *SettingsService {
	return &SettingsService{
		enabled: cfg.Monitoring.Enabled,
		threshold: ThresholdState{
			AlertThreshold: cfg.Monitoring.AlertThreshold,
			LastAdjusted:   time.Now(),
		},
		minThreshold: cfg.Threshold.Min,
		maxThreshold: cfg.Threshold.Max,
		logger:       logger.WithField("component", "settings"),
	}
}

// Enabled reports whether monitoring is globally enabled
func (s *SettingsService) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetEnabled flips the global monitoring switch
func (s *SettingsService) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled != enabled {
		s.logger.WithField("enabled", enabled).Info("Monitoring switch changed")
	}
	s.enabled = enabled
}

// Threshold returns a snapshot of the current threshold state
func (s *SettingsService) Threshold() ThresholdState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// CompareAndSwapThreshold replaces the threshold state only if the caller's
// snapshot is still current. Returns false if another writer won the race;
// callers re-read and retry or drop their adjustment.
func (s *SettingsService) CompareAndSwapThreshold(expected ThresholdState, newValue float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.threshold.Version != expected.Version {
		return false
	}

	if newValue < s.minThreshold {
		newValue = s.minThreshold
	}
	if newValue > s.maxThreshold {
		newValue = s.maxThreshold
	}

	s.logger.WithFields(logrus.Fields{
		"old_threshold": s.threshold.AlertThreshold,
		"new_threshold": newValue,
	}).Info("Alert threshold adjusted")

	s.threshold = ThresholdState{
		AlertThreshold: newValue,
		LastAdjusted:   time.Now(),
		Version:        s.threshold.Version + 1,
	}

	return true
}

// Bounds returns the configured threshold floor and cap
func (s *SettingsService) Bounds() (min, max float64) {
	return s.minThreshold, s.maxThreshold
}
