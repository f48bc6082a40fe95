// Package audio analyzes frequency-domain amplitude buffers captured from
// live voice sessions and scores the speaker's emotional state.
package audio

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/errors"
	"watchdog-server/pkg/metrics"
)

// SignalSource supplies frequency-domain amplitude buffers for a session.
// Implementations are provided by the signal-capture collaborator; NextSample
// blocks until a buffer is available or the context is done.
type SignalSource interface {
	NextSample(ctx context.Context) ([]float64, error)
}

// VoiceEmotion holds per-emotion intensities derived from a single audio
// sample, each in [0,1]
type VoiceEmotion struct {
	Anger      float64   `json:"anger"`
	Distress   float64   `json:"distress"`
	Fear       float64   `json:"fear"`
	Calm       float64   `json:"calm"`
	Dominant   string    `json:"dominant"`
	Confidence float64   `json:"confidence"`
	Peak       float64   `json:"peak"`
	Mean       float64   `json:"mean"`
	Variance   float64   `json:"variance"`
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Detector scores voice emotion from spectral statistics
type Detector struct {
	logger *logrus.Entry
}

// NewDetector creates a voice emotion detector
func NewDetector(logger *logrus.Logger) *Detector {
	return &Detector{
		logger: logger.WithField("component", "audio_detector"),
	}
}

// Analyze computes peak, mean and variance of the amplitude buffer and maps
// them onto emotion intensities:
//
//	anger:    peak > 200 and variance > 1500, intensity (peak+variance)/2000
//	distress: variance > 2000 and mean > 100, intensity variance/3000
//	fear:     peak > 150, variance > 1000, mean < 80, intensity (peak+variance)/2500
//	calm:     variance < 500 and peak < 100, intensity 1 - (variance+peak)/600
//
// All intensities are clamped to [0,1]. Confidence is the dominant emotion's
// intensity, zero for a neutral reading.
func (d *Detector) Analyze(sample []float64) (VoiceEmotion, error) {
	if len(sample) == 0 {
		return VoiceEmotion{}, errors.NewInvalidInput("empty audio sample")
	}

	start := time.Now()
	defer func() {
		metrics.DetectorLatency.WithLabelValues("voice_emotion").Observe(time.Since(start).Seconds())
	}()
	metrics.DetectorRuns.WithLabelValues("voice_emotion").Inc()

	peak, mean, variance := spectralStats(sample)
	return emotionFromStats(peak, mean, variance), nil
}

func emotionFromStats(peak, mean, variance float64) VoiceEmotion {
	result := VoiceEmotion{
		Peak:       peak,
		Mean:       mean,
		Variance:   variance,
		Dominant:   "neutral",
		AnalyzedAt: time.Now(),
	}

	if peak > 200 && variance > 1500 {
		result.Anger = clamp01((peak + variance) / 2000)
	}
	if variance > 2000 && mean > 100 {
		result.Distress = clamp01(variance / 3000)
	}
	if peak > 150 && variance > 1000 && mean < 80 {
		result.Fear = clamp01((peak + variance) / 2500)
	}
	if variance < 500 && peak < 100 {
		result.Calm = clamp01(1 - (variance+peak)/600)
	}

	result.Dominant, result.Confidence = dominantVoiceEmotion(result)
	return result
}

// FastPath reports whether the emotion reading warrants an immediate alert,
// bypassing composite scoring. Triggered emotion name is returned for the
// alert payload.
func FastPath(v VoiceEmotion) (string, bool) {
	switch {
	case v.Anger > 0.8:
		return "anger", true
	case v.Distress > 0.7:
		return "distress", true
	default:
		return "", false
	}
}

func spectralStats(sample []float64) (peak, mean, variance float64) {
	var sum float64
	for _, amp := range sample {
		abs := math.Abs(amp)
		if abs > peak {
			peak = abs
		}
		sum += abs
	}
	mean = sum / float64(len(sample))

	var sq float64
	for _, amp := range sample {
		diff := math.Abs(amp) - mean
		sq += diff * diff
	}
	variance = sq / float64(len(sample))

	return peak, mean, variance
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func dominantVoiceEmotion(v VoiceEmotion) (string, float64) {
	dominant := "neutral"
	max := 0.0

	for _, candidate := range []struct {
		name  string
		value float64
	}{
		{"anger", v.Anger},
		{"distress", v.Distress},
		{"fear", v.Fear},
		{"calm", v.Calm},
	} {
		if candidate.value > max {
			max = candidate.value
			dominant = candidate.name
		}
	}

	return dominant, max
}
