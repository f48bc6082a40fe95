package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete application configuration
type Config struct {
	HTTP       HTTPConfig       `json:"http"`
	Logging    LoggingConfig    `json:"logging"`
	Monitoring MonitoringConfig `json:"monitoring"`
	Scoring    ScoringConfig    `json:"scoring"`
	Threshold  ThresholdConfig  `json:"threshold"`
	Behavior   BehaviorConfig   `json:"behavior"`
	Messaging  MessagingConfig  `json:"messaging"`
	Rules      RulesConfig      `json:"rules"`
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	Enabled       bool          `json:"enabled" env:"HTTP_ENABLED" default:"true"`
	Port          int           `json:"port" env:"HTTP_PORT" default:"8080"`
	ReadTimeout   time.Duration `json:"read_timeout" env:"HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout  time.Duration `json:"write_timeout" env:"HTTP_WRITE_TIMEOUT" default:"30s"`
	EnableMetrics bool          `json:"enable_metrics" env:"HTTP_ENABLE_METRICS" default:"true"`
	EnableAPI     bool          `json:"enable_api" env:"HTTP_ENABLE_API" default:"true"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" env:"LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"LOG_FORMAT" default:"json"`
}

// MonitoringConfig holds the global watchdog switches and tick intervals
type MonitoringConfig struct {
	Enabled               bool          `json:"enabled" env:"MONITORING_ENABLED" default:"true"`
	AlertThreshold        float64       `json:"alert_threshold" env:"MONITORING_ALERT_THRESHOLD" default:"70"`
	AudioSampleInterval   time.Duration `json:"audio_sample_interval" env:"MONITORING_AUDIO_INTERVAL" default:"500ms"`
	PatternInterval       time.Duration `json:"pattern_interval" env:"MONITORING_PATTERN_INTERVAL" default:"2s"`
	MaxConcurrentSessions int           `json:"max_concurrent_sessions" env:"MONITORING_MAX_SESSIONS" default:"1000"`
}

// ScoringConfig holds the composite risk scoring weights
type ScoringConfig struct {
	ViolationCap          float64 `json:"violation_cap" env:"SCORING_VIOLATION_CAP" default:"100"`
	TextAngerWeight       float64 `json:"text_anger_weight" env:"SCORING_TEXT_ANGER_WEIGHT" default:"30"`
	TextThreatWeight      float64 `json:"text_threat_weight" env:"SCORING_TEXT_THREAT_WEIGHT" default:"40"`
	TextDistressWeight    float64 `json:"text_distress_weight" env:"SCORING_TEXT_DISTRESS_WEIGHT" default:"25"`
	TextFearWeight        float64 `json:"text_fear_weight" env:"SCORING_TEXT_FEAR_WEIGHT" default:"20"`
	VoiceAngerBonus       float64 `json:"voice_anger_bonus" env:"SCORING_VOICE_ANGER_BONUS" default:"25"`
	VoiceDistressBonus    float64 `json:"voice_distress_bonus" env:"SCORING_VOICE_DISTRESS_BONUS" default:"30"`
	VoiceFearBonus        float64 `json:"voice_fear_bonus" env:"SCORING_VOICE_FEAR_BONUS" default:"20"`
	PatternHighWeight     float64 `json:"pattern_high_weight" env:"SCORING_PATTERN_HIGH_WEIGHT" default:"35"`
	PatternMediumWeight   float64 `json:"pattern_medium_weight" env:"SCORING_PATTERN_MEDIUM_WEIGHT" default:"20"`
	PatternLowWeight      float64 `json:"pattern_low_weight" env:"SCORING_PATTERN_LOW_WEIGHT" default:"10"`
	MinConfidence         float64 `json:"min_confidence" env:"SCORING_MIN_CONFIDENCE" default:"0.5"`
	LowConfidencePenalty  float64 `json:"low_confidence_penalty" env:"SCORING_LOW_CONFIDENCE_PENALTY" default:"0.7"`
}

// ThresholdConfig holds the adaptive threshold controller tuning
type ThresholdConfig struct {
	Min            float64       `json:"min" env:"THRESHOLD_MIN" default:"50"`
	Max            float64       `json:"max" env:"THRESHOLD_MAX" default:"90"`
	RaiseStep      float64       `json:"raise_step" env:"THRESHOLD_RAISE_STEP" default:"5"`
	LowerStep      float64       `json:"lower_step" env:"THRESHOLD_LOWER_STEP" default:"2"`
	HighFPRate     float64       `json:"high_fp_rate" env:"THRESHOLD_HIGH_FP_RATE" default:"0.30"`
	LowFPRate      float64       `json:"low_fp_rate" env:"THRESHOLD_LOW_FP_RATE" default:"0.10"`
	FeedbackWindow time.Duration `json:"feedback_window" env:"THRESHOLD_FEEDBACK_WINDOW" default:"168h"`
}

// BehaviorConfig holds the behavior pattern detector tuning
type BehaviorConfig struct {
	ProfileWindow        time.Duration `json:"profile_window" env:"BEHAVIOR_PROFILE_WINDOW" default:"24h"`
	RepetitiveActions    int           `json:"repetitive_actions" env:"BEHAVIOR_REPETITIVE_ACTIONS" default:"10"`
	RepetitiveDistinct   int           `json:"repetitive_distinct" env:"BEHAVIOR_REPETITIVE_DISTINCT" default:"3"`
	EscalationWindow     time.Duration `json:"escalation_window" env:"BEHAVIOR_ESCALATION_WINDOW" default:"1h"`
	EscalationViolations int           `json:"escalation_violations" env:"BEHAVIOR_ESCALATION_VIOLATIONS" default:"3"`
}

// MessagingConfig holds AMQP notification configuration
type MessagingConfig struct {
	AMQPUrl       string        `json:"amqp_url" env:"AMQP_URL"`
	AMQPQueueName string        `json:"amqp_queue_name" env:"AMQP_QUEUE_NAME" default:"watchdog_alerts"`
	Durable       bool          `json:"durable" env:"AMQP_DURABLE" default:"true"`
	ConnectRetry  time.Duration `json:"connect_retry" env:"AMQP_CONNECT_RETRY" default:"5s"`
	MaxRetries    int           `json:"max_retries" env:"AMQP_MAX_RETRIES" default:"3"`
}

// RulesConfig holds the locale rule table configuration
type RulesConfig struct {
	DefaultLocale string   `json:"default_locale" env:"RULES_DEFAULT_LOCALE" default:"en"`
	Locales       []string `json:"locales" env:"RULES_LOCALES" default:"en"`
}

// Load reads configuration from the environment, loading .env first if present.
// Any missing or unparsable value falls back to its hardcoded default; a config
// load failure must never disable monitoring.
func Load(logger *logrus.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.WithError(err).Debug("No .env file found, using environment and defaults")
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Enabled:       getEnvBool("HTTP_ENABLED", true),
			Port:          getEnvInt("HTTP_PORT", 8080),
			ReadTimeout:   getEnvDuration("HTTP_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			EnableMetrics: getEnvBool("HTTP_ENABLE_METRICS", true),
			EnableAPI:     getEnvBool("HTTP_ENABLE_API", true),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Monitoring: MonitoringConfig{
			Enabled:               getEnvBool("MONITORING_ENABLED", true),
			AlertThreshold:        getEnvFloat("MONITORING_ALERT_THRESHOLD", 70),
			AudioSampleInterval:   getEnvDuration("MONITORING_AUDIO_INTERVAL", 500*time.Millisecond),
			PatternInterval:       getEnvDuration("MONITORING_PATTERN_INTERVAL", 2*time.Second),
			MaxConcurrentSessions: getEnvInt("MONITORING_MAX_SESSIONS", 1000),
		},
		Scoring: ScoringConfig{
			ViolationCap:         getEnvFloat("SCORING_VIOLATION_CAP", 100),
			TextAngerWeight:      getEnvFloat("SCORING_TEXT_ANGER_WEIGHT", 30),
			TextThreatWeight:     getEnvFloat("SCORING_TEXT_THREAT_WEIGHT", 40),
			TextDistressWeight:   getEnvFloat("SCORING_TEXT_DISTRESS_WEIGHT", 25),
			TextFearWeight:       getEnvFloat("SCORING_TEXT_FEAR_WEIGHT", 20),
			VoiceAngerBonus:      getEnvFloat("SCORING_VOICE_ANGER_BONUS", 25),
			VoiceDistressBonus:   getEnvFloat("SCORING_VOICE_DISTRESS_BONUS", 30),
			VoiceFearBonus:       getEnvFloat("SCORING_VOICE_FEAR_BONUS", 20),
			PatternHighWeight:    getEnvFloat("SCORING_PATTERN_HIGH_WEIGHT", 35),
			PatternMediumWeight:  getEnvFloat("SCORING_PATTERN_MEDIUM_WEIGHT", 20),
			PatternLowWeight:     getEnvFloat("SCORING_PATTERN_LOW_WEIGHT", 10),
			MinConfidence:        getEnvFloat("SCORING_MIN_CONFIDENCE", 0.5),
			LowConfidencePenalty: getEnvFloat("SCORING_LOW_CONFIDENCE_PENALTY", 0.7),
		},
		Threshold: ThresholdConfig{
			Min:            getEnvFloat("THRESHOLD_MIN", 50),
			Max:            getEnvFloat("THRESHOLD_MAX", 90),
			RaiseStep:      getEnvFloat("THRESHOLD_RAISE_STEP", 5),
			LowerStep:      getEnvFloat("THRESHOLD_LOWER_STEP", 2),
			HighFPRate:     getEnvFloat("THRESHOLD_HIGH_FP_RATE", 0.30),
			LowFPRate:      getEnvFloat("THRESHOLD_LOW_FP_RATE", 0.10),
			FeedbackWindow: getEnvDuration("THRESHOLD_FEEDBACK_WINDOW", 7*24*time.Hour),
		},
		Behavior: BehaviorConfig{
			ProfileWindow:        getEnvDuration("BEHAVIOR_PROFILE_WINDOW", 24*time.Hour),
			RepetitiveActions:    getEnvInt("BEHAVIOR_REPETITIVE_ACTIONS", 10),
			RepetitiveDistinct:   getEnvInt("BEHAVIOR_REPETITIVE_DISTINCT", 3),
			EscalationWindow:     getEnvDuration("BEHAVIOR_ESCALATION_WINDOW", time.Hour),
			EscalationViolations: getEnvInt("BEHAVIOR_ESCALATION_VIOLATIONS", 3),
		},
		Messaging: MessagingConfig{
			AMQPUrl:       getEnv("AMQP_URL", ""),
			AMQPQueueName: getEnv("AMQP_QUEUE_NAME", "watchdog_alerts"),
			Durable:       getEnvBool("AMQP_DURABLE", true),
			ConnectRetry:  getEnvDuration("AMQP_CONNECT_RETRY", 5*time.Second),
			MaxRetries:    getEnvInt("AMQP_MAX_RETRIES", 3),
		},
		Rules: RulesConfig{
			DefaultLocale: getEnv("RULES_DEFAULT_LOCALE", "en"),
			Locales:       getEnvSlice("RULES_LOCALES", []string{"en"}),
		},
	}

	cfg.clampValues(logger)

	return cfg, nil
}

// clampValues repairs out-of-range settings instead of failing startup
func (c *Config) clampValues(logger *logrus.Logger) {
	if c.Threshold.Min > c.Threshold.Max {
		logger.WithFields(logrus.Fields{
			"min": c.Threshold.Min,
			"max": c.Threshold.Max,
		}).Warn("Threshold min exceeds max, restoring defaults")
		c.Threshold.Min = 50
		c.Threshold.Max = 90
	}

	if c.Monitoring.AlertThreshold < c.Threshold.Min {
		c.Monitoring.AlertThreshold = c.Threshold.Min
	}
	if c.Monitoring.AlertThreshold > c.Threshold.Max {
		c.Monitoring.AlertThreshold = c.Threshold.Max
	}

	if c.Monitoring.AudioSampleInterval <= 0 {
		c.Monitoring.AudioSampleInterval = 500 * time.Millisecond
	}
	if c.Monitoring.PatternInterval <= 0 {
		c.Monitoring.PatternInterval = 2 * time.Second
	}
}

// ApplyLogging configures the logger from the loaded configuration
func (c *Config) ApplyLogging(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Logging.Level)
	if err != nil {
		logger.WithField("level", c.Logging.Level).Warn("Unknown log level, defaulting to info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(c.Logging.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return nil
}

// Environment variable helpers

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		var parts []string
		for _, p := range strings.Split(v, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
		if len(parts) > 0 {
			return parts
		}
	}
	return defaultValue
}
