package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/analyzer"
	"watchdog-server/pkg/audio"
	"watchdog-server/pkg/behavior"
	"watchdog-server/pkg/config"
	"watchdog-server/pkg/escalation"
	"watchdog-server/pkg/httpserver"
	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/monitor"
	"watchdog-server/pkg/notify"
	"watchdog-server/pkg/rules"
	"watchdog-server/pkg/scoring"
	"watchdog-server/pkg/store"
	"watchdog-server/pkg/threshold"
)

var (
	logger    = logrus.New()
	appConfig *config.Config

	settings      *config.SettingsService
	ruleRegistry  *rules.Registry
	repo          store.Repository
	amqpPublisher *notify.AMQPPublisher
	dispatcher    *escalation.Dispatcher
	manager       *monitor.Manager
	controller    *threshold.Controller
	httpServer    *httpserver.Server

	// Context for graceful shutdown
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	// Set up logger with basic configuration (will be updated after config is loaded)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logger.SetOutput(os.Stdout)

	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	if err := initialize(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize application")
	}

	if appConfig.HTTP.Enabled {
		httpServer.Start()
		logger.Info("HTTP server started")
	} else {
		logger.Info("HTTP server is disabled by configuration")
	}

	logStartupConfig()

	// Graceful shutdown handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigChan
	logger.WithField("signal", sig.String()).Info("Received shutdown signal, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	rootCancel()

	// Shutdown HTTP server first so no new sessions arrive
	if httpServer != nil {
		logger.Debug("Shutting down HTTP server...")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Error shutting down HTTP server")
		} else {
			logger.Info("HTTP server shut down successfully")
		}
	}

	// Stop all live monitoring sessions, persisting final snapshots
	if manager != nil {
		logger.Debug("Stopping monitoring sessions...")
		manager.Shutdown(shutdownCtx)
		logger.Info("Monitoring sessions stopped")
	}

	// Disconnect AMQP last so final alerts can still be delivered
	if amqpPublisher != nil && amqpPublisher.IsConnected() {
		logger.Debug("Disconnecting from AMQP...")
		amqpPublisher.Disconnect()
		logger.Info("AMQP disconnected")
	}

	logger.Info("Application shut down gracefully")
}

// initialize loads configuration and initializes all components
func initialize() error {
	var err error

	appConfig, err = config.Load(logger)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := appConfig.ApplyLogging(logger); err != nil {
		return fmt.Errorf("failed to apply logging configuration: %w", err)
	}
	logger.WithField("level", logger.GetLevel().String()).Info("Log level set")

	metrics.StartMetrics(logger, appConfig.HTTP.EnableMetrics)

	settings = config.NewSettingsService(logger, appConfig)
	ruleRegistry = rules.NewRegistry(logger, appConfig.Rules.DefaultLocale)
	repo = store.NewMemoryStore(logger)

	// AMQP is optional; monitoring runs without it
	amqpPublisher = notify.NewAMQPPublisher(logger, notify.Config{
		URL:          appConfig.Messaging.AMQPUrl,
		QueueName:    appConfig.Messaging.AMQPQueueName,
		Durable:      appConfig.Messaging.Durable,
		ConnectRetry: appConfig.Messaging.ConnectRetry,
		MaxRetries:   appConfig.Messaging.MaxRetries,
	})

	var queuePublisher notify.Publisher = notify.NewNoopPublisher(logger)
	if amqpPublisher.Enabled() {
		if err := amqpPublisher.Connect(); err != nil {
			logger.WithError(err).Warn("Failed to connect to AMQP server, continuing without AMQP")
		} else {
			queuePublisher = amqpPublisher
			logger.Info("AMQP publisher initialized")
		}
	} else {
		logger.Warn("AMQP not configured, alerts will not be sent to message queue")
	}

	lifecycle := escalation.NewLogOnlyLifecycle(logger)
	dispatcher = escalation.NewDispatcher(logger, repo, queuePublisher, lifecycle)

	engine := scoring.NewEngine(logger, appConfig.Scoring)
	behaviorDetector := behavior.NewDetector(logger, behavior.Config{
		ProfileWindow:        appConfig.Behavior.ProfileWindow,
		RepetitiveActions:    appConfig.Behavior.RepetitiveActions,
		RepetitiveDistinct:   appConfig.Behavior.RepetitiveDistinct,
		EscalationWindow:     appConfig.Behavior.EscalationWindow,
		EscalationViolations: appConfig.Behavior.EscalationViolations,
	})

	controller = threshold.NewController(logger, repo, settings, appConfig.Threshold)

	// The manager's publisher is wired after the HTTP server exists so alerts
	// also reach connected reviewer dashboards
	var alertPublisher notify.Publisher = queuePublisher

	manager = monitor.NewManager(logger, monitor.Dependencies{
		Config:     appConfig.Monitoring,
		Settings:   settings,
		Violations: analyzer.NewViolationAnalyzer(logger, ruleRegistry),
		Emotions:   analyzer.NewEmotionAnalyzer(logger, ruleRegistry),
		Audio:      audio.NewDetector(logger),
		Behavior:   behaviorDetector,
		Engine:     engine,
		Dispatcher: dispatcher,
		Repo:       repo,
		Publisher: notify.NewMultiPublisher(logger, alertPublisher,
			deferredPublisher(func() notify.Publisher { return httpServer.AlertPublisher() })),
	})

	httpServer = httpserver.NewServer(logger, appConfig.HTTP, manager, controller, repo)

	return nil
}

// deferredPublisher defers publisher resolution to publish time, breaking the
// manager/httpserver construction cycle
type deferredPublisher func() notify.Publisher

func (d deferredPublisher) PublishAlert(alert *store.Alert) error {
	if p := d(); p != nil {
		return p.PublishAlert(alert)
	}
	return nil
}

// logStartupConfig logs the current configuration
func logStartupConfig() {
	logger.Info("Watchdog is starting with the following configuration:")

	logger.WithFields(logrus.Fields{
		"http_enabled":       appConfig.HTTP.Enabled,
		"http_port":          appConfig.HTTP.Port,
		"http_metrics":       appConfig.HTTP.EnableMetrics,
		"http_api":           appConfig.HTTP.EnableAPI,
		"http_read_timeout":  appConfig.HTTP.ReadTimeout,
		"http_write_timeout": appConfig.HTTP.WriteTimeout,
	}).Info("HTTP server configuration")

	logger.WithFields(logrus.Fields{
		"enabled":          appConfig.Monitoring.Enabled,
		"alert_threshold":  appConfig.Monitoring.AlertThreshold,
		"audio_interval":   appConfig.Monitoring.AudioSampleInterval,
		"pattern_interval": appConfig.Monitoring.PatternInterval,
		"max_sessions":     appConfig.Monitoring.MaxConcurrentSessions,
	}).Info("Monitoring configuration")

	logger.WithFields(logrus.Fields{
		"threshold_min":   appConfig.Threshold.Min,
		"threshold_max":   appConfig.Threshold.Max,
		"raise_step":      appConfig.Threshold.RaiseStep,
		"lower_step":      appConfig.Threshold.LowerStep,
		"feedback_window": appConfig.Threshold.FeedbackWindow,
	}).Info("Adaptive threshold configuration")

	logger.WithFields(logrus.Fields{
		"amqp_configured": appConfig.Messaging.AMQPUrl != "",
		"queue_name":      appConfig.Messaging.AMQPQueueName,
	}).Info("Messaging configuration")

	logger.WithFields(logrus.Fields{
		"default_locale": appConfig.Rules.DefaultLocale,
		"locales":        appConfig.Rules.Locales,
	}).Info("Rules configuration")
}
