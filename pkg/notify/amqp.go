// Package notify delivers alerts to the reviewer notification queue. Failed
// deliveries never block or fail monitoring; the alert is already persisted
// before publication is attempted.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"watchdog-server/pkg/errors"
	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/store"
)

// Publisher is the notification collaborator used by the monitoring engine
type Publisher interface {
	PublishAlert(alert *store.Alert) error
}

// AlertMessage is the JSON payload published for each alert
type AlertMessage struct {
	AlertID   string                 `json:"alert_id"`
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity"`
	Score     float64                `json:"score"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Config holds AMQP publisher configuration
type Config struct {
	URL          string
	QueueName    string
	Durable      bool
	ConnectRetry time.Duration
	MaxRetries   int
}

// AMQPPublisher publishes alert payloads to an AMQP queue
type AMQPPublisher struct {
	logger    *logrus.Entry
	config    Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPPublisher creates an AMQP publisher. Call Connect before publishing.
func NewAMQPPublisher(logger *logrus.Logger, config Config) *AMQPPublisher {
	if config.ConnectRetry <= 0 {
		config.ConnectRetry = 5 * time.Second
	}

	return &AMQPPublisher{
		logger:   logger.WithField("component", "amqp_publisher"),
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Enabled reports whether the publisher has enough configuration to run
func (p *AMQPPublisher) Enabled() bool {
	return p.config.URL != "" && p.config.QueueName != ""
}

// Connect establishes the AMQP connection and declares the alert queue
func (p *AMQPPublisher) Connect() error {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if p.connected {
		return nil
	}

	if !p.Enabled() {
		p.logger.Warn("AMQP URL or queue name not set, alert notifications disabled")
		return errors.Wrap(errors.ErrUnavailable, "AMQP not configured")
	}

	conn, err := dialWithTimeout(p.config.URL, 5*time.Second)
	if err != nil {
		metrics.AMQPConnectionErrors.WithLabelValues("dial").Inc()
		return errors.Wrap(err, "connecting to AMQP server")
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		metrics.AMQPConnectionErrors.WithLabelValues("channel").Inc()
		return errors.Wrap(err, "opening AMQP channel")
	}

	if _, err := channel.QueueDeclare(
		p.config.QueueName,
		p.config.Durable,
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		metrics.AMQPConnectionErrors.WithLabelValues("queue_declare").Inc()
		return errors.Wrap(err, "declaring alert queue").
			WithField("queue", p.config.QueueName)
	}

	p.conn = conn
	p.channel = channel
	p.connected = true
	p.stopChan = make(chan struct{})
	metrics.AMQPConnectionStatus.Set(1)

	p.logger.WithFields(logrus.Fields{
		"url":   p.config.URL,
		"queue": p.config.QueueName,
	}).Info("Connected to AMQP server")

	go p.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection
func (p *AMQPPublisher) Disconnect() {
	p.connMutex.Lock()
	defer p.connMutex.Unlock()

	if !p.connected {
		return
	}

	close(p.stopChan)
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}

	p.connected = false
	metrics.AMQPConnectionStatus.Set(0)
	p.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (p *AMQPPublisher) IsConnected() bool {
	p.connMutex.RLock()
	defer p.connMutex.RUnlock()
	return p.connected
}

// PublishAlert publishes the alert payload to the reviewer queue
func (p *AMQPPublisher) PublishAlert(alert *store.Alert) error {
	if alert == nil {
		return errors.NewInvalidInput("nil alert")
	}

	if !p.IsConnected() {
		metrics.AMQPPublishedMessages.WithLabelValues(p.config.QueueName, "skipped").Inc()
		return errors.Wrap(errors.ErrNotificationFailure, "not connected to AMQP server")
	}

	message := AlertMessage{
		AlertID:   alert.ID,
		SessionID: alert.SessionID,
		Type:      alert.Type,
		Severity:  alert.Severity,
		Score:     alert.Score,
		Message:   alert.Message,
		Details:   alert.Details,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(message)
	if err != nil {
		return errors.Wrap(err, "marshaling alert payload")
	}

	p.connMutex.RLock()
	defer p.connMutex.RUnlock()

	if !p.connected || p.channel == nil {
		metrics.AMQPPublishedMessages.WithLabelValues(p.config.QueueName, "skipped").Inc()
		return errors.Wrap(errors.ErrNotificationFailure, "lost AMQP connection before publishing")
	}

	err = p.channel.Publish(
		"", // default exchange
		p.config.QueueName,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		metrics.AMQPPublishedMessages.WithLabelValues(p.config.QueueName, "error").Inc()
		return errors.Wrap(err, "publishing alert").
			WithField("alert_id", alert.ID)
	}

	metrics.AMQPPublishedMessages.WithLabelValues(p.config.QueueName, "success").Inc()
	return nil
}

// monitorConnection watches for connection loss and reconnects with backoff
func (p *AMQPPublisher) monitorConnection() {
	closeChan := make(chan *amqp.Error, 1)
	p.connMutex.RLock()
	if p.conn != nil {
		p.conn.NotifyClose(closeChan)
	}
	p.connMutex.RUnlock()

	select {
	case <-p.stopChan:
		return
	case amqpErr := <-closeChan:
		if amqpErr != nil {
			p.logger.WithError(amqpErr).Warn("AMQP connection lost, reconnecting")
			metrics.AMQPConnectionErrors.WithLabelValues("closed").Inc()
		}
	}

	p.connMutex.Lock()
	p.connected = false
	p.connMutex.Unlock()
	metrics.AMQPConnectionStatus.Set(0)

	for attempt := 1; p.config.MaxRetries <= 0 || attempt <= p.config.MaxRetries; attempt++ {
		select {
		case <-p.stopChan:
			return
		case <-time.After(p.config.ConnectRetry):
		}

		metrics.AMQPReconnectAttempts.WithLabelValues("attempt").Inc()
		if err := p.Connect(); err == nil {
			metrics.AMQPReconnectAttempts.WithLabelValues("success").Inc()
			return
		}

		p.logger.WithField("attempt", attempt).Warn("AMQP reconnect failed")
	}

	p.logger.Error("Giving up on AMQP reconnection")
}

func dialWithTimeout(url string, timeout time.Duration) (*amqp.Connection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	resultChan := make(chan dialResult, 1)

	go func() {
		conn, err := amqp.Dial(url)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case resultChan <- dialResult{conn, err}:
		}
	}()

	select {
	case result := <-resultChan:
		return result.conn, result.err
	case <-ctx.Done():
		return nil, errors.Wrap(errors.ErrTimeout, "dialing AMQP server")
	}
}

// NoopPublisher is used when AMQP is not configured; it logs once at debug
// level and drops the alert
type NoopPublisher struct {
	logger *logrus.Entry
}

// NewNoopPublisher creates a publisher that drops all alerts
func NewNoopPublisher(logger *logrus.Logger) *NoopPublisher {
	return &NoopPublisher{
		logger: logger.WithField("component", "noop_publisher"),
	}
}

// PublishAlert drops the alert
func (n *NoopPublisher) PublishAlert(alert *store.Alert) error {
	n.logger.WithField("alert_id", alert.ID).Debug("Notifications disabled, dropping alert")
	return nil
}
