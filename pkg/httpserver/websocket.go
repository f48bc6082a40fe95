package httpserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/errors"
	"watchdog-server/pkg/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Collaborators connect from inside the platform network
		return true
	},
}

// TranscriptEvent is one incremental transcript fragment pushed by the ASR
// collaborator
type TranscriptEvent struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"is_final"`
	Timestamp time.Time `json:"timestamp"`
}

type transcriptAck struct {
	SessionID string `json:"session_id"`
	Accepted  bool   `json:"accepted"`
	Error     string `json:"error,omitempty"`
}

// transcriptSocketHandler accepts a websocket connection from the ASR
// collaborator and feeds transcript fragments into the monitor. Each event is
// acknowledged so the collaborator can detect dead sessions.
func (s *Server) transcriptSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Transcript socket upgrade failed")
		return
	}
	defer conn.Close()

	s.logger.WithField("remote", r.RemoteAddr).Info("Transcript socket connected")

	for {
		var event TranscriptEvent
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithError(err).Warn("Transcript socket closed unexpectedly")
			}
			return
		}

		ack := transcriptAck{SessionID: event.SessionID, Accepted: true}
		if err := s.manager.OnTranscript(event.SessionID, event.Text); err != nil {
			ack.Accepted = false
			ack.Error = err.Error()
			if !errors.Is(err, errors.ErrSessionNotFound) {
				s.logger.WithError(err).WithField("session_id", event.SessionID).
					Warn("Transcript processing failed")
			}
		}

		if err := conn.WriteJSON(ack); err != nil {
			return
		}
	}
}

// AlertFeed broadcasts alert payloads to connected reviewer dashboards. It
// implements notify.Publisher so it can sit beside the AMQP publisher.
type AlertFeed struct {
	logger  *logrus.Entry
	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

// feedClient serializes writes to one dashboard connection; the websocket
// library permits only one concurrent writer per connection
type feedClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *feedClient) writeJSON(v interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	return c.conn.WriteJSON(v)
}

// NewAlertFeed creates an empty alert feed
func NewAlertFeed(logger *logrus.Logger) *AlertFeed {
	return &AlertFeed{
		logger:  logger.WithField("component", "alert_feed"),
		clients: make(map[*feedClient]struct{}),
	}
}

// ServeHTTP upgrades a dashboard connection and holds it until it closes
func (f *AlertFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.WithError(err).Warn("Alert feed upgrade failed")
		return
	}

	client := &feedClient{conn: conn}

	f.mu.Lock()
	f.clients[client] = struct{}{}
	count := len(f.clients)
	f.mu.Unlock()

	f.logger.WithField("clients", count).Info("Alert feed client connected")

	// Drain reads until the client disconnects
	go func() {
		defer f.remove(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// PublishAlert broadcasts the alert to every connected dashboard. Safe to
// call from any number of goroutines; slow or dead clients are dropped,
// never waited on.
func (f *AlertFeed) PublishAlert(alert *store.Alert) error {
	f.mu.RLock()
	clients := make([]*feedClient, 0, len(f.clients))
	for client := range f.clients {
		clients = append(clients, client)
	}
	f.mu.RUnlock()

	for _, client := range clients {
		if err := client.writeJSON(alert); err != nil {
			f.remove(client)
		}
	}

	return nil
}

// Close disconnects all clients
func (f *AlertFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for client := range f.clients {
		client.conn.Close()
	}
	f.clients = make(map[*feedClient]struct{})
}

func (f *AlertFeed) remove(client *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.clients[client]; ok {
		delete(f.clients, client)
		client.conn.Close()
	}
}
