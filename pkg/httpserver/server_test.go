package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdog-server/pkg/analyzer"
	"watchdog-server/pkg/audio"
	"watchdog-server/pkg/behavior"
	"watchdog-server/pkg/config"
	"watchdog-server/pkg/escalation"
	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/monitor"
	"watchdog-server/pkg/notify"
	"watchdog-server/pkg/rules"
	"watchdog-server/pkg/scoring"
	"watchdog-server/pkg/store"
	"watchdog-server/pkg/threshold"
)

type stubLifecycle struct{}

func (stubLifecycle) Pause(ctx context.Context, resourceID, reason, pausedBy string) error {
	return nil
}

func (stubLifecycle) Flag(ctx context.Context, resourceID, flag string) error {
	return nil
}

type testStack struct {
	server   *Server
	ts       *httptest.Server
	repo     *store.MemoryStore
	settings *config.SettingsService
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	os.Clearenv()

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	metrics.Init(logger)

	cfg, err := config.Load(logger)
	require.NoError(t, err)

	registry := rules.NewRegistry(logger, "en")
	repo := store.NewMemoryStore(logger)
	settings := config.NewSettingsService(logger, cfg)
	publisher := notify.NewNoopPublisher(logger)
	dispatcher := escalation.NewDispatcher(logger, repo, publisher, stubLifecycle{})

	manager := monitor.NewManager(logger, monitor.Dependencies{
		Config:     cfg.Monitoring,
		Settings:   settings,
		Violations: analyzer.NewViolationAnalyzer(logger, registry),
		Emotions:   analyzer.NewEmotionAnalyzer(logger, registry),
		Audio:      audio.NewDetector(logger),
		Behavior:   behavior.NewDetector(logger, behavior.Config{}),
		Engine:     scoring.NewEngine(logger, cfg.Scoring),
		Dispatcher: dispatcher,
		Repo:       repo,
		Publisher:  publisher,
	})

	controller := threshold.NewController(logger, repo, settings, cfg.Threshold)

	server := NewServer(logger, cfg.HTTP, manager, controller, repo)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testStack{server: server, ts: ts, repo: repo, settings: settings}
}

func (s *testStack) postJSON(t *testing.T, path string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	resp, err := http.Post(s.ts.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestStack(t)

	resp, err := http.Get(s.ts.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestStack(t)

	resp, err := http.Get(s.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSessionLifecycleOverAPI(t *testing.T) {
	s := newTestStack(t)

	resp := s.postJSON(t, "/api/sessions", map[string]string{
		"session_id": "sess-1", "type": "chat", "user_id": "user-1", "locale": "en",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// Duplicate start conflicts
	resp = s.postJSON(t, "/api/sessions", map[string]string{
		"session_id": "sess-1", "type": "chat", "user_id": "user-1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp, err := http.Get(s.ts.URL + "/api/sessions/sess-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "sess-1", body["id"])
	assert.Equal(t, "safe", body["status"])

	req, err := http.NewRequest(http.MethodDelete, s.ts.URL+"/api/sessions/sess-1", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(s.ts.URL + "/api/sessions/sess-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartSessionValidation(t *testing.T) {
	s := newTestStack(t)

	resp := s.postJSON(t, "/api/sessions", map[string]string{"type": "chat"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestStartSessionWhenDisabled(t *testing.T) {
	s := newTestStack(t)
	s.settings.SetEnabled(false)

	resp := s.postJSON(t, "/api/sessions", map[string]string{
		"session_id": "sess-1", "type": "chat", "user_id": "user-1",
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestChatAnalyzeEndpoint(t *testing.T) {
	s := newTestStack(t)

	resp := s.postJSON(t, "/api/chat/analyze", map[string]string{
		"session_id": "chat-1", "user_id": "user-1", "locale": "en",
		"text": "send money to my bank account 1234-5678-9012-3456, you bitch",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, 100.0, body["score"])
	assert.Equal(t, "critical", body["status"])
	assert.Equal(t, true, body["alert_created"])
}

func TestAlertFeedbackEndpoint(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	require.NoError(t, s.repo.SaveAlert(ctx, &store.Alert{
		ID: "alert-1", SessionID: "sess-1", CreatedAt: time.Now(),
	}))

	resp := s.postJSON(t, "/api/alerts/alert-1/feedback", map[string]string{
		"reviewer_id": "reviewer-1", "verdict": "false_positive",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	alert, err := s.repo.GetAlert(ctx, "alert-1")
	require.NoError(t, err)
	assert.True(t, alert.Resolved)

	// Unknown verdict rejected
	resp = s.postJSON(t, "/api/alerts/alert-1/feedback", map[string]string{
		"reviewer_id": "reviewer-1", "verdict": "dunno",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// Unknown alert rejected
	resp = s.postJSON(t, "/api/alerts/missing/feedback", map[string]string{
		"reviewer_id": "reviewer-1", "verdict": "accurate",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestListAlertsEndpoint(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.repo.SaveAlert(ctx, &store.Alert{
			ID: fmt.Sprintf("alert-%d", i), SessionID: "sess-1",
		}))
	}

	resp, err := http.Get(s.ts.URL + "/api/alerts?session_id=sess-1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	alerts, ok := body["alerts"].([]interface{})
	require.True(t, ok)
	assert.Len(t, alerts, 2)
}

func TestTranscriptSocket(t *testing.T) {
	s := newTestStack(t)

	resp := s.postJSON(t, "/api/sessions", map[string]string{
		"session_id": "sess-1", "type": "call", "user_id": "user-1", "locale": "en",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws/transcripts"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(TranscriptEvent{
		SessionID: "sess-1",
		Text:      "send money to my bank account now",
		IsFinal:   true,
	}))

	var ack transcriptAck
	require.NoError(t, conn.ReadJSON(&ack))
	assert.True(t, ack.Accepted)

	// Unknown session is acknowledged but not accepted
	require.NoError(t, conn.WriteJSON(TranscriptEvent{SessionID: "ghost", Text: "hello"}))
	require.NoError(t, conn.ReadJSON(&ack))
	assert.False(t, ack.Accepted)
	assert.NotEmpty(t, ack.Error)
}

func TestAlertFeedBroadcast(t *testing.T) {
	s := newTestStack(t)

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the feed time to register the client
	time.Sleep(20 * time.Millisecond)

	feed := s.server.AlertPublisher()
	require.NoError(t, feed.PublishAlert(&store.Alert{
		ID: "alert-1", SessionID: "sess-1", Severity: "high", Score: 85,
	}))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var received store.Alert
	require.NoError(t, conn.ReadJSON(&received))
	assert.Equal(t, "alert-1", received.ID)
	assert.Equal(t, 85.0, received.Score)
}

func TestAlertFeedConcurrentPublishers(t *testing.T) {
	s := newTestStack(t)

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/ws/alerts"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the feed time to register the client
	time.Sleep(20 * time.Millisecond)

	// Alerts come from audio ticks, chat analysis and escalation at once;
	// every publisher goroutine shares the one dashboard connection
	feed := s.server.AlertPublisher()
	const publishers = 8
	const alertsEach = 5

	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < alertsEach; j++ {
				_ = feed.PublishAlert(&store.Alert{
					ID:        fmt.Sprintf("alert-%d-%d", n, j),
					SessionID: "sess-1",
					Severity:  "high",
				})
			}
		}(i)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < publishers*alertsEach; i++ {
		var received store.Alert
		require.NoError(t, conn.ReadJSON(&received))
		assert.NotEmpty(t, received.ID)
	}
	wg.Wait()
}
