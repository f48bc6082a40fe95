// Package httpserver exposes the monitoring engine over HTTP: health and
// metrics endpoints, the JSON management API, the ASR transcript ingest
// socket and the reviewer alert feed.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"watchdog-server/pkg/config"
	"watchdog-server/pkg/errors"
	"watchdog-server/pkg/metrics"
	"watchdog-server/pkg/monitor"
	"watchdog-server/pkg/store"
	"watchdog-server/pkg/threshold"
)

// Server is the HTTP surface of the watchdog
type Server struct {
	logger     *logrus.Entry
	cfg        config.HTTPConfig
	manager    *monitor.Manager
	threshold  *threshold.Controller
	repo       store.Repository
	alertFeed  *AlertFeed
	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time
}

// NewServer creates the HTTP server and registers all routes
func NewServer(logger *logrus.Logger, cfg config.HTTPConfig, manager *monitor.Manager, controller *threshold.Controller, repo store.Repository) *Server {
	s := &Server{
		logger:    logger.WithField("component", "http"),
		cfg:       cfg,
		manager:   manager,
		threshold: controller,
		repo:      repo,
		alertFeed: NewAlertFeed(logger),
		mux:       http.NewServeMux(),
		startTime: time.Now(),
	}

	s.mux.HandleFunc("GET /health", s.healthHandler)

	if cfg.EnableMetrics {
		metrics.RegisterHandler(s.mux)
	}

	if cfg.EnableAPI {
		s.mux.HandleFunc("POST /api/sessions", s.startSessionHandler)
		s.mux.HandleFunc("GET /api/sessions", s.listSessionsHandler)
		s.mux.HandleFunc("GET /api/sessions/{id}", s.getSessionHandler)
		s.mux.HandleFunc("DELETE /api/sessions/{id}", s.stopSessionHandler)
		s.mux.HandleFunc("GET /api/alerts", s.listAlertsHandler)
		s.mux.HandleFunc("POST /api/alerts/{id}/feedback", s.feedbackHandler)
		s.mux.HandleFunc("POST /api/chat/analyze", s.chatAnalyzeHandler)
		s.mux.HandleFunc("GET /ws/transcripts", s.transcriptSocketHandler)
		s.mux.HandleFunc("GET /ws/alerts", s.alertFeed.ServeHTTP)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// AlertPublisher returns the publisher that feeds connected reviewer
// dashboards
func (s *Server) AlertPublisher() *AlertFeed {
	return s.alertFeed
}

// Handler returns the server's root handler, used by tests
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	s.logger.WithField("port", s.cfg.Port).Info("Starting HTTP server")

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"sessions":       len(s.manager.Sessions()),
	})
}

type startSessionRequest struct {
	SessionID  string `json:"session_id"`
	Type       string `json:"type"`
	ResourceID string `json:"resource_id"`
	UserID     string `json:"user_id"`
	ProviderID string `json:"provider_id"`
	Locale     string `json:"locale"`
}

// startSessionHandler starts monitoring over the management API. Sessions
// started here carry no signal source, so a call session runs without the
// audio loop; collaborators that capture voice start their sessions
// in-process. Transcripts still flow in over /ws/transcripts either way.
func (s *Server) startSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, errors.NewInvalidInput("malformed request body"))
		return
	}

	err := s.manager.StartMonitoring(r.Context(), monitor.StartRequest{
		SessionID:  req.SessionID,
		Type:       req.Type,
		ResourceID: req.ResourceID,
		UserID:     req.UserID,
		ProviderID: req.ProviderID,
		Locale:     req.Locale,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"session_id": req.SessionID})
}

func (s *Server) listSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.manager.Sessions(),
	})
}

func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	snap, err := s.manager.Session(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) stopSessionHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.StopMonitoring(r.Context(), r.PathValue("id")); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listAlertsHandler(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.repo.ListAlerts(r.Context(), r.URL.Query().Get("session_id"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": alerts})
}

type feedbackRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Verdict    string `json:"verdict"`
	Notes      string `json:"notes"`
}

func (s *Server) feedbackHandler(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, errors.NewInvalidInput("malformed request body"))
		return
	}

	alertID := r.PathValue("id")
	if err := s.threshold.SubmitFeedback(r.Context(), alertID, req.ReviewerID, req.Verdict, req.Notes); err != nil {
		s.errorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"alert_id": alertID, "verdict": req.Verdict})
}

type chatAnalyzeRequest struct {
	SessionID  string `json:"session_id"`
	ResourceID string `json:"resource_id"`
	UserID     string `json:"user_id"`
	Locale     string `json:"locale"`
	Text       string `json:"text"`
}

func (s *Server) chatAnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	var req chatAnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, errors.NewInvalidInput("malformed request body"))
		return
	}

	result, err := s.manager.AnalyzeChatMessage(r.Context(), monitor.ChatRequest{
		SessionID:  req.SessionID,
		ResourceID: req.ResourceID,
		UserID:     req.UserID,
		Locale:     req.Locale,
		Text:       req.Text,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrSessionNotFound), errors.Is(err, errors.ErrAlertNotFound), errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrInvalidInput), errors.Is(err, errors.ErrInvalidFeedback):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrSessionAlreadyExists), errors.Is(err, errors.ErrAlertResolved):
		status = http.StatusConflict
	case errors.Is(err, errors.ErrMonitoringDisabled), errors.Is(err, errors.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}

	body := map[string]interface{}{"error": err.Error()}
	if structured, ok := err.(*errors.Error); ok && structured.GetCode() != "" {
		body["code"] = structured.GetCode()
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
