package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchdog-server/pkg/errors"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewMemoryStore(logger)
}

func TestAlertLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alert := &Alert{
		ID:        "alert-1",
		SessionID: "sess-1",
		Type:      AlertTypeRiskThreshold,
		Severity:  "high",
		Score:     85,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveAlert(ctx, alert))

	got, err := s.GetAlert(ctx, "alert-1")
	require.NoError(t, err)
	assert.Equal(t, 85.0, got.Score)
	assert.False(t, got.Resolved)

	require.NoError(t, s.ResolveAlert(ctx, "alert-1", FeedbackFalsePositive))

	got, err = s.GetAlert(ctx, "alert-1")
	require.NoError(t, err)
	assert.True(t, got.Resolved)
	assert.Equal(t, FeedbackFalsePositive, got.Feedback)
	require.NotNil(t, got.ResolvedAt)
}

func TestResolveAlertTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAlert(ctx, &Alert{ID: "alert-1", SessionID: "sess-1"}))
	require.NoError(t, s.ResolveAlert(ctx, "alert-1", FeedbackAccurate))

	err := s.ResolveAlert(ctx, "alert-1", FeedbackAccurate)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlertResolved)
}

func TestGetAlertNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetAlert(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlertNotFound)
}

func TestSaveAlertWithoutID(t *testing.T) {
	s := newTestStore(t)

	err := s.SaveAlert(context.Background(), &Alert{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestListAlertsFiltersBySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveAlert(ctx, &Alert{
			ID:        fmt.Sprintf("alert-%d", i),
			SessionID: "sess-1",
		}))
	}
	require.NoError(t, s.SaveAlert(ctx, &Alert{ID: "alert-other", SessionID: "sess-2"}))

	all, err := s.ListAlerts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	filtered, err := s.ListAlerts(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, filtered, 3)
	// Creation order preserved
	assert.Equal(t, "alert-0", filtered[0].ID)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	snapshot := &SessionSnapshot{
		SessionID:   "sess-1",
		SessionType: "call",
		UserID:      "user-1",
		Status:      "safe",
		StartedAt:   time.Now(),
	}
	require.NoError(t, s.SaveSnapshot(ctx, snapshot))

	// Mutating the caller's copy must not affect the stored one
	snapshot.RiskScore = 99

	got, err := s.GetSnapshot(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.RiskScore)

	_, err = s.GetSnapshot(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrSessionNotFound)
}

func TestIncidentAndEscalationLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendIncident(ctx, &IncidentLog{
		ID: "inc-1", SessionID: "sess-1", Score: 72,
	}))
	require.NoError(t, s.AppendEscalation(ctx, &EscalationLog{
		ID: "esc-1", SessionID: "sess-1", Action: "alert_monitor", Outcome: "ok",
	}))
	require.NoError(t, s.AppendEscalation(ctx, &EscalationLog{
		ID: "esc-2", SessionID: "sess-1", Action: "auto_pause", Outcome: "failed", Error: "timeout",
	}))

	incidents, err := s.ListIncidents(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, incidents, 1)

	escalations, err := s.ListEscalations(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, escalations, 2)
	assert.Equal(t, "failed", escalations[1].Outcome)

	empty, err := s.ListEscalations(ctx, "sess-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFeedbackValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.SaveFeedback(ctx, &Feedback{AlertID: "alert-1", Verdict: "maybe"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidFeedback)

	err = s.SaveFeedback(ctx, &Feedback{Verdict: FeedbackAccurate})
	require.Error(t, err)

	require.NoError(t, s.SaveFeedback(ctx, &Feedback{
		ID: "fb-1", AlertID: "alert-1", Verdict: FeedbackAccurate, CreatedAt: time.Now(),
	}))
}

func TestListFeedbackSince(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveFeedback(ctx, &Feedback{
		ID: "fb-old", AlertID: "a1", Verdict: FeedbackAccurate,
		CreatedAt: now.Add(-8 * 24 * time.Hour),
	}))
	require.NoError(t, s.SaveFeedback(ctx, &Feedback{
		ID: "fb-new", AlertID: "a2", Verdict: FeedbackFalsePositive,
		CreatedAt: now.Add(-time.Hour),
	}))

	recent, err := s.ListFeedbackSince(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "fb-new", recent[0].ID)
}

func TestConcurrentAccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("alert-%d-%d", n, j)
				_ = s.SaveAlert(ctx, &Alert{ID: id, SessionID: "sess-1"})
				_, _ = s.GetAlert(ctx, id)
				_, _ = s.ListAlerts(ctx, "sess-1")
			}
		}(i)
	}
	wg.Wait()

	all, err := s.ListAlerts(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 400)
}
