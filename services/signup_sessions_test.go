package services

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/HSouheill/coursemarket_backend/config"
	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/utils"
)

func newTestSessions(t *testing.T, ch VerificationChannel) (*SessionManager, *clock.Mock, *Metrics) {
	t.Helper()
	sealer, err := utils.NewSealer(nil)
	require.NoError(t, err)

	mc := clock.NewMock()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewSessionManager(SessionManagerDeps{
		Channel: ch,
		Sealer:  sealer,
		Clock:   mc,
		Policy:  config.DefaultPolicy(),
		Logger:  zerolog.Nop(),
		Metrics: metrics,
	}), mc, metrics
}

func TestSessionManager_GetIsStablePerSession(t *testing.T) {
	m, _, metrics := newTestSessions(t, new(MockChannel))

	a := m.Get("a")
	assert.Same(t, a, m.Get("a"))
	assert.NotSame(t, a, m.Get("b"))
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.sessions))

	_, ok := m.Lookup("c")
	assert.False(t, ok)
}

func TestSessionManager_ReapIdleSessions(t *testing.T) {
	ch := new(MockChannel)
	m, mc, _ := newTestSessions(t, ch)

	now := mc.Now()
	ch.On("RequestCode", mock.Anything, "ann@x.com").
		Return(models.VerificationRequest{Email: "ann@x.com", IssuedAt: now, ExpiresAt: now.Add(time.Hour)}, nil)

	idle := m.Get("idle")
	_, err := idle.Submit(context.Background(), validDraft())
	require.NoError(t, err)

	mc.Add(10 * time.Minute)
	busy := m.Get("busy")
	_ = busy.Snapshot()

	mc.Add(6 * time.Minute)
	assert.Equal(t, 1, m.Reap())

	_, ok := m.Lookup("idle")
	assert.False(t, ok)
	assert.Equal(t, models.StageAbandoned, idle.Stage(), "a reaped session is cancelled")

	_, ok = m.Lookup("busy")
	assert.True(t, ok)
}

func TestSessionManager_Shutdown(t *testing.T) {
	m, _, _ := newTestSessions(t, new(MockChannel))
	m.Get("a")
	m.Get("b")

	m.Shutdown()
	assert.Equal(t, 0, m.Len())
}
