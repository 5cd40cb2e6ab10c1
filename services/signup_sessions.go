package services

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/HSouheill/coursemarket_backend/config"
	"github.com/HSouheill/coursemarket_backend/utils"
)

// SessionManagerDeps wires a SessionManager. Every orchestrator it creates
// shares these collaborators and gets its own sealed draft store.
type SessionManagerDeps struct {
	Channel   VerificationChannel
	Finalizer AccountFinalizer
	Sealer    *utils.Sealer
	Events    EventPublisher
	Clock     clock.Clock
	Policy    config.Policy
	Logger    zerolog.Logger
	Metrics   *Metrics
}

// SessionManager owns one SignupOrchestrator per UI session and drops the
// ones left idle longer than the policy allows.
type SessionManager struct {
	deps      SessionManagerDeps
	validator *FieldValidator
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*SignupOrchestrator
}

func NewSessionManager(deps SessionManagerDeps) *SessionManager {
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Policy == (config.Policy{}) {
		deps.Policy = config.DefaultPolicy()
	}
	return &SessionManager{
		deps:      deps,
		validator: NewFieldValidator(),
		logger:    deps.Logger.With().Str("component", "signup_sessions").Logger(),
		sessions:  make(map[string]*SignupOrchestrator),
	}
}

// Get returns the orchestrator for sessionID, creating it on first use.
func (m *SessionManager) Get(sessionID string) *SignupOrchestrator {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o, ok := m.sessions[sessionID]; ok {
		return o
	}

	o := NewSignupOrchestrator(OrchestratorDeps{
		SessionID: sessionID,
		Validator: m.validator,
		Channel:   m.deps.Channel,
		Finalizer: m.deps.Finalizer,
		Store:     NewSealedDraftStore(m.deps.Sealer),
		Events:    m.deps.Events,
		Clock:     m.deps.Clock,
		Policy:    m.deps.Policy,
		Logger:    m.deps.Logger,
		Metrics:   m.deps.Metrics,
	})
	m.sessions[sessionID] = o
	m.deps.Metrics.setSessions(len(m.sessions))
	return o
}

// Lookup returns the orchestrator for sessionID without creating one.
func (m *SessionManager) Lookup(sessionID string) (*SignupOrchestrator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.sessions[sessionID]
	return o, ok
}

// Len returns the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap cancels and forgets sessions idle longer than SessionIdleTimeout.
// It returns how many were removed.
func (m *SessionManager) Reap() int {
	now := m.deps.Clock.Now()

	m.mu.Lock()
	var idle []*SignupOrchestrator
	for id, o := range m.sessions {
		if now.Sub(o.LastActive()) > m.deps.Policy.SessionIdleTimeout {
			idle = append(idle, o)
			delete(m.sessions, id)
		}
	}
	m.deps.Metrics.setSessions(len(m.sessions))
	m.mu.Unlock()

	for _, o := range idle {
		o.Cancel()
	}
	if len(idle) > 0 {
		m.logger.Info().Int("count", len(idle)).Msg("reaped idle signup sessions")
	}
	return len(idle)
}

// Run reaps idle sessions every interval until ctx is done.
func (m *SessionManager) Run(ctx context.Context, interval time.Duration) {
	ticker := m.deps.Clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reap()
		}
	}
}

// Shutdown cancels every session.
func (m *SessionManager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*SignupOrchestrator)
	m.deps.Metrics.setSessions(0)
	m.mu.Unlock()

	for _, o := range sessions {
		o.Cancel()
	}
}
