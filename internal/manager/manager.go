package manager

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"modelbench/internal/artifact"
	"modelbench/internal/engine"
	"modelbench/internal/generation"
)

type Manager struct {
	mu       sync.RWMutex
	state    State
	err      string
	token    string
	model    engine.Model
	session  *generation.Session
	progress *artifact.Progress
	last     *generation.DetailedMetrics
	runs     uint64
	loads    uint64

	downloader *artifact.Downloader
	store      *artifact.Store
	retry      artifact.RetryPolicy
	loader     Loader
	sessOpts   generation.Options
	publisher  EventPublisher
	log        zerolog.Logger
	startTime  time.Time

	// loadMu serializes engine load and unload.
	loadMu sync.Mutex
	// genCh holds the single in-flight generation slot.
	genCh   chan struct{}
	maxWait time.Duration
	preempt bool

	// autoLoad starts LoadEngine after a successful download.
	autoLoad bool
	// ctx bounds background loads; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// SetEventPublisher replaces the publisher. Not safe to call while operations run.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.publisher = p
}

func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateReady && m.session != nil
}

// Store returns the artifact store the manager downloads into.
func (m *Manager) Store() *artifact.Store { return m.store }

// Snapshot returns a read-only view of the manager state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Snapshot{State: m.state, Err: m.err}
	if m.model != nil {
		s.Delegate = m.model.Delegate()
	}
	return s
}

// SetToken validates and stores the default access token.
func (m *Manager) SetToken(token string) error {
	if err := artifact.ValidateToken(token); err != nil {
		return err
	}
	m.mu.Lock()
	m.token = token
	if m.state == StateNeedToken {
		m.setStateLocked(StateInitializing, "")
	}
	m.mu.Unlock()
	return nil
}

// setStateLocked records a transition and publishes it. Callers hold mu.
func (m *Manager) setStateLocked(s State, errMsg string) {
	from := m.state
	m.state = s
	m.err = errMsg
	if from == s && errMsg == "" {
		return
	}
	fields := map[string]any{"from": string(from), "to": string(s)}
	if errMsg != "" {
		fields["error"] = errMsg
	}
	m.log.Debug().Str("from", string(from)).Str("to", string(s)).Str("error", errMsg).Msg("state change")
	m.publisher.Publish(Event{Name: EventStateChanged, Artifact: m.store.Descriptor().Name, Fields: fields})
}

func (m *Manager) setState(s State, errMsg string) {
	m.mu.Lock()
	m.setStateLocked(s, errMsg)
	m.mu.Unlock()
}

func (m *Manager) publish(name string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	m.publisher.Publish(Event{Name: name, Artifact: m.store.Descriptor().Name, Fields: fields})
}

// Close cancels any generation and background load and unloads the engine.
func (m *Manager) Close() error {
	m.cancel()
	return m.unload()
}
