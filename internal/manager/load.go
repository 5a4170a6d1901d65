package manager

import (
	"context"
	"time"

	"modelbench/internal/artifact"
	"modelbench/internal/engine"
	"modelbench/internal/generation"
	"modelbench/internal/telemetry"
)

// LoadEngine opens the complete artifact with the configured Loader and
// prepares a generation session. It is a no-op when an engine is loaded.
func (m *Manager) LoadEngine(ctx context.Context) error {
	if m.loader == nil {
		return engine.ErrDependencyUnavailable("no engine loader configured")
	}
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	if err := m.ctx.Err(); err != nil {
		return notReadyError{state: m.Snapshot().State}
	}

	m.mu.RLock()
	loaded, state := m.session != nil, m.state
	m.mu.RUnlock()
	if loaded {
		return nil
	}
	st, err := m.store.State()
	if err != nil {
		m.setState(StateError, err.Error())
		return err
	}
	if st.Kind != artifact.Complete {
		return notReadyError{state: state}
	}

	m.setState(StateLoading, "")
	start := time.Now()
	path := m.store.Path()
	model, err := m.loader(ctx, path)
	if err != nil {
		m.log.Error().Err(err).Str("path", path).Msg("engine load failed")
		m.setState(StateError, err.Error())
		return err
	}

	opts := m.sessOpts
	opts.OnFinish = m.onFinish
	if opts.Logger == nil {
		l := m.log
		opts.Logger = &l
	}
	sess := generation.NewSession(model, opts)

	m.mu.Lock()
	m.model = model
	m.session = sess
	m.loads++
	m.setStateLocked(StateReady, "")
	m.mu.Unlock()

	m.log.Info().Str("delegate", model.Delegate()).Dur("took", time.Since(start)).Msg("engine loaded")
	m.publish(EventEngineLoaded, map[string]any{"delegate": model.Delegate(), "path": path, "duration_ms": time.Since(start).Milliseconds()})
	return nil
}

// onFinish runs once per generation after its stream is closed.
func (m *Manager) onFinish(runID string, terminal generation.Event) {
	telemetry.ObserveGeneration(terminal)
	fields := map[string]any{"run_id": runID}
	m.mu.Lock()
	switch e := terminal.(type) {
	case generation.Completed:
		metrics := e.Metrics
		m.last = &metrics
		fields["outcome"] = "completed"
		fields["tokens"] = metrics.TotalTokens
		fields["tokens_per_second"] = metrics.TokensPerSecond
	case generation.Failed:
		fields["outcome"] = "failed"
		if e.Cancelled {
			fields["outcome"] = "cancelled"
		}
		fields["error"] = e.Message
	}
	m.mu.Unlock()
	m.publish(EventGenerationFinished, fields)
	if m.sessOpts.OnFinish != nil {
		m.sessOpts.OnFinish(runID, terminal)
	}
	m.endGeneration()
}
