package manager

import (
	"context"

	"modelbench/internal/generation"
	"modelbench/internal/telemetry"
)

// Submit starts a generation on the loaded engine and returns its event
// stream. At most one generation runs; later submissions wait for the slot
// (or preempt, when configured) and fail with a too-busy error after maxWait.
func (m *Manager) Submit(ctx context.Context, prompt string, cfg generation.SamplingConfig) (<-chan generation.Event, error) {
	m.mu.RLock()
	sess, state := m.session, m.state
	m.mu.RUnlock()
	if sess == nil || state != StateReady {
		return nil, notReadyError{state: state}
	}
	if err := m.beginGeneration(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.session != sess {
		state = m.state
		m.mu.Unlock()
		m.endGeneration()
		return nil, notReadyError{state: state}
	}
	m.runs++
	m.mu.Unlock()

	telemetry.GenerationStarted()
	m.publish(EventGenerationStart, map[string]any{"prompt_chars": len(prompt), "top_k": cfg.TopK, "temperature": cfg.Temperature})
	events, err := sess.Submit(ctx, prompt, cfg)
	if err != nil {
		telemetry.ObserveGeneration(generation.Failed{Message: err.Error()})
		m.endGeneration()
		return nil, err
	}
	return events, nil
}

// Generate runs one generation to completion. Cancelled runs return an error
// for which generation.IsCancelled reports true.
func (m *Manager) Generate(ctx context.Context, prompt string, cfg generation.SamplingConfig) (generation.Completed, error) {
	events, err := m.Submit(ctx, prompt, cfg)
	if err != nil {
		return generation.Completed{}, err
	}
	return generation.Wait(events)
}

// Cancel stops the running generation. It reports whether one was running.
func (m *Manager) Cancel() bool {
	m.mu.RLock()
	sess := m.session
	m.mu.RUnlock()
	if sess == nil || !m.Inflight() {
		return false
	}
	sess.Cancel()
	return true
}
