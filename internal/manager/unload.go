package manager

// Unload cancels any running generation and frees the engine. The artifact
// stays on disk; LoadEngine brings the engine back.
func (m *Manager) Unload() error {
	return m.unload()
}

func (m *Manager) unload() error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	m.mu.Lock()
	sess, model := m.session, m.model
	m.session, m.model = nil, nil
	if m.state == StateReady {
		m.setStateLocked(StateInitializing, "")
	}
	m.mu.Unlock()
	if sess == nil {
		return nil
	}

	// Close cancels the open run synchronously, which releases its engine
	// session before the model goes away.
	sess.Close()
	err := model.Close()
	if err != nil {
		m.log.Warn().Err(err).Msg("engine close failed")
	}
	m.publish(EventEngineUnloaded, map[string]any{"delegate": model.Delegate()})
	return err
}
