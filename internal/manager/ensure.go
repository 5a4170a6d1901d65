package manager

import (
	"context"
	"time"

	"modelbench/internal/artifact"
	"modelbench/internal/telemetry"
)

// Bootstrap walks the startup path: a complete artifact is loaded, a missing
// one is downloaded when a token is known, otherwise the manager waits in
// need_token.
func (m *Manager) Bootstrap(ctx context.Context) error {
	st, err := m.store.State()
	if err != nil {
		m.setState(StateError, err.Error())
		return err
	}
	if st.Kind != artifact.Complete {
		m.mu.RLock()
		token := m.token
		m.mu.RUnlock()
		if token == "" {
			m.setState(StateNeedToken, "")
			return nil
		}
		if _, err := m.EnsureArtifact(ctx, "", nil); err != nil {
			return err
		}
	}
	return m.LoadEngine(ctx)
}

// EnsureArtifact downloads the artifact unless it is already complete and
// returns its path. An empty token selects the configured one. Transient
// failures are retried per the manager's retry policy.
func (m *Manager) EnsureArtifact(ctx context.Context, token string, onProgress artifact.ProgressFunc) (string, error) {
	m.mu.Lock()
	if token == "" {
		token = m.token
	}
	if m.state == StateDownloading {
		m.mu.Unlock()
		return "", artifact.ErrDownloadInProgress
	}
	if st, err := m.store.State(); err == nil && st.Kind == artifact.Complete {
		m.mu.Unlock()
		return m.store.Path(), nil
	}
	if err := artifact.ValidateToken(token); err != nil {
		m.setStateLocked(StateNeedToken, err.Error())
		m.mu.Unlock()
		return "", &artifact.DownloadError{Kind: artifact.KindAuthentication, Err: err}
	}
	prev := m.state
	m.progress = &artifact.Progress{}
	m.setStateLocked(StateDownloading, "")
	m.mu.Unlock()

	desc := m.store.Descriptor()
	m.publish(EventDownloadStart, map[string]any{"url": desc.ResolvedURL(), "expected_size": desc.ExpectedSize})
	m.log.Info().Str("artifact", desc.Name).Str("token", artifact.RedactToken(token)).Msg("artifact download start")

	before, _ := m.store.State()
	start := time.Now()
	path, err := artifact.DownloadWithRetry(ctx, m.downloader, token, func(p artifact.Progress) {
		m.mu.Lock()
		cp := p
		m.progress = &cp
		m.mu.Unlock()
		m.publish(EventDownloadProgress, map[string]any{"bytes": p.BytesTransferred, "total": p.TotalBytes, "fraction": p.Fraction})
		if onProgress != nil {
			onProgress(p)
		}
	}, m.retry)
	after, _ := m.store.State()
	transferred := after.BytesOnDisk - before.BytesOnDisk

	m.mu.Lock()
	m.progress = nil
	if err != nil {
		next := StateError
		if artifact.IsAuthentication(err) {
			next = StateNeedToken
		}
		m.setStateLocked(next, err.Error())
		m.mu.Unlock()
		telemetry.ObserveDownload(artifact.KindOf(err).String(), transferred, time.Since(start))
		m.publish(EventDownloadFailed, map[string]any{"kind": artifact.KindOf(err).String(), "error": err.Error()})
		return "", err
	}
	m.token = token
	loaded := prev == StateReady && m.session != nil
	if loaded {
		m.setStateLocked(StateReady, "")
	} else {
		m.setStateLocked(StateInitializing, "")
	}
	m.mu.Unlock()
	telemetry.ObserveDownload("ok", transferred, time.Since(start))
	m.publish(EventDownloadDone, map[string]any{"path": path, "bytes": transferred, "duration_ms": time.Since(start).Milliseconds()})
	if m.autoLoad && !loaded && m.loader != nil {
		go func() {
			if err := m.LoadEngine(m.ctx); err != nil && m.ctx.Err() == nil {
				m.log.Error().Err(err).Msg("engine load after download failed")
			}
		}()
	}
	return path, nil
}

// RemoveArtifact unloads the engine and deletes the artifact, partial or complete.
func (m *Manager) RemoveArtifact() (bool, error) {
	if m.Snapshot().State == StateDownloading {
		return false, artifact.ErrDownloadInProgress
	}
	if err := m.unload(); err != nil {
		m.log.Warn().Err(err).Msg("unload before remove failed")
	}
	removed, err := m.store.Remove()
	if err != nil {
		m.setState(StateError, err.Error())
		return false, err
	}
	m.mu.Lock()
	next := StateNeedToken
	if m.token != "" {
		next = StateInitializing
	}
	m.setStateLocked(next, "")
	m.mu.Unlock()
	m.publish(EventArtifactRemoved, map[string]any{"removed": removed})
	return removed, nil
}
