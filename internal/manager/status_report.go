package manager

import (
	"time"

	"modelbench/internal/generation"
	"modelbench/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	desc := m.store.Descriptor()
	st, stErr := m.store.State()

	m.mu.RLock()
	defer m.mu.RUnlock()
	resp := types.StatusResponse{
		State:          string(m.state),
		Error:          m.err,
		LoadsTotal:     m.loads,
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
		Device:         generation.DetectDevice(),
		Artifact: types.ArtifactStatus{
			Name:         desc.Name,
			URL:          desc.ResolvedURL(),
			Path:         m.store.Path(),
			State:        st.Kind.String(),
			BytesOnDisk:  st.BytesOnDisk,
			ExpectedSize: desc.ExpectedSize,
		},
		Generation: types.GenerationStatus{
			Inflight:    len(m.genCh) > 0,
			RunsTotal:   m.runs,
			LastMetrics: m.last,
		},
	}
	if stErr != nil && resp.Error == "" {
		resp.Error = stErr.Error()
	}
	if desc.ExpectedSize > 0 {
		resp.Artifact.Fraction = min(float64(st.BytesOnDisk)/float64(desc.ExpectedSize), 1)
	}
	if p := m.progress; p != nil {
		resp.Download = &types.DownloadProgress{Bytes: p.BytesTransferred, Total: p.TotalBytes, Fraction: p.Fraction}
	}
	if m.model != nil {
		resp.Engine = types.EngineStatus{Loaded: true, Delegate: m.model.Delegate()}
	}
	return resp
}
