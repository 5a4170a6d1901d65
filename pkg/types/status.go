package types

import "modelbench/internal/generation"

// ArtifactStatus describes the model file on disk.
type ArtifactStatus struct {
	Name         string  `json:"name"`
	URL          string  `json:"url"`
	Path         string  `json:"path"`
	State        string  `json:"state"`
	BytesOnDisk  int64   `json:"bytes_on_disk"`
	ExpectedSize int64   `json:"expected_size"`
	Fraction     float64 `json:"fraction"`
}

// EngineStatus describes the loaded backend.
type EngineStatus struct {
	Loaded   bool   `json:"loaded"`
	Delegate string `json:"delegate,omitempty"`
}

// GenerationStatus summarizes generation activity.
type GenerationStatus struct {
	Inflight    bool                        `json:"inflight"`
	RunsTotal   uint64                      `json:"runs_total"`
	LastMetrics *generation.DetailedMetrics `json:"last_metrics,omitempty"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall manager state (initializing, need_token, downloading, loading, ready, error).
	State string `json:"state"`
	// Last error observed by the manager (if any).
	Error      string                `json:"error,omitempty"`
	Artifact   ArtifactStatus        `json:"artifact"`
	Download   *DownloadProgress     `json:"download,omitempty"`
	Engine     EngineStatus          `json:"engine"`
	Generation GenerationStatus      `json:"generation"`
	Device     generation.DeviceInfo `json:"device"`
	// Total number of engine loads.
	LoadsTotal uint64 `json:"loads_total"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix"`
}
