package types

import "modelbench/internal/generation"

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	Error string `json:"error"`
	// HTTP status code.
	Code int `json:"code"`
	// Kind classifies artifact download failures (authentication, not_found, ...).
	Kind string `json:"kind,omitempty"`
}

// DownloadRequest is the body of POST /artifact/download. All fields are optional.
type DownloadRequest struct {
	// Access token for the artifact store. Empty selects the server's token.
	Token string `json:"token,omitempty"`
}

// DownloadProgress is one NDJSON line of the download stream. The last line
// has Done set, or Error on failure.
type DownloadProgress struct {
	Bytes    int64   `json:"bytes"`
	Total    int64   `json:"total"`
	Fraction float64 `json:"fraction"`
	Done     bool    `json:"done,omitempty"`
	Path     string  `json:"path,omitempty"`
	Error    string  `json:"error,omitempty"`
	Kind     string  `json:"kind,omitempty"`
}

// GenerateRequest is the body of POST /generate. Unset sampling fields fall
// back to the preset, then to the server's sampling defaults.
type GenerateRequest struct {
	Prompt      string   `json:"prompt"`
	Preset      string   `json:"preset,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Seed        *int     `json:"seed,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	// Stream selects NDJSON events. When false the response is the final event only.
	Stream *bool `json:"stream,omitempty"`
}

// GenerationEvent is one NDJSON line of the generation stream.
type GenerationEvent struct {
	// Type is started, token, completed or failed.
	Type      string                      `json:"type"`
	RunID     string                      `json:"run_id,omitempty"`
	Text      string                      `json:"text,omitempty"`
	FullText  string                      `json:"full_text,omitempty"`
	Metrics   *generation.DetailedMetrics `json:"metrics,omitempty"`
	Summary   string                      `json:"summary,omitempty"`
	Error     string                      `json:"error,omitempty"`
	Cancelled bool                        `json:"cancelled,omitempty"`
}

// NewGenerationEvent converts a stream event into its wire form.
func NewGenerationEvent(ev generation.Event) GenerationEvent {
	out := GenerationEvent{Type: ev.Type()}
	switch e := ev.(type) {
	case generation.Started:
		out.RunID = e.RunID
	case generation.TokenGenerated:
		out.Text = e.Text
	case generation.Completed:
		m := e.Metrics
		out.Metrics = &m
		out.FullText = e.FullText
		out.Summary = m.Basic().String()
	case generation.Failed:
		out.Error = e.Message
		out.Cancelled = e.Cancelled
	}
	return out
}

// CancelResponse is returned by POST /generate/cancel.
type CancelResponse struct {
	// Cancelled is false when nothing was running.
	Cancelled bool `json:"cancelled"`
}

// RemoveResponse is returned by DELETE /artifact.
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// PresetsResponse is returned by GET /presets.
type PresetsResponse struct {
	Presets []generation.Preset `json:"presets"`
}
