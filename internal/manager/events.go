package manager

// Event names published by the manager.
const (
	EventStateChanged       = "state_changed"
	EventDownloadStart      = "download_start"
	EventDownloadProgress   = "download_progress"
	EventDownloadDone       = "download_done"
	EventDownloadFailed     = "download_failed"
	EventEngineLoaded       = "engine_loaded"
	EventEngineUnloaded     = "engine_unloaded"
	EventGenerationStart    = "generation_start"
	EventGenerationFinished = "generation_finished"
	EventArtifactRemoved    = "artifact_removed"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + artifact name and optional fields via key/values.
type Event struct {
	Name     string
	Artifact string
	Fields   map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
