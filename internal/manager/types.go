package manager

import (
	"context"

	"modelbench/internal/engine"
)

// State represents the lifecycle state of the manager.
type State string

const (
	StateInitializing State = "initializing"
	StateNeedToken    State = "need_token"
	StateDownloading  State = "downloading"
	StateLoading      State = "loading"
	StateReady        State = "ready"
	StateError        State = "error"
)

// Loader opens the artifact at path as an inference backend.
type Loader func(ctx context.Context, path string) (engine.Model, error)

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State    State
	Err      string
	Delegate string
}
