// Package manager coordinates the artifact lifecycle and generation admission.
// It is structured into small files by concern:
//
//   - manager.go: core Manager type, simple getters, state transitions.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: State, Loader and Snapshot.
//   - errors.go: error types and helpers (IsTooBusy, IsNotReady).
//   - ensure.go: Bootstrap, EnsureArtifact (download with retry, optional
//     background load), RemoveArtifact.
//   - load.go / unload.go: engine load and teardown.
//   - admission.go: single in-flight generation slot.
//   - infer.go: Submit/Generate/Cancel.
//   - status_report.go: Status reporting.
//   - events.go, eventpub_memory.go, eventpub_log.go: lifecycle events and publishers.
//
// States follow the startup path initializing → need_token → downloading →
// loading → ready, with error reachable from any step. External packages should
// treat this package as the orchestration layer and use public methods only.
package manager
