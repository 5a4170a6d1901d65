package generation

// Event is one item of a generation stream. The concrete types are Started,
// TokenGenerated, Completed and Failed; consumers switch on the type.
//
// A stream carries exactly one Started first, then zero or more TokenGenerated,
// then exactly one Completed or Failed, and is then closed.
type Event interface {
	// Type returns a stable lowercase name, used on the wire.
	Type() string
	isEvent()
}

// Started marks the prompt as accepted by the engine.
type Started struct {
	RunID string `json:"run_id"`
}

// TokenGenerated carries one non-empty text fragment.
type TokenGenerated struct {
	Text string `json:"text"`
}

// Completed is the successful terminal event.
type Completed struct {
	Metrics  DetailedMetrics `json:"metrics"`
	FullText string          `json:"full_text"`
}

// Failed is the unsuccessful terminal event. Cancelled is set when the run ended
// because of Cancel or context cancellation.
type Failed struct {
	Message   string `json:"message"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

func (Started) Type() string        { return "started" }
func (TokenGenerated) Type() string { return "token" }
func (Completed) Type() string      { return "completed" }
func (Failed) Type() string         { return "failed" }

func (Started) isEvent()        {}
func (TokenGenerated) isEvent() {}
func (Completed) isEvent()      {}
func (Failed) isEvent()         {}

// IsTerminal reports whether e ends a stream.
func IsTerminal(e Event) bool {
	switch e.(type) {
	case Completed, Failed:
		return true
	default:
		return false
	}
}
