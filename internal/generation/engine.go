package generation

// Engine is the loaded inference runtime. It is opaque to this package beyond
// creating sessions and naming the hardware path it runs on.
type Engine interface {
	// CreateSession configures a fresh session with the given sampling parameters.
	CreateSession(cfg SamplingConfig) (EngineSession, error)
	// Delegate names the acceleration backend, e.g. "CPU" or "GPU".
	Delegate() string
}

// EngineSession is a single generation context owned by one Session run.
type EngineSession interface {
	// AddQuery submits the prompt text as one query unit.
	AddQuery(text string) error
	// GenerateAsync starts generation and returns once it is under way. onFragment
	// may be invoked from any goroutine, possibly before GenerateAsync returns.
	// The final invocation has done set, or carries a non-nil err.
	GenerateAsync(onFragment FragmentFunc) error
	// Close releases the session. It must be safe to call while generation is
	// still running and more than once.
	Close() error
}

// FragmentFunc receives text fragments pushed by the engine.
type FragmentFunc func(fragment string, done bool, err error)
