package generation

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

// manualClock reports epoch plus whatever offset the scripted engine last set.
type manualClock struct {
	mu sync.Mutex
	ms int64
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return epoch.Add(time.Duration(c.ms) * time.Millisecond)
}

func (c *manualClock) Set(ms int64) {
	c.mu.Lock()
	c.ms = ms
	c.mu.Unlock()
}

// step is one engine callback: the clock is moved to atMs before invoking it.
type step struct {
	atMs int64
	text string
	done bool
	err  error
}

// scriptedEngine replays steps from its own goroutine. When gate is set, each
// step waits for a value on it, so tests can interleave Cancel.
type scriptedEngine struct {
	clock     *manualClock
	steps     []step
	gate      chan struct{}
	createErr error
	addErr    error
	genErr    error
	panicGen  bool

	mu       sync.Mutex
	sessions []*scriptedSession
	finished chan struct{}
}

func newScriptedEngine(steps ...step) *scriptedEngine {
	return &scriptedEngine{clock: &manualClock{}, steps: steps, finished: make(chan struct{}, 8)}
}

func (e *scriptedEngine) Delegate() string { return "CPU" }

func (e *scriptedEngine) CreateSession(cfg SamplingConfig) (EngineSession, error) {
	if e.createErr != nil {
		return nil, e.createErr
	}
	s := &scriptedSession{engine: e, cfg: cfg}
	e.mu.Lock()
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *scriptedEngine) session(i int) *scriptedSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[i]
}

func (e *scriptedEngine) sessionCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

type scriptedSession struct {
	engine *scriptedEngine
	cfg    SamplingConfig
	prompt string
	closes atomic.Int32
}

func (s *scriptedSession) AddQuery(text string) error {
	if s.engine.addErr != nil {
		return s.engine.addErr
	}
	s.prompt = text
	return nil
}

func (s *scriptedSession) GenerateAsync(fn FragmentFunc) error {
	e := s.engine
	if e.genErr != nil {
		return e.genErr
	}
	if e.panicGen {
		panic("native crash")
	}
	go func() {
		defer func() { e.finished <- struct{}{} }()
		for _, st := range e.steps {
			if e.gate != nil {
				<-e.gate
			}
			e.clock.Set(st.atMs)
			fn(st.text, st.done, st.err)
		}
	}()
	return nil
}

func (s *scriptedSession) Close() error {
	s.closes.Add(1)
	return nil
}

func newTestSession(e *scriptedEngine) *Session {
	return NewSession(e, Options{
		Now:      e.clock.Now,
		MemoryMB: func() int64 { return 42 },
		Device:   func() DeviceInfo { return DeviceInfo{OS: "linux", Arch: "amd64", CPU: "test", SoC: unknown} },
	})
}

// collect drains a stream, failing the test if it does not close in time.
func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, e)
		case <-timeout:
			t.Fatalf("stream not closed; got %d events so far: %#v", len(out), out)
		}
	}
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed unexpectedly")
		}
		return e
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func eventTypes(evs []Event) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type()
	}
	return out
}

var errBoom = errors.New("boom")
