package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultEventBuffer is the stream capacity used when Options leaves it unset.
	DefaultEventBuffer = 64
	// minEventBuffer leaves room for Started plus the terminal event after a cancel
	// drops queued tokens.
	minEventBuffer = 2
)

// ErrSessionClosed is returned by Submit after Close.
var ErrSessionClosed = errors.New("generation: session closed")

// generationError is returned by Generate when the stream ended with Failed.
type generationError struct {
	msg       string
	cancelled bool
}

func (e generationError) Error() string { return e.msg }

// IsCancelled reports whether err is a generation that ended because it was cancelled.
func IsCancelled(err error) bool {
	var ge generationError
	return errors.As(err, &ge) && ge.cancelled
}

// IsFailed reports whether err is a generation failure reported by the stream.
func IsFailed(err error) bool {
	var ge generationError
	return errors.As(err, &ge)
}

// Options configures a Session.
type Options struct {
	Logger *zerolog.Logger
	// Now is the time source for metrics; tests inject a synthetic clock.
	Now func() time.Time
	// MemoryMB samples runtime memory at completion. Defaults to HeapMB.
	MemoryMB func() int64
	// Device describes the host. Defaults to DetectDevice.
	Device func() DeviceInfo
	// EventBuffer is the stream capacity. Values below 2 are raised to 2.
	EventBuffer int
	// OnFinish, when set, is called once per run with its terminal event after
	// the stream is closed and the engine session released.
	OnFinish func(runID string, terminal Event)
}

// Session turns an Engine's push callbacks into ordered, cancellable event
// streams. It runs at most one generation at a time.
type Session struct {
	engine Engine
	opts   Options
	log    zerolog.Logger

	mu      sync.Mutex
	current *run
	closed  bool
}

// NewSession returns a Session driving engine.
func NewSession(engine Engine, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MemoryMB == nil {
		opts.MemoryMB = HeapMB
	}
	if opts.Device == nil {
		opts.Device = DetectDevice
	}
	if opts.EventBuffer == 0 {
		opts.EventBuffer = DefaultEventBuffer
	}
	if opts.EventBuffer < minEventBuffer {
		opts.EventBuffer = minEventBuffer
	}
	s := &Session{engine: engine, opts: opts, log: zerolog.Nop()}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	return s
}

// Submit starts one generation and returns its event stream. A generation that
// is still open is cancelled first, and its stream is closed before Submit
// proceeds. Cancelling ctx has the same effect as Cancel.
//
// Failures in configuration or streaming are reported on the stream as a single
// Failed event; the returned error is only set when the Session is closed.
func (s *Session) Submit(ctx context.Context, prompt string, cfg SamplingConfig) (<-chan Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if prev := s.current; prev != nil {
		prev.cancel("superseded by a new submission")
	}

	r := &run{
		id:       uuid.NewString(),
		out:      make(chan Event, s.opts.EventBuffer),
		cancelCh: make(chan struct{}),
		clock:    NewClock(s.opts.Now),
		engine:   s.engine,
		opts:     s.opts,
	}
	r.log = s.log.With().Str("run_id", r.id).Logger()
	s.current = r

	r.clock.Start()
	r.log.Info().Int("prompt_chars", len(prompt)).Int("top_k", cfg.TopK).Float64("temperature", cfg.Temperature).
		Int("seed", cfg.Seed).Int("max_tokens", cfg.MaxTokens).Msg("generation start")

	if err := cfg.Validate(); err != nil {
		r.fail(fmt.Errorf("invalid sampling config: %w", err))
		return r.out, nil
	}
	es, err := s.engine.CreateSession(cfg)
	if err != nil {
		r.fail(fmt.Errorf("create session: %w", err))
		return r.out, nil
	}
	r.mu.Lock()
	r.es = es
	r.mu.Unlock()
	if err := es.AddQuery(prompt); err != nil {
		r.fail(fmt.Errorf("add query: %w", err))
		return r.out, nil
	}

	r.mu.Lock()
	r.send(Started{RunID: r.id})
	r.stop = context.AfterFunc(ctx, func() { r.cancel("context cancelled") })
	r.mu.Unlock()

	go r.generate()
	return r.out, nil
}

// Cancel ends the open generation, if any. The stream receives one terminal
// Failed event with Cancelled set, any tokens not yet received are dropped,
// and the engine session is released. Cancel is a no-op when nothing runs.
func (s *Session) Cancel() {
	s.mu.Lock()
	r := s.current
	s.mu.Unlock()
	if r != nil {
		r.cancel("cancelled")
	}
}

// Close cancels any open generation and rejects further submissions.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	r := s.current
	s.mu.Unlock()
	if r != nil {
		r.cancel("session closed")
	}
}

// Generate submits prompt and blocks until the stream ends. Token events are
// discarded; use Submit to observe them.
func (s *Session) Generate(ctx context.Context, prompt string, cfg SamplingConfig) (Completed, error) {
	events, err := s.Submit(ctx, prompt, cfg)
	if err != nil {
		return Completed{}, err
	}
	return Wait(events)
}

// Wait drains events and returns the Completed event, or an error for which
// IsFailed reports true when the stream ended with Failed.
func Wait(events <-chan Event) (Completed, error) {
	for ev := range events {
		switch e := ev.(type) {
		case Completed:
			return e, nil
		case Failed:
			return Completed{}, generationError{msg: e.Message, cancelled: e.Cancelled}
		}
	}
	return Completed{}, generationError{msg: "event stream closed without a terminal event"}
}

// run is the state of one submission. mu serializes every mutation made by
// engine callbacks, cancellation and setup.
type run struct {
	id     string
	engine Engine
	opts   Options
	log    zerolog.Logger

	out        chan Event
	cancelCh   chan struct{}
	cancelOnce sync.Once
	releaseOne sync.Once

	mu       sync.Mutex
	es       EngineSession
	terminal Event
	stop     func() bool
	clock    *Clock
	text     strings.Builder
	tokens   int
	closed   bool
}

func (r *run) generate() {
	defer func() {
		if v := recover(); v != nil {
			r.fail(fmt.Errorf("engine panic: %v", v))
		}
	}()
	if err := r.es.GenerateAsync(r.onFragment); err != nil {
		r.fail(fmt.Errorf("generate: %w", err))
	}
}

func (r *run) onFragment(fragment string, done bool, err error) {
	finished := r.handleFragment(fragment, done, err)
	if finished {
		r.release()
	}
}

func (r *run) handleFragment(fragment string, done bool, err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.cancelled() {
		return false
	}
	if err != nil {
		r.log.Error().Err(err).Int("tokens", r.tokens).Msg("generation failed")
		return r.finishLocked(Failed{Message: failureMessage(err)})
	}
	if fragment != "" {
		at, first := r.clock.Token()
		r.tokens++
		r.text.WriteString(fragment)
		if first {
			r.log.Debug().Int64("first_token_ms", at.Sub(r.clock.start).Milliseconds()).Msg("first token")
		}
		if !r.send(TokenGenerated{Text: fragment}) {
			return false
		}
	}
	if !done {
		return false
	}
	r.clock.Finish()
	m := CalculateMetrics(r.clock.Snapshot(), r.tokens, Host{
		Delegate: r.engine.Delegate(),
		MemoryMB: r.opts.MemoryMB(),
		Device:   r.opts.Device(),
	})
	r.log.Info().Int("tokens", m.TotalTokens).Int64("total_ms", m.TotalTimeMs).
		Float64("tokens_per_second", m.TokensPerSecond).Int64("prefill_ms", m.PrefillTimeMs).
		Int64("decode_ms", m.DecodeTimeMs).Int64("memory_mb", m.EstimatedMemoryMB).Msg("generation complete")
	if r.log.GetLevel() <= zerolog.DebugLevel {
		r.log.Debug().Msg(m.Report())
	}
	return r.finishLocked(Completed{Metrics: m, FullText: r.text.String()})
}

func (r *run) fail(err error) {
	r.mu.Lock()
	finished := !r.closed && !r.cancelled() && r.finishLocked(Failed{Message: failureMessage(err)})
	r.mu.Unlock()
	if finished {
		r.log.Error().Err(err).Msg("generation failed")
		r.release()
	}
}

func (r *run) cancel(reason string) {
	r.cancelOnce.Do(func() { close(r.cancelCh) })

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	// Drop undelivered tokens but keep Started so the stream stays well formed.
	var keep []Event
	for drained := false; !drained; {
		select {
		case e := <-r.out:
			if _, ok := e.(TokenGenerated); !ok {
				keep = append(keep, e)
			}
		default:
			drained = true
		}
	}
	for _, e := range keep {
		r.out <- e
	}
	r.terminal = Failed{Message: reason, Cancelled: true}
	r.out <- r.terminal
	r.closeLocked()
	tokens := r.tokens
	r.mu.Unlock()

	r.log.Info().Str("reason", reason).Int("tokens", tokens).Msg("generation cancelled")
	r.release()
}

func (r *run) cancelled() bool {
	select {
	case <-r.cancelCh:
		return true
	default:
		return false
	}
}

// send delivers e unless the run is cancelled while waiting for the consumer.
// Callers hold mu.
func (r *run) send(e Event) bool {
	select {
	case r.out <- e:
		return true
	case <-r.cancelCh:
		return false
	}
}

// finishLocked sends the terminal event and closes the stream.
func (r *run) finishLocked(e Event) bool {
	if !r.send(e) {
		return false
	}
	r.terminal = e
	r.closeLocked()
	return true
}

func (r *run) closeLocked() {
	r.closed = true
	close(r.out)
	if r.stop != nil {
		r.stop()
	}
}

// release closes the engine session exactly once and reports the outcome. It
// runs without mu held because engines may wait for an in-flight callback
// while closing.
func (r *run) release() {
	r.releaseOne.Do(func() {
		r.mu.Lock()
		es, terminal := r.es, r.terminal
		r.mu.Unlock()
		if es != nil {
			if err := es.Close(); err != nil {
				r.log.Warn().Err(err).Msg("engine session close failed")
			}
		}
		if r.opts.OnFinish != nil {
			r.opts.OnFinish(r.id, terminal)
		}
	})
}

func failureMessage(err error) string {
	return "text generation failed: " + err.Error()
}
