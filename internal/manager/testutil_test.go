package manager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"modelbench/internal/artifact"
	"modelbench/internal/engine"
	"modelbench/internal/generation"
)

const testToken = "hf_testtoken1234"

// fakeModel is an in-memory engine that emits a fixed token list.
type fakeModel struct {
	tokens []string
	// gate, when set, holds generation after the tokens until closed.
	gate   chan struct{}
	closed atomic.Bool
}

func (f *fakeModel) CreateSession(generation.SamplingConfig) (generation.EngineSession, error) {
	return &fakeSession{m: f, stop: make(chan struct{})}, nil
}

func (f *fakeModel) Delegate() string { return "fake" }

func (f *fakeModel) Close() error {
	f.closed.Store(true)
	return nil
}

type fakeSession struct {
	m    *fakeModel
	stop chan struct{}
	once sync.Once
}

func (s *fakeSession) AddQuery(string) error { return nil }

func (s *fakeSession) GenerateAsync(fn generation.FragmentFunc) error {
	go func() {
		for _, t := range s.m.tokens {
			fn(t, false, nil)
		}
		if s.m.gate != nil {
			select {
			case <-s.m.gate:
			case <-s.stop:
				return
			}
		}
		fn("", true, nil)
	}()
	return nil
}

func (s *fakeSession) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// origin serves content, requiring the test bearer token.
type origin struct {
	content  []byte
	status   int
	requests atomic.Int32
}

func (o *origin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.requests.Add(1)
	if o.status != 0 {
		w.WriteHeader(o.status)
		return
	}
	if r.Header.Get("Authorization") != "Bearer "+testToken {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(o.content)))
	_, _ = w.Write(o.content)
}

type fixture struct {
	m      *Manager
	pub    *MemoryPublisher
	origin *origin
	model  *fakeModel
	loaded atomic.Value // path passed to the loader
}

func newFixture(t *testing.T, mutate func(*ManagerConfig)) *fixture {
	t.Helper()
	f := &fixture{
		pub:    NewMemoryPublisher(),
		origin: &origin{content: []byte("model-bytes-0123456789")},
		model:  &fakeModel{tokens: []string{"Hello", ",", " world"}},
	}
	ts := httptest.NewServer(f.origin)
	t.Cleanup(ts.Close)

	desc := artifact.Descriptor{Name: "model.bin", URL: ts.URL + "/{name}", ExpectedSize: int64(len(f.origin.content))}
	dl := artifact.NewDownloader(artifact.NewStore(t.TempDir(), desc), artifact.Options{})
	cfg := ManagerConfig{
		Downloader: dl,
		Retry:      artifact.RetryPolicy{MaxRetries: 0},
		Loader: func(_ context.Context, path string) (engine.Model, error) {
			f.loaded.Store(path)
			return f.model, nil
		},
		Session:   generation.Options{Device: func() generation.DeviceInfo { return generation.DeviceInfo{OS: "test"} }},
		MaxWait:   time.Second,
		Publisher: f.pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.m = NewWithConfig(cfg)
	t.Cleanup(func() { _ = f.m.Close() })
	return f
}

func (f *fixture) ready(t *testing.T) {
	t.Helper()
	if err := f.m.SetToken(testToken); err != nil {
		t.Fatalf("SetToken: %v", err)
	}
	if err := f.m.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !f.m.Ready() {
		t.Fatalf("expected ready, got %+v", f.m.Snapshot())
	}
}

func hasEvent(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}

func nextEvent(t *testing.T, ch <-chan generation.Event) generation.Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("stream closed")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func drain(t *testing.T, ch <-chan generation.Event) generation.Event {
	t.Helper()
	var last generation.Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return last
			}
			last = ev
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out draining stream")
		}
	}
}

// waitIdle waits for the running generation to release its slot.
func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.Inflight() {
		if time.Now().After(deadline) {
			t.Fatalf("generation slot not released")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
