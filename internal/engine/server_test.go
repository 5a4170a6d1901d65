package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"modelbench/internal/generation"
)

// sseWriter helps write SSE-style lines.
type sseWriter struct{ w http.ResponseWriter }

func (sw sseWriter) writeLine(line string) {
	_, _ = sw.w.Write([]byte(line + "\n"))
	if f, ok := sw.w.(http.Flusher); ok {
		f.Flush()
	}
}

func chunk(text string) string {
	b, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"text": text, "finish_reason": nil}}})
	return "data: " + string(b)
}

// recorder collects callbacks from GenerateAsync.
type recorder struct {
	mu     sync.Mutex
	tokens []string
	err    error
	done   chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{})} }

func (r *recorder) fn(fragment string, done bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if fragment != "" {
		r.tokens = append(r.tokens, fragment)
	}
	if err != nil {
		r.err = err
	}
	if done || err != nil {
		close(r.done)
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("generation did not finish")
	}
}

func TestServer_StreamsCompletion(t *testing.T) {
	var got completionRequest
	var auth string
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		sw := sseWriter{w: w}
		sw.writeLine(": keep-alive")
		sw.writeLine(chunk("Hello"))
		sw.writeLine("")
		sw.writeLine(chunk(" World"))
		sw.writeLine("data: [DONE]")
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	srv := NewServer(ServerOptions{BaseURL: ts.URL + "/", APIKey: "secret", Model: "gemma"})
	sess, err := srv.CreateSession(generation.SamplingConfig{TopK: 40, Temperature: 0.8, Seed: 101, MaxTokens: 16})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	defer sess.Close()
	if err := sess.AddQuery("Say hi"); err != nil {
		t.Fatalf("AddQuery: %v", err)
	}
	rec := newRecorder()
	if err := sess.GenerateAsync(rec.fn); err != nil {
		t.Fatalf("GenerateAsync: %v", err)
	}
	rec.wait(t)

	if rec.err != nil {
		t.Fatalf("unexpected error: %v", rec.err)
	}
	if s := strings.Join(rec.tokens, ""); s != "Hello World" {
		t.Fatalf("tokens = %q", s)
	}
	if got.Prompt != "Say hi" || got.TopK != 40 || got.MaxTokens != 16 || !got.Stream || got.Model != "gemma" {
		t.Fatalf("request payload = %+v", got)
	}
	if auth != "Bearer secret" {
		t.Fatalf("authorization = %q", auth)
	}
	if srv.Delegate() != "llama-server" {
		t.Fatalf("delegate = %q", srv.Delegate())
	}
}

func TestServer_NativeLinesAndStopFlag(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := sseWriter{w: w}
		sw.writeLine(`{"content":"a","stop":false}`)
		sw.writeLine(`{"content":"b","stop":true}`)
		sw.writeLine(`{"content":"ignored","stop":false}`)
	}))
	defer ts.Close()

	sess, _ := NewServer(ServerOptions{BaseURL: ts.URL}).CreateSession(generation.DefaultSampling())
	rec := newRecorder()
	if err := sess.GenerateAsync(rec.fn); err != nil {
		t.Fatalf("GenerateAsync: %v", err)
	}
	rec.wait(t)
	if s := strings.Join(rec.tokens, ""); s != "ab" {
		t.Fatalf("tokens = %q", s)
	}
}

func TestServer_TruncatedStreamIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := sseWriter{w: w}
		sw.writeLine(chunk("partial"))
	}))
	defer ts.Close()

	sess, _ := NewServer(ServerOptions{BaseURL: ts.URL}).CreateSession(generation.DefaultSampling())
	rec := newRecorder()
	if err := sess.GenerateAsync(rec.fn); err != nil {
		t.Fatalf("GenerateAsync: %v", err)
	}
	rec.wait(t)
	if !errors.Is(rec.err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", rec.err)
	}
	if s := strings.Join(rec.tokens, ""); s != "partial" {
		t.Fatalf("tokens = %q", s)
	}
}

func TestServer_HTTPErrorIsReported(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	sess, _ := NewServer(ServerOptions{BaseURL: ts.URL}).CreateSession(generation.DefaultSampling())
	rec := newRecorder()
	_ = sess.GenerateAsync(rec.fn)
	rec.wait(t)
	if rec.err == nil || !strings.Contains(rec.err.Error(), "503") {
		t.Fatalf("expected 503 error, got %v", rec.err)
	}
}

func TestServer_CloseStopsStreamSilently(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := sseWriter{w: w}
		sw.writeLine(chunk("first"))
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()
	defer close(release)

	sess, _ := NewServer(ServerOptions{BaseURL: ts.URL}).CreateSession(generation.DefaultSampling())
	calls := make(chan string, 8)
	_ = sess.GenerateAsync(func(fragment string, done bool, err error) {
		switch {
		case err != nil:
			calls <- "err"
		case done:
			calls <- "done"
		default:
			calls <- fragment
		}
	})
	if c := <-calls; c != "first" {
		t.Fatalf("first callback = %q", c)
	}
	_ = sess.Close()
	select {
	case c := <-calls:
		t.Fatalf("callback after close: %q", c)
	case <-time.After(100 * time.Millisecond):
	}
	if err := sess.AddQuery("x"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("AddQuery after close = %v", err)
	}
}

func TestServer_Ping(t *testing.T) {
	healthy := true
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" || !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	srv := NewServer(ServerOptions{BaseURL: ts.URL})
	if err := srv.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	healthy = false
	if err := srv.Ping(context.Background()); !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
	ts.Close()
	if err := srv.Ping(context.Background()); !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable after close, got %v", err)
	}
}

func TestLoadLlama_WithoutBuildTag(t *testing.T) {
	if LlamaBuilt {
		t.Skip("llama backend compiled in")
	}
	_, err := LoadLlama("/nonexistent.gguf", LlamaOptions{})
	if !IsDependencyUnavailable(err) {
		t.Fatalf("expected dependency unavailable, got %v", err)
	}
}

func TestEventData(t *testing.T) {
	cases := map[string]struct {
		data string
		ok   bool
	}{
		"data: {\"a\":1}\n": {`{"a":1}`, true},
		"data:[DONE]":       {"[DONE]", true},
		"{\"content\":\"x\"}": {`{"content":"x"}`, true},
		": ping":            {"", false},
		"   ":               {"", false},
		"event: message":    {"", false},
	}
	for in, want := range cases {
		got, ok := eventData(in)
		if got != want.data || ok != want.ok {
			t.Errorf("eventData(%q) = %q,%v want %q,%v", in, got, ok, want.data, want.ok)
		}
	}
}
