package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"modelbench/internal/artifact"
	"modelbench/internal/engine"
	"modelbench/internal/httpapi"
	"modelbench/internal/manager"
)

const testToken = "hf_e2etesttoken0001"

// newArtifactOrigin serves content with range support behind a bearer token.
func newArtifactOrigin(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.ServeContent(w, r, "model.bin", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(ts.Close)
	return ts
}

// llamaServer imitates llama.cpp's streaming completions endpoint. When hold
// is set each stream pauses after its first chunk until hold is closed or the
// client goes away.
type llamaServer struct {
	tokens []string
	hold   chan struct{}
}

func (l *llamaServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case "/v1/completions":
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for i, tok := range l.tokens {
			b, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"text": tok, "finish_reason": nil}}})
			fmt.Fprintf(w, "data: %s\n\n", b)
			if flusher != nil {
				flusher.Flush()
			}
			if i == 0 && l.hold != nil {
				select {
				case <-l.hold:
				case <-r.Context().Done():
					return
				}
			}
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type stack struct {
	api    *httptest.Server
	mgr    *manager.Manager
	pub    *manager.MemoryPublisher
	llama  *llamaServer
	origin *httptest.Server
}

// newStack wires a downloader, a manager backed by the llama server client
// and the HTTP API, all against in-process test servers.
func newStack(t *testing.T, content []byte, llama *llamaServer, mutate func(*manager.ManagerConfig)) *stack {
	t.Helper()
	s := &stack{pub: manager.NewMemoryPublisher(), llama: llama}
	s.origin = newArtifactOrigin(t, content)
	llamaTS := httptest.NewServer(llama)
	t.Cleanup(llamaTS.Close)

	desc := artifact.Descriptor{Name: "model.bin", URL: s.origin.URL + "/{name}", ExpectedSize: int64(len(content))}
	dl := artifact.NewDownloader(artifact.NewStore(t.TempDir(), desc), artifact.Options{})
	cfg := manager.ManagerConfig{
		Downloader: dl,
		Loader: func(ctx context.Context, _ string) (engine.Model, error) {
			srv := engine.NewServer(engine.ServerOptions{BaseURL: llamaTS.URL})
			if err := srv.Ping(ctx); err != nil {
				return nil, err
			}
			return srv, nil
		},
		MaxWait:   time.Second,
		AutoLoad:  true,
		Publisher: s.pub,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	s.mgr = manager.NewWithConfig(cfg)
	t.Cleanup(func() { _ = s.mgr.Close() })
	if err := s.mgr.Bootstrap(context.Background()); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	s.api = httptest.NewServer(httpapi.NewMux(s.mgr))
	t.Cleanup(s.api.Close)
	return s
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// decodeLines parses an NDJSON body.
func decodeLines[T any](t *testing.T, body []byte) []T {
	t.Helper()
	var out []T
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			t.Fatalf("bad ndjson line %q: %v", sc.Text(), err)
		}
		out = append(out, v)
	}
	return out
}

// waitReady polls /readyz until it reports ready.
func waitReady(t *testing.T, base string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, body := httpGet(t, base+"/readyz")
		if resp.StatusCode == http.StatusOK {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("not ready: %d %s", resp.StatusCode, body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
