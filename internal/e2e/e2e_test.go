package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"modelbench/internal/manager"
	"modelbench/pkg/types"
)

func status(t *testing.T, base string) types.StatusResponse {
	t.Helper()
	resp, body := httpGet(t, base+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status: %d %s", resp.StatusCode, body)
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	return st
}

// TestE2E_DownloadThenGenerate walks the whole lifecycle over HTTP: the server
// starts without a token, downloads on request, loads the engine and streams
// a generation with metrics.
func TestE2E_DownloadThenGenerate(t *testing.T) {
	content := bytes.Repeat([]byte{0xab}, 64*1024)
	s := newStack(t, content, &llamaServer{tokens: []string{"Hello", " World"}}, nil)

	if st := status(t, s.api.URL); st.State != string(manager.StateNeedToken) || st.Artifact.State != "absent" {
		t.Fatalf("initial status = %+v", st)
	}
	if resp, _ := httpGet(t, s.api.URL+"/readyz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz before download = %d", resp.StatusCode)
	}

	resp, body := httpPostJSON(t, s.api.URL+"/artifact/download", []byte(`{"token":"`+testToken+`"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download: %d %s", resp.StatusCode, body)
	}
	lines := decodeLines[types.DownloadProgress](t, body)
	if len(lines) < 2 {
		t.Fatalf("expected progress and done lines, got %d", len(lines))
	}
	last := lines[len(lines)-1]
	if !last.Done || last.Bytes != int64(len(content)) || last.Path == "" {
		t.Fatalf("final line = %+v", last)
	}

	waitReady(t, s.api.URL)

	resp, body = httpPostJSON(t, s.api.URL+"/generate", []byte(`{"prompt":"Say hi","preset":"fast"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("generate: %d %s", resp.StatusCode, body)
	}
	events := decodeLines[types.GenerationEvent](t, body)
	var kinds []string
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
	}
	if got := strings.Join(kinds, ","); got != "started,token,token,completed" {
		t.Fatalf("event types = %s", got)
	}
	done := events[len(events)-1]
	if done.FullText != "Hello World" || done.Metrics == nil || done.Metrics.TotalTokens != 2 {
		t.Fatalf("completed = %+v", done)
	}
	if !strings.Contains(done.Summary, "Delegate: llama-server") {
		t.Fatalf("summary = %q", done.Summary)
	}

	st := status(t, s.api.URL)
	if st.State != string(manager.StateReady) || !st.Engine.Loaded || st.Generation.RunsTotal != 1 || st.Generation.LastMetrics == nil {
		t.Fatalf("status after generate = %+v", st)
	}

	names := s.pub.Names()
	for _, want := range []string{manager.EventDownloadStart, manager.EventDownloadDone, manager.EventEngineLoaded, manager.EventGenerationStart, manager.EventGenerationFinished} {
		found := false
		for _, n := range names {
			found = found || n == want
		}
		if !found {
			t.Fatalf("missing event %s in %v", want, names)
		}
	}
}

func TestE2E_DownloadWithWrongTokenNeedsToken(t *testing.T) {
	s := newStack(t, []byte("weights"), &llamaServer{tokens: []string{"x"}}, nil)

	resp, body := httpPostJSON(t, s.api.URL+"/artifact/download", []byte(`{"token":"hf_wrongtoken00000"}`))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("download with wrong token: %d %s", resp.StatusCode, body)
	}
	var er types.ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if er.Kind != "authentication" {
		t.Fatalf("error kind = %q", er.Kind)
	}
	if st := status(t, s.api.URL); st.State != string(manager.StateNeedToken) {
		t.Fatalf("state = %s", st.State)
	}
}

// TestE2E_Backpressure429 verifies a second generation is rejected with 429
// while one is running, and that cancelling the first ends its stream.
func TestE2E_Backpressure429(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	llama := &llamaServer{tokens: []string{"one", " two"}, hold: hold}
	s := newStack(t, []byte("weights"), llama, func(c *manager.ManagerConfig) {
		c.MaxWait = 5 * time.Millisecond
		c.Token = testToken
	})
	waitReady(t, s.api.URL)

	firstDone := make(chan []byte, 1)
	go func() {
		resp, err := http.Post(s.api.URL+"/generate", "application/json", strings.NewReader(`{"prompt":"long"}`))
		if err != nil {
			firstDone <- nil
			return
		}
		b, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		firstDone <- b
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !s.mgr.Inflight() {
		if time.Now().After(deadline) {
			t.Fatalf("first generation never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, body := httpPostJSON(t, s.api.URL+"/generate", []byte(`{"prompt":"second"}`))
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second generate: %d %s", resp.StatusCode, body)
	}

	resp, body = httpPostJSON(t, s.api.URL+"/generate/cancel", nil)
	var cr types.CancelResponse
	_ = json.Unmarshal(body, &cr)
	if resp.StatusCode != http.StatusOK || !cr.Cancelled {
		t.Fatalf("cancel: %d %s", resp.StatusCode, body)
	}

	select {
	case b := <-firstDone:
		events := decodeLines[types.GenerationEvent](t, b)
		if len(events) == 0 {
			t.Fatalf("first stream empty")
		}
		last := events[len(events)-1]
		if last.Type != "failed" || !last.Cancelled {
			t.Fatalf("first stream ended with %+v", last)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("first stream did not end after cancel")
	}
}
