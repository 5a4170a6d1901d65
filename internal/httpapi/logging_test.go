package httpapi

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"":      LevelOff,
		"off":   LevelOff,
		"error": LevelError,
		"info":  LevelInfo,
		"debug": LevelDebug,
		"weird": LevelInfo, // default
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRequestLogLevel_Overrides(t *testing.T) {
	// query param ?log=debug
	r := httptest.NewRequest("GET", "/x?log=debug", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("query override failed: %v", got)
	}
	// short query param ?log=1
	r = httptest.NewRequest("GET", "/x?log=1", nil)
	if got := requestLogLevel(r); got != LevelDebug {
		t.Fatalf("short query override failed: %v", got)
	}
	// header X-Log-Level
	r = httptest.NewRequest("GET", "/x", nil)
	r.Header.Set("X-Log-Level", "error")
	if got := requestLogLevel(r); got != LevelError {
		t.Fatalf("header override failed: %v", got)
	}
}

func TestLoggingLineWriter_SplitsLines(t *testing.T) {
	var buf bytes.Buffer
	orig := zlog
	t.Cleanup(func() { zlog = orig })
	SetLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	lw := &loggingLineWriter{prefix: "generate"}
	_, _ = lw.Write([]byte("a line\npartial"))
	_, _ = lw.Write([]byte("-cont\nlast\n"))

	out := buf.String()
	for _, want := range []string{`"message":"a line"`, `"message":"partial-cont"`, `"message":"last"`, `"stream":"generate"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}
}

func TestGenerate_DebugLevelLogsStream(t *testing.T) {
	var buf bytes.Buffer
	orig := zlog
	t.Cleanup(func() { zlog = orig })
	SetLogger(zerolog.New(&buf).Level(zerolog.DebugLevel))

	svc := &mockService{events: successEvents()}
	w := doJSON(t, NewMux(svc), "POST", "/generate?log=debug", `{"prompt":"hi"}`)
	if w.Code != 200 {
		t.Fatalf("status=%d", w.Code)
	}
	out := buf.String()
	if !strings.Contains(out, "generate start") || !strings.Contains(out, "generate end") || !strings.Contains(out, `\"type\":\"token\"`) {
		t.Fatalf("unexpected log output: %q", out)
	}
}
