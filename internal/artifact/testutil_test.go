package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testToken = "hf_abcdefghijklmnop"

// payload returns deterministic bytes of length n.
func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte((i*31 + 7) % 251)
	}
	return b
}

func sha(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// fakeOrigin is an httptest handler serving one artifact with optional faults.
type fakeOrigin struct {
	t       *testing.T
	content []byte

	mu        sync.Mutex
	requests  int
	ranges    []string
	auths     []string
	status    int  // forced status, 0 = normal behaviour
	ignoreRng bool // answer 200 with the full body even for range requests
	abortAt   int  // abort the connection after this many body bytes (0 = never)
	failOnce  bool // only abort on the first request
	hold      func()
}

func (o *fakeOrigin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.requests++
	n := o.requests
	o.ranges = append(o.ranges, r.Header.Get("Range"))
	o.auths = append(o.auths, r.Header.Get("Authorization"))
	status, ignore, abortAt := o.status, o.ignoreRng, o.abortAt
	if o.failOnce && n > 1 {
		abortAt = 0
	}
	hold := o.hold
	o.mu.Unlock()

	if hold != nil && n == 1 {
		hold()
	}

	if status != 0 {
		http.Error(w, http.StatusText(status), status)
		return
	}
	start := 0
	if rh := r.Header.Get("Range"); rh != "" && !ignore {
		v := strings.TrimSuffix(strings.TrimPrefix(rh, "bytes="), "-")
		s, err := strconv.Atoi(v)
		if err != nil || s >= len(o.content) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		start = s
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", s, len(o.content)-1, len(o.content)))
		w.Header().Set("Content-Length", strconv.Itoa(len(o.content)-s))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.Header().Set("Content-Length", strconv.Itoa(len(o.content)))
		w.WriteHeader(http.StatusOK)
	}
	body := o.content[start:]
	if abortAt > 0 && abortAt < len(body) {
		_, _ = w.Write(body[:abortAt])
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler)
	}
	_, _ = w.Write(body)
}

func (o *fakeOrigin) snapshot() (int, []string, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests, append([]string(nil), o.ranges...), append([]string(nil), o.auths...)
}

type fixture struct {
	origin *fakeOrigin
	server *httptest.Server
	store  *Store
	dl     *Downloader
}

func newFixture(t *testing.T, content []byte, mutate func(*Descriptor, *Options)) *fixture {
	t.Helper()
	o := &fakeOrigin{t: t, content: content}
	srv := httptest.NewServer(o)
	t.Cleanup(srv.Close)
	desc := Descriptor{Name: "model.bin", URL: srv.URL + "/resolve/main/{name}", ExpectedSize: int64(len(content))}
	opts := Options{BufferSize: 1024, Client: srv.Client()}
	if mutate != nil {
		mutate(&desc, &opts)
	}
	store := NewStore(t.TempDir(), desc)
	return &fixture{origin: o, server: srv, store: store, dl: NewDownloader(store, opts)}
}

func (f *fixture) writePartial(t *testing.T, b []byte) {
	t.Helper()
	require.NoError(t, f.store.EnsureDir())
	require.NoError(t, os.WriteFile(f.store.Path(), b, 0o644))
}

func (f *fixture) size(t *testing.T) int64 {
	t.Helper()
	fi, err := os.Stat(f.store.Path())
	if os.IsNotExist(err) {
		return -1
	}
	require.NoError(t, err)
	return fi.Size()
}

// frozenClock never advances, so the progress limiter only grants its initial burst.
type frozenClock struct{ t time.Time }

func (c frozenClock) Now() time.Time { return c.t }

func writeFile(t *testing.T, dir, name string, b []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, b, 0o644))
	return p
}
