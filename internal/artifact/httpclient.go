package artifact

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient builds the client used for artifact transfers. There is no overall
// deadline: a multi-gigabyte body may legitimately stream for a long time. Instead
// dialing and TLS are bounded by connectTimeout and the response headers by
// readTimeout; body reads are bounded per read by the downloader.
func NewHTTPClient(connectTimeout, readTimeout time.Duration, traced bool) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	var rt http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
	}
	if traced {
		rt = otelhttp.NewTransport(rt)
	}
	return &http.Client{Transport: rt}
}

// idleWatchdog cancels a transfer when no read completes within the timeout.
type idleWatchdog struct {
	timer *time.Timer
	d     time.Duration
	fired atomic.Bool
}

func newIdleWatchdog(ctx context.Context, d time.Duration) (context.Context, *idleWatchdog, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	w := &idleWatchdog{d: d}
	if d > 0 {
		w.timer = time.AfterFunc(d, func() {
			w.fired.Store(true)
			cancel()
		})
	}
	return ctx, w, func() {
		w.stop()
		cancel()
	}
}

func (w *idleWatchdog) kick() {
	if w.timer != nil {
		w.timer.Reset(w.d)
	}
}

func (w *idleWatchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *idleWatchdog) timedOut() bool { return w.fired.Load() }

// watchedReader resets the watchdog after every successful read.
type watchedReader struct {
	r io.Reader
	w *idleWatchdog
}

func (wr watchedReader) Read(p []byte) (int, error) {
	n, err := wr.r.Read(p)
	if n > 0 {
		wr.w.kick()
	}
	return n, err
}
