package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Defaults applied when the corresponding Options fields are unset.
const (
	DefaultBufferSize       = 8 * 1024
	DefaultProgressInterval = time.Second
	DefaultConnectTimeout   = 5 * time.Minute
	DefaultReadTimeout      = 5 * time.Minute
)

// CorruptFilePolicy decides what happens to a file that failed final verification.
type CorruptFilePolicy int

const (
	// KeepCorrupt leaves the file in place for diagnostics.
	KeepCorrupt CorruptFilePolicy = iota
	// DeleteCorrupt removes the file so the next call starts from zero.
	DeleteCorrupt
)

// ParseCorruptFilePolicy accepts "keep" or "delete".
func ParseCorruptFilePolicy(s string) (CorruptFilePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep":
		return KeepCorrupt, nil
	case "delete":
		return DeleteCorrupt, nil
	default:
		return KeepCorrupt, fmt.Errorf("unknown corrupt file policy %q (want keep|delete)", s)
	}
}

// Options tunes a Downloader. Zero values select the package defaults.
type Options struct {
	BufferSize        int
	ProgressInterval  time.Duration
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	CorruptFilePolicy CorruptFilePolicy
	// Traced wraps the default transport with OpenTelemetry instrumentation.
	Traced bool
	// Client overrides the HTTP client built from the timeouts.
	Client *http.Client
	Logger *zerolog.Logger
	// Now is the clock used for progress throttling.
	Now func() time.Time
}

// Downloader performs authenticated, resumable transfers into a Store.
// A Downloader runs at most one transfer at a time.
type Downloader struct {
	store  *Store
	opts   Options
	client *http.Client
	log    zerolog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewDownloader returns a Downloader writing into store.
func NewDownloader(store *Store, opts Options) *Downloader {
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	d := &Downloader{store: store, opts: opts, client: opts.Client, now: opts.Now}
	if d.client == nil {
		d.client = NewHTTPClient(opts.ConnectTimeout, opts.ReadTimeout, opts.Traced)
	}
	if d.now == nil {
		d.now = time.Now
	}
	if opts.Logger != nil {
		d.log = *opts.Logger
	} else {
		d.log = zerolog.Nop()
	}
	return d
}

// Store returns the destination store.
func (d *Downloader) Store() *Store { return d.store }

// Download fetches the artifact if it is not already complete and returns its
// absolute path. Failures are returned as *DownloadError; transient, auth and
// not-found failures leave the partial file for a later resume, unexpected ones
// delete it.
func (d *Downloader) Download(ctx context.Context, token string, onProgress ProgressFunc) (path string, err error) {
	if !d.mu.TryLock() {
		return "", ErrDownloadInProgress
	}
	defer d.mu.Unlock()

	path = d.store.Path()
	st, serr := d.store.State()
	if serr != nil {
		return "", newError(KindTransient, 0, serr)
	}
	if st.Kind == Complete {
		d.log.Debug().Str("path", path).Int64("bytes", st.BytesOnDisk).Msg("artifact already complete")
		return path, nil
	}
	if strings.TrimSpace(token) == "" {
		return "", newError(KindAuthentication, 0, ErrInvalidToken)
	}

	defer func() {
		if r := recover(); r != nil {
			err = newError(KindUnexpected, 0, fmt.Errorf("panic during download: %v", r))
			d.discard(d.store.Path())
			path = ""
		}
	}()

	derr := d.transfer(ctx, token, st.BytesOnDisk, onProgress)
	if derr == nil {
		return path, nil
	}
	switch derr.Kind {
	case KindUnexpected:
		d.discard(path)
	case KindVerification:
		if d.opts.CorruptFilePolicy == DeleteCorrupt {
			d.discard(path)
		}
	}
	d.log.Error().Err(derr).Str("kind", derr.Kind.String()).Str("path", path).Msg("artifact download failed")
	return "", derr
}

func (d *Downloader) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.log.Warn().Err(err).Str("path", path).Msg("could not delete partial artifact")
		return
	}
	d.log.Warn().Str("path", path).Msg("partial artifact deleted")
}

func (d *Downloader) transfer(ctx context.Context, token string, offset int64, onProgress ProgressFunc) *DownloadError {
	desc := d.store.Descriptor()
	path := d.store.Path()
	if offset > desc.ExpectedSize {
		d.log.Warn().Int64("bytes", offset).Int64("expected", desc.ExpectedSize).Msg("partial artifact larger than expected, restarting")
		offset = 0
	}
	if err := d.store.EnsureDir(); err != nil {
		return newError(KindTransient, 0, err)
	}

	ctx, watchdog, stop := newIdleWatchdog(ctx, d.opts.ReadTimeout)
	defer stop()

	url := desc.ResolvedURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return newError(KindUnexpected, 0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	d.log.Info().Str("url", url).Int64("offset", offset).Int64("expected", desc.ExpectedSize).Msg("artifact download start")

	resp, err := d.client.Do(req)
	if err != nil {
		return transportError(err, watchdog)
	}
	defer resp.Body.Close()

	total := int64(-1)
	switch resp.StatusCode {
	case http.StatusOK:
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}
		if offset > 0 && total >= 0 && total < offset {
			d.log.Warn().Int64("offset", offset).Int64("total", total).Msg("server ignored range request and body is shorter than partial, restarting from zero")
			offset = 0
		}
		if offset > 0 {
			// The partial is kept; the already-stored prefix is read and dropped.
			d.log.Warn().Int64("offset", offset).Msg("server ignored range request, skipping stored prefix")
			if _, err := io.CopyN(io.Discard, watchedReader{r: resp.Body, w: watchdog}, offset); err != nil {
				serr := newError(KindTransient, 0, fmt.Errorf("skip stored prefix: %w", err))
				if watchdog.timedOut() {
					serr.Err = fmt.Errorf("read timeout after %s: %w", d.opts.ReadTimeout, serr.Err)
				}
				return serr
			}
		}
	case http.StatusPartialContent:
		start, size, perr := parseContentRange(resp.Header.Get("Content-Range"))
		if perr != nil {
			return newError(KindUnexpected, resp.StatusCode, perr)
		}
		if start != offset {
			return newError(KindUnexpected, resp.StatusCode, fmt.Errorf("content-range starts at %d, requested %d", start, offset))
		}
		total = size
		if total < 0 && resp.ContentLength >= 0 {
			total = offset + resp.ContentLength
		}
	default:
		return statusError(resp.StatusCode)
	}

	flags := os.O_WRONLY | os.O_CREATE
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return newError(KindTransient, 0, fmt.Errorf("open artifact: %w", err))
	}
	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
		}
	}()
	written, cerr := d.copyBody(f, watchedReader{r: resp.Body, w: watchdog}, offset, total, onProgress)
	closed = true
	if err := f.Close(); err != nil && cerr == nil {
		cerr = newError(KindTransient, 0, fmt.Errorf("close artifact: %w", err))
	}
	if cerr != nil {
		if cerr.Kind == KindTransient && watchdog.timedOut() {
			cerr.Err = fmt.Errorf("read timeout after %s: %w", d.opts.ReadTimeout, cerr.Err)
		}
		return cerr
	}
	if verr := d.verify(path, total); verr != nil {
		return verr
	}
	d.log.Info().Str("path", path).Int64("bytes", written).Msg("artifact download complete")
	return nil
}

func (d *Downloader) copyBody(f *os.File, body io.Reader, offset, total int64, onProgress ProgressFunc) (int64, *DownloadError) {
	rep := newProgressReporter(onProgress, d.opts.ProgressInterval, d.now)
	buf := make([]byte, d.opts.BufferSize)
	written := offset
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, newError(KindTransient, 0, fmt.Errorf("write artifact: %w", werr))
			}
			written += int64(n)
			rep.tick(written, total, total > 0 && written >= total)
			if d.log.GetLevel() <= zerolog.DebugLevel && rep.reported == written {
				d.log.Debug().Int64("bytes", written).Int64("total", total).Float64("fraction", rep.last).Msg("artifact download progress")
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return written, newError(KindTransient, 0, fmt.Errorf("read body: %w", rerr))
		}
	}
	rep.finish(written, total)
	return written, nil
}

func (d *Downloader) verify(path string, total int64) *DownloadError {
	fi, err := os.Stat(path)
	if err != nil {
		return newError(KindTransient, 0, fmt.Errorf("stat artifact: %w", err))
	}
	if fi.Size() == 0 {
		return newError(KindVerification, 0, fmt.Errorf("%w: file is empty", ErrSizeMismatch))
	}
	if total >= 0 && fi.Size() != total {
		return newError(KindVerification, 0, fmt.Errorf("%w: have %d bytes, server announced %d", ErrSizeMismatch, fi.Size(), total))
	}
	if ok, err := d.store.VerifyIntegrity(); !ok {
		if errors.Is(err, ErrSizeMismatch) || errors.Is(err, ErrChecksumMismatch) {
			return newError(KindVerification, 0, err)
		}
		return newError(KindTransient, 0, err)
	}
	return nil
}

func transportError(err error, w *idleWatchdog) *DownloadError {
	if w.timedOut() {
		return newError(KindTransient, 0, fmt.Errorf("connection timeout: %w", err))
	}
	return newError(KindTransient, 0, err)
}

func statusError(code int) *DownloadError {
	err := fmt.Errorf("unexpected status %d %s", code, http.StatusText(code))
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return newError(KindAuthentication, code, errors.New("token rejected or license not accepted"))
	case code == http.StatusNotFound:
		return newError(KindNotFound, code, errors.New("artifact not found at url"))
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500:
		return newError(KindTransient, code, err)
	default:
		return newError(KindUnexpected, code, err)
	}
}

// parseContentRange parses "bytes <start>-<end>/<size>". size is -1 for "*".
func parseContentRange(h string) (start, size int64, err error) {
	bad := fmt.Errorf("malformed content-range %q", h)
	rest, ok := strings.CutPrefix(strings.TrimSpace(h), "bytes ")
	if !ok {
		return 0, 0, bad
	}
	rng, sz, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, bad
	}
	s, e, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, bad
	}
	start, err = strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, 0, bad
	}
	end, err := strconv.ParseInt(strings.TrimSpace(e), 10, 64)
	if err != nil || end < start {
		return 0, 0, bad
	}
	if sz == "*" {
		return start, -1, nil
	}
	size, err = strconv.ParseInt(strings.TrimSpace(sz), 10, 64)
	if err != nil || size <= end {
		return 0, 0, bad
	}
	return start, size, nil
}
