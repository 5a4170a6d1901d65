package artifact

import (
	"time"

	"golang.org/x/time/rate"
)

// Progress is a point-in-time view of a running transfer.
type Progress struct {
	// BytesTransferred counts bytes on disk, including any resumed prefix.
	BytesTransferred int64
	// TotalBytes is the full artifact length, or -1 when the server did not say.
	TotalBytes int64
	// Fraction is BytesTransferred/TotalBytes clamped to [0,1]; 0 while the total is unknown.
	Fraction float64
}

// ProgressFunc receives progress updates from the downloading goroutine.
// It is called at most once per progress interval plus once when the transfer ends.
type ProgressFunc func(Progress)

func newProgress(done, total int64, finished bool) Progress {
	p := Progress{BytesTransferred: done, TotalBytes: total}
	switch {
	case total > 0:
		p.Fraction = float64(done) / float64(total)
		if p.Fraction > 1 {
			p.Fraction = 1
		}
	case finished:
		p.Fraction = 1
	}
	return p
}

// progressReporter throttles updates with a token bucket driven by an injected clock,
// so tests can step time deterministically.
type progressReporter struct {
	fn       ProgressFunc
	limiter  *rate.Limiter
	now      func() time.Time
	last     float64
	reported int64
}

func newProgressReporter(fn ProgressFunc, interval time.Duration, now func() time.Time) *progressReporter {
	return &progressReporter{
		fn:       fn,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		now:      now,
		reported: -1,
	}
}

// tick reports when the interval has elapsed, or unconditionally when final is set.
func (r *progressReporter) tick(done, total int64, final bool) {
	if r.fn == nil {
		return
	}
	if !final && !r.limiter.AllowN(r.now(), 1) {
		return
	}
	r.emit(newProgress(done, total, false))
}

// finish reports the terminal update unless the same byte count was just reported.
func (r *progressReporter) finish(done, total int64) {
	if r.fn == nil {
		return
	}
	p := newProgress(done, total, true)
	if r.reported == done && p.Fraction == r.last {
		return
	}
	r.emit(p)
}

func (r *progressReporter) emit(p Progress) {
	// Fractions never move backwards within one call.
	if p.Fraction < r.last {
		p.Fraction = r.last
	}
	r.last = p.Fraction
	r.reported = p.BytesTransferred
	r.fn(p)
}
