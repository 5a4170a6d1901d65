package artifact

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures DownloadWithRetry.
type RetryPolicy struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // delay cap for the first retry
	MaxDelay   time.Duration // upper bound for any delay
}

// DefaultRetryPolicy returns a conservative policy for flaky connections.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// DownloadWithRetry calls d.Download and retries transient failures with exponential
// backoff and full jitter. Every retry resumes from the bytes already on disk.
// Non-transient failures are returned immediately.
func DownloadWithRetry(ctx context.Context, d *Downloader, token string, onProgress ProgressFunc, p RetryPolicy) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		path, err := d.Download(ctx, token, onProgress)
		if err == nil {
			return path, nil
		}
		lastErr = err
		if !IsTransient(err) || ctx.Err() != nil || attempt == p.MaxRetries {
			break
		}
		delay := backoff(attempt, p.BaseDelay, p.MaxDelay)
		d.log.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", delay).Msg("transient download failure, retrying")
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("retry cancelled: %w", lastErr)
		case <-time.After(delay):
		}
	}
	return "", lastErr
}

// backoff returns rand(0, min(maxDelay, base*2^attempt)), at least 1ms.
func backoff(attempt int, base, maxDelay time.Duration) time.Duration {
	exp := float64(base) * math.Pow(2, float64(attempt))
	if maxDelay > 0 && exp > float64(maxDelay) {
		exp = float64(maxDelay)
	}
	d := time.Duration(rand.Float64() * exp)
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
