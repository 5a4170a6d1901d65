// Package ui renders download progress on a terminal.
package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"modelbench/internal/artifact"
)

// ProgressBar wraps the progressbar library with our styling.
type ProgressBar struct {
	bar       *progressbar.ProgressBar
	w         io.Writer
	startTime time.Time
	resumed   int64
}

// NewProgressBar creates a byte-counting bar on w. totalBytes may be -1 when
// the size is unknown, which renders a spinner.
func NewProgressBar(w io.Writer, totalBytes int64, description string) *ProgressBar {
	bar := progressbar.NewOptions64(
		totalBytes,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]█[reset]",
			SaucerHead:    "[green]█[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &ProgressBar{bar: bar, w: w, startTime: time.Now(), resumed: -1}
}

// Update moves the bar to currentBytes.
func (p *ProgressBar) Update(currentBytes int64) {
	_ = p.bar.Set64(currentBytes)
}

// Sink adapts the bar to artifact.ProgressFunc. The first report fixes the
// resumed prefix so the rate reflects only bytes fetched in this run.
func (p *ProgressBar) Sink() artifact.ProgressFunc {
	return func(pr artifact.Progress) {
		if p.resumed < 0 {
			p.resumed = pr.BytesTransferred
			if pr.TotalBytes > 0 {
				p.bar.ChangeMax64(pr.TotalBytes)
			}
		}
		elapsed := time.Since(p.startTime).Seconds()
		if elapsed > 0 {
			rate := float64(pr.BytesTransferred-p.resumed) / elapsed
			p.bar.Describe(fmt.Sprintf("Downloading [%s/s]", FormatBytes(int64(rate))))
		}
		p.Update(pr.BytesTransferred)
	}
}

// Finish completes the bar.
func (p *ProgressBar) Finish() {
	_ = p.bar.Finish()
}

// FormatBytes formats bytes into a human readable size.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
