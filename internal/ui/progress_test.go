package ui

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"modelbench/internal/artifact"
)

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KiB", FormatBytes(1024))
	assert.Equal(t, "1.5 MiB", FormatBytes(3*512*1024))
	assert.Equal(t, "4.3 GiB", FormatBytes(4_600_000_000))
}

func TestProgressBar_Sink(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar(&buf, 1000, "model.bin")
	sink := bar.Sink()
	sink(artifact.Progress{BytesTransferred: 400, TotalBytes: 1000, Fraction: 0.4})
	sink(artifact.Progress{BytesTransferred: 1000, TotalBytes: 1000, Fraction: 1})
	bar.Finish()

	assert.Equal(t, int64(400), bar.resumed)
	assert.NotEmpty(t, buf.String())
}
