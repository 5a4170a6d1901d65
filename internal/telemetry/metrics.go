// Package telemetry holds the process-wide Prometheus collectors for downloads
// and generations, and the optional OpenTelemetry tracer.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"modelbench/internal/generation"
)

var (
	downloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelbench",
			Subsystem: "artifact",
			Name:      "downloads_total",
			Help:      "Artifact download attempts by outcome (ok or error kind)",
		},
		[]string{"outcome"},
	)

	downloadBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelbench",
			Subsystem: "artifact",
			Name:      "download_bytes_total",
			Help:      "Bytes written to disk by artifact downloads",
		},
	)

	downloadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "modelbench",
			Subsystem: "artifact",
			Name:      "download_duration_seconds",
			Help:      "Wall time of artifact download calls",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		},
	)

	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "modelbench",
			Subsystem: "generation",
			Name:      "runs_total",
			Help:      "Generation runs by outcome (completed, failed, cancelled)",
		},
		[]string{"outcome"},
	)

	generationTokensTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "modelbench",
			Subsystem: "generation",
			Name:      "tokens_total",
			Help:      "Tokens produced by completed generations",
		},
	)

	firstTokenSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "modelbench",
			Subsystem: "generation",
			Name:      "first_token_seconds",
			Help:      "Time to first token (prefill) of completed generations",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	decodeTokensPerSecond = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "modelbench",
			Subsystem: "generation",
			Name:      "decode_tokens_per_second",
			Help:      "Decode throughput of completed generations",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 200},
		},
	)

	generationActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "modelbench",
			Subsystem: "generation",
			Name:      "active",
			Help:      "1 while a generation is running",
		},
	)
)

func init() {
	prometheus.MustRegister(downloadsTotal, downloadBytesTotal, downloadDuration,
		generationsTotal, generationTokensTotal, firstTokenSeconds, decodeTokensPerSecond, generationActive)
}

// ObserveDownload records one Download call. outcome is "ok" or an error kind.
func ObserveDownload(outcome string, bytes int64, d time.Duration) {
	downloadsTotal.WithLabelValues(outcome).Inc()
	if bytes > 0 {
		downloadBytesTotal.Add(float64(bytes))
	}
	downloadDuration.Observe(d.Seconds())
}

// GenerationStarted marks a run as active.
func GenerationStarted() { generationActive.Set(1) }

// ObserveGeneration records the terminal event of a run.
func ObserveGeneration(terminal generation.Event) {
	generationActive.Set(0)
	switch e := terminal.(type) {
	case generation.Completed:
		generationsTotal.WithLabelValues("completed").Inc()
		m := e.Metrics
		generationTokensTotal.Add(float64(m.TotalTokens))
		if m.TotalTokens > 0 {
			firstTokenSeconds.Observe(float64(m.FirstTokenLatencyMs) / 1000)
		}
		if m.DecodeTokensPerSecond > 0 {
			decodeTokensPerSecond.Observe(m.DecodeTokensPerSecond)
		}
	case generation.Failed:
		if e.Cancelled {
			generationsTotal.WithLabelValues("cancelled").Inc()
		} else {
			generationsTotal.WithLabelValues("failed").Inc()
		}
	}
}
