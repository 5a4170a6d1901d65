package generation

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// BasicMetrics is the compact per-run summary.
type BasicMetrics struct {
	FirstTokenLatencyMs int64   `json:"first_token_latency_ms"`
	TotalTokens         int     `json:"total_tokens"`
	TokensPerSecond     float64 `json:"tokens_per_second"`
	Delegate            string  `json:"delegate"`
}

// String renders the one-line display form.
func (m BasicMetrics) String() string {
	return fmt.Sprintf("Delegate: %s | First token: %dms | Speed: %.2f tok/s", m.Delegate, m.FirstTokenLatencyMs, m.TokensPerSecond)
}

// DetailedMetrics separates the prefill and decode phases and adds per-token
// interval statistics.
type DetailedMetrics struct {
	BasicMetrics

	TotalTimeMs            int64      `json:"total_time_ms"`
	PrefillTimeMs          int64      `json:"prefill_time_ms"`
	DecodeTimeMs           int64      `json:"decode_time_ms"`
	PrefillTokensPerSecond float64    `json:"prefill_tokens_per_second"`
	DecodeTokensPerSecond  float64    `json:"decode_tokens_per_second"`
	MinInterTokenMs        int64      `json:"min_inter_token_ms"`
	MaxInterTokenMs        int64      `json:"max_inter_token_ms"`
	AvgInterTokenMs        float64    `json:"avg_inter_token_ms"`
	EstimatedMemoryMB      int64      `json:"estimated_memory_mb"`
	Device                 DeviceInfo `json:"device"`
}

// Basic returns the summary part.
func (m DetailedMetrics) Basic() BasicMetrics { return m.BasicMetrics }

// Report renders a multi-line block for terminals and logs.
func (m DetailedMetrics) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== Performance Metrics ===\n")
	fmt.Fprintf(&b, "Delegate: %s\n", m.Delegate)
	fmt.Fprintf(&b, "Device: %s\n", m.Device)
	fmt.Fprintf(&b, "\nTiming:\n")
	fmt.Fprintf(&b, "  First token: %dms\n", m.FirstTokenLatencyMs)
	fmt.Fprintf(&b, "  Prefill: %dms (%.2f tok/s)\n", m.PrefillTimeMs, m.PrefillTokensPerSecond)
	fmt.Fprintf(&b, "  Decode: %dms (%.2f tok/s)\n", m.DecodeTimeMs, m.DecodeTokensPerSecond)
	fmt.Fprintf(&b, "  Per-token: min=%dms, avg=%.1fms, max=%dms\n", m.MinInterTokenMs, m.AvgInterTokenMs, m.MaxInterTokenMs)
	fmt.Fprintf(&b, "\nTokens:\n")
	fmt.Fprintf(&b, "  Total: %d tokens\n", m.TotalTokens)
	fmt.Fprintf(&b, "  Overall speed: %.2f tok/s\n", m.TokensPerSecond)
	fmt.Fprintf(&b, "\nMemory:\n")
	fmt.Fprintf(&b, "  Runtime heap: %d MB (estimated)", m.EstimatedMemoryMB)
	return b.String()
}

// EstimatedDelegate guesses the acceleration path from throughput alone.
func (m DetailedMetrics) EstimatedDelegate() string {
	switch tps := m.TokensPerSecond; {
	case tps > 100:
		return "GPU (estimated)"
	case tps > 50:
		return "NNAPI (estimated)"
	case tps > 20:
		return "XNNPACK (estimated)"
	default:
		return "CPU (estimated)"
	}
}

// Host carries the values CalculateMetrics cannot derive from the trace.
type Host struct {
	Delegate string
	MemoryMB int64
	Device   DeviceInfo
}

// CalculateMetrics derives all metrics from a timestamp trace. It is pure: the
// same trace always yields the same result. All durations are truncated to
// whole milliseconds before any rate is computed.
func CalculateMetrics(trace ClockSnapshot, totalTokens int, host Host) DetailedMetrics {
	end := trace.End
	if end.IsZero() && len(trace.Emissions) > 0 {
		end = trace.Emissions[len(trace.Emissions)-1]
	}
	m := DetailedMetrics{
		BasicMetrics:      BasicMetrics{TotalTokens: totalTokens, Delegate: host.Delegate},
		EstimatedMemoryMB: host.MemoryMB,
		Device:            host.Device,
	}
	m.TotalTimeMs = millisBetween(trace.Start, end)
	if totalTokens > 0 && m.TotalTimeMs > 0 {
		m.TokensPerSecond = float64(totalTokens) * 1000 / float64(m.TotalTimeMs)
	}
	if trace.FirstToken != nil {
		m.FirstTokenLatencyMs = millisBetween(trace.Start, *trace.FirstToken)
		m.PrefillTimeMs = m.FirstTokenLatencyMs
		if m.PrefillTimeMs > 0 {
			m.PrefillTokensPerSecond = 1000 / float64(m.PrefillTimeMs)
		}
		if totalTokens > 1 {
			m.DecodeTimeMs = millisBetween(*trace.FirstToken, end)
			if m.DecodeTimeMs > 0 {
				m.DecodeTokensPerSecond = float64(totalTokens-1) * 1000 / float64(m.DecodeTimeMs)
			}
		}
	}
	if len(trace.Emissions) > 1 {
		var sum int64
		for i := 1; i < len(trace.Emissions); i++ {
			d := millisBetween(trace.Emissions[i-1], trace.Emissions[i])
			if i == 1 || d < m.MinInterTokenMs {
				m.MinInterTokenMs = d
			}
			if d > m.MaxInterTokenMs {
				m.MaxInterTokenMs = d
			}
			sum += d
		}
		m.AvgInterTokenMs = float64(sum) / float64(len(trace.Emissions)-1)
	}
	return m
}

// millisBetween returns b-a in whole milliseconds, never negative.
func millisBetween(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return 0
	}
	d := b.Sub(a).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}

// HeapMB reports the Go heap currently in use, in MiB.
func HeapMB() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc / (1 << 20))
}
