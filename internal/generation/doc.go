// Package generation drives an inference engine through one prompt at a time
// and measures it.
//
// A Session converts the engine's push callbacks into a channel of Events and
// owns the engine session for the duration of a run. CalculateMetrics turns the
// recorded timestamp trace into latency and throughput numbers, split at the
// first token into a prefill and a decode phase.
package generation
