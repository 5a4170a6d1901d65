package httpapi

import (
	"sync"

	"modelbench/internal/generation"
)

// maxBodyBytes controls the maximum allowed request body size for JSON endpoints.
// Default remains 1 MiB.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes allows configuring the maximum request body size.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// generateTimeout controls the maximum duration a /generate request may run before
// it is cancelled. Zero means no additional timeout beyond server/connection timeouts.
var generateTimeout = int64(0) // seconds

// SetGenerateTimeoutSeconds sets the generate timeout in seconds (0 disables).
func SetGenerateTimeoutSeconds(sec int64) {
	if sec < 0 {
		sec = 0
	}
	generateTimeout = sec
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

// Sampling defaults applied to /generate requests.
var (
	samplingMu      sync.RWMutex
	defaultSampling = generation.DefaultSampling()
	presets         = generation.DefaultPresets()
)

// SetSampling installs the base sampling config and the named presets.
func SetSampling(base generation.SamplingConfig, named map[string]generation.Preset) {
	samplingMu.Lock()
	defer samplingMu.Unlock()
	defaultSampling = base
	if named == nil {
		named = generation.DefaultPresets()
	}
	presets = named
}

func samplingDefaults() (generation.SamplingConfig, map[string]generation.Preset) {
	samplingMu.RLock()
	defer samplingMu.RUnlock()
	return defaultSampling, presets
}
