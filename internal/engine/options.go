package engine

import (
	"runtime"

	"github.com/rs/zerolog"
)

// LlamaOptions configures the in-process backend.
type LlamaOptions struct {
	ContextSize int
	Threads     int
	// GPULayers offloads that many layers; 0 keeps everything on the CPU.
	GPULayers int
	Logger    *zerolog.Logger
}

func (o LlamaOptions) withDefaults() LlamaOptions {
	if o.ContextSize <= 0 {
		o.ContextSize = 4096
	}
	if o.Threads <= 0 {
		o.Threads = runtime.NumCPU()
	}
	return o
}
