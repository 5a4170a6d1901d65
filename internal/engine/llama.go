//go:build llama

package engine

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	llama "github.com/go-skynet/go-llama.cpp"
	"github.com/rs/zerolog"

	"modelbench/internal/generation"
)

// LlamaBuilt indicates this binary was compiled with in-process llama support.
const LlamaBuilt = true

// llamaModel owns one loaded model. go-llama.cpp keeps a single token callback
// per model, so predictions are serialized by mu.
type llamaModel struct {
	model     *llama.LLama
	threads   int
	gpuLayers int
	log       zerolog.Logger

	mu sync.Mutex
}

// LoadLlama loads a model file into memory.
func LoadLlama(path string, opts LlamaOptions) (Model, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("model path is empty")
	}
	opts = opts.withDefaults()
	mo := []llama.ModelOption{llama.SetContext(opts.ContextSize)}
	if opts.GPULayers > 0 {
		mo = append(mo, llama.SetGPULayers(opts.GPULayers))
	}
	m, err := llama.New(path, mo...)
	if err != nil {
		return nil, err
	}
	lm := &llamaModel{model: m, threads: opts.Threads, gpuLayers: opts.GPULayers, log: zerolog.Nop()}
	if opts.Logger != nil {
		lm.log = *opts.Logger
	}
	lm.log.Info().Str("path", path).Int("ctx", opts.ContextSize).Int("threads", opts.Threads).Int("gpu_layers", opts.GPULayers).Msg("llama model loaded")
	return lm, nil
}

func (l *llamaModel) Delegate() string {
	if l.gpuLayers > 0 {
		return "GPU"
	}
	return "CPU"
}

func (l *llamaModel) CreateSession(cfg generation.SamplingConfig) (generation.EngineSession, error) {
	if l.model == nil {
		return nil, errors.New("llama model not initialized")
	}
	return &llamaSession{owner: l, cfg: cfg}, nil
}

func (l *llamaModel) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model != nil {
		l.model.Free()
		l.model = nil
	}
	return nil
}

type llamaSession struct {
	owner  *llamaModel
	cfg    generation.SamplingConfig
	prompt strings.Builder
	stop   atomic.Bool
}

func (s *llamaSession) AddQuery(text string) error {
	if s.stop.Load() {
		return ErrSessionClosed
	}
	s.prompt.WriteString(text)
	return nil
}

func (s *llamaSession) GenerateAsync(fn generation.FragmentFunc) error {
	if s.stop.Load() {
		return ErrSessionClosed
	}
	prompt := s.prompt.String()
	go func() {
		l := s.owner
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.model == nil {
			fn("", false, errors.New("llama model freed"))
			return
		}
		l.model.SetTokenCallback(func(tok string) bool {
			if s.stop.Load() {
				return false
			}
			fn(tok, false, nil)
			return true
		})
		_, err := l.model.Predict(prompt, predictOptions(s.cfg, l.threads)...)
		if s.stop.Load() {
			return
		}
		if err != nil {
			fn("", false, err)
			return
		}
		fn("", true, nil)
	}()
	return nil
}

// Close asks a running prediction to stop at the next token.
func (s *llamaSession) Close() error {
	s.stop.Store(true)
	return nil
}

func predictOptions(cfg generation.SamplingConfig, threads int) []llama.PredictOption {
	tokens := cfg.MaxTokens
	if tokens <= 0 {
		tokens = llama.DefaultOptions.Tokens
	}
	return []llama.PredictOption{
		llama.SetTokens(tokens),
		llama.SetThreads(max(1, threads)),
		llama.SetTopK(cfg.TopK),
		llama.SetTemperature(float32(cfg.Temperature)),
		llama.SetSeed(cfg.Seed),
	}
}
