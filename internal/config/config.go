package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modelbench/internal/artifact"
	"modelbench/internal/common/fsutil"
	"modelbench/internal/generation"
)

// AppName names the per-user data directory.
const AppName = "modelbench"

// Engine backends.
const (
	BackendLlama  = "llama"
	BackendServer = "server"
)

// TokenEnv is the environment variable consulted for the access token.
const TokenEnv = "HF_TOKEN"

// ErrNoToken is returned by ResolveToken when no source provides a token.
var ErrNoToken = errors.New("no access token: pass --token, set " + TokenEnv + " or configure token_file")

// Duration is a time.Duration that decodes from strings like "5m" in every
// supported format.
type Duration struct{ time.Duration }

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config holds every runtime parameter. Load starts from Default, so fields
// missing from a file keep their default values.
type Config struct {
	Addr      string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir   string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	TokenFile string `json:"token_file" yaml:"token_file" toml:"token_file"`
	// Trace exports OpenTelemetry spans for outbound HTTP to stderr.
	Trace bool `json:"trace" yaml:"trace" toml:"trace"`

	Artifact   ArtifactConfig                       `json:"artifact" yaml:"artifact" toml:"artifact"`
	Download   DownloadConfig                       `json:"download" yaml:"download" toml:"download"`
	Engine     EngineConfig                         `json:"engine" yaml:"engine" toml:"engine"`
	Generation GenerationConfig                     `json:"generation" yaml:"generation" toml:"generation"`
	Sampling   generation.SamplingConfig            `json:"sampling" yaml:"sampling" toml:"sampling"`
	Presets    map[string]generation.SamplingConfig `json:"presets,omitempty" yaml:"presets,omitempty" toml:"presets,omitempty"`
	CORS       CORSConfig                           `json:"cors" yaml:"cors" toml:"cors"`
}

// ArtifactConfig describes the model file to fetch.
type ArtifactConfig struct {
	Name         string `json:"name" yaml:"name" toml:"name"`
	URL          string `json:"url" yaml:"url" toml:"url"`
	ExpectedSize int64  `json:"expected_size" yaml:"expected_size" toml:"expected_size"`
	Checksum     string `json:"checksum,omitempty" yaml:"checksum,omitempty" toml:"checksum,omitempty"`
}

// DownloadConfig tunes the downloader.
type DownloadConfig struct {
	BufferSize        int      `json:"buffer_size" yaml:"buffer_size" toml:"buffer_size"`
	ProgressInterval  Duration `json:"progress_interval" yaml:"progress_interval" toml:"progress_interval"`
	ConnectTimeout    Duration `json:"connect_timeout" yaml:"connect_timeout" toml:"connect_timeout"`
	ReadTimeout       Duration `json:"read_timeout" yaml:"read_timeout" toml:"read_timeout"`
	CorruptFilePolicy string   `json:"corrupt_file_policy" yaml:"corrupt_file_policy" toml:"corrupt_file_policy"`
	Retries           int      `json:"retries" yaml:"retries" toml:"retries"`
	RetryBaseDelay    Duration `json:"retry_base_delay" yaml:"retry_base_delay" toml:"retry_base_delay"`
	RetryMaxDelay     Duration `json:"retry_max_delay" yaml:"retry_max_delay" toml:"retry_max_delay"`
}

// EngineConfig selects and tunes the inference backend.
type EngineConfig struct {
	Backend        string   `json:"backend" yaml:"backend" toml:"backend"`
	ContextSize    int      `json:"context_size" yaml:"context_size" toml:"context_size"`
	Threads        int      `json:"threads" yaml:"threads" toml:"threads"`
	GPULayers      int      `json:"gpu_layers" yaml:"gpu_layers" toml:"gpu_layers"`
	ServerURL      string   `json:"server_url" yaml:"server_url" toml:"server_url"`
	ServerAPIKey   string   `json:"server_api_key,omitempty" yaml:"server_api_key,omitempty" toml:"server_api_key,omitempty"`
	ServerModel    string   `json:"server_model,omitempty" yaml:"server_model,omitempty" toml:"server_model,omitempty"`
	RequestTimeout Duration `json:"request_timeout" yaml:"request_timeout" toml:"request_timeout"`
}

// GenerationConfig tunes the generation session and its admission.
type GenerationConfig struct {
	EventBuffer int `json:"event_buffer" yaml:"event_buffer" toml:"event_buffer"`
	// MaxWait bounds how long a submission waits for the running one to finish.
	MaxWait Duration `json:"max_wait" yaml:"max_wait" toml:"max_wait"`
	// Preempt cancels the running generation instead of waiting for it.
	Preempt bool `json:"preempt" yaml:"preempt" toml:"preempt"`
}

// CORSConfig enables cross-origin access to the HTTP API.
type CORSConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" toml:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods" yaml:"allowed_methods" toml:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers" yaml:"allowed_headers" toml:"allowed_headers"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:     ":8080",
		LogLevel: "info",
		Artifact: ArtifactConfig{
			Name:         "gemma-3n-E4B-it-int4.litertlm",
			URL:          "https://huggingface.co/google/gemma-3n-E4B-it-litert-lm/resolve/main/{name}",
			ExpectedSize: 4400 * 1024 * 1024,
		},
		Download: DownloadConfig{
			BufferSize:        artifact.DefaultBufferSize,
			ProgressInterval:  Duration{artifact.DefaultProgressInterval},
			ConnectTimeout:    Duration{artifact.DefaultConnectTimeout},
			ReadTimeout:       Duration{artifact.DefaultReadTimeout},
			CorruptFilePolicy: "keep",
			Retries:           3,
			RetryBaseDelay:    Duration{time.Second},
			RetryMaxDelay:     Duration{30 * time.Second},
		},
		Engine: EngineConfig{
			Backend:        BackendLlama,
			ContextSize:    4096,
			ServerURL:      "http://127.0.0.1:8081",
			RequestTimeout: Duration{10 * time.Minute},
		},
		Generation: GenerationConfig{
			EventBuffer: generation.DefaultEventBuffer,
			MaxWait:     Duration{30 * time.Second},
		},
		Sampling: generation.DefaultSampling(),
	}
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	if err := c.Descriptor().Validate(); err != nil {
		return err
	}
	if c.Download.BufferSize < 0 {
		return fmt.Errorf("download.buffer_size must be >= 0 (got %d)", c.Download.BufferSize)
	}
	if c.Download.Retries < 0 {
		return fmt.Errorf("download.retries must be >= 0 (got %d)", c.Download.Retries)
	}
	if _, err := artifact.ParseCorruptFilePolicy(c.Download.CorruptFilePolicy); err != nil {
		return err
	}
	switch c.Engine.Backend {
	case BackendLlama:
	case BackendServer:
		if strings.TrimSpace(c.Engine.ServerURL) == "" {
			return errors.New("engine.server_url is required for the server backend")
		}
	default:
		return fmt.Errorf("unknown engine.backend %q (want %s|%s)", c.Engine.Backend, BackendLlama, BackendServer)
	}
	if c.Engine.ContextSize < 0 || c.Engine.Threads < 0 || c.Engine.GPULayers < 0 {
		return errors.New("engine sizes must be >= 0")
	}
	if err := c.Sampling.Validate(); err != nil {
		return fmt.Errorf("sampling: %w", err)
	}
	for name, s := range c.Presets {
		if err := s.Validate(); err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
	}
	return nil
}

// Descriptor converts the artifact section.
func (c Config) Descriptor() artifact.Descriptor {
	return artifact.Descriptor{
		Name:         strings.TrimSpace(c.Artifact.Name),
		URL:          strings.TrimSpace(c.Artifact.URL),
		ExpectedSize: c.Artifact.ExpectedSize,
		Checksum:     strings.ToLower(strings.TrimSpace(c.Artifact.Checksum)),
	}
}

// DownloadOptions converts the download section. Logger, Client and Now are
// left for the caller.
func (c Config) DownloadOptions() (artifact.Options, error) {
	policy, err := artifact.ParseCorruptFilePolicy(c.Download.CorruptFilePolicy)
	if err != nil {
		return artifact.Options{}, err
	}
	return artifact.Options{
		BufferSize:        c.Download.BufferSize,
		ProgressInterval:  c.Download.ProgressInterval.Duration,
		ConnectTimeout:    c.Download.ConnectTimeout.Duration,
		ReadTimeout:       c.Download.ReadTimeout.Duration,
		CorruptFilePolicy: policy,
		Traced:            c.Trace,
	}, nil
}

// RetryPolicy converts the retry settings.
func (c Config) RetryPolicy() artifact.RetryPolicy {
	p := artifact.DefaultRetryPolicy()
	p.MaxRetries = c.Download.Retries
	if d := c.Download.RetryBaseDelay.Duration; d > 0 {
		p.BaseDelay = d
	}
	if d := c.Download.RetryMaxDelay.Duration; d > 0 {
		p.MaxDelay = d
	}
	return p
}

// ModelsDir resolves the directory holding the artifact. An empty data_dir
// selects the per-user data directory.
func (c Config) ModelsDir() (string, error) {
	if c.DataDir != "" {
		return fsutil.ExpandHome(c.DataDir)
	}
	base, err := fsutil.DataDir(AppName)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "models"), nil
}

// AllPresets returns the built-in presets overlaid with the configured ones.
func (c Config) AllPresets() map[string]generation.Preset {
	out := generation.DefaultPresets()
	for name, s := range c.Presets {
		p := out[name]
		p.Name = name
		if p.Description == "" {
			p.Description = "custom preset"
		}
		p.Sampling = s
		out[name] = p
	}
	return out
}

// SamplingFor returns the sampling settings of preset, or the sampling section
// when preset is empty.
func (c Config) SamplingFor(preset string) (generation.SamplingConfig, error) {
	if preset == "" {
		return c.Sampling, nil
	}
	p, ok := c.AllPresets()[preset]
	if !ok {
		return generation.SamplingConfig{}, fmt.Errorf("unknown preset %q (have %s)", preset, strings.Join(generation.PresetNames(c.AllPresets()), ", "))
	}
	return p.Sampling, nil
}

// ResolveToken picks the access token: flag first, then $HF_TOKEN, then the
// first line of token_file. The result is not format-checked.
func (c Config) ResolveToken(flag string) (string, error) {
	if t := strings.TrimSpace(flag); t != "" {
		return t, nil
	}
	if t := strings.TrimSpace(os.Getenv(TokenEnv)); t != "" {
		return t, nil
	}
	if c.TokenFile == "" {
		return "", ErrNoToken
	}
	p, err := fsutil.ExpandHome(c.TokenFile)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	line, _, _ := strings.Cut(string(b), "\n")
	if t := strings.TrimSpace(line); t != "" {
		return t, nil
	}
	return "", ErrNoToken
}
