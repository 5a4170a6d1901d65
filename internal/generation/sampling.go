package generation

import (
	"fmt"
	"sort"
)

// SamplingConfig controls token sampling for one submission.
type SamplingConfig struct {
	TopK        int     `json:"top_k" yaml:"top_k" toml:"top_k"`
	Temperature float64 `json:"temperature" yaml:"temperature" toml:"temperature"`
	Seed        int     `json:"seed" yaml:"seed" toml:"seed"`
	// MaxTokens bounds the response length. 0 leaves it to the engine.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
}

// DefaultSampling mirrors the recommended preset with a 1024 token limit.
func DefaultSampling() SamplingConfig {
	return SamplingConfig{TopK: 40, Temperature: 0.8, Seed: 101, MaxTokens: 1024}
}

// Validate checks value ranges.
func (c SamplingConfig) Validate() error {
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be > 0 (got %d)", c.TopK)
	}
	if c.Temperature < 0 {
		return fmt.Errorf("temperature must be >= 0 (got %g)", c.Temperature)
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must be >= 0 (got %d)", c.MaxTokens)
	}
	return nil
}

// Preset is a named sampling configuration.
type Preset struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Sampling    SamplingConfig `json:"sampling"`
}

// Built-in preset names.
const (
	PresetRecommended = "recommended"
	PresetFast        = "fast"
	PresetLong        = "long"
	PresetCreative    = "creative"
	PresetPrecise     = "precise"
)

// DefaultPresets returns the built-in presets keyed by name.
func DefaultPresets() map[string]Preset {
	mk := func(name, desc string, maxTokens, topK int, temp float64) Preset {
		return Preset{Name: name, Description: desc, Sampling: SamplingConfig{TopK: topK, Temperature: temp, Seed: 101, MaxTokens: maxTokens}}
	}
	return map[string]Preset{
		PresetRecommended: mk(PresetRecommended, "Balanced settings for general use", 2048, 40, 0.8),
		PresetFast:        mk(PresetFast, "Short answers, quick turnaround", 512, 20, 0.7),
		PresetLong:        mk(PresetLong, "Long-form output", 4096, 40, 0.8),
		PresetCreative:    mk(PresetCreative, "More varied, creative text", 2048, 60, 1.0),
		PresetPrecise:     mk(PresetPrecise, "Focused, deterministic answers", 2048, 20, 0.5),
	}
}

// PresetNames returns the keys of presets in sorted order.
func PresetNames(presets map[string]Preset) []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
