package generation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplingConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultSampling().Validate())
	assert.Error(t, SamplingConfig{TopK: 0, Temperature: 0.5}.Validate())
	assert.Error(t, SamplingConfig{TopK: 1, Temperature: -0.1}.Validate())
	assert.Error(t, SamplingConfig{TopK: 1, MaxTokens: -1}.Validate())
	assert.NoError(t, SamplingConfig{TopK: 1, Temperature: 0}.Validate())
}

func TestDefaultPresets(t *testing.T) {
	p := DefaultPresets()
	assert.Equal(t, []string{"creative", "fast", "long", "precise", "recommended"}, PresetNames(p))
	assert.Equal(t, SamplingConfig{TopK: 20, Temperature: 0.7, Seed: 101, MaxTokens: 512}, p[PresetFast].Sampling)
	assert.Equal(t, 4096, p[PresetLong].Sampling.MaxTokens)
	for name, preset := range p {
		assert.NoError(t, preset.Sampling.Validate(), name)
		assert.Equal(t, name, preset.Name)
	}
}

func TestTruncateForDisplay(t *testing.T) {
	assert.Equal(t, "short", TruncateForDisplay("short", 10))
	assert.Equal(t, "abc\n...(truncated)", TruncateForDisplay("abcdef", 3))
	assert.Equal(t, "日本\n...(truncated)", TruncateForDisplay("日本語", 2))
	assert.Equal(t, "abcdef", TruncateForDisplay("abcdef", 0))
	long := strings.Repeat("x", DisplayLimit+5)
	assert.Len(t, TruncateForDisplay(long, DisplayLimit), DisplayLimit+len("\n...(truncated)"))
}

func TestDetectDevice(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cpuinfo")
	require.NoError(t, os.WriteFile(p, []byte("processor\t: 0\nmodel name\t: Test CPU @ 3GHz\nHardware\t: Qualcomm Snapdragon 8 Gen 3\n"), 0o644))

	d := detectDevice(p)
	assert.Equal(t, "Test CPU @ 3GHz", d.CPU)
	assert.Equal(t, "Snapdragon 8 Gen 3", d.SoC)
	assert.Positive(t, d.NumCPU)

	d = detectDevice(filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, unknown, d.CPU)
	assert.Equal(t, unknown, d.SoC)
	assert.NotEmpty(t, d.String())
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, IsTerminal(Started{}))
	assert.False(t, IsTerminal(TokenGenerated{Text: "x"}))
	assert.True(t, IsTerminal(Completed{}))
	assert.True(t, IsTerminal(Failed{}))
}
