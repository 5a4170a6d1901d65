//go:build !llama

package engine

// LlamaBuilt indicates this binary was compiled with in-process llama support.
const LlamaBuilt = false

// LoadLlama fails in builds without the "llama" tag, keeping default builds CGO-free.
func LoadLlama(path string, opts LlamaOptions) (Model, error) {
	return nil, ErrDependencyUnavailable("llama support not built (missing 'llama' build tag)")
}
