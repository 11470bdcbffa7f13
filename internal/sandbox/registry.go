// internal/sandbox/registry.go
package sandbox

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Factory builds an Executor for one source file.
type Factory func(lang LanguageConfig, src string, opts ExecutorOptions) Executor

type registryEntry struct {
	lang    LanguageConfig
	factory Factory
}

// Registry maps source extensions to executor strategies.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
	cfg     Config
}

// NewRegistry registers every language of cfg.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{entries: make(map[string]registryEntry), cfg: cfg}
	for ext, lang := range cfg.Languages {
		r.Register(ext, lang)
	}
	return r
}

// Register adds or replaces the language for ext, choosing the compiled or
// interpreted strategy from its compile command.
func (r *Registry) Register(ext string, lang LanguageConfig) {
	factory := newInterpreted
	if lang.Compiled() {
		factory = newCompiled
	}
	r.RegisterFactory(ext, lang, factory)
}

// RegisterFactory adds a language with a custom executor strategy.
func (r *Registry) RegisterFactory(ext string, lang LanguageConfig, factory Factory) {
	ext = normalizeExt(ext)
	if lang.Name == "" {
		lang.Name = ext
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[ext] = registryEntry{lang: lang, factory: factory}
}

// Lookup returns the language registered for the extension of src.
func (r *Registry) Lookup(src string) (LanguageConfig, error) {
	entry, err := r.lookup(src)
	if err != nil {
		return LanguageConfig{}, err
	}
	return entry.lang, nil
}

func (r *Registry) lookup(src string) (registryEntry, error) {
	ext := normalizeExt(filepath.Ext(src))

	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[ext]
	if !ok || ext == "" {
		return registryEntry{}, fmt.Errorf("%w: %q", ErrUnsupportedExtension, filepath.Ext(src))
	}
	return entry, nil
}

// NewExecutor resolves the executor for src.
func (r *Registry) NewExecutor(src string, opts ExecutorOptions) (Executor, error) {
	entry, err := r.lookup(src)
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(src)
	if err != nil {
		return nil, fmt.Errorf("resolve source path %s: %w", src, err)
	}
	if opts.CompileTimeout <= 0 {
		opts.CompileTimeout = r.cfg.DefaultCompileTimeLimit
	}
	return entry.factory(entry.lang, abs, opts), nil
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.entries))
	for ext := range r.entries {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
