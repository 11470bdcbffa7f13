// Package options is the configuration provider: get(category, key) over
// defaults, an optional YAML file and CROJ_<CATEGORY>_<KEY> environment variables.
package options

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	CategoryBuildAndRun  = "buildAndRun"
	CategoryCompilerArgs = "compilerArgs"

	KeyCurTestSet = "curTestSet"
	KeyTimeout    = "timeout"
	KeyMemSample  = "memSample"
	KeyCharLimit  = "charLimit"
	KeyChecker    = "checker"

	// EnvPrefix starts every environment override.
	EnvPrefix = "CROJ_"
)

var (
	ErrUnknownOption = errors.New("unknown option")
	ErrInvalidValue  = errors.New("invalid option value")
)

// defaults mirrors the option list of the tool; its value types are the
// accepted types for each key.
func defaults() map[string]map[string]any {
	return map[string]map[string]any{
		CategoryBuildAndRun: {
			KeyCurTestSet: "default",
			KeyTimeout:    5000,
			KeyMemSample:  500,
			KeyCharLimit:  2000000,
			KeyChecker:    "tokens",
		},
		CategoryCompilerArgs: {
			"cpp": "-Wall -O0 -DLOCAL",
			"c":   "-Wall -O0",
			"go":  "",
		},
	}
}

// Options holds the effective option values. It is safe for concurrent use.
type Options struct {
	mu     sync.RWMutex
	path   string
	values map[string]map[string]any
}

// New returns options holding only the defaults.
func New() *Options {
	return &Options{values: defaults()}
}

// Load reads path (when it exists) over the defaults and applies environment
// overrides. An empty path skips the file.
func Load(path string) (*Options, error) {
	o := New()
	o.path = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := o.merge(data); err != nil {
				return nil, fmt.Errorf("options file %s: %w", path, err)
			}
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("read options file %s: %w", path, err)
		}
	}

	if err := o.ApplyEnv(os.Environ()); err != nil {
		return nil, err
	}
	return o, nil
}

// LoadEnvFile loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func (o *Options) merge(data []byte) error {
	var file map[string]map[string]any
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	for category, keys := range file {
		for key, value := range keys {
			if err := o.Set(category, key, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyEnv overrides every option named by a CROJ_<CATEGORY>_<KEY> entry
// (upper-cased) of environ. Compiler args may name any language.
func (o *Options) ApplyEnv(environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if name, value, ok := strings.Cut(kv, "="); ok {
			env[name] = value
		}
	}

	for _, category := range o.Categories() {
		for _, key := range o.Keys(category) {
			if v, ok := env[EnvName(category, key)]; ok {
				if err := o.Set(category, key, v); err != nil {
					return fmt.Errorf("%s: %w", EnvName(category, key), err)
				}
			}
		}
	}

	prefix := EnvName(CategoryCompilerArgs, "")
	for name, v := range env {
		lang := strings.ToLower(strings.TrimPrefix(name, prefix))
		if !strings.HasPrefix(name, prefix) || lang == "" {
			continue
		}
		if _, err := o.Get(CategoryCompilerArgs, lang); err == nil {
			continue
		}
		if err := o.Set(CategoryCompilerArgs, lang, v); err != nil {
			return err
		}
	}
	return nil
}

// EnvName returns the environment variable overriding category/key.
func EnvName(category, key string) string {
	return strings.ToUpper(EnvPrefix + category + "_" + key)
}

// Get returns the value of category/key.
func (o *Options) Get(category, key string) (any, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	keys, ok := o.values[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, category)
	}
	v, ok := keys[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownOption, category, key)
	}
	return v, nil
}

// Set validates value against the type of the default and stores it.
func (o *Options) Set(category, key string, value any) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	keys, ok := o.values[category]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, category)
	}
	current, ok := keys[key]
	if !ok {
		if category != CategoryCompilerArgs {
			return fmt.Errorf("%w: %s.%s", ErrUnknownOption, category, key)
		}
		current = ""
	}

	coerced, err := coerce(current, value)
	if err != nil {
		return fmt.Errorf("%w: %s.%s: %v", ErrInvalidValue, category, key, err)
	}
	if n, ok := coerced.(int); ok {
		if key == KeyCharLimit && n < 0 || key != KeyCharLimit && n <= 0 {
			return fmt.Errorf("%w: %s.%s out of range: %d", ErrInvalidValue, category, key, n)
		}
	}
	keys[key] = coerced
	return nil
}

func coerce(like, value any) (any, error) {
	switch like.(type) {
	case int:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case uint64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", v)
			}
			return n, nil
		}
	case string:
		switch v := value.(type) {
		case string:
			return v, nil
		case nil:
			return "", nil
		}
	}
	return nil, fmt.Errorf("unexpected %T", value)
}

// String returns a string option, or "" when it is unknown.
func (o *Options) String(category, key string) string {
	v, _ := o.Get(category, key)
	s, _ := v.(string)
	return s
}

// Int returns an integer option, or 0 when it is unknown.
func (o *Options) Int(category, key string) int {
	v, _ := o.Get(category, key)
	n, _ := v.(int)
	return n
}

// Millis returns an integer option interpreted as milliseconds.
func (o *Options) Millis(category, key string) time.Duration {
	return time.Duration(o.Int(category, key)) * time.Millisecond
}

// CompilerArgs returns the extra compiler arguments for a language.
func (o *Options) CompilerArgs(lang string) string {
	return o.String(CategoryCompilerArgs, lang)
}

// Categories lists categories in sorted order.
func (o *Options) Categories() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sortedKeys(o.values)
}

// Keys lists the keys of a category in sorted order.
func (o *Options) Keys(category string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sortedKeys(o.values[category])
}

// Snapshot returns a copy of every value.
func (o *Options) Snapshot() map[string]map[string]any {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make(map[string]map[string]any, len(o.values))
	for c, keys := range o.values {
		out[c] = make(map[string]any, len(keys))
		for k, v := range keys {
			out[c][k] = v
		}
	}
	return out
}

// Path returns the file Save writes to.
func (o *Options) Path() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.path
}

// Save writes every value to the options file.
func (o *Options) Save() error {
	path := o.Path()
	if path == "" {
		return errors.New("options have no file")
	}
	return o.SaveTo(path)
}

// SaveTo writes every value to path as YAML.
func (o *Options) SaveTo(path string) error {
	data, err := yaml.Marshal(o.Snapshot())
	if err != nil {
		return fmt.Errorf("encode options: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create options dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write options file %s: %w", path, err)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
