// internal/sandbox/config.go
package sandbox

import "time"

// Command template placeholders
const (
	PlaceholderSrcPath = "{{SRC_PATH}}" // Source code file path
	PlaceholderExePath = "{{EXE_PATH}}" // Compiled artifact path
	PlaceholderSrcDir  = "{{SRC_DIR}}"  // Directory containing the source
	PlaceholderArgs    = "{{ARGS}}"     // Extra compiler arguments, split on whitespace
)

const (
	DefaultCompileTimeLimitSec = 30     // Default compile timeout in seconds
	DefaultArtifactSuffix      = ".bin" // Appended to the source stem to name the artifact
	DefaultHostTempDir         = "/tmp/croj-runner-runs"
)

// CompileConfig defines how to compile a language source file.
// An empty Command marks the language as interpreted.
type CompileConfig struct {
	Command        string `json:"command" yaml:"command"`               // Compile command template
	ArtifactSuffix string `json:"artifactSuffix" yaml:"artifactSuffix"` // Artifact name suffix ("" = DefaultArtifactSuffix)
	TimeoutSec     int    `json:"timeoutSec" yaml:"timeoutSec"`         // Compile timeout in seconds (0 = use default)
}

// RunConfig defines how to run a compiled or interpreted language
type RunConfig struct {
	Command string            `json:"command" yaml:"command"` // Run command template
	Env     map[string]string `json:"env" yaml:"env"`         // Extra environment variables
}

// LanguageConfig holds configuration for a specific source language.
type LanguageConfig struct {
	Name    string        `json:"name" yaml:"name"` // Key into the compilerArgs option category
	Compile CompileConfig `json:"compile" yaml:"compile"`
	Run     RunConfig     `json:"run" yaml:"run"`
}

// Compiled reports whether the language has a compile step.
func (lc *LanguageConfig) Compiled() bool {
	return lc.Compile.Command != ""
}

// GetCompileTimeout returns the compile timeout, using default if not set
func (lc *LanguageConfig) GetCompileTimeout(defaultTimeout time.Duration) time.Duration {
	if lc.Compile.TimeoutSec <= 0 {
		return defaultTimeout
	}
	return time.Duration(lc.Compile.TimeoutSec) * time.Second
}

func (lc *LanguageConfig) artifactSuffix() string {
	if lc.Compile.ArtifactSuffix == "" {
		return DefaultArtifactSuffix
	}
	return lc.Compile.ArtifactSuffix
}

// Config holds the language table and compile defaults.
type Config struct {
	HostTempDir             string                    `json:"hostTempDir" yaml:"hostTempDir"`
	DefaultCompileTimeLimit time.Duration             `json:"defaultCompileTimeLimit" yaml:"defaultCompileTimeLimit"`
	Languages               map[string]LanguageConfig `json:"languages" yaml:"languages"` // keyed by source extension, without the dot
}

// DefaultConfig returns a new Config struct with default values and language settings.
func DefaultConfig() Config {
	cfg := Config{
		HostTempDir:             DefaultHostTempDir,
		DefaultCompileTimeLimit: time.Duration(DefaultCompileTimeLimitSec) * time.Second,
		Languages:               make(map[string]LanguageConfig),
	}

	ConfigureDefaultLanguages(&cfg)

	return cfg
}
