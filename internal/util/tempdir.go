// internal/util/tempdir.go
package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// SetupHostRunDir creates a unique temporary directory for a run on the host.
// It returns the path to the created directory and a cleanup function.
func SetupHostRunDir(baseDir string) (runDir string, cleanup func(), err error) {
	runID := uuid.New().String()
	runDir = filepath.Join(baseDir, runID)

	// Ensure base directory exists
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create base temp directory %s: %w", baseDir, err)
	}

	// Create the specific run directory
	if err := os.Mkdir(runDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create host run temp dir %s: %w", runDir, err)
	}
	DebugLog("created host temp dir", "dir", runDir)

	cleanup = func() {
		if err := os.RemoveAll(runDir); err != nil {
			WarnLog("failed to clean up host temp dir", "dir", runDir, "err", err)
		} else {
			DebugLog("cleaned up host temp dir", "dir", runDir)
		}
	}

	return runDir, cleanup, nil
}

// TempSibling returns a unique, not yet existing path in the same directory as path.
func TempSibling(path string) string {
	return filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+"."+uuid.New().String()+".tmp")
}

// EnsureDir creates dirName and its parents if needed.
func EnsureDir(dirName string) error {
	err := os.MkdirAll(dirName, 0755)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dirName, err)
	}
	return nil
}

// ProcessCommandString replaces placeholders in a command string with actual values
func ProcessCommandString(cmdTemplate string, replacements map[string]string) string {
	result := cmdTemplate
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}
	return result
}

// ProcessCommandTemplate splits a command template into argv parts and substitutes placeholders.
//
// The template is split on whitespace before substitution, so paths containing
// spaces stay a single argument. A part that consists solely of one of the
// splitKeys placeholders is expanded into zero or more whitespace separated
// arguments instead (used for user supplied compiler flags).
func ProcessCommandTemplate(cmdTemplate string, replacements map[string]string, splitKeys ...string) ([]string, error) {
	fields := strings.Fields(cmdTemplate)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty command template")
	}

	cmdParts := make([]string, 0, len(fields))
	for _, field := range fields {
		if isSplitKey(field, splitKeys) {
			cmdParts = append(cmdParts, strings.Fields(replacements[field])...)
			continue
		}
		cmdParts = append(cmdParts, ProcessCommandString(field, replacements))
	}

	if len(cmdParts) == 0 || cmdParts[0] == "" {
		return nil, fmt.Errorf("no command parts after processing %q", cmdTemplate)
	}

	return cmdParts, nil
}

func isSplitKey(field string, keys []string) bool {
	for _, k := range keys {
		if field == k {
			return true
		}
	}
	return false
}
