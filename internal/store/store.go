// Package store keeps named test sets on the filesystem.
//
// Every case of set S at index i is stored as tests_S_i_in and, when it has an
// expected output, tests_S_i_out. manifest.yaml records the ordered enabled
// flags of each set and an optional checker per set.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/CodeRushOJ/croj-runner/internal/util"
)

const manifestName = "manifest.yaml"

var (
	ErrSetNotFound     = errors.New("test set not found")
	ErrSetExists       = errors.New("test set already exists")
	ErrIndexOutOfRange = errors.New("case index out of range")
	ErrInvalidName     = errors.New("invalid test set name")
)

// TestCase is one input with an optional expected output.
type TestCase struct {
	Input    string  `json:"input"`
	Expected *string `json:"expected"` // nil: run without checking
	Enabled  bool    `json:"enabled"`
}

// IndexedCase is a case together with its position in the set.
type IndexedCase struct {
	Index int `json:"index"`
	TestCase
}

type manifest struct {
	Sets     map[string][]bool `yaml:"sets"`
	Checkers map[string]string `yaml:"checkers,omitempty"`
}

// Store is a directory of test sets. It is safe for concurrent use.
type Store struct {
	dir string
	log *slog.Logger

	mu       sync.RWMutex
	manifest manifest
}

// Open loads (or initialises) the store in dir.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, err
	}

	s := &Store{
		dir: dir,
		log: util.OrDefault(logger).With("component", "store"),
		manifest: manifest{
			Sets:     make(map[string][]bool),
			Checkers: make(map[string]string),
		},
	}

	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	if err := yaml.Unmarshal(data, &s.manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", filepath.Join(dir, manifestName), err)
	}
	if s.manifest.Sets == nil {
		s.manifest.Sets = make(map[string][]bool)
	}
	if s.manifest.Checkers == nil {
		s.manifest.Checkers = make(map[string]string)
	}
	s.log.Debug("store opened", "dir", dir, "sets", len(s.manifest.Sets))
	return s, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Sets lists set names in sorted order.
func (s *Store) Sets() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.manifest.Sets))
	for name := range s.manifest.Sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasSet reports whether name exists.
func (s *Store) HasSet(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.manifest.Sets[name]
	return ok
}

// AddSet creates an empty set.
func (s *Store) AddSet(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.manifest.Sets[name]; ok {
		return fmt.Errorf("%w: %s", ErrSetExists, name)
	}
	s.manifest.Sets[name] = []bool{}
	return s.saveManifestLocked()
}

// RemoveSet deletes a set and its files.
func (s *Store) RemoveSet(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return err
	}

	for i := range flags {
		s.removeCaseFiles(name, i)
	}
	delete(s.manifest.Sets, name)
	delete(s.manifest.Checkers, name)
	return s.saveManifestLocked()
}

// RenameSet renames a set, moving its files.
func (s *Store) RenameSet(oldName, newName string) error {
	if err := ValidateName(newName); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.setLocked(oldName)
	if err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}
	if _, ok := s.manifest.Sets[newName]; ok {
		return fmt.Errorf("%w: %s", ErrSetExists, newName)
	}

	for i := range flags {
		if err := s.moveCase(oldName, i, newName, i); err != nil {
			return err
		}
	}

	s.manifest.Sets[newName] = flags
	delete(s.manifest.Sets, oldName)
	if c, ok := s.manifest.Checkers[oldName]; ok {
		s.manifest.Checkers[newName] = c
		delete(s.manifest.Checkers, oldName)
	}
	return s.saveManifestLocked()
}

// Len returns the number of cases in a set, enabled or not.
func (s *Store) Len(name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags, err := s.setLocked(name)
	return len(flags), err
}

// CaseCount returns the number of enabled cases in a set.
func (s *Store) CaseCount(name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, on := range flags {
		if on {
			n++
		}
	}
	return n, nil
}

// Case reads the case at index.
func (s *Store) Case(name string, index int) (TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return TestCase{}, err
	}
	if err := checkIndex(index, len(flags)); err != nil {
		return TestCase{}, err
	}
	return s.readCase(name, index, flags[index])
}

// Cases reads every case of a set.
func (s *Store) Cases(name string) ([]TestCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return nil, err
	}

	cases := make([]TestCase, len(flags))
	for i, on := range flags {
		if cases[i], err = s.readCase(name, i, on); err != nil {
			return nil, err
		}
	}
	return cases, nil
}

// EnabledCases returns copies of the enabled cases of a set, in order.
func (s *Store) EnabledCases(name string) ([]IndexedCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return nil, err
	}

	var out []IndexedCase
	for i, on := range flags {
		if !on {
			continue
		}
		tc, err := s.readCase(name, i, on)
		if err != nil {
			return nil, err
		}
		out = append(out, IndexedCase{Index: i, TestCase: tc})
	}
	return out, nil
}

// InsertCase inserts tc at index, shifting later cases up. index may equal the
// set length to append.
func (s *Store) InsertCase(name string, index int, tc TestCase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return err
	}
	if err := checkIndex(index, len(flags)+1); err != nil {
		return err
	}

	for i := len(flags) - 1; i >= index; i-- {
		if err := s.moveCase(name, i, name, i+1); err != nil {
			return err
		}
	}
	if err := s.writeCase(name, index, tc); err != nil {
		return err
	}

	flags = append(flags, false)
	copy(flags[index+1:], flags[index:])
	flags[index] = tc.Enabled
	s.manifest.Sets[name] = flags
	return s.saveManifestLocked()
}

// AppendCase adds tc at the end of the set and returns its index.
func (s *Store) AppendCase(name string, tc TestCase) (int, error) {
	n, err := s.Len(name)
	if err != nil {
		return 0, err
	}
	return n, s.InsertCase(name, n, tc)
}

// UpdateCase overwrites the data of the case at index, keeping its enabled flag.
func (s *Store) UpdateCase(name string, index int, input string, expected *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return err
	}
	if err := checkIndex(index, len(flags)); err != nil {
		return err
	}
	return s.writeCase(name, index, TestCase{Input: input, Expected: expected})
}

// RemoveCase deletes the case at index, shifting later cases down.
func (s *Store) RemoveCase(name string, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return err
	}
	if err := checkIndex(index, len(flags)); err != nil {
		return err
	}

	s.removeCaseFiles(name, index)
	for i := index + 1; i < len(flags); i++ {
		if err := s.moveCase(name, i, name, i-1); err != nil {
			return err
		}
	}

	s.manifest.Sets[name] = append(flags[:index:index], flags[index+1:]...)
	return s.saveManifestLocked()
}

// SwapCases exchanges the cases at i and j.
func (s *Store) SwapCases(name string, i, j int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return err
	}
	if err := checkIndex(i, len(flags)); err != nil {
		return err
	}
	if err := checkIndex(j, len(flags)); err != nil {
		return err
	}
	if i == j {
		return nil
	}

	if err := s.swapCaseFiles(name, i, j); err != nil {
		return err
	}
	flags[i], flags[j] = flags[j], flags[i]
	return s.saveManifestLocked()
}

// SetEnabled enables or disables the case at index.
func (s *Store) SetEnabled(name string, index int, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	flags, err := s.setLocked(name)
	if err != nil {
		return err
	}
	if err := checkIndex(index, len(flags)); err != nil {
		return err
	}
	flags[index] = enabled
	return s.saveManifestLocked()
}

// Checker returns the checker recorded for a set, or "" when the set uses the default.
func (s *Store) Checker(name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.setLocked(name); err != nil {
		return "", err
	}
	return s.manifest.Checkers[name], nil
}

// SetChecker records a checker for a set; "" restores the default.
func (s *Store) SetChecker(name, checker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.setLocked(name); err != nil {
		return err
	}
	if checker == "" {
		delete(s.manifest.Checkers, name)
	} else {
		s.manifest.Checkers[name] = checker
	}
	return s.saveManifestLocked()
}

// ValidateName rejects names that cannot be embedded in a file name.
func ValidateName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\:`) || strings.HasPrefix(name, ".") || strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func (s *Store) setLocked(name string) ([]bool, error) {
	flags, ok := s.manifest.Sets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSetNotFound, name)
	}
	return flags, nil
}

func checkIndex(index, n int) error {
	if index < 0 || index >= n {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, index, n)
	}
	return nil
}

func (s *Store) saveManifestLocked() error {
	data, err := yaml.Marshal(&s.manifest)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.dir, manifestName), data)
}
