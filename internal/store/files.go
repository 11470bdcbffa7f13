package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/CodeRushOJ/croj-runner/internal/util"
)

// InputPath returns the file holding the input of case index of set.
func (s *Store) InputPath(set string, index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("tests_%s_%d_in", set, index))
}

// OutputPath returns the file holding the expected output of case index of set.
func (s *Store) OutputPath(set string, index int) string {
	return filepath.Join(s.dir, fmt.Sprintf("tests_%s_%d_out", set, index))
}

func (s *Store) readCase(set string, index int, enabled bool) (TestCase, error) {
	in, err := os.ReadFile(s.InputPath(set, index))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return TestCase{}, fmt.Errorf("read input of %s #%d: %w", set, index, err)
	}

	tc := TestCase{Input: string(in), Enabled: enabled}

	out, err := os.ReadFile(s.OutputPath(set, index))
	switch {
	case err == nil:
		expected := string(out)
		tc.Expected = &expected
	case !errors.Is(err, os.ErrNotExist):
		return TestCase{}, fmt.Errorf("read output of %s #%d: %w", set, index, err)
	}
	return tc, nil
}

func (s *Store) writeCase(set string, index int, tc TestCase) error {
	if err := writeFileAtomic(s.InputPath(set, index), []byte(tc.Input)); err != nil {
		return err
	}
	if tc.Expected == nil {
		return removeIfExists(s.OutputPath(set, index))
	}
	return writeFileAtomic(s.OutputPath(set, index), []byte(*tc.Expected))
}

func (s *Store) removeCaseFiles(set string, index int) {
	for _, p := range []string{s.InputPath(set, index), s.OutputPath(set, index)} {
		if err := removeIfExists(p); err != nil {
			s.log.Warn("failed to remove case file", "path", p, "err", err)
		}
	}
}

// moveCase renames the files of one case. A missing expected output at the
// source clears any expected output at the destination.
func (s *Store) moveCase(fromSet string, from int, toSet string, to int) error {
	if err := renameIfExists(s.InputPath(fromSet, from), s.InputPath(toSet, to)); err != nil {
		return err
	}
	src, dst := s.OutputPath(fromSet, from), s.OutputPath(toSet, to)
	if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
		return removeIfExists(dst)
	}
	return os.Rename(src, dst)
}

// swapCaseFiles exchanges two cases through a temporary pair, so each file
// is always either at its old or its new name.
func (s *Store) swapCaseFiles(set string, i, j int) error {
	tmpIn := util.TempSibling(s.InputPath(set, i))
	tmpOut := util.TempSibling(s.OutputPath(set, i))

	moves := []struct{ from, to string }{
		{s.InputPath(set, i), tmpIn},
		{s.OutputPath(set, i), tmpOut},
		{s.InputPath(set, j), s.InputPath(set, i)},
		{s.OutputPath(set, j), s.OutputPath(set, i)},
		{tmpIn, s.InputPath(set, j)},
		{tmpOut, s.OutputPath(set, j)},
	}
	for _, m := range moves {
		if err := renameIfExists(m.from, m.to); err != nil {
			return fmt.Errorf("swap %s #%d and #%d: %w", set, i, j, err)
		}
	}
	return nil
}

func renameIfExists(from, to string) error {
	err := os.Rename(from, to)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func removeIfExists(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := util.TempSibling(path)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
