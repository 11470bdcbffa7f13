// Package checker compares program output against expected output.
package checker

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Mode identifies a comparison policy.
type Mode string

const (
	ModeIdentical           Mode = "identical"
	ModeIdenticalNormalized Mode = "identicalNormalized"
	ModeTokens              Mode = "tokens"
	ModeFloat4              Mode = "float:1e-4"
	ModeFloat9              Mode = "float:1e-9"
	ModeCustom              Mode = "custom"

	// DefaultMode is used when neither the test set nor the options name a checker.
	DefaultMode = ModeTokens

	customPrefix = "custom:"
)

var (
	ErrUnknownMode     = errors.New("unknown checker")
	ErrCheckerNotFound = errors.New("custom checker not found")
	ErrCheckerFormat   = errors.New("invalid custom checker")
)

// Library is the set of primitives handed to every checker, custom ones included.
type Library struct {
	NormalizeOutput  func(s string) string
	Tokenize         func(s string) []string
	ArrayEquals      func(a, b []string) bool
	ArrayEqualsFloat func(a, b []string, eps float64) bool
}

// DefaultLibrary returns the built-in primitives.
func DefaultLibrary() Library {
	return Library{
		NormalizeOutput:  NormalizeOutput,
		Tokenize:         Tokenize,
		ArrayEquals:      ArrayEquals,
		ArrayEqualsFloat: ArrayEqualsFloat,
	}
}

// Func decides whether output is correct. expected is nil when the case has no expected output.
type Func func(input, output string, expected *string, lib Library) (bool, error)

// Checker is a resolved comparison policy.
type Checker struct {
	mode Mode
	fn   Func
	lib  Library
}

// Mode reports the identifier the checker was resolved from.
func (c *Checker) Mode() Mode { return c.mode }

// IsCustom reports whether the checker runs user supplied logic.
func (c *Checker) IsCustom() bool { return strings.HasPrefix(string(c.mode), customPrefix) }

// Check runs the checker. A nil expected output is trivially correct for the
// built-in modes; custom checkers are always consulted.
func (c *Checker) Check(input, output string, expected *string) (bool, error) {
	if expected == nil && !c.IsCustom() {
		return true, nil
	}
	return c.fn(input, output, expected, c.lib)
}

// Resolve turns a mode identifier into a Checker.
// Custom checkers are written "custom:<path>"; relative paths are resolved against root.
func Resolve(mode Mode, root string) (*Checker, error) {
	if mode == "" {
		mode = DefaultMode
	}

	c := &Checker{mode: mode, lib: DefaultLibrary()}

	switch mode {
	case ModeIdentical:
		c.fn = func(_, out string, expected *string, _ Library) (bool, error) {
			return out == *expected, nil
		}
	case ModeIdenticalNormalized:
		c.fn = func(_, out string, expected *string, lib Library) (bool, error) {
			return lib.NormalizeOutput(out) == lib.NormalizeOutput(*expected), nil
		}
	case ModeTokens:
		c.fn = func(_, out string, expected *string, lib Library) (bool, error) {
			return lib.ArrayEquals(lib.Tokenize(out), lib.Tokenize(*expected)), nil
		}
	case ModeFloat4:
		c.fn = floatFunc(1e-4)
	case ModeFloat9:
		c.fn = floatFunc(1e-9)
	default:
		if !strings.HasPrefix(string(mode), customPrefix) {
			return nil, fmt.Errorf("%w %q", ErrUnknownMode, mode)
		}
		fn, err := loadCustom(strings.TrimPrefix(string(mode), customPrefix), root)
		if err != nil {
			return nil, err
		}
		c.fn = fn
	}

	return c, nil
}

// Compare is a one-shot helper for the built-in modes.
func Compare(input, output string, expected *string, mode Mode) (bool, error) {
	c, err := Resolve(mode, "")
	if err != nil {
		return false, err
	}
	return c.Check(input, output, expected)
}

func floatFunc(eps float64) Func {
	return func(_, out string, expected *string, lib Library) (bool, error) {
		return lib.ArrayEqualsFloat(lib.Tokenize(out), lib.Tokenize(*expected), eps), nil
	}
}

var lineEndings = regexp.MustCompile(`\r\n|\r`)

// NormalizeOutput converts line endings to "\n", strips trailing whitespace from
// every line and drops trailing empty lines.
func NormalizeOutput(s string) string {
	s = lineEndings.ReplaceAllString(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\f\v")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// Tokenize splits s on runs of whitespace.
func Tokenize(s string) []string {
	return strings.Fields(s)
}

// ArrayEquals reports whether a and b hold the same tokens in the same order.
func ArrayEquals(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// epsSlack absorbs binary representation error in decimal inputs, so that
// "3" and "2.9999" are within 1e-4.
const epsSlack = 1e-9

// ArrayEqualsFloat reports whether every token pair parses as a number and
// differs by at most eps. Any non-numeric token fails the comparison.
func ArrayEqualsFloat(a, b []string, eps float64) bool {
	if len(a) != len(b) {
		return false
	}
	limit := eps * (1 + epsSlack)
	for i := range a {
		x, err := strconv.ParseFloat(a[i], 64)
		if err != nil {
			return false
		}
		y, err := strconv.ParseFloat(b[i], 64)
		if err != nil {
			return false
		}
		if math.IsNaN(x) || math.IsNaN(y) || math.Abs(x-y) > limit {
			return false
		}
	}
	return true
}
