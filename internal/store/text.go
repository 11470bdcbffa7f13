package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTextFormat is returned for malformed set text.
var ErrTextFormat = errors.New("malformed test set text")

// Text format of a whole set:
//
//	:checker tokens
//	:in
//	3
//	:out
//	6
//	:dis
//	:in
//	4
//
// A case without :out has no expected output; :dis before :in disables the
// case. Content lines that start with ':' are written with an extra ':'.
// Content always ends in a newline after a round trip.

// ParseText reads a set in text format.
func ParseText(text string) (checker string, cases []TestCase, err error) {
	const (
		modeNone = iota
		modeIn
		modeOut
	)

	var (
		mode     = modeNone
		cur      *TestCase
		in, out  strings.Builder
		disabled bool
	)

	flush := func() {
		if cur == nil {
			return
		}
		cur.Input = in.String()
		if mode == modeOut {
			expected := out.String()
			cur.Expected = &expected
		}
		cases = append(cases, *cur)
		cur = nil
		in.Reset()
		out.Reset()
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for n, line := range lines {
		directive := strings.TrimRight(line, " \t")
		switch {
		case strings.HasPrefix(line, "::"):
			line = line[1:]
		case strings.HasPrefix(directive, ":checker"):
			checker = strings.TrimSpace(strings.TrimPrefix(directive, ":checker"))
			if checker == "null" {
				checker = ""
			}
			continue
		case directive == ":dis":
			flush()
			mode = modeNone
			disabled = true
			continue
		case directive == ":in":
			flush()
			cur = &TestCase{Enabled: !disabled}
			disabled = false
			mode = modeIn
			continue
		case directive == ":out":
			if cur == nil {
				return "", nil, fmt.Errorf("%w: line %d: :out without :in", ErrTextFormat, n+1)
			}
			mode = modeOut
			continue
		case strings.HasPrefix(line, ":"):
			return "", nil, fmt.Errorf("%w: line %d: unknown directive %q", ErrTextFormat, n+1, directive)
		}

		switch mode {
		case modeIn:
			in.WriteString(line + "\n")
		case modeOut:
			out.WriteString(line + "\n")
		default:
			if directive != "" {
				return "", nil, fmt.Errorf("%w: line %d: content outside of :in/:out", ErrTextFormat, n+1)
			}
		}
	}
	flush()
	return checker, cases, nil
}

// FormatText writes a set in text format.
func FormatText(checker string, cases []TestCase) string {
	var b strings.Builder
	if checker != "" {
		fmt.Fprintf(&b, ":checker %s\n", checker)
	}
	for _, tc := range cases {
		if !tc.Enabled {
			b.WriteString(":dis\n")
		}
		b.WriteString(":in\n")
		writeContent(&b, tc.Input)
		if tc.Expected != nil {
			b.WriteString(":out\n")
			writeContent(&b, *tc.Expected)
		}
	}
	return b.String()
}

func writeContent(b *strings.Builder, s string) {
	if s == "" {
		return
	}
	for _, line := range strings.Split(strings.TrimSuffix(s, "\n"), "\n") {
		if strings.HasPrefix(line, ":") {
			b.WriteString(":")
		}
		b.WriteString(line + "\n")
	}
}

// Export renders a set in text format.
func (s *Store) Export(name string) (string, error) {
	cases, err := s.Cases(name)
	if err != nil {
		return "", err
	}
	checker, err := s.Checker(name)
	if err != nil {
		return "", err
	}
	return FormatText(checker, cases), nil
}

// Import replaces (or creates) a set from text format.
func (s *Store) Import(name, text string) error {
	checker, cases, err := ParseText(text)
	if err != nil {
		return fmt.Errorf("import %s: %w", name, err)
	}

	if s.HasSet(name) {
		if err := s.RemoveSet(name); err != nil {
			return err
		}
	}
	if err := s.AddSet(name); err != nil {
		return err
	}
	for _, tc := range cases {
		if _, err := s.AppendCase(name, tc); err != nil {
			return err
		}
	}
	return s.SetChecker(name, checker)
}
