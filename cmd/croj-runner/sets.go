package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CodeRushOJ/croj-runner/internal/store"
)

func newSetsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sets",
		Short: "Manage test sets",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List test sets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tCASES\tENABLED\tCHECKER")
				for _, name := range a.store.Sets() {
					n, err := a.store.Len(name)
					if err != nil {
						return err
					}
					enabled, err := a.store.CaseCount(name)
					if err != nil {
						return err
					}
					checker, err := a.store.Checker(name)
					if err != nil {
						return err
					}
					if checker == "" {
						checker = "-"
					}
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", name, n, enabled, checker)
				}
				return tw.Flush()
			},
		},
		&cobra.Command{
			Use:   "add <name>",
			Short: "Create an empty test set",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.store.AddSet(args[0])
			},
		},
		&cobra.Command{
			Use:     "rm <name>",
			Aliases: []string{"remove"},
			Short:   "Delete a test set and its files",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.store.RemoveSet(args[0])
			},
		},
		&cobra.Command{
			Use:   "rename <old> <new>",
			Short: "Rename a test set",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.store.RenameSet(args[0], args[1])
			},
		},
		&cobra.Command{
			Use:   "checker <name> [mode]",
			Short: "Show or set the checker of a test set (empty mode clears it)",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				if len(args) == 2 {
					return a.store.SetChecker(args[0], args[1])
				}
				checker, err := a.store.Checker(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), checker)
				return nil
			},
		},
		&cobra.Command{
			Use:   "export <name> [file]",
			Short: "Write a test set in text format to a file or stdout",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				text, err := a.store.Export(args[0])
				if err != nil {
					return err
				}
				if len(args) == 2 {
					return os.WriteFile(args[1], []byte(text), 0o644)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			},
		},
		&cobra.Command{
			Use:   "import <name> [file]",
			Short: "Replace a test set with text format read from a file or stdin",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				var (
					data []byte
					err  error
				)
				if len(args) == 2 {
					data, err = os.ReadFile(args[1])
				} else {
					data, err = io.ReadAll(cmd.InOrStdin())
				}
				if err != nil {
					return err
				}
				return a.store.Import(args[0], string(data))
			},
		},
	)
	return cmd
}

func newCasesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cases",
		Short: "Manage the cases of a test set",
	}

	var (
		inputFile, outputFile string
		at                    int
		disabled              bool
	)
	add := &cobra.Command{
		Use:   "add <set>",
		Short: "Add a case from files (input from stdin when --in is omitted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				input []byte
				err   error
			)
			if inputFile != "" {
				input, err = os.ReadFile(inputFile)
			} else {
				input, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}

			tc := store.TestCase{Input: string(input), Enabled: !disabled}
			if outputFile != "" {
				out, err := os.ReadFile(outputFile)
				if err != nil {
					return err
				}
				expected := string(out)
				tc.Expected = &expected
			}

			index := at
			if at < 0 {
				index, err = a.store.AppendCase(args[0], tc)
			} else {
				err = a.store.InsertCase(args[0], at, tc)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added case %d\n", index)
			return nil
		},
	}
	add.Flags().StringVar(&inputFile, "in", "", "input file")
	add.Flags().StringVar(&outputFile, "out", "", "expected output file (omit to run unchecked)")
	add.Flags().IntVar(&at, "at", -1, "insert at index instead of appending")
	add.Flags().BoolVar(&disabled, "disabled", false, "add the case disabled")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list <set>",
			Short: "List the cases of a test set",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cases, err := a.store.Cases(args[0])
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "INDEX\tENABLED\tINPUT\tEXPECTED")
				for i, c := range cases {
					expected := "-"
					if c.Expected != nil {
						expected = preview(*c.Expected)
					}
					fmt.Fprintf(tw, "%d\t%t\t%s\t%s\n", i, c.Enabled, preview(c.Input), expected)
				}
				return tw.Flush()
			},
		},
		add,
		&cobra.Command{
			Use:     "rm <set> <index>",
			Aliases: []string{"remove"},
			Short:   "Remove a case",
			Args:    cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				i, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				return a.store.RemoveCase(args[0], i)
			},
		},
		&cobra.Command{
			Use:   "swap <set> <i> <j>",
			Short: "Swap two cases",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				i, err := parseIndex(args[1])
				if err != nil {
					return err
				}
				j, err := parseIndex(args[2])
				if err != nil {
					return err
				}
				return a.store.SwapCases(args[0], i, j)
			},
		},
		toggleCmd(a, "enable", true),
		toggleCmd(a, "disable", false),
	)
	return cmd
}

func toggleCmd(a *app, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <set> <index>",
		Short: verb + " a case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			i, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			return a.store.SetEnabled(args[0], i, enabled)
		},
	}
}

func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid case index %q", s)
	}
	return i, nil
}

// preview shortens s to one line for tables.
func preview(s string) string {
	const width = 32
	q := strconv.Quote(s)
	if len(q) > width {
		q = q[:width-3] + "..."
	}
	return q
}
