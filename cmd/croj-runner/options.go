package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newOptionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "options",
		Short: "Show or change options",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print every option as YAML",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				defer enc.Close()
				return enc.Encode(a.opts.Snapshot())
			},
		},
		&cobra.Command{
			Use:   "get <category.key>",
			Short: "Print one option",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				category, key, err := splitOption(args[0])
				if err != nil {
					return err
				}
				v, err := a.opts.Get(category, key)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <category.key> <value>",
			Short: "Change one option and save the options file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				category, key, err := splitOption(args[0])
				if err != nil {
					return err
				}
				if err := a.opts.Set(category, key, args[1]); err != nil {
					return err
				}
				return a.opts.Save()
			},
		},
	)
	return cmd
}

func splitOption(s string) (category, key string, err error) {
	category, key, ok := strings.Cut(s, ".")
	if !ok || category == "" || key == "" {
		return "", "", fmt.Errorf("option must be written as category.key, got %q", s)
	}
	return category, key, nil
}
