package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/CodeRushOJ/croj-runner/internal/sandbox"
)

func newLanguagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "languages",
		Short: "List the source extensions that can be run",
		Args:  cobra.NoArgs,
		// no workspace needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := sandbox.DefaultConfig()
			reg := sandbox.NewRegistry(cfg)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EXT\tLANGUAGE\tCOMPILE\tRUN")
			for _, ext := range reg.Extensions() {
				lang, err := reg.Lookup("main." + ext)
				if err != nil {
					return err
				}
				compile := "-"
				if lang.Compiled() {
					compile = lang.Compile.Command
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ext, lang.Name, compile, lang.Run.Command)
			}
			return tw.Flush()
		},
	}
}
