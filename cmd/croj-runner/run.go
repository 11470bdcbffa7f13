package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CodeRushOJ/croj-runner/internal/engine"
	"github.com/CodeRushOJ/croj-runner/internal/events"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		set     string
		verbose bool
		kafka   kafkaFlags
	)

	cmd := &cobra.Command{
		Use:   "run <source>",
		Short: "Compile a source file and run it against the enabled cases of a test set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := kafka.publisher(a)
			if err != nil {
				return err
			}

			out := newPrinter(cmd.OutOrStdout(), verbose)
			m := engine.NewManager(engine.Config{
				Registry:    registryFor(a),
				Cases:       a.store,
				Options:     a.opts,
				Sink:        events.Tee(out, sinkOrNil(pub)),
				Logger:      a.log,
				CheckerRoot: a.workspace,
			})
			// the terminal is always ready for the next run
			out.onReset = func() { _ = m.ResetAcknowledged() }

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			run, err := m.Start(ctx, engine.StartRequest{Source: args[0], TestSet: set})
			if err != nil {
				return err
			}

			select {
			case <-run.Done():
			case <-ctx.Done():
				a.log.Warn("interrupted, halting run")
				_ = m.Halt()
				<-run.Done()
			}

			if pub != nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), publishFlushTimeout)
				defer cancel()
				if err := pub.Close(closeCtx); err != nil {
					a.log.Warn("failed to close kafka publisher", "err", err)
				}
			}

			if run.Halted() {
				return errCasesFailed
			}
			if compile := run.CompileOutput(); compile.Fatal {
				out.compileFailed(compile, run.CaseCount())
				return errCasesFailed
			}
			if !out.summary(run.Results(), run.CaseCount()) {
				return errCasesFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&set, "set", "s", "", "test set to run (default: the curTestSet option)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "stream program output while it runs")
	kafka.register(cmd)
	return cmd
}
