package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodeRushOJ/croj-runner/internal/engine"
	"github.com/CodeRushOJ/croj-runner/internal/events"
	"github.com/CodeRushOJ/croj-runner/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr      string
		heartbeat time.Duration
		kafka     kafkaFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over HTTP with an SSE event stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := kafka.publisher(a)
			if err != nil {
				return err
			}

			sbCfg := a.sandboxConfig()
			reg := registryFor(a)
			hub := server.NewHub(a.log)
			m := engine.NewManager(engine.Config{
				Registry:    reg,
				Cases:       a.store,
				Options:     a.opts,
				Sink:        events.Tee(hub, sinkOrNil(pub)),
				Logger:      a.log,
				CheckerRoot: a.workspace,
			})
			hub.AutoAck(m.ResetAcknowledged)

			srv := server.New(server.Config{
				Manager:     m,
				Store:       a.store,
				Options:     a.opts,
				Registry:    reg,
				Hub:         hub,
				Logger:      a.log,
				HostTempDir: sbCfg.HostTempDir,
				Heartbeat:   heartbeat,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = srv.ListenAndServe(ctx, addr)

			if pub != nil {
				closeCtx, cancel := context.WithTimeout(context.Background(), publishFlushTimeout)
				defer cancel()
				if cerr := pub.Close(closeCtx); cerr != nil {
					a.log.Warn("failed to close kafka publisher", "err", cerr)
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&addr, "addr", envOr("CROJ_ADDR", ":8080"), "listen address")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 15*time.Second, "SSE keep-alive period, 0 disables")
	kafka.register(cmd)
	return cmd
}
