package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	relay "github.com/wagiedev/codex-relay"
	"github.com/wagiedev/codex-relay/internal/console"
	"github.com/wagiedev/codex-relay/internal/heartbeat"
	"github.com/wagiedev/codex-relay/internal/mcp"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Relay JSON-line messages from stdin to agent sessions",
		Long: `Reads one JSON object per line from stdin, e.g.
  {"channel":"general","author":"ana","text":"hello"}
and hands it to the session of its channel. Agents reply through the
relay's tool server; replies are written to stdout as JSON lines.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, v)
		},
	}

	cmd.Flags().String("tools-listen", "", "Listen address of the agent tool server.")
	cmd.Flags().Duration("heartbeat-interval", 0, "Heartbeat interval (0 disables).")

	_ = v.BindPFlag("tools.listen", cmd.Flags().Lookup("tools-listen"))
	_ = v.BindPFlag("heartbeat.interval", cmd.Flags().Lookup("heartbeat-interval"))

	return cmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	logger, err := loggerFromViper(v, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	cfg := settingsFromViper(v)

	persona, err := cfg.persona()
	if err != nil {
		return err
	}

	platform := console.New(logger, cmd.OutOrStdout(), 0)

	toolServer, err := mcp.NewServer(logger, platform, version)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	listening := make(chan string, 1)

	g.Go(func() error {
		return toolServer.ListenAndServe(gctx, cfg.ToolsListen, func(addr net.Addr) {
			listening <- mcp.EndpointBase(addr)
		})
	})

	var base string

	select {
	case base = <-listening:
	case <-gctx.Done():
		return g.Wait()
	}

	r, err := relay.New(append(cfg.relayOptions(logger, persona), relay.WithToolServer(base))...)
	if err != nil {
		cancel()

		return errors.Join(err, g.Wait())
	}

	defer func() {
		if err := r.Close(); err != nil {
			logger.Warn("Failed to close relay", "error", err)
		}
	}()

	g.Go(func() error {
		// End of input ends the relay.
		defer cancel()

		return platform.Serve(gctx, cmd.InOrStdin(), r.Submit)
	})

	if cfg.HeartbeatInterval > 0 {
		scheduler := heartbeat.NewScheduler(heartbeat.Config{
			Logger:   logger,
			Interval: cfg.HeartbeatInterval,
			Prompt:   cfg.HeartbeatPrompt,
			Channel:  cfg.HeartbeatChannel,
		}, r, platform)

		g.Go(func() error { return scheduler.Run(gctx) })
	}

	logger.Info("Relay started", "tool_server", base, "heartbeat_interval", cfg.HeartbeatInterval)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	return nil
}
