package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	relay "github.com/wagiedev/codex-relay"
)

func newHeartbeatCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "heartbeat [prompt]",
		Short: "Run one heartbeat turn and print the agent's answer",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := loggerFromViper(v, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			cfg := settingsFromViper(v)

			text := cfg.HeartbeatPrompt
			if len(args) == 1 {
				text = args[0]
			}

			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("missing heartbeat prompt (pass it as an argument or set heartbeat.prompt)")
			}

			persona, err := cfg.persona()
			if err != nil {
				return err
			}

			r, err := relay.New(cfg.relayOptions(logger, persona)...)
			if err != nil {
				return err
			}

			defer func() {
				if err := r.Close(); err != nil {
					logger.Warn("Failed to close relay", "error", err)
				}
			}()

			res, err := r.GenerateHeartbeat(cmd.Context(), text)
			if err != nil {
				return fmt.Errorf("heartbeat: %w", err)
			}

			if answer := strings.TrimSpace(res.AssistantText); answer != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), answer)
			}

			return nil
		},
	}

	cmd.Flags().String("prompt", "", "Heartbeat prompt (overrides heartbeat.prompt).")
	_ = v.BindPFlag("heartbeat.prompt", cmd.Flags().Lookup("prompt"))

	return cmd
}
