package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	relay "github.com/wagiedev/codex-relay"
	"github.com/wagiedev/codex-relay/internal/config"
	"github.com/wagiedev/codex-relay/internal/prompt"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("agent.approval_policy", "never")
	v.SetDefault("agent.sandbox", "workspace-write")
	v.SetDefault("agent.keep_home", false)
	v.SetDefault("turn_timeout", config.DefaultTurnTimeout)

	v.SetDefault("heartbeat.interval", time.Duration(0))
	v.SetDefault("tools.listen", "127.0.0.1:0")
}

// settings is the relay configuration read from viper.
type settings struct {
	AgentPath      string
	AgentArgs      []string
	Model          string
	ApprovalPolicy string
	Sandbox        string
	Cwd            string
	KeepHome       bool
	StateDir       string
	TurnTimeout    time.Duration

	HeartbeatInterval time.Duration
	HeartbeatPrompt   string
	HeartbeatChannel  string

	PersonaFile string
	ToolsListen string
}

func settingsFromViper(v *viper.Viper) settings {
	return settings{
		AgentPath:         strings.TrimSpace(v.GetString("agent.path")),
		AgentArgs:         v.GetStringSlice("agent.args"),
		Model:             strings.TrimSpace(v.GetString("agent.model")),
		ApprovalPolicy:    strings.TrimSpace(v.GetString("agent.approval_policy")),
		Sandbox:           strings.TrimSpace(v.GetString("agent.sandbox")),
		Cwd:               strings.TrimSpace(v.GetString("agent.cwd")),
		KeepHome:          v.GetBool("agent.keep_home"),
		StateDir:          strings.TrimSpace(v.GetString("state_dir")),
		TurnTimeout:       v.GetDuration("turn_timeout"),
		HeartbeatInterval: v.GetDuration("heartbeat.interval"),
		HeartbeatPrompt:   v.GetString("heartbeat.prompt"),
		HeartbeatChannel:  strings.TrimSpace(v.GetString("heartbeat.channel")),
		PersonaFile:       strings.TrimSpace(v.GetString("prompt.persona_file")),
		ToolsListen:       strings.TrimSpace(v.GetString("tools.listen")),
	}
}

// persona loads the persona file, or returns the built-in one.
func (s settings) persona() (prompt.Persona, error) {
	if s.PersonaFile == "" {
		return prompt.DefaultPersona(), nil
	}

	return prompt.LoadPersona(s.PersonaFile)
}

// relayOptions maps the settings onto relay options.
func (s settings) relayOptions(logger *slog.Logger, persona prompt.Persona) []relay.Option {
	opts := []relay.Option{
		relay.WithLogger(logger),
		relay.WithClientInfo("codex-relay", version),
		relay.WithPersona(persona),
		relay.WithApprovalPolicy(s.ApprovalPolicy),
		relay.WithSandboxMode(s.Sandbox),
		relay.WithTurnTimeout(s.TurnTimeout),
		relay.WithKeepHome(s.KeepHome),
		relay.WithHeartbeatChannel(s.HeartbeatChannel),
		relay.WithStderr(func(line string) {
			logger.Debug("agent stderr", "line", line)
		}),
	}

	if s.AgentPath != "" {
		opts = append(opts, relay.WithAgentPath(s.AgentPath))
	}

	if len(s.AgentArgs) > 0 {
		opts = append(opts, relay.WithArgs(s.AgentArgs...))
	}

	if s.Model != "" {
		opts = append(opts, relay.WithModel(s.Model))
	}

	if s.Cwd != "" {
		opts = append(opts, relay.WithCwd(s.Cwd))
	}

	if s.StateDir != "" {
		opts = append(opts, relay.WithStateDir(s.StateDir))
	}

	return opts
}

func loggerFromViper(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(v.GetString("logging.level"))
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: v.GetBool("logging.add_source"),
	}

	format := v.GetString("logging.format")

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown logging.format: %s", format)
	}
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown logging.level: %s", s)
	}
}
