// Package heartbeat triggers session-less agent runs on a fixed interval.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/wagiedev/codex-relay/internal/turn"
)

// Runner runs one heartbeat turn.
type Runner interface {
	GenerateHeartbeat(ctx context.Context, text string) (turn.Result, error)
}

// Reporter delivers heartbeat output to a channel.
type Reporter interface {
	SendMessage(ctx context.Context, channelID, text string) error
}

// Outcome is what a tick did.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSkipped   Outcome = "skipped"
)

// TickResult describes one tick.
type TickResult struct {
	RunID      string
	Outcome    Outcome
	SkipReason string
	Err        error
	Alert      string
}

// Config configures a Scheduler.
type Config struct {
	Logger *slog.Logger

	// Interval between ticks. Must be positive for Run.
	Interval time.Duration

	// Prompt is the heartbeat text handed to the runner.
	Prompt string

	// Channel receives the assistant text of a heartbeat and failure alerts.
	// Empty disables reporting.
	Channel string
}

// Scheduler fires heartbeats. A tick is skipped while the previous heartbeat
// is still running.
type Scheduler struct {
	log      *slog.Logger
	cfg      Config
	runner   Runner
	reporter Reporter
	state    State
}

// NewScheduler creates a scheduler. reporter may be nil.
func NewScheduler(cfg Config, runner Runner, reporter Reporter) *Scheduler {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Scheduler{
		log:      log.With("component", "heartbeat"),
		cfg:      cfg,
		runner:   runner,
		reporter: reporter,
	}
}

// State exposes the scheduler state.
func (s *Scheduler) State() *State {
	return &s.state
}

// Run ticks every Interval until ctx is done, then waits for the heartbeat
// in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %s", s.cfg.Interval)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	s.log.Info("Heartbeat scheduler started", "interval", s.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			wg.Go(func() { s.Tick(ctx) })
		}
	}
}

// Tick runs one heartbeat unless one is already running.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	if strings.TrimSpace(s.cfg.Prompt) == "" {
		return TickResult{Outcome: OutcomeSkipped, SkipReason: "empty_prompt"}
	}

	if !s.state.Start() {
		s.log.Debug("Heartbeat skipped", "reason", "already_running")

		return TickResult{Outcome: OutcomeSkipped, SkipReason: "already_running"}
	}

	runID := ulid.Make().String()
	log := s.log.With("run_id", runID)
	started := time.Now()

	log.Debug("Heartbeat started")

	res, err := s.runner.GenerateHeartbeat(ctx, s.cfg.Prompt)
	if err != nil {
		alert, msg := s.state.EndFailure(err)
		log.Warn("Heartbeat failed", "error", err, "elapsed", time.Since(started))

		result := TickResult{RunID: runID, Outcome: OutcomeFailed, Err: err}

		if alert {
			log.Error("Heartbeat failing repeatedly", "alert", msg)
			result.Alert = msg
			s.report(ctx, log, "ALERT: "+msg)
		}

		return result
	}

	s.state.EndSuccess(time.Now())
	log.Info("Heartbeat completed", "turn_id", res.TurnID, "elapsed", time.Since(started))

	if text := strings.TrimSpace(res.AssistantText); text != "" {
		s.report(ctx, log, text)
	}

	return TickResult{RunID: runID, Outcome: OutcomeCompleted}
}

func (s *Scheduler) report(ctx context.Context, log *slog.Logger, text string) {
	if s.reporter == nil || s.cfg.Channel == "" {
		return
	}

	if err := s.reporter.SendMessage(ctx, s.cfg.Channel, text); err != nil {
		log.Warn("Failed to report heartbeat", "channel", s.cfg.Channel, "error", err)
	}
}
