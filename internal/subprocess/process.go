package subprocess

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/codex-relay/internal/cli"
	"github.com/wagiedev/codex-relay/internal/config"
	"github.com/wagiedev/codex-relay/internal/errors"
)

// maxLineSize is the maximum size of one stdout line. Command output is
// inlined into item notifications, so lines can be large.
const maxLineSize = 16 * 1024 * 1024

// Process implements config.Transport by spawning the agent as a child process.
type Process struct {
	log        *slog.Logger
	options    *config.Options
	discoverer cli.Discoverer

	cmd         *exec.Cmd
	proc        atomic.Pointer[os.Process]
	stdin       io.WriteCloser
	mu          sync.Mutex // Protects stdin and lifecycle flags
	writeMu     sync.Mutex // Serializes lines written to stdin
	started     bool
	closing     bool
	stdinClosed bool
	pending     <-chan error // In-flight write abandoned by a cancelled caller; guarded by writeMu

	lines  registry[string]
	errs   registry[error]
	exits  registry[config.Exit]
	errMu  sync.Mutex
	failed bool

	stderrTail *tailBuffer
	exited     chan struct{}
}

var _ config.Transport = (*Process)(nil)

// NewProcess creates a process transport. Discovery is deferred to Start.
func NewProcess(log *slog.Logger, options *config.Options) *Process {
	if options == nil {
		options = &config.Options{}
	}

	log = log.With("component", "process")

	return &Process{
		log:     log,
		options: options,
		discoverer: cli.NewDiscoverer(&cli.Config{
			AgentPath: options.AgentPath,
			Logger:    log,
		}),
		stderrTail: newTailBuffer(maxStderrTail),
		exited:     make(chan struct{}),
	}
}

// OnLine implements config.Transport.
func (p *Process) OnLine(handler func(line string)) func() { return p.lines.add(handler) }

// OnError implements config.Transport.
func (p *Process) OnError(handler func(err error)) func() { return p.errs.add(handler) }

// OnExit implements config.Transport.
func (p *Process) OnExit(handler func(exit config.Exit)) func() { return p.exits.add(handler) }

// Done is closed once the process has exited and every handler has run.
func (p *Process) Done() <-chan struct{} { return p.exited }

// Start discovers the agent binary and spawns it.
//
// Returns AgentNotFoundError if the binary cannot be located, or
// ConnectionError if the process fails to start. Either is also delivered
// to OnError handlers.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()

		return nil
	}

	p.started = true
	p.mu.Unlock()

	err := p.spawn(ctx)
	if err != nil {
		p.fail(err)
		close(p.exited)
	}

	return err
}

func (p *Process) spawn(ctx context.Context) error {
	agentPath, err := p.discoverer.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover agent: %w", err)
	}

	args := cli.BuildArgs(p.options)
	p.log.Debug("Starting agent process", "path", agentPath, "args", args)

	cwd := p.options.Cwd
	if cwd == "" {
		if cwd, err = os.Getwd(); err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	// The process outlives ctx; Close ends it.
	//nolint:gosec // G204: spawning the discovered agent binary is the purpose of this transport
	cmd := exec.Command(agentPath, args...)
	cmd.Dir = cwd
	cmd.Env = cli.BuildEnvironment(p.options)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.ConnectionError{Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.ConnectionError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errors.ConnectionError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		return &errors.ConnectionError{Err: fmt.Errorf("start process: %w", err)}
	}

	p.mu.Lock()
	p.cmd = cmd
	p.stdin = stdin
	p.mu.Unlock()
	p.proc.Store(cmd.Process)

	p.log.Info("Agent process started", "pid", cmd.Process.Pid)

	go p.run(stdout, stderr)

	return nil
}

// run pumps stdout and stderr until both close, then reaps the process.
func (p *Process) run(stdout, stderr io.Reader) {
	defer close(p.exited)

	var g errgroup.Group

	g.Go(func() error { return p.readStdout(stdout) })
	g.Go(func() error { return p.readStderr(stderr) })

	readErr := g.Wait()

	waitErr := p.cmd.Wait()

	p.mu.Lock()
	intentional := p.closing
	p.stdinClosed = true
	p.mu.Unlock()

	exit := config.Exit{
		Code:        p.cmd.ProcessState.ExitCode(),
		Err:         waitErr,
		Stderr:      p.stderrTail.String(),
		Intentional: intentional,
	}

	if readErr != nil && !intentional {
		p.fail(readErr)
	}

	if intentional {
		p.log.Debug("Agent process terminated during shutdown", "exit_code", exit.Code)
	} else if waitErr != nil {
		p.log.Error("Agent process exited with error", "exit_code", exit.Code, "stderr", exit.Stderr)
	} else {
		p.log.Info("Agent process exited")
	}

	p.exits.emit(exit)
}

func (p *Process) readStdout(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		p.lines.emit(line)
	}

	if err := scanner.Err(); err != nil {
		// The rest of the stream is unreadable; stop the process so Wait returns.
		p.kill()

		return fmt.Errorf("read stdout: %w", err)
	}

	return nil
}

func (p *Process) readStderr(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)

	for scanner.Scan() {
		line := scanner.Text()
		p.stderrTail.add(line)

		if p.options.Stderr != nil {
			p.options.Stderr(line)
		}
	}

	if err := scanner.Err(); err != nil {
		p.log.Debug("Stderr scanner error", "error", err)
	}

	return nil
}

// fail delivers err to OnError handlers at most once.
func (p *Process) fail(err error) {
	p.errMu.Lock()
	if p.failed {
		p.errMu.Unlock()

		return
	}

	p.failed = true
	p.errMu.Unlock()

	p.errs.emit(err)
}

// WriteLine serializes v and writes it to the agent's stdin followed by a newline.
//
// This method is safe for concurrent use and respects context cancellation
// even during blocking writes. A write abandoned by a cancelled caller keeps
// going in the background and the next call waits for it; stdin stays open
// until Close.
func (p *Process) WriteLine(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal line: %w", err)
	}

	data = append(data, '\n')

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	p.mu.Lock()
	stdin, closed := p.stdin, p.stdinClosed
	p.mu.Unlock()

	if stdin == nil {
		return errors.ErrTransportNotConnected
	}

	if closed {
		return errors.ErrStdinClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// A line abandoned by an earlier caller is still being written; wait for
	// it so lines never interleave.
	if p.pending != nil {
		select {
		case <-p.pending:
			p.pending = nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan error, 1)

	go func() {
		_, err := stdin.Write(data)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write to stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		// stdin is shared by every session on this agent, so the write is
		// left to finish instead of closing the pipe.
		p.pending = done

		return ctx.Err()
	}
}

// Close closes stdin and sends SIGTERM, then kills the process if it has not
// exited within the configured grace period. It's safe to call Close
// multiple times or before Start.
func (p *Process) Close() error {
	p.mu.Lock()

	if p.closing {
		p.mu.Unlock()

		return nil
	}

	p.closing = true

	if p.stdin != nil && !p.stdinClosed {
		_ = p.stdin.Close()
	}

	p.stdinClosed = true
	p.mu.Unlock()

	proc := p.proc.Load()
	if proc == nil {
		return nil
	}

	grace := p.options.GetCloseGrace()

	if err := proc.Signal(syscall.SIGTERM); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		p.log.Debug("SIGTERM failed, killing", "error", err)
		p.kill()
	}

	select {
	case <-p.exited:
		return nil
	case <-time.After(grace):
	}

	p.log.Warn("Agent process ignored SIGTERM, killing", "pid", proc.Pid)
	p.kill()

	select {
	case <-p.exited:
	case <-time.After(grace):
		return fmt.Errorf("agent process (pid %d) did not exit after kill", proc.Pid)
	}

	return nil
}

func (p *Process) kill() {
	proc := p.proc.Load()
	if proc == nil {
		return
	}

	if err := proc.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		p.log.Debug("Kill failed", "pid", proc.Pid, "error", err)
	}
}
