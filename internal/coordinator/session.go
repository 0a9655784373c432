package coordinator

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
)

// session is the per-channel state. Fields behind mu are written by jobs on
// the session queue; Close reads them from outside to shut the session down.
type session struct {
	id        string
	channelID string
	log       *slog.Logger
	queue     *queue

	mu           sync.Mutex
	runtime      Runtime
	threadID     string
	activeTurnID string
	closed       bool
	cause        error
}

func newSession(log *slog.Logger, channelID string) *session {
	id := ulid.Make().String()

	return &session{
		id:        id,
		channelID: channelID,
		log:       log.With("channel", channelID, "session_id", id),
		queue:     newQueue(),
	}
}

// attach stores the runtime. It reports false when the session was shut down
// while the runtime was being created.
func (s *session) attach(rt Runtime) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	s.runtime = rt

	return true
}

func (s *session) setThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.threadID = threadID
}

func (s *session) setActiveTurn(turnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeTurnID = turnID
}

// snapshot returns what an append needs. ok is false once the session is
// closed.
func (s *session) snapshot() (rt Runtime, threadID, activeTurnID string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.runtime, s.threadID, s.activeTurnID, !s.closed
}

// isActive reports whether turnID still controls the open session.
// closed is true when the session is already gone, with cause set when it
// was shut down from outside.
func (s *session) isActive(turnID string) (active, closed bool, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, true, s.cause
	}

	return s.activeTurnID == turnID, false, nil
}

func (s *session) shutdownCause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cause
}

// shutdown marks the session closed, refuses further queue pushes and closes
// the runtime. Only the first call does anything.
func (s *session) shutdown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()

		return
	}

	s.closed = true
	s.cause = cause
	s.activeTurnID = ""
	rt := s.runtime
	s.mu.Unlock()

	s.queue.close()

	if rt == nil {
		return
	}

	if err := rt.Close(); err != nil {
		s.log.Warn("Failed to close runtime", "error", err)
	}

	s.log.Debug("Session closed")
}
