package heartbeat

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// FailureThreshold is the number of consecutive failures that raises an
// alert.
const FailureThreshold = 3

// State tracks whether a heartbeat is running and how the recent ones went.
type State struct {
	mu          sync.Mutex
	running     bool
	failures    int
	lastSuccess time.Time
	lastError   string
}

// Start marks a run as in progress. It reports false when one already is.
func (s *State) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	s.running = true

	return true
}

// EndSuccess ends the run and resets the failure count.
func (s *State) EndSuccess(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.failures = 0
	s.lastError = ""
	s.lastSuccess = now
}

// EndFailure ends the run and counts the failure. Every FailureThreshold
// consecutive failures it returns true and an alert message.
func (s *State) EndFailure(err error) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.failures++

	if err != nil {
		s.lastError = strings.TrimSpace(err.Error())
	}

	if s.failures < FailureThreshold {
		return false, ""
	}

	msg := fmt.Sprintf("heartbeat failed %d times in a row", s.failures)
	if s.lastError != "" {
		msg += ": " + s.lastError
	}

	s.failures = 0

	return true, msg
}

// Snapshot returns the current state.
func (s *State) Snapshot() (failures int, lastSuccess time.Time, lastError string, running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.failures, s.lastSuccess, s.lastError, s.running
}
