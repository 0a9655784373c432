package client

import (
	"context"
	"sync"

	"github.com/wagiedev/codex-relay/internal/turn"
)

// Turn is the handle of a started turn. Its result becomes available once
// Done is closed.
type Turn struct {
	ID       string
	ThreadID string

	once   sync.Once
	done   chan struct{}
	result turn.Result
}

// NewTurn creates a pending turn handle and the function that settles it.
// Runtimes other than Client use it to hand out turns; the first call to
// the settle function wins.
func NewTurn(id, threadID string) (*Turn, func(turn.Result)) {
	t := &Turn{
		ID:       id,
		ThreadID: threadID,
		done:     make(chan struct{}),
	}

	return t, t.settle
}

func (t *Turn) settle(result turn.Result) {
	t.once.Do(func() {
		if result.TurnID == "" {
			result.TurnID = t.ID
		}

		t.result = result
		close(t.done)
	})
}

// Done is closed when the turn has a result.
func (t *Turn) Done() <-chan struct{} {
	return t.done
}

// Result returns the turn result. It is the zero Result until Done is closed.
func (t *Turn) Result() turn.Result {
	select {
	case <-t.done:
		return t.result
	default:
		return turn.Result{}
	}
}

// Wait blocks until the turn has a result or ctx is done.
func (t *Turn) Wait(ctx context.Context) (turn.Result, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return turn.Result{}, ctx.Err()
	}
}
