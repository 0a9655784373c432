package subprocess

import (
	"strings"
	"sync"
)

// maxStderrTail caps the stderr kept for error reporting. Older lines are
// dropped once the cap is reached; the callback still receives every line.
const maxStderrTail = 64 * 1024

type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	size  int
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	b.size += len(line) + 1

	for b.size > b.limit && len(b.lines) > 1 {
		b.size -= len(b.lines[0]) + 1
		b.lines = b.lines[1:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return strings.TrimSpace(strings.Join(b.lines, "\n"))
}
