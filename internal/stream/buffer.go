package stream

import (
	"sync"

	"cellrun/internal/domain"
)

// LogBuffer accumulates the log lines of one cell run. It is append-only and
// keeps delivery order; sessions may call Append from their own goroutines.
type LogBuffer struct {
	mu    sync.Mutex
	lines []domain.LogLine
	tee   func([]domain.LogLine)
}

func NewLogBuffer() *LogBuffer {
	return &LogBuffer{}
}

// Tee forwards each appended chunk to fn after it is recorded.
func (b *LogBuffer) Tee(fn func([]domain.LogLine)) *LogBuffer {
	b.mu.Lock()
	b.tee = fn
	b.mu.Unlock()
	return b
}

// Append records lines and then hands a copy to the tee outside the lock.
// Sessions deliver chunks from a single emitter, which keeps tee calls in
// delivery order.
func (b *LogBuffer) Append(lines []domain.LogLine) {
	if len(lines) == 0 {
		return
	}
	b.mu.Lock()
	b.lines = append(b.lines, lines...)
	tee := b.tee
	b.mu.Unlock()
	if tee != nil {
		tee(append([]domain.LogLine(nil), lines...))
	}
}

func (b *LogBuffer) Lines() []domain.LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.LogLine, len(b.lines))
	copy(out, b.lines)
	return out
}

func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.lines)
}
