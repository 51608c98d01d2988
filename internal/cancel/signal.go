// Package cancel provides the one-shot signal used to report that an
// interrupt has taken effect.
package cancel

import (
	"context"
	"sync"
)

// Signal is closed at most once. Resolving an already resolved signal is a
// no-op.
type Signal struct {
	once sync.Once
	done chan struct{}
}

func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

func (s *Signal) Resolve() {
	s.once.Do(func() { close(s.done) })
}

func (s *Signal) Done() <-chan struct{} {
	return s.done
}

func (s *Signal) Resolved() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal resolves or ctx ends.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
