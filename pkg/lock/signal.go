package lock

import (
	"context"
	"sync"
)

// Signal is a single-use latch: it goes from pending to released exactly
// once and stays released. Release may carry an error for the waiter.
type Signal struct {
	once sync.Once
	done chan struct{}
	err  error
}

func NewSignal() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Release opens the latch. Only the first call has an effect.
func (s *Signal) Release(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

// Done is closed once the signal is released.
func (s *Signal) Done() <-chan struct{} { return s.done }

// Released reports whether Release has been called.
func (s *Signal) Released() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the signal is released, returning the error it was
// released with, or until ctx is done, returning ctx.Err().
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
