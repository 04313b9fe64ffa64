// Package runloop serializes all protocol state changes of one editor
// session onto a single goroutine. Network readers, timers and async I/O
// never touch session state directly; they Post closures instead.
package runloop

import (
	"context"
	"errors"
	"sync"
)

// ErrStopped is returned by Run once the loop has been stopped.
var ErrStopped = errors.New("runloop stopped")

// Poster accepts work for the owning loop.
type Poster interface {
	// Post queues fn. It returns false if the loop no longer accepts work.
	Post(fn func()) bool
}

// PosterFunc adapts a function to Poster.
type PosterFunc func(fn func()) bool

func (f PosterFunc) Post(fn func()) bool { return f(fn) }

// Inline runs posted work immediately on the caller's goroutine. Tests use
// it to drive components synchronously.
func Inline() Poster {
	return PosterFunc(func(fn func()) bool {
		fn()
		return true
	})
}

// Loop executes posted closures in FIFO order. The queue is unbounded so
// that work running on the loop can post follow-up work without blocking
// on itself.
type Loop struct {
	mu       sync.Mutex
	queue    []func()
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a loop whose queue starts with the given capacity.
func New(capacity int) *Loop {
	if capacity <= 0 {
		capacity = 256
	}
	return &Loop{
		queue: make([]func(), 0, capacity),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Post queues fn. It never blocks.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.done:
		return false
	default:
	}

	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Run processes work until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return ErrStopped
		case <-l.wake:
			l.mu.Lock()
			batch := l.queue
			l.queue = nil
			l.mu.Unlock()

			for _, fn := range batch {
				select {
				case <-l.done:
					return ErrStopped
				default:
				}
				fn()
			}
		}
	}
}

// Stop makes the loop refuse further work. Queued work is discarded.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop has been stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}
