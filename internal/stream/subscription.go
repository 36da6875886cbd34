// Package stream provides the push-based stream primitives the service worker
// clients are composed from: a multicast Broadcast, a per-subscriber
// Subscription and a handful of operators (filter, map, merge, switch-latest).
//
// Every Subscription owns an unbounded FIFO queue drained by its own goroutine,
// so publishers never block and never drop values, and each subscriber sees
// values in the order they were published.
package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next and First when a stream completes without
// producing a value.
var ErrClosed = errors.New("stream: closed")

// Stream is anything that can be subscribed to.
type Stream[T any] interface {
	Subscribe() *Subscription[T]
}

// Func adapts a plain function to the Stream interface.
type Func[T any] func() *Subscription[T]

// Subscribe calls f.
func (f Func[T]) Subscribe() *Subscription[T] { return f() }

// Subscription is one subscriber's view of a stream.
// Values are read from C; once C is closed, Err reports why.
type Subscription[T any] struct {
	out    chan T
	notify chan struct{}
	done   chan struct{}

	mu       sync.Mutex
	queue    []T
	finished bool
	closed   bool
	err      error
	closers  []func()

	closeOnce sync.Once
}

func newSubscription[T any]() *Subscription[T] {
	s := &Subscription[T]{
		out:    make(chan T),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s
}

// C returns the channel values are delivered on. It is closed when the
// stream completes, fails, or the subscription is closed.
func (s *Subscription[T]) C() <-chan T { return s.out }

// Done is closed when the subscriber calls Close.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Err returns the terminal error of the stream, or nil if it completed
// normally, was closed by the subscriber, or is still running.
func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next blocks until the next value, the end of the stream, or ctx is done.
func (s *Subscription[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-s.out:
		if !ok {
			if err := s.Err(); err != nil {
				return zero, err
			}
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close detaches the subscriber. Queued values are discarded.
// It is safe to call Close more than once.
func (s *Subscription[T]) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.finished = true
		s.queue = nil
		closers := s.closers
		s.closers = nil
		s.mu.Unlock()

		close(s.done)
		for _, fn := range closers {
			fn()
		}
	})
}

// onClose registers fn to run when the subscriber closes. If the
// subscription is already closed fn runs immediately.
func (s *Subscription[T]) onClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

func (s *Subscription[T]) push(v T) bool {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.wake()
	return true
}

// finish ends the stream after the queued values are delivered.
// Only the first call has an effect.
func (s *Subscription[T]) finish(err error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return
	}
	s.finished = true
	s.err = err
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			v := s.queue[0]
			var zero T
			s.queue[0] = zero
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case s.out <- v:
			case <-s.done:
				return
			}
			continue
		}
		finished := s.finished
		s.mu.Unlock()

		if finished {
			return
		}
		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
