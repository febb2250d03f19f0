package types

import (
	"context"
	"io"
	"iter"
	"sync"
)

// Stream is a cancellable asynchronous sequence of values produced by a
// LocalService read. A Stream has a single subscriber; calling the read
// operation again starts a new subscription.
//
// Every Stream must be drained or closed. Close cancels the producer and
// blocks until its termination path (handle release, monitoring update) ran.
type Stream[T any] struct {
	ch     chan T
	done   chan struct{}
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Emitter is the producer side of a Stream.
type Emitter[T any] struct {
	ctx    context.Context
	s      *Stream[T]
	finish sync.Once
}

// NewStream returns a Stream and its Emitter. The emitter's context is
// derived from parent and is cancelled by Stream.Close.
func NewStream[T any](parent context.Context) (*Stream[T], *Emitter[T]) {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream[T]{
		ch:     make(chan T),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	return s, &Emitter[T]{ctx: ctx, s: s}
}

// Context is cancelled when the subscriber is no longer interested.
func (e *Emitter[T]) Context() context.Context { return e.ctx }

// Send delivers v to the subscriber. It returns false when the stream was
// cancelled before v was received.
func (e *Emitter[T]) Send(v T) bool {
	select {
	case e.s.ch <- v:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// Finish terminates the stream with err (nil for normal completion). Only the
// first call has an effect.
func (e *Emitter[T]) Finish(err error) {
	e.finish.Do(func() {
		e.s.mu.Lock()
		e.s.err = err
		e.s.mu.Unlock()
		close(e.s.ch)
		close(e.s.done)
		e.s.cancel()
	})
}

// C returns the channel values are delivered on. It is closed when the
// stream terminates; check Err afterwards.
func (s *Stream[T]) C() <-chan T { return s.ch }

// Done is closed once the stream terminated and its resources were released.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Err returns the error the stream terminated with. It is nil while the
// stream is running, after normal completion and after cancellation.
func (s *Stream[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Next blocks for the next value. It returns io.EOF after normal completion
// and the stream's error after a failure.
func (s *Stream[T]) Next(ctx context.Context) (T, error) {
	var zero T
	select {
	case v, ok := <-s.ch:
		if !ok {
			if err := s.Err(); err != nil {
				return zero, err
			}
			return zero, io.EOF
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// First returns the first value and closes the stream.
func (s *Stream[T]) First(ctx context.Context) (T, error) {
	defer s.Close()
	return s.Next(ctx)
}

// All iterates the stream until it terminates. A terminal error is yielded
// once as the last pair. Breaking out of the loop closes the stream.
func (s *Stream[T]) All() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer s.Close()
		for v := range s.ch {
			if !yield(v, nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			var zero T
			yield(zero, err)
		}
	}
}

// Close cancels the stream and waits for its termination path to finish.
// Close is idempotent and returns the stream's terminal error, if any.
func (s *Stream[T]) Close() error {
	s.cancel()
	<-s.done
	return s.Err()
}

// Map returns a stream of fn applied to every value of src. Closing the
// returned stream closes src.
func Map[T, U any](src *Stream[T], fn func(T) U) *Stream[U] {
	out, em := NewStream[U](context.Background())
	go func() {
		defer func() { em.Finish(src.Err()) }()
		for {
			select {
			case v, ok := <-src.C():
				if !ok {
					return
				}
				if !em.Send(fn(v)) {
					src.Close()
					return
				}
			case <-em.Context().Done():
				src.Close()
				return
			}
		}
	}()
	return out
}
