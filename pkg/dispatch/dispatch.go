// Package dispatch runs blocking operations off the caller's goroutine and delivers
// each result exactly once on a caller-chosen Dispatcher.
//
// A Queue is the serial context a presentation layer owns: work dispatched to it never
// runs concurrently with other work on the same Queue, so completion handlers may touch
// caller state without extra locking.
//
//	queue := dispatch.NewQueue(16)
//	defer queue.Close()
//
//	call := dispatch.Go(ctx, queue, func(ctx context.Context) ([]course.Course, error) {
//	    return client.FetchCourses(ctx, url)
//	}, func(out dispatch.Outcome[[]course.Course]) {
//	    render(out.Value, out.Err)
//	})
//	<-call.Done()
package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher schedules fn for execution.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Dispatch calls f(fn).
func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// Inline runs dispatched work immediately on the dispatching goroutine.
var Inline Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// Queue executes dispatched functions one at a time, in order, on a dedicated goroutine.
// Dispatch never blocks, so work running on the queue may dispatch more work to it.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	closed  bool

	wake    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewQueue starts a serial queue. buffer presizes the pending list.
func NewQueue(buffer int) *Queue {
	if buffer < 0 {
		buffer = 0
	}
	q := &Queue{
		pending: make([]func(), 0, buffer),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *Queue) loop() {
	defer close(q.stopped)
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Dispatch enqueues fn. After Close, fn runs inline on the caller so no delivery is lost.
func (q *Queue) Dispatch(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		fn()
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.signal()
}

// Close stops accepting work and waits for already queued functions to finish.
// It must not be called from a function running on the queue.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.signal()
	})
	<-q.stopped
}

// Outcome is the terminal result of one call.
type Outcome[T any] struct {
	CallID uuid.UUID
	Value  T
	Err    error
}

// Call is the handle for one in-flight operation.
type Call struct {
	ID     uuid.UUID
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel cancels the context passed to the operation. Delivery still happens once,
// carrying whatever error the operation returns.
func (c *Call) Cancel() {
	if c != nil && c.cancel != nil {
		c.cancel()
	}
}

// Done is closed after the completion handler has returned.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Go runs op on a new goroutine and hands its result to done through d.
// done is invoked exactly once; a nil d delivers inline on the worker goroutine.
func Go[T any](ctx context.Context, d Dispatcher, op func(context.Context) (T, error), done func(Outcome[T])) *Call {
	if ctx == nil {
		ctx = context.Background()
	}
	if d == nil {
		d = Inline
	}

	callCtx, cancel := context.WithCancel(ctx)
	call := &Call{
		ID:     uuid.New(),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		value, err := op(callCtx)
		out := Outcome[T]{CallID: call.ID, Value: value, Err: err}
		d.Dispatch(func() {
			defer close(call.done)
			defer cancel()
			if done != nil {
				done(out)
			}
		})
	}()

	return call
}
