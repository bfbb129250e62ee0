package mdlive

import (
	"context"
	"sync"
)

// Dispatcher runs tasks on an execution context, such as the goroutine that
// owns a host's display surface.
type Dispatcher interface {
	Dispatch(fn func())
}

// InlineDispatcher runs tasks in the calling goroutine.
type InlineDispatcher struct{}

func (InlineDispatcher) Dispatch(fn func()) { fn() }

// EventLoop is a Dispatcher backed by one goroutine. Tasks run in the order
// they were dispatched, one at a time, inside Run.
type EventLoop struct {
	tasks chan func()
	done  chan struct{}
	once  sync.Once
}

// NewEventLoop returns a stopped loop with room for buffer queued tasks.
func NewEventLoop(buffer int) *EventLoop {
	if buffer < 1 {
		buffer = 1
	}
	return &EventLoop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Dispatch queues fn. It blocks while the queue is full and drops fn once
// the loop is stopped.
func (l *EventLoop) Dispatch(fn func()) {
	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Run executes tasks until Stop is called or ctx is done.
func (l *EventLoop) Run(ctx context.Context) error {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop ends Run. Queued tasks that have not started are dropped.
func (l *EventLoop) Stop() {
	l.once.Do(func() { close(l.done) })
}
