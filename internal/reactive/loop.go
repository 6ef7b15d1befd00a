// Package reactive runs conference state on a single goroutine and lets
// components observe each other's state changes.
//
// All Value, React and Watch calls must happen on the loop goroutine (or
// before Start). Blocking work goes through Async, whose completion is posted
// back to the loop.
package reactive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrLoopClosed = errors.New("loop closed")

const idlePollInterval = time.Millisecond

// Loop executes posted closures one at a time, in order.
type Loop struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	queue  []task
	wake   chan struct{}
	closed bool

	// pending counts queued closures plus running async tasks.
	pending atomic.Int64
	async   conc.WaitGroup

	started atomic.Bool
	stopped chan struct{}
}

// task is a queued closure. drop runs instead of run when the loop closes first.
type task struct {
	run  func()
	drop func()
}

func NewLoop(parent context.Context) *Loop {
	ctx, cancel := context.WithCancel(parent)
	return &Loop{
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
}

// Context is cancelled when the loop closes. Async work receives it.
func (l *Loop) Context() context.Context { return l.ctx }

// Start runs the loop goroutine. Calling it twice is a no-op.
func (l *Loop) Start() {
	if !l.started.CompareAndSwap(false, true) {
		return
	}
	go l.run()
}

func (l *Loop) run() {
	defer close(l.stopped)
	for {
		select {
		case <-l.ctx.Done():
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			t := l.queue[0]
			l.queue[0] = task{}
			l.queue = l.queue[1:]
			l.mu.Unlock()

			l.exec(t.run)
			if l.ctx.Err() != nil {
				return
			}
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer l.pending.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "reactive.loop").Interface("panic", r).Msg("task panicked")
		}
	}()
	fn()
}

// Post queues fn and reports whether it was accepted.
// Safe to call from any goroutine, including the loop itself.
func (l *Loop) Post(fn func()) bool {
	return l.post(task{run: fn})
}

func (l *Loop) post(t task) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		if t.drop != nil {
			t.drop()
		}
		return false
	}
	l.pending.Add(1)
	l.queue = append(l.queue, t)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Call runs fn on the loop and waits for it to finish.
// It must not be called from the loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrLoopClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrLoopClosed
	}
}

// Idle blocks until no closure is queued and no async task is running.
func (l *Loop) Idle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for l.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopped:
			return ErrLoopClosed
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting work, cancels async tasks and waits for them.
// Closures still queued never run; their drop hooks do.
// It must not be called from the loop goroutine.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.mu.Unlock()

	l.cancel()
	if r := l.async.WaitAndRecover(); r != nil {
		log.Error().Str("module", "reactive.loop").Err(r.AsError()).Msg("async task panicked")
	}
	if l.started.Load() {
		<-l.stopped
	}

	l.mu.Lock()
	left := l.queue
	l.queue = nil
	l.mu.Unlock()
	for _, t := range left {
		l.pending.Add(-1)
		if t.drop != nil {
			t.drop()
		}
	}
}

// Async runs work off the loop and posts done with its result back onto it.
// done is dropped when the loop has closed in the meantime.
func Async[T any](l *Loop, work func(ctx context.Context) (T, error), done func(T, error)) {
	AsyncRelease(l, work, done, nil)
}

// AsyncRelease is Async for results that own resources. release receives a
// successful result that done will never see because the loop closed.
func AsyncRelease[T any](l *Loop, work func(ctx context.Context) (T, error), done func(T, error), release func(T)) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	defer l.mu.Unlock()
	l.pending.Add(1)
	l.async.Go(func() {
		defer l.pending.Add(-1)
		v, err := work(l.ctx)
		t := task{run: func() { done(v, err) }}
		if release != nil && err == nil {
			t.drop = func() { release(v) }
		}
		l.post(t)
	})
}
