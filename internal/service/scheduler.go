package service

import (
	"context"
	"errors"
	"sync"
)

// ErrSessionClosed is returned when an event is posted to a closed session.
var ErrSessionClosed = errors.New("session closed")

// Scheduler runs blocking work away from the session's event loop and hands
// the result back to it. done always runs on the loop.
type Scheduler interface {
	Run(work func(ctx context.Context) error, done func(err error))
}

// Loop executes closures one at a time on a single goroutine.
type Loop struct {
	events chan func()
	quit   chan struct{}
	exited chan struct{}
	once   sync.Once
}

// NewLoop creates a stopped loop; call Start to run it.
func NewLoop() *Loop {
	return &Loop{
		events: make(chan func(), 64),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

// Start runs the loop until Close.
func (l *Loop) Start() {
	go func() {
		defer close(l.exited)
		for {
			select {
			case fn := <-l.events:
				fn()
			case <-l.quit:
				return
			}
		}
	}()
}

// Post queues fn. It blocks while the queue is full and fails once the loop is closed.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.quit:
		return ErrSessionClosed
	default:
	}
	select {
	case l.events <- fn:
		return nil
	case <-l.quit:
		return ErrSessionClosed
	}
}

// Do runs fn on the loop and waits for it to return.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	if err := l.Post(func() {
		defer close(ran)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-ran:
		return nil
	case <-l.exited:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the loop. Queued events that have not run are dropped.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.quit) })
	<-l.exited
}

type loopScheduler struct {
	ctx  context.Context
	loop *Loop
}

// NewLoopScheduler runs work on its own goroutine and posts done to loop.
// Work is cancelled through ctx when the session closes.
func NewLoopScheduler(ctx context.Context, loop *Loop) Scheduler {
	return &loopScheduler{ctx: ctx, loop: loop}
}

func (s *loopScheduler) Run(work func(ctx context.Context) error, done func(err error)) {
	go func() {
		err := work(s.ctx)
		// a closed session drops the completion
		_ = s.loop.Post(func() { done(err) })
	}()
}
