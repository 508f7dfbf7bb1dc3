package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

var ErrLoopClosed = errors.New("engine loop is closed")

// Scheduler runs engine work on one logical thread. Every closure handed to
// Post, After or returned from a Go work function runs on that thread, one at
// a time, so engine state needs no locks.
type Scheduler interface {
	Post(fn func())
	// After runs fn on the loop once d has elapsed. The returned cancel must
	// itself be called from the loop.
	After(d time.Duration, fn func()) (cancel func())
	// Go runs work off the loop and queues the continuation it returns.
	Go(work func() func())
	Now() time.Time
}

// LoopScheduler is the production Scheduler: a single goroutine draining a
// queue of closures.
type LoopScheduler struct {
	queue  chan func()
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func NewLoopScheduler(buffer int, logger *slog.Logger) *LoopScheduler {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoopScheduler{
		queue:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run drains the queue until ctx is cancelled or Close is called.
func (l *LoopScheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case fn := <-l.queue:
			l.run(fn)
		}
	}
}

func (l *LoopScheduler) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("engine loop task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Close stops the loop. Pending closures are dropped.
func (l *LoopScheduler) Close() {
	l.once.Do(func() { close(l.done) })
}

func (l *LoopScheduler) Post(fn func()) {
	if fn == nil {
		return
	}
	select {
	case l.queue <- fn:
	case <-l.done:
	}
}

func (l *LoopScheduler) After(d time.Duration, fn func()) func() {
	cancelled := false
	timer := time.AfterFunc(d, func() {
		l.Post(func() {
			if cancelled {
				return
			}
			fn()
		})
	})
	return func() {
		cancelled = true
		timer.Stop()
	}
}

func (l *LoopScheduler) Go(work func() func()) {
	go func() {
		if next := work(); next != nil {
			l.Post(next)
		}
	}()
}

func (l *LoopScheduler) Now() time.Time {
	return time.Now()
}

// Do runs fn on the loop and waits for it. It must not be called from the loop.
func (l *LoopScheduler) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case l.queue <- func() {
		defer close(finished)
		fn()
	}:
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// roundTrip marks the turn as processing, runs call off the loop and hands the
// outcome to next on the loop with processing already cleared.
func roundTrip[T any](turns *TurnCoordinator, call func() (T, error), next func(T, error)) error {
	if turns.state.Processing {
		return ErrBusy
	}
	turns.setProcessing(true)
	turns.sched.Go(func() func() {
		var (
			result T
			err    error
		)
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("request panicked: %v", r)
				}
			}()
			result, err = call()
		}()
		return func() {
			turns.setProcessing(false)
			next(result, err)
		}
	})
	return nil
}
