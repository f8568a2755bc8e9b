// Package supervisor owns the app's background goroutines: named spawns,
// panic containment, optional restart with backoff, and a bounded Wait on
// shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "crosspost/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	err  error
	done chan struct{}
	n    int

	log           logx.Logger
	cancelOnError bool
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first goroutine
// error, unwinding every sibling.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnError = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, done: make(chan struct{}), log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	close(s.done) // no goroutines yet
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first fatal error observed, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Go runs fn in a supervised goroutine. A non-nil return (other than the
// context's own error) is recorded as the supervisor's first error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.track()
	go func() {
		defer s.untrack()
		defer s.recoverPanic(name)
		s.log.Debug("goroutine started", logx.String("name", name))
		err := fn(s.ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("goroutine failed", logx.String("name", name), logx.Err(err))
			s.setErr(fmt.Errorf("%s: %w", name, err))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for functions that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// GoRestart reruns fn with exponential backoff until the context ends or fn
// returns cleanly. Used for loops that must survive transient failures,
// like the host bridge long-poll.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error) {
	s.track()
	go func() {
		defer s.untrack()
		backoff := time.Second
		const maxBackoff = 30 * time.Second
		for {
			err := s.runOnce(name, fn)
			if err == nil || s.ctx.Err() != nil {
				return
			}
			s.log.Warn("goroutine restarting",
				logx.String("name", name), logx.Duration("backoff", backoff), logx.Err(err))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}()
}

func (s *Supervisor) runOnce(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked",
				logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(s.ctx)
}

// Wait blocks until every supervised goroutine has returned or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	select {
	case <-done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) track() {
	s.mu.Lock()
	if s.n == 0 {
		s.done = make(chan struct{})
	}
	s.n++
	s.mu.Unlock()
}

func (s *Supervisor) untrack() {
	s.mu.Lock()
	s.n--
	if s.n == 0 {
		close(s.done)
	}
	s.mu.Unlock()
}

func (s *Supervisor) recoverPanic(name string) {
	if r := recover(); r != nil {
		s.log.Error("goroutine panicked",
			logx.String("name", name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		s.setErr(fmt.Errorf("%s: panic: %v", name, r))
	}
}

func (s *Supervisor) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	if s.cancelOnError {
		s.cancel()
	}
}
