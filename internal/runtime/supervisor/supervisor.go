// Package supervisor runs named goroutines under one shared context with
// panic recovery and a graceful, timeout-aware stop.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	logx "ackbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr atomic.Value // error

	wg     sync.WaitGroup
	active int64
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels every supervised goroutine when one returns a
// non-nil error or panics.
func WithCancelOnError(v bool) Option { return func(s *Supervisor) { s.cancelOnErr = v } }

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Go runs fn once. A panic is recovered, logged, and treated as an error
// return.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	atomic.AddInt64(&s.active, 1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		if err := s.run(name, fn); err != nil {
			s.noteError(err)
		}
	}()
}

// GoRestart runs fn in a loop, restarting it with exponential backoff when
// it returns an error or panics. A clean return or context cancellation
// stops the loop.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, base, max time.Duration) {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	if max < base {
		max = 5 * time.Second
	}
	s.wg.Add(1)
	atomic.AddInt64(&s.active, 1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		backoff := base
		for {
			err := s.run(name, fn)
			if s.ctx.Err() != nil {
				return
			}
			if err == nil {
				return
			}
			s.noteError(err)
			s.log.Warn("goroutine restarting",
				logx.String("name", name),
				logx.Err(err),
				logx.Duration("backoff", backoff))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > max {
				backoff = max
			}
		}
	}()
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panic",
				logx.String("name", name),
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("%s: panic: %v", name, r)
		}
	}()
	return fn(s.ctx)
}

func (s *Supervisor) noteError(err error) {
	s.errOnce.Do(func() { s.firstErr.Store(err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// FirstErr returns the first error any goroutine produced, nil if none.
func (s *Supervisor) FirstErr() error {
	if v := s.firstErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Active reports goroutines currently running. Best effort, for logging.
func (s *Supervisor) Active() int64 { return atomic.LoadInt64(&s.active) }

// Wait blocks until every goroutine has returned or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the shared context and waits like Wait.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}
