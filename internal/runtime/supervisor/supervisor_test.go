package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestGoCleanExit(t *testing.T) {
	s := New(context.Background())
	s.Go("worker", func(ctx context.Context) error { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := s.FirstErr(); err != nil {
		t.Errorf("FirstErr = %v", err)
	}
}

func TestPanicRecoveredAsError(t *testing.T) {
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error { panic("boom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := s.FirstErr(); err == nil {
		t.Fatal("panic not surfaced as error")
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))

	released := make(chan struct{})
	s.Go("blocked", func(ctx context.Context) error {
		<-ctx.Done()
		close(released)
		return nil
	})
	s.Go("failing", func(ctx context.Context) error { return errors.New("nope") })

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling goroutine not cancelled")
	}
}

func TestGoRestartRetriesUntilClean(t *testing.T) {
	s := New(context.Background())
	var runs int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, time.Millisecond, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 3 {
		t.Errorf("runs = %d", got)
	}
}

func TestStopCancelsAndWaits(t *testing.T) {
	s := New(context.Background())
	s.Go("looper", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if s.Active() != 0 {
		t.Errorf("Active = %d", s.Active())
	}
}
