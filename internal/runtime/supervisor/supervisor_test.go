package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoCancelOnError(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	boom := errors.New("boom")
	s.Go0("sibling", func(ctx context.Context) { <-ctx.Done() })
	s.Go("failing", func(context.Context) error { return boom })

	err := s.Wait(waitCtx(t))
	if !errors.Is(err, boom) || !strings.HasPrefix(err.Error(), "failing:") {
		t.Fatalf("Wait() = %v", err)
	}
	if c := s.Counters(); c.Active != 0 || c.Started != 2 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestGoRecoversPanic(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go0("panicky", func(context.Context) { panic("oops") })
	if err := s.Wait(waitCtx(t)); err == nil || !strings.Contains(err.Error(), "panic: oops") {
		t.Fatalf("Wait() = %v", err)
	}
	if s.Context().Err() != nil {
		t.Fatal("context cancelled without WithCancelOnError")
	}
}

func TestGoCanceledIsClean(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
}

func TestGoRestartRestartsUntilClean(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond), WithPublishFirstError(true))

	err := s.Wait(waitCtx(t))
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	if err == nil || !strings.Contains(err.Error(), "flaky: transient") {
		t.Fatalf("Wait() = %v, want the published first error", err)
	}
}

func TestWaitHonorsDeadline(t *testing.T) {
	s := NewSupervisor(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	s := NewSupervisor(context.Background())
	r.Set("pool", s)
	r.Set("ops", nil)
	snap := r.Snapshot()
	if len(snap) != 1 || snap["pool"] != s {
		t.Fatalf("snapshot = %v", snap)
	}
	r.Set("pool", nil)
	if len(r.Snapshot()) != 0 {
		t.Fatal("nil did not remove the entry")
	}
}
