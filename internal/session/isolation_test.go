package session

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"bioscout/internal/lookup"
	"bioscout/internal/network"
	logx "bioscout/pkg/logx"
)

// A tenant disconnecting in the middle of another tenant's bulk job must not
// touch that job.
func TestDisconnectLeavesOtherTenantsJobRunning(t *testing.T) {
	f := newPoolFixture(t, Config{MaxReconnectAttempts: 3})
	a := f.pair(t, "a", "6281111111111")
	f.pair(t, "b", "6282222222222")

	gate := make(chan struct{})
	f.dialer.Gate = gate
	svc := lookup.NewService(lookup.Config{
		Concurrency: 2,
		Limiter:     lookup.LimiterConfig{Max: 200, Min: 100, BaseDelay: time.Millisecond},
	}, f.pool, lookup.NewMemoryCache(nil), logx.Nop())

	targets := make([]string, 10)
	for i := range targets {
		targets[i] = fmt.Sprintf("6283%08d", i)
	}
	type outcome struct {
		rep *lookup.Report
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		rep, err := svc.RunBulk(context.Background(), "b", targets, nil)
		done <- outcome{rep, err}
	}()
	waitFor(t, "tenant b job in flight", func() bool { return svc.Dedup().Inflight() > 0 })

	if err := f.pool.Disconnect(context.Background(), "a"); err != nil {
		t.Fatalf("Disconnect(a): %v", err)
	}
	close(gate)

	var out outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tenant b job did not finish")
	}
	if out.err != nil {
		t.Fatalf("tenant b job: %v", out.err)
	}
	if out.rep.Counts[lookup.CategoryNoBio] != len(targets) || out.rep.Aborted != "" {
		t.Fatalf("tenant b report = %+v", out.rep)
	}
	if got := f.pool.State("b"); got != StateOpen {
		t.Fatalf("tenant b state = %s", got)
	}
	if a.Connected() {
		t.Fatal("tenant a client still connected")
	}
	if _, err := svc.LookupSingle(context.Background(), "a", "6284000000000"); !errors.Is(err, network.ErrNotConnected) {
		t.Fatalf("tenant a lookup err = %v, want not connected", err)
	}
}
