package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"bioscout/internal/eventbus"
	"bioscout/internal/network"
	"bioscout/internal/network/networktest"
	"bioscout/internal/session"
	logx "bioscout/pkg/logx"
)

func TestNormalizeSpec(t *testing.T) {
	cases := []struct {
		raw, def string
		want     string
		on       bool
		bad      bool
	}{
		{"", "@every 5m", "@every 5m", true, false},
		{"90s", "", "@every 1m30s", true, false},
		{"*/5 * * * *", "", "*/5 * * * *", true, false},
		{"@hourly", "", "@hourly", true, false},
		{"off", "@every 5m", "", false, false},
		{" OFF ", "@every 5m", "", false, false},
		{"-1m", "", "", false, true},
		{"soon", "", "", false, true},
		{"61 * * * *", "", "", false, true},
	}
	for _, c := range cases {
		got, on, err := NormalizeSpec(c.raw, c.def)
		if (err != nil) != c.bad {
			t.Fatalf("NormalizeSpec(%q) err = %v, want error %v", c.raw, err, c.bad)
		}
		if got != c.want || on != c.on {
			t.Fatalf("NormalizeSpec(%q) = (%q, %v), want (%q, %v)", c.raw, got, on, c.want, c.on)
		}
	}
}

type countSweeper struct{ n atomic.Int32 }

func (c *countSweeper) Sweep() int { return int(c.n.Add(1)) }

func TestServiceRegistersEnabledTasks(t *testing.T) {
	cache, pairing := &countSweeper{}, &countSweeper{}
	svc := New(Config{Specs: map[string]string{TaskPairingSweep: Off}}, []Task{CacheSweep(cache), PairingSweep(pairing)}, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop(context.Background())

	es := svc.Entries()
	if len(es) != 1 || es[0].Name != TaskCacheSweep || es[0].Spec != "@every 5m" {
		t.Fatalf("entries = %+v", es)
	}
	if es[0].Spread >= 30*time.Second || es[0].Next.Before(time.Now().Add(5*time.Minute-time.Second)) {
		t.Fatalf("first run = %v (spread %v), want after one interval", es[0].Next, es[0].Spread)
	}

	if err := svc.Apply(Config{Specs: map[string]string{TaskCacheSweep: "0 3 * * *"}}); err != nil {
		t.Fatal(err)
	}
	es = svc.Entries()
	if len(es) != 2 || es[0].Spec != "0 3 * * *" || es[1].Name != TaskPairingSweep {
		t.Fatalf("entries after apply = %+v", es)
	}

	if err := svc.Apply(Config{Specs: map[string]string{"vacuum": "@daily"}}); err == nil {
		t.Fatal("unknown task accepted")
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	slow := Task{Name: "slow", Default: "@every 1h", Run: func(ctx context.Context) (int, error) {
		runs.Add(1)
		close(started)
		<-release
		return 3, nil
	}}
	svc := New(Config{}, []Task{slow}, logx.Nop())

	done := make(chan int)
	go func() {
		n, _ := svc.RunNow("slow")
		done <- n
	}()
	<-started
	if n, err := svc.RunNow("slow"); n != 0 || err != nil {
		t.Fatalf("overlapping run = (%d, %v), want skipped", n, err)
	}
	close(release)
	if n := <-done; n != 3 {
		t.Fatalf("run returned %d, want 3", n)
	}
	if runs.Load() != 1 {
		t.Fatalf("runs = %d", runs.Load())
	}
	if _, err := svc.RunNow("nope"); err == nil {
		t.Fatal("unknown task ran")
	}
}

func TestRunAppliesTimeout(t *testing.T) {
	task := Task{Name: "wait", Default: Off, Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}}
	svc := New(Config{}, []Task{task}, logx.Nop())
	if _, err := svc.RunNow("wait"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

type prunerFunc func(ctx context.Context) (int, error)

func (f prunerFunc) PruneCooldowns(ctx context.Context) (int, error) { return f(ctx) }

func TestCooldownPruneTask(t *testing.T) {
	task := CooldownPrune(prunerFunc(func(context.Context) (int, error) { return 7, nil }))
	svc := New(Config{}, []Task{task}, logx.Nop())
	if n, err := svc.RunNow(TaskCooldownPrune); n != 7 || err != nil {
		t.Fatalf("RunNow = (%d, %v)", n, err)
	}
}

type memCreds map[string]network.Credentials

func (m memCreds) Load(ctx context.Context, tenant string) (*network.Credentials, error) {
	c, ok := m[tenant]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
func (m memCreds) Save(ctx context.Context, tenant string, c network.Credentials) error { return nil }
func (m memCreds) Delete(ctx context.Context, tenant string) error                      { return nil }
func (m memCreds) Tenants(ctx context.Context) ([]string, error) {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	return out, nil
}

func TestSessionCheckOpensMissingSessions(t *testing.T) {
	creds := memCreds{"7": {DeviceID: "62811:1@s.whatsapp.net", Phone: "62811"}}
	pool := session.NewPool(session.Config{}, networktest.NewDialer(), creds, eventbus.New(), logx.Nop())
	defer func() { _ = pool.Shutdown(context.Background()) }()

	svc := New(Config{}, []Task{SessionCheck(pool, creds)}, logx.Nop())
	if n, err := svc.RunNow(TaskSessionCheck); n != 1 || err != nil {
		t.Fatalf("first run = (%d, %v), want (1, nil)", n, err)
	}
	if got := pool.State("7"); got != session.StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
	if n, _ := svc.RunNow(TaskSessionCheck); n != 0 {
		t.Fatalf("second run opened %d sessions", n)
	}
}

func TestSessionCheckRetriesDisconnectedSessions(t *testing.T) {
	creds := memCreds{"7": {DeviceID: "62811:1@s.whatsapp.net", Phone: "62811"}}
	dialer := networktest.NewDialer()
	var down atomic.Bool
	down.Store(true)
	dialer.ConnectErr = func(string, int) error {
		if down.Load() {
			return errors.New("no route to host")
		}
		return nil
	}
	pool := session.NewPool(session.Config{}, dialer, creds, eventbus.New(), logx.Nop())
	defer func() { _ = pool.Shutdown(context.Background()) }()

	svc := New(Config{}, []Task{SessionCheck(pool, creds)}, logx.Nop())
	if n, err := svc.RunNow(TaskSessionCheck); n != 0 || err == nil {
		t.Fatalf("run while down = (%d, %v), want (0, error)", n, err)
	}
	stuck := func() bool {
		in := pool.Snapshot()
		return len(in) == 1 && in[0].State == session.StateDisconnected && !in[0].Reconnecting
	}
	deadline := time.Now().Add(2 * time.Second)
	for !stuck() {
		if time.Now().After(deadline) {
			t.Fatalf("snapshot = %+v", pool.Snapshot())
		}
		time.Sleep(5 * time.Millisecond)
	}

	down.Store(false)
	if n, err := svc.RunNow(TaskSessionCheck); n != 1 || err != nil {
		t.Fatalf("run after recovery = (%d, %v), want (1, nil)", n, err)
	}
	if got := pool.State("7"); got != session.StateOpen {
		t.Fatalf("state = %s, want open", got)
	}
}
