package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeYAMLMatchesJSON(t *testing.T) {
	y, err := decode("c.yaml", []byte("telegram:\n  token: abc\n  owner_user_ids: [1, 2]\nlookup:\n  concurrency: 4\n"))
	if err != nil {
		t.Fatal(err)
	}
	j, err := decode("c.json", []byte(`{"telegram":{"token":"abc","owner_user_ids":[1,2]},"lookup":{"concurrency":4}}`))
	if err != nil {
		t.Fatal(err)
	}
	if hashConfig(y) != hashConfig(j) {
		t.Fatalf("yaml %+v != json %+v", y, j)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	if _, err := decode("c.json", []byte(`{"telegram":{"tokn":"x"}}`)); err == nil {
		t.Fatal("unknown key accepted")
	}
	if _, err := decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("trailing object accepted")
	}
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	cfg := &Config{}
	cfg.Telegram.Token = "file"
	env := map[string]string{EnvTelegramToken: "env", EnvOpsToken: ""}
	applyEnv(cfg, func(k string) (string, bool) { v, ok := env[k]; return v, ok })
	if cfg.Telegram.Token != "env" || cfg.Ops.Token != "" {
		t.Fatalf("telegram=%q ops=%q", cfg.Telegram.Token, cfg.Ops.Token)
	}
}

func TestReloadValidatesAndPublishes(t *testing.T) {
	p := writeConfig(t, "c.json", `{"telegram":{"token":"a"}}`)
	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx := context.Background()

	// unchanged content is not republished
	m.reload(ctx)
	if len(sub) != 0 {
		t.Fatal("unchanged config published")
	}

	m.SetValidator(func(_ context.Context, c *Config) error {
		if c.Lookup.Concurrency > 10 {
			return errors.New("too many")
		}
		return nil
	})
	if err := os.WriteFile(p, []byte(`{"telegram":{"token":"a"},"lookup":{"concurrency":50}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(ctx)
	if len(sub) != 0 || m.Get().Lookup.Concurrency != 0 {
		t.Fatal("rejected config was committed")
	}

	if err := os.WriteFile(p, []byte(`{"telegram":{"token":"a"},"lookup":{"concurrency":5}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(ctx)
	select {
	case c := <-sub:
		if c.Lookup.Concurrency != 5 || m.Get() != c {
			t.Fatalf("published %+v", c.Lookup)
		}
	case <-time.After(time.Second):
		t.Fatal("no publish")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	m := NewConfigManager("unused.json")
	sub := m.Subscribe(1)
	a, b := &Config{}, &Config{}
	m.publish(a)
	m.publish(b)
	if got := <-sub; got != b {
		t.Fatal("slow subscriber did not get the latest config")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	old := &Config{}
	next := &Config{}
	next.Lookup.Concurrency = 4
	next.Cache.Redis.Password = "secret"
	next.Ops.Token = "t"

	changed, _, restart := SummarizeConfigChange(old, next)
	if !slices.Equal(changed, []string{"cache", "lookup", "ops"}) {
		t.Fatalf("changed = %v", changed)
	}
	if !slices.Equal(restart, []string{"cache"}) {
		t.Fatalf("restart = %v", restart)
	}
}

func TestParseDurationField(t *testing.T) {
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty = %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative accepted")
	}
	if d, _ := ParseDurationOrDefault("x", "0s", time.Second); d != time.Second {
		t.Fatalf("default = %v", d)
	}
}
