package maintenance

import (
	"context"
	"time"

	"bioscout/internal/session"
)

const (
	TaskCacheSweep    = "cache_sweep"
	TaskPairingSweep  = "pairing_sweep"
	TaskCooldownPrune = "cooldown_prune"
	TaskSessionCheck  = "session_check"
)

type sweeper interface{ Sweep() int }

// CacheSweep drops expired in-process cache entries.
func CacheSweep(c sweeper) Task {
	return Task{Name: TaskCacheSweep, Default: "@every 5m", Timeout: 30 * time.Second, Run: func(context.Context) (int, error) {
		return c.Sweep(), nil
	}}
}

// PairingSweep expires pairing records nobody completed.
func PairingSweep(c sweeper) Task {
	return Task{Name: TaskPairingSweep, Default: "@every 1m", Timeout: 10 * time.Second, Run: func(context.Context) (int, error) {
		return c.Sweep(), nil
	}}
}

type cooldownPruner interface {
	PruneCooldowns(ctx context.Context) (int, error)
}

// CooldownPrune removes elapsed cooldown rows from storage.
func CooldownPrune(st cooldownPruner) Task {
	return Task{Name: TaskCooldownPrune, Default: "@every 1h", Timeout: time.Minute, Run: st.PruneCooldowns}
}

// SessionCheck opens sessions for tenants that hold credentials but have no
// usable session: never opened (auto-connect failed at startup) or left
// disconnected after the reconnect circuit gave up.
func SessionCheck(pool *session.Pool, creds session.CredentialStore) Task {
	return Task{Name: TaskSessionCheck, Default: "@every 10m", Timeout: 5 * time.Minute, Run: func(ctx context.Context) (int, error) {
		tenants, err := creds.Tenants(ctx)
		if err != nil {
			return 0, err
		}
		live := map[string]bool{}
		for _, in := range pool.Snapshot() {
			live[in.Tenant] = in.State != session.StateDisconnected || in.Reconnecting
		}
		n := 0
		var firstErr error
		for _, t := range tenants {
			if live[t] || ctx.Err() != nil {
				continue
			}
			if _, err := pool.GetOrCreate(ctx, t); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			n++
		}
		return n, firstErr
	}}
}
