package app

import (
	"bioscout/internal/ops"
	"bioscout/internal/session"
)

// health backs /healthz: the process is healthy while its supervisor runs.
// Session states are reported but never fail the probe, a logged-out tenant
// is the user's business.
func (a *App) health() ops.Health {
	h := ops.Health{OK: a.sup != nil && a.sup.Context().Err() == nil, Detail: map[string]any{}}

	states := map[session.State]int{}
	for _, in := range a.pool.Snapshot() {
		states[in.State]++
	}
	h.Detail["sessions"] = states
	h.Detail["active_jobs"] = a.bot.ActiveJobs()

	sups := map[string]any{}
	for name, sup := range a.sups.Snapshot() {
		if sup != nil {
			sups[name] = sup.Counters()
		}
	}
	h.Detail["supervisors"] = sups
	return h
}

// Healthy reports whether the app is running; it feeds the systemd watchdog.
func (a *App) Healthy() bool { return a.health().OK }
