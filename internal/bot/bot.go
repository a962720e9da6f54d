// Package bot is the chat front end: it turns Telegram commands into pool,
// pairing and lookup calls and renders their results.
package bot

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"bioscout/internal/eventbus"
	"bioscout/internal/lookup"
	rtsup "bioscout/internal/runtime/supervisor"
	"bioscout/internal/session"
	"bioscout/internal/storage"
	kit "bioscout/internal/transport"
	logx "bioscout/pkg/logx"
)

// ActionCheckBio is the cooldown and audit action of bulk checks.
const ActionCheckBio = "checkbio"

// Settings are the hot-reloadable knobs of the front end.
type Settings struct {
	// Cooldown is the per-user pause between bulk checks.
	Cooldown       time.Duration
	MaxUploadBytes int64
	// EditInterval is the minimum gap between progress edits.
	EditInterval time.Duration
	// InlineLimit is the largest typed bulk check answered in a message
	// instead of result files.
	InlineLimit int
}

func (s Settings) withDefaults() Settings {
	if s.Cooldown < 0 {
		s.Cooldown = 0
	}
	if s.MaxUploadBytes <= 0 {
		s.MaxUploadBytes = 1 << 20
	}
	if s.EditInterval <= 0 {
		s.EditInterval = 3 * time.Second
	}
	if s.InlineLimit <= 0 {
		s.InlineLimit = 10
	}
	return s
}

// DefaultSettings returns the settings of a fresh install.
func DefaultSettings() Settings {
	return Settings{Cooldown: 20 * time.Second}.withDefaults()
}

type Deps struct {
	Pool    *session.Pool
	Pairing *session.Coordinator
	Lookup  *lookup.Service
	Store   storage.Store
	Adapter kit.Adapter
	Bus     eventbus.Bus
	Log     logx.Logger
}

type Bot struct {
	pool    *session.Pool
	pairing *session.Coordinator
	lookup  *lookup.Service
	store   storage.Store
	adapter kit.Adapter
	log     logx.Logger
	now     func() time.Time

	events <-chan eventbus.Event
	unsub  func()

	mu       sync.RWMutex
	settings Settings

	runMu sync.Mutex
	sup   *rtsup.Supervisor

	jobsMu sync.Mutex
	jobs   map[string]context.CancelFunc
}

func New(d Deps, s Settings) *Bot {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	b := &Bot{
		pool:     d.Pool,
		pairing:  d.Pairing,
		lookup:   d.Lookup,
		store:    d.Store,
		adapter:  d.Adapter,
		log:      log,
		now:      time.Now,
		settings: s.withDefaults(),
		jobs:     map[string]context.CancelFunc{},
	}
	if d.Bus != nil {
		b.events, b.unsub = d.Bus.Subscribe(64)
	}
	return b
}

// Apply swaps the settings; running jobs are not affected.
func (b *Bot) Apply(s Settings) {
	b.mu.Lock()
	b.settings = s.withDefaults()
	b.mu.Unlock()
}

func (b *Bot) config() Settings {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.settings
}

// Start runs the session notifier. Bulk jobs also run under the bot's
// supervisor so Stop can drain them.
func (b *Bot) Start(ctx context.Context) {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	if b.sup != nil {
		return
	}
	b.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(b.log))
	if b.events != nil {
		b.sup.Go0("bot.notify", b.notifyLoop)
	}
}

// Stop cancels running jobs and waits for them to report.
func (b *Bot) Stop(ctx context.Context) error {
	b.runMu.Lock()
	sup := b.sup
	b.sup = nil
	b.runMu.Unlock()

	b.jobsMu.Lock()
	for _, cancel := range b.jobs {
		cancel()
	}
	b.jobsMu.Unlock()

	if b.unsub != nil {
		b.unsub()
	}
	if sup == nil {
		return nil
	}
	sup.Cancel()
	return sup.Wait(ctx)
}

// Supervisor returns the job supervisor (nil before Start).
func (b *Bot) Supervisor() *rtsup.Supervisor {
	b.runMu.Lock()
	defer b.runMu.Unlock()
	return b.sup
}

// ActiveJobs is the number of bulk checks in flight.
func (b *Bot) ActiveJobs() int {
	b.jobsMu.Lock()
	defer b.jobsMu.Unlock()
	return len(b.jobs)
}

// tenantOf maps a chat user to its tenant.
func tenantOf(userID int64) string { return strconv.FormatInt(userID, 10) }

func (b *Bot) audit(ctx context.Context, e storage.AuditEntry, meta any) {
	if b.store == nil {
		return
	}
	if meta != nil {
		if raw, err := json.Marshal(meta); err == nil {
			e.MetaJSON = string(raw)
		}
	}
	if e.At.IsZero() {
		e.At = b.now()
	}
	if err := b.store.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		b.log.Warn("audit append failed", logx.String("action", e.Action), logx.Err(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// startJob registers a bulk job for tenant. ok is false when one is
// already running or the bot is stopped.
func (b *Bot) startJob(tenant string, run func(ctx context.Context)) (ok bool) {
	b.runMu.Lock()
	sup := b.sup
	b.runMu.Unlock()
	if sup == nil {
		return false
	}

	b.jobsMu.Lock()
	if _, busy := b.jobs[tenant]; busy {
		b.jobsMu.Unlock()
		return false
	}
	ctx, cancel := context.WithCancel(sup.Context())
	b.jobs[tenant] = cancel
	b.jobsMu.Unlock()

	sup.Go0("bulk."+tenant, func(context.Context) {
		defer func() {
			cancel()
			b.jobsMu.Lock()
			delete(b.jobs, tenant)
			b.jobsMu.Unlock()
		}()
		run(ctx)
	})
	return true
}

func (b *Bot) jobRunning(tenant string) bool {
	b.jobsMu.Lock()
	defer b.jobsMu.Unlock()
	_, ok := b.jobs[tenant]
	return ok
}

// cancelJob stops tenant's bulk job; the job still sends its report.
func (b *Bot) cancelJob(tenant string) bool {
	b.jobsMu.Lock()
	defer b.jobsMu.Unlock()
	cancel, ok := b.jobs[tenant]
	if ok {
		cancel()
	}
	return ok
}

func (b *Bot) notifyLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-b.events:
			if !ok {
				return
			}
			sc, ok := ev.Data.(session.StateChange)
			if !ok {
				continue
			}
			var text string
			switch {
			case ev.Type == session.EventReconnectFailed:
				text = "⚠️ WhatsApp connection lost and reconnecting gave up. Use /pair to link again."
			case ev.Type == session.EventStateChange && sc.To == session.StateLoggedOut && sc.From != session.StateLoggedOut:
				text = "⚠️ WhatsApp was logged out from the phone. Use /pair to link again."
			default:
				continue
			}
			chatID, err := strconv.ParseInt(sc.Tenant, 10, 64)
			if err != nil {
				continue
			}
			if _, err := b.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil); err != nil {
				b.log.Warn("session notice failed", logx.String("tenant", sc.Tenant), logx.Err(err))
			}
		}
	}
}
