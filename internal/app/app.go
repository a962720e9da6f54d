package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"bioscout/internal/bot"
	"bioscout/internal/config"
	"bioscout/internal/eventbus"
	"bioscout/internal/lookup"
	"bioscout/internal/maintenance"
	"bioscout/internal/network/whatsapp"
	"bioscout/internal/ops"
	rtsup "bioscout/internal/runtime/supervisor"
	"bioscout/internal/session"
	"bioscout/internal/storage"
	kit "bioscout/internal/transport"
	telegram "bioscout/internal/transport/telegram/adapter"
	"bioscout/internal/transport/telegram/router"
	logx "bioscout/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor
	sups *rtsup.Registry

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter *telegram.Adapter
	dialer  *whatsapp.Dialer
	rdb     *redis.Client
	mem     *lookup.MemoryCache

	pool    *session.Pool
	pairing *session.Coordinator
	lookup  *lookup.Service
	router  *router.Router
	bot     *bot.Bot
	maint   *maintenance.Service
	ops     *ops.Server

	updates chan kit.Update
}

func NewApp(cfgPath string) (a *App, err error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := parseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the chat sink off: logx.New applies immediately and would
	// warn about an enabled sink that has no target yet.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	applyLogging(logSvc, cfg)
	log = log.With(logx.String("comp", "app"))

	a = &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		sups:    rtsup.NewRegistry(),
		log:     log,
		logs:    logSvc,
		bus:     eventbus.New(),
		adapter: ad,
		updates: make(chan kit.Update, 256),
	}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.store, err = storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	log.Info("storage enabled", logx.String("driver", sc.Driver))

	dialCfg, poolCfg, pairTTL, err := mapWhatsAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.dialer, err = whatsapp.Open(dialCfg, log.With(logx.String("comp", "whatsapp")))
	if err != nil {
		return nil, fmt.Errorf("open whatsapp store: %w", err)
	}
	creds := storage.NewCredentials(a.store)
	a.pool = session.NewPool(poolCfg, a.dialer, creds, a.bus, log.With(logx.String("comp", "session")))
	a.pairing = session.NewCoordinator(a.pool, a.bus, pairTTL, log.With(logx.String("comp", "pairing")))

	cache, err := a.openCache(cfg)
	if err != nil {
		return nil, err
	}
	lcfg, err := mapLookupConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.lookup = lookup.NewService(lcfg, a.pool, cache, log.With(logx.String("comp", "lookup")))

	settings, err := mapBotSettings(cfg)
	if err != nil {
		return nil, err
	}
	a.router = router.NewRouter(log.With(logx.String("comp", "router")), ad,
		cfg.Telegram.OwnerUserIDs, cfg.Telegram.AllowedUserIDs)
	a.bot = bot.New(bot.Deps{
		Pool:    a.pool,
		Pairing: a.pairing,
		Lookup:  a.lookup,
		Store:   a.store,
		Adapter: ad,
		Bus:     a.bus,
		Log:     log.With(logx.String("comp", "bot")),
	}, settings)

	tasks := []maintenance.Task{
		maintenance.PairingSweep(a.pairing),
		maintenance.CooldownPrune(a.store),
		maintenance.SessionCheck(a.pool, creds),
	}
	if a.mem != nil {
		tasks = append(tasks, maintenance.CacheSweep(a.mem))
	}
	a.maint = maintenance.New(a.maintConfig(cfg), tasks, log.With(logx.String("comp", "maintenance")))
	if err := a.maint.Validate(a.maintConfig(cfg)); err != nil {
		return nil, err
	}

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.ops = ops.New(opsCfg, a.health, prometheus.DefaultGatherer, log.With(logx.String("comp", "ops")))

	return a, nil
}

// openCache builds the lookup cache. a.mem is set only for the in-process
// backend, which needs a periodic sweep.
func (a *App) openCache(cfg *Config) (lookup.Cache, error) {
	driver, err := mapCacheDriver(cfg)
	if err != nil {
		return nil, err
	}
	if driver == cacheMemory {
		a.mem = lookup.NewMemoryCache(nil)
		return a.mem, nil
	}

	rc := cfg.Cache.Redis
	a.rdb = redis.NewClient(&redis.Options{
		Addr:     strings.TrimSpace(rc.Addr),
		Password: rc.Password,
		DB:       rc.DB,
	})
	prefix := strings.TrimSpace(rc.Prefix)
	if prefix == "" {
		prefix = "bioscout:"
	}
	rcache := lookup.NewRedisCache(a.rdb, prefix, a.log.With(logx.String("comp", "cache")))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rcache.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	a.log.Info("redis cache enabled", logx.String("addr", rc.Addr))
	return rcache, nil
}

// maintConfig drops the cache sweep schedule when redis expires entries itself.
func (a *App) maintConfig(cfg *Config) maintenance.Config {
	mc := mapMaintenanceConfig(cfg)
	if a.mem == nil {
		delete(mc.Specs, maintenance.TaskCacheSweep)
	}
	return mc
}

// closeResources releases what NewApp opened; used when construction fails.
func (a *App) closeResources() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.dialer != nil {
		_ = a.dialer.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.sups.Set("app", a.sup)

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *Config) error {
		if err := validateConfig(cfg); err != nil {
			return err
		}
		return a.maint.Validate(a.maintConfig(cfg))
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sups.Set("telegram.adapter", a.adapter.Supervisor())
	a.sups.Set("session.pool", a.pool.Supervisor())

	a.sup.Go0("pairing", a.pairing.Run)
	a.bot.Start(a.sup.Context())
	a.sups.Set("bot", a.bot.Supervisor())

	a.router.SetRegistry(a.sup.Context(), a.bot.Commands(), a.bot.Fallbacks())
	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	// Reconnecting stored tenants dials the network; do not hold up startup.
	a.sup.Go0("session.init", func(c context.Context) {
		if err := a.pool.Init(c); err != nil && c.Err() == nil {
			a.log.Warn("session auto-connect failed", logx.Err(err))
		}
	})

	if err := a.maint.Start(a.sup.Context()); err != nil {
		return err
	}
	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
	}
	a.sups.Set("ops", a.ops.Supervisor())

	{
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					// debug-level: reconnect storms are frequent
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig fans a validated config out to the live components.
func (a *App) applyConfig(ctx context.Context, prev, next *Config) {
	sections, attrs, restart := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)
	if len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	applyLogging(a.logs, next)
	a.router.SetACL(next.Telegram.OwnerUserIDs, next.Telegram.AllowedUserIDs)

	if lc, err := mapLookupConfig(next); err != nil {
		a.log.Warn("invalid lookup config; keeping previous", logx.Err(err))
	} else {
		a.lookup.Apply(lc)
	}
	if s, err := mapBotSettings(next); err != nil {
		a.log.Warn("invalid bot settings; keeping previous", logx.Err(err))
	} else {
		a.bot.Apply(s)
	}
	if err := a.maint.Apply(a.maintConfig(next)); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	}
	if oc, err := mapOpsConfig(next); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Err(err))
	} else {
		a.ops.Reconfigure(ctx, oc)
		a.sups.Set("ops", a.ops.Supervisor())
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Front end first so no new job starts while sessions drain.
	a.step(ctx, "bot", 5*time.Second, a.bot.Stop)
	a.step(ctx, "maintenance", 2*time.Second, func(c context.Context) error { a.maint.Stop(c); return nil })
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "sessions", 5*time.Second, a.pool.Shutdown)
	a.step(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.step(ctx, "resources", time.Second, func(context.Context) error {
		var errs []string
		if a.rdb != nil {
			if err := a.rdb.Close(); err != nil {
				errs = append(errs, "redis: "+err.Error())
			}
		}
		if err := a.dialer.Close(); err != nil {
			errs = append(errs, "whatsapp store: "+err.Error())
		}
		if err := a.store.Close(); err != nil {
			errs = append(errs, "storage: "+err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, dispatcher, etc.)
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs a shutdown step with an upper bound so one component can't
// stall the whole stop. fn must honor its context.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped, no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		// Leak logging: observe when/if the step eventually finishes.
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
