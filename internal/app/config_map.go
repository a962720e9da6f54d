package app

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
	_ "time/tzdata" // timezones must resolve in minimal containers

	"bioscout/internal/bot"
	"bioscout/internal/config"
	"bioscout/internal/lookup"
	"bioscout/internal/maintenance"
	"bioscout/internal/network/whatsapp"
	"bioscout/internal/ops"
	"bioscout/internal/phone"
	"bioscout/internal/session"
	"bioscout/internal/storage"
)

type Config = config.Config

const (
	cacheMemory = "memory"
	cacheRedis  = "redis"
)

func parseDurationField(path, raw string) (time.Duration, error) {
	return config.ParseDurationField(path, raw)
}

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

func mapStorageConfig(cfg *Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "sqlite", "sqlite3":
		if path == "" {
			path = "./data/bioscout.db"
		}
		busy, err := parseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "file":
		if path == "" {
			path = "./data/bioscout.json"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "none":
		// sessions cannot survive without a tenant registry
		return storage.Config{}, fmt.Errorf("storage.driver: %q is not supported, use sqlite or file", sc.Driver)
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapWhatsAppConfig(cfg *Config) (whatsapp.Config, session.Config, time.Duration, error) {
	wc := cfg.WhatsApp
	dial := whatsapp.Config{
		SessionDB:   strings.TrimSpace(wc.SessionDB),
		DisplayName: strings.TrimSpace(wc.DisplayName),
	}

	cc := strings.TrimSpace(wc.CountryCode)
	if cc == "" {
		cc = phone.DefaultCountryCode
	}
	for _, r := range cc {
		if r < '0' || r > '9' {
			return dial, session.Config{}, 0, fmt.Errorf("whatsapp.country_code: digits only, got %q", wc.CountryCode)
		}
	}

	delay, err := parseDurationOrDefault("whatsapp.reconnect_delay", wc.ReconnectDelay, 3*time.Second)
	if err != nil {
		return dial, session.Config{}, 0, err
	}
	connect, err := parseDurationOrDefault("whatsapp.connect_timeout", wc.ConnectTimeout, 30*time.Second)
	if err != nil {
		return dial, session.Config{}, 0, err
	}
	ttl, err := parseDurationOrDefault("whatsapp.pairing_ttl", wc.PairingTTL, 5*time.Minute)
	if err != nil {
		return dial, session.Config{}, 0, err
	}
	attempts := 5
	if wc.ReconnectMaxAttempts != nil {
		if *wc.ReconnectMaxAttempts < 0 {
			return dial, session.Config{}, 0, fmt.Errorf("whatsapp.reconnect_max_attempts must be >= 0")
		}
		attempts = *wc.ReconnectMaxAttempts
	}

	return dial, session.Config{
		ReconnectDelay:       delay,
		MaxReconnectAttempts: attempts,
		ConnectTimeout:       connect,
		CountryCode:          cc,
	}, ttl, nil
}

func mapLookupConfig(cfg *Config) (lookup.Config, error) {
	lc := cfg.Lookup
	out := lookup.DefaultConfig()

	if lc.MaxTargets < 0 || lc.BatchSize < 0 || lc.Concurrency < 0 {
		return out, fmt.Errorf("lookup: max_targets, batch_size and concurrency must be >= 0")
	}
	if lc.MaxTargets > 0 {
		out.MaxTargets = lc.MaxTargets
	}
	if lc.BatchSize > 0 {
		out.BatchSize = lc.BatchSize
	}
	if lc.Concurrency > 0 {
		out.Concurrency = lc.Concurrency
	}
	if lc.ProgressStep < 0 || lc.ProgressStep > 1 {
		return out, fmt.Errorf("lookup.progress_step must be within [0,1]")
	}
	if lc.ProgressStep > 0 {
		out.ProgressStep = lc.ProgressStep
	}
	if lc.RetryBudget != nil {
		if *lc.RetryBudget < 0 {
			return out, fmt.Errorf("lookup.retry_budget must be >= 0")
		}
		out.RetryBudget = *lc.RetryBudget
	}
	cool, err := parseDurationOrDefault("lookup.batch_cooldown", lc.BatchCooldown, out.BatchCooldown)
	if err != nil {
		return out, err
	}
	out.BatchCooldown = cool

	if lc.MinRate < 0 || lc.MaxRate < 0 || lc.InitialRate < 0 {
		return out, fmt.Errorf("lookup: rates must be >= 0")
	}
	if lc.MinRate > 0 && lc.MaxRate > 0 && lc.MinRate > lc.MaxRate {
		return out, fmt.Errorf("lookup.min_rate must not exceed lookup.max_rate")
	}
	out.Limiter = lookup.LimiterConfig{Initial: lc.InitialRate, Min: lc.MinRate, Max: lc.MaxRate}

	if tz := strings.TrimSpace(lc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return out, fmt.Errorf("lookup.timezone: invalid %q: %w", tz, err)
		}
		out.Location = loc
	}

	ttls, err := mapCacheTTLs(cfg)
	if err != nil {
		return out, err
	}
	out.TTLs = ttls

	_, sc, _, err := mapWhatsAppConfig(cfg)
	if err != nil {
		return out, err
	}
	out.CountryCode = sc.CountryCode
	return out, nil
}

func mapCacheTTLs(cfg *Config) (lookup.TTLs, error) {
	t := cfg.Cache.TTL
	def := lookup.DefaultTTLs()
	fields := []struct {
		cat  lookup.Category
		path string
		raw  string
	}{
		{lookup.CategoryHasBio, "cache.ttl.has_bio", t.HasBio},
		{lookup.CategoryNoBio, "cache.ttl.no_bio", t.NoBio},
		{lookup.CategoryUnregistered, "cache.ttl.unregistered", t.Unregistered},
		{lookup.CategoryRateLimit, "cache.ttl.rate_limit", t.RateLimit},
	}
	out := lookup.TTLs{}
	for _, f := range fields {
		d, err := parseDurationOrDefault(f.path, f.raw, def[f.cat])
		if err != nil {
			return nil, err
		}
		out[f.cat] = d
	}
	return out, nil
}

func mapCacheDriver(cfg *Config) (string, error) {
	switch d := strings.ToLower(strings.TrimSpace(cfg.Cache.Driver)); d {
	case "", cacheMemory:
		return cacheMemory, nil
	case cacheRedis:
		if strings.TrimSpace(cfg.Cache.Redis.Addr) == "" {
			return "", fmt.Errorf("cache.redis.addr is required when cache.driver=redis")
		}
		return cacheRedis, nil
	default:
		return "", fmt.Errorf("unknown cache.driver: %s", cfg.Cache.Driver)
	}
}

func mapBotSettings(cfg *Config) (bot.Settings, error) {
	s := bot.DefaultSettings()
	cool, err := parseDurationOrDefault("lookup.cooldown", cfg.Lookup.Cooldown, s.Cooldown)
	if err != nil {
		return s, err
	}
	s.Cooldown = cool
	if cfg.Lookup.MaxUploadBytes < 0 {
		return s, fmt.Errorf("lookup.max_upload_bytes must be >= 0")
	}
	if cfg.Lookup.MaxUploadBytes > 0 {
		s.MaxUploadBytes = cfg.Lookup.MaxUploadBytes
	}
	edit, err := parseDurationOrDefault("telegram.edit_interval", cfg.Telegram.EditInterval, s.EditInterval)
	if err != nil {
		return s, err
	}
	s.EditInterval = edit
	return s, nil
}

// mapOpsConfig validates and converts the ops section. It never starts the server.
func mapOpsConfig(cfg *Config) (ops.Config, error) {
	oc := cfg.Ops
	out := ops.Config{
		Enabled:       oc.Enabled,
		Addr:          strings.TrimSpace(oc.Addr),
		Token:         strings.TrimSpace(oc.Token),
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		PprofPrefix:   strings.TrimSpace(oc.PprofPrefix),
	}
	if out.Addr == "" {
		out.Addr = "127.0.0.1:9090"
	}

	readTO, err := parseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second)
	if err != nil {
		return out, err
	}
	writeTO, err := parseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return out, err
	}
	idleTO, err := parseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 120*time.Second)
	if err != nil {
		return out, err
	}
	out.ReadTimeout, out.WriteTimeout, out.IdleTimeout = readTO, writeTO, idleTO

	if oc.MutexProfileFraction < 0 || oc.BlockProfileRate < 0 || oc.MemProfileRate < 0 {
		return out, fmt.Errorf("ops: profile rates must be >= 0")
	}
	out.MutexProfileFraction = oc.MutexProfileFraction
	out.BlockProfileRate = oc.BlockProfileRate
	out.MemProfileRate = oc.MemProfileRate

	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return out, fmt.Errorf("ops.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !ops.IsLoopbackAddr(out.Addr) {
			return out, fmt.Errorf("ops: binding to non-loopback addr requires token or allow_insecure=true")
		}
	}
	return out, nil
}

func mapMaintenanceConfig(cfg *Config) maintenance.Config {
	mc := cfg.Maintenance
	return maintenance.Config{
		Timezone: mc.Timezone,
		Specs: map[string]string{
			maintenance.TaskCacheSweep:    mc.CacheSweep,
			maintenance.TaskPairingSweep:  mc.PairingSweep,
			maintenance.TaskCooldownPrune: mc.CooldownPrune,
			maintenance.TaskSessionCheck:  mc.SessionCheck,
		},
	}
}

// validateConfig rejects a config that would fail any mapping. It is the
// gate of hot reloads, so it must not touch running components.
func validateConfig(cfg *Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram.token is required")
	}
	if _, err := parseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapWhatsAppConfig(cfg); err != nil {
		return err
	}
	if _, err := mapLookupConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCacheDriver(cfg); err != nil {
		return err
	}
	if _, err := mapBotSettings(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	return nil
}
