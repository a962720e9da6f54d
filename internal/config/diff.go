package config

import (
	"reflect"
	"sort"
	"strings"

	logx "bioscout/pkg/logx"
)

// restartSections cannot be applied to a running process.
var restartSections = map[string]bool{
	"whatsapp": true,
	"cache":    true,
	"storage":  true,
}

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the changed sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	if strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		!reflect.DeepEqual(oldCfg.Telegram.AllowedUserIDs, newCfg.Telegram.AllowedUserIDs) ||
		strings.TrimSpace(oldCfg.Telegram.EditInterval) != strings.TrimSpace(newCfg.Telegram.EditInterval) ||
		strings.TrimSpace(oldCfg.Telegram.GroupLog) != strings.TrimSpace(newCfg.Telegram.GroupLog) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Int("telegram.allowed_count", len(newCfg.Telegram.AllowedUserIDs)),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(newCfg.Telegram.GroupLog) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.WhatsApp, newCfg.WhatsApp) {
		changed = append(changed, "whatsapp")
		attrs = append(attrs,
			logx.String("whatsapp.session_db", strings.TrimSpace(newCfg.WhatsApp.SessionDB)),
			logx.String("whatsapp.reconnect_delay", strings.TrimSpace(newCfg.WhatsApp.ReconnectDelay)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Lookup, newCfg.Lookup) {
		changed = append(changed, "lookup")
		attrs = append(attrs,
			logx.Int("lookup.max_targets", newCfg.Lookup.MaxTargets),
			logx.Int("lookup.batch_size", newCfg.Lookup.BatchSize),
			logx.Int("lookup.concurrency", newCfg.Lookup.Concurrency),
			logx.String("lookup.cooldown", strings.TrimSpace(newCfg.Lookup.Cooldown)),
		)
	}

	// Cache (never log redis password)
	oc, nc := oldCfg.Cache, newCfg.Cache
	if oc.Driver != nc.Driver || oc.TTL != nc.TTL ||
		oc.Redis.Addr != nc.Redis.Addr || oc.Redis.DB != nc.Redis.DB || oc.Redis.Prefix != nc.Redis.Prefix ||
		(oc.Redis.Password != "") != (nc.Redis.Password != "") {
		changed = append(changed, "cache")
		attrs = append(attrs,
			logx.String("cache.driver", strings.TrimSpace(nc.Driver)),
			logx.String("cache.redis_addr", strings.TrimSpace(nc.Redis.Addr)),
		)
	}

	if strings.TrimSpace(oldCfg.Storage.Driver) != strings.TrimSpace(newCfg.Storage.Driver) ||
		strings.TrimSpace(oldCfg.Storage.BusyTimeout) != strings.TrimSpace(newCfg.Storage.BusyTimeout) ||
		strings.TrimSpace(oldCfg.Storage.Path) != strings.TrimSpace(newCfg.Storage.Path) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	// Ops (never log token)
	oo, no := oldCfg.Ops, newCfg.Ops
	oTok, nTok := strings.TrimSpace(oo.Token) != "", strings.TrimSpace(no.Token) != ""
	oo.Token, no.Token = "", ""
	if oTok != nTok || !reflect.DeepEqual(oo, no) {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", no.Enabled),
			logx.String("ops.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("ops.pprof", no.Pprof),
			logx.Bool("ops.token_set", nTok),
			logx.Bool("ops.allow_insecure", no.AllowInsecure),
		)
	}

	if oldCfg.Maintenance != newCfg.Maintenance {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.String("maintenance.cache_sweep", newCfg.Maintenance.CacheSweep),
			logx.String("maintenance.pairing_sweep", newCfg.Maintenance.PairingSweep),
			logx.String("maintenance.cooldown_prune", newCfg.Maintenance.CooldownPrune),
		)
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if restartSections[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
