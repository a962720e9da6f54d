package app

import (
	"strings"
	"testing"
	"time"

	"bioscout/internal/lookup"
	"bioscout/internal/maintenance"
)

func validConfig() *Config {
	cfg := &Config{}
	cfg.Telegram.Token = "123:abc"
	return cfg
}

func TestMapStorageConfigDefaults(t *testing.T) {
	cfg := validConfig()
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Driver != "sqlite" || sc.Path == "" || sc.BusyTimeout != time.Second {
		t.Fatalf("storage = %+v", sc)
	}

	cfg.Storage.Driver = "none"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("driver none accepted")
	}
	cfg.Storage.Driver = "mongo"
	if _, err := mapStorageConfig(cfg); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestMapWhatsAppConfig(t *testing.T) {
	cfg := validConfig()
	zero := 0
	cfg.WhatsApp.ReconnectMaxAttempts = &zero
	cfg.WhatsApp.ReconnectDelay = "500ms"
	cfg.WhatsApp.CountryCode = "60"

	_, pc, ttl, err := mapWhatsAppConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if pc.MaxReconnectAttempts != 0 || pc.ReconnectDelay != 500*time.Millisecond || pc.CountryCode != "60" {
		t.Fatalf("pool config = %+v", pc)
	}
	if ttl != 5*time.Minute {
		t.Fatalf("pairing ttl = %s", ttl)
	}

	cfg.WhatsApp.CountryCode = "+62"
	if _, _, _, err := mapWhatsAppConfig(cfg); err == nil {
		t.Fatal("non-digit country code accepted")
	}
}

func TestMapLookupConfig(t *testing.T) {
	cfg := validConfig()
	budget := 0
	cfg.Lookup.RetryBudget = &budget
	cfg.Lookup.Concurrency = 5
	cfg.Lookup.Timezone = "Asia/Jakarta"
	cfg.Cache.TTL.NoBio = "1m"

	lc, err := mapLookupConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	def := lookup.DefaultConfig()
	if lc.RetryBudget != 0 || lc.Concurrency != 5 || lc.MaxTargets != def.MaxTargets {
		t.Fatalf("lookup config = %+v", lc)
	}
	if lc.Location == nil || lc.Location.String() != "Asia/Jakarta" {
		t.Fatalf("location = %v", lc.Location)
	}
	if lc.TTLs[lookup.CategoryNoBio] != time.Minute || lc.TTLs[lookup.CategoryHasBio] != time.Hour {
		t.Fatalf("ttls = %v", lc.TTLs)
	}

	for name, mut := range map[string]func(c *Config){
		"rates":    func(c *Config) { c.Lookup.MinRate, c.Lookup.MaxRate = 8, 4 },
		"step":     func(c *Config) { c.Lookup.ProgressStep = 2 },
		"timezone": func(c *Config) { c.Lookup.Timezone = "Mars/Olympus" },
		"ttl":      func(c *Config) { c.Cache.TTL.HasBio = "soon" },
	} {
		c := validConfig()
		mut(c)
		if _, err := mapLookupConfig(c); err == nil {
			t.Errorf("%s: invalid config accepted", name)
		}
	}
}

func TestMapBotSettings(t *testing.T) {
	cfg := validConfig()
	cfg.Lookup.Cooldown = "45s"
	cfg.Telegram.EditInterval = "1s"
	s, err := mapBotSettings(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s.Cooldown != 45*time.Second || s.EditInterval != time.Second || s.MaxUploadBytes != 1<<20 {
		t.Fatalf("settings = %+v", s)
	}
}

func TestMapCacheDriver(t *testing.T) {
	cfg := validConfig()
	if d, err := mapCacheDriver(cfg); err != nil || d != cacheMemory {
		t.Fatalf("default driver = %q, %v", d, err)
	}
	cfg.Cache.Driver = "redis"
	if _, err := mapCacheDriver(cfg); err == nil {
		t.Fatal("redis without addr accepted")
	}
	cfg.Cache.Redis.Addr = "127.0.0.1:6379"
	if d, err := mapCacheDriver(cfg); err != nil || d != cacheRedis {
		t.Fatalf("driver = %q, %v", d, err)
	}
}

func TestMapOpsConfigRefusesPublicBind(t *testing.T) {
	cfg := validConfig()
	cfg.Ops.Enabled = true
	cfg.Ops.Addr = "0.0.0.0:9090"
	if _, err := mapOpsConfig(cfg); err == nil || !strings.Contains(err.Error(), "non-loopback") {
		t.Fatalf("err = %v", err)
	}
	cfg.Ops.Token = "secret"
	if _, err := mapOpsConfig(cfg); err != nil {
		t.Fatal(err)
	}

	cfg = validConfig()
	oc, err := mapOpsConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if oc.Addr != "127.0.0.1:9090" || oc.ReadTimeout != 5*time.Second {
		t.Fatalf("ops = %+v", oc)
	}
}

func TestMapMaintenanceConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Maintenance.CacheSweep = "off"
	mc := mapMaintenanceConfig(cfg)
	if mc.Specs[maintenance.TaskCacheSweep] != "off" || len(mc.Specs) != 4 {
		t.Fatalf("specs = %v", mc.Specs)
	}

	a := &App{}
	if _, ok := a.maintConfig(cfg).Specs[maintenance.TaskCacheSweep]; ok {
		t.Fatal("cache sweep kept without an in-process cache")
	}
}

func TestValidateConfig(t *testing.T) {
	if err := validateConfig(validConfig()); err != nil {
		t.Fatal(err)
	}
	if err := validateConfig(&Config{}); err == nil {
		t.Fatal("missing token accepted")
	}
	cfg := validConfig()
	cfg.Telegram.PollTimeout = "-1s"
	if err := validateConfig(cfg); err == nil {
		t.Fatal("negative poll timeout accepted")
	}
}

func TestLogTarget(t *testing.T) {
	cfg := validConfig()
	if _, ok := logTarget(cfg); ok {
		t.Fatal("empty group_log has a target")
	}
	cfg.Telegram.GroupLog = " -1001234 "
	if id, ok := logTarget(cfg); !ok || id != -1001234 {
		t.Fatalf("target = %d, %v", id, ok)
	}
}
