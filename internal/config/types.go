package config

// Config is the whole bot configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Logging     LoggingConfig     `json:"logging"`
	WhatsApp    WhatsAppConfig    `json:"whatsapp"`
	Lookup      LookupConfig      `json:"lookup"`
	Cache       CacheConfig       `json:"cache"`
	Storage     StorageConfig     `json:"storage"`
	Ops         OpsConfig         `json:"ops,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// OwnerUserIDs may use every command; when AllowedUserIDs is empty, any
	// user may pair and run lookups.
	OwnerUserIDs   []int64 `json:"owner_user_ids"`
	AllowedUserIDs []int64 `json:"allowed_user_ids,omitempty"`
	GroupLog       string  `json:"group_log"`
	PollTimeout    string  `json:"poll_timeout"`
	// EditInterval throttles progress message edits (default "3s").
	EditInterval string `json:"edit_interval,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// WhatsAppConfig controls the session pool. Changes require a restart.
//
// Defaults:
//   - session_db: "./data/whatsapp.db"
//   - country_code: "62"
//   - reconnect_delay: "3s", reconnect_max_attempts: 5
//   - connect_timeout: "30s", pairing_ttl: "5m"
type WhatsAppConfig struct {
	SessionDB            string `json:"session_db"`
	DisplayName          string `json:"display_name,omitempty"`
	CountryCode          string `json:"country_code,omitempty"`
	ReconnectDelay       string `json:"reconnect_delay,omitempty"`
	ReconnectMaxAttempts *int   `json:"reconnect_max_attempts,omitempty"`
	ConnectTimeout       string `json:"connect_timeout,omitempty"`
	PairingTTL           string `json:"pairing_ttl,omitempty"`
}

// LookupConfig tunes the bulk pipeline. Hot-reloadable.
//
// Defaults:
//   - max_targets: 500, batch_size: 100, concurrency: 3
//   - batch_cooldown: "2s", retry_budget: 2, progress_step: 0.05
//   - cooldown: "20s", max_upload_bytes: 1 MiB
//   - initial_rate/min_rate/max_rate: 10/3/10
type LookupConfig struct {
	MaxTargets     int     `json:"max_targets,omitempty"`
	BatchSize      int     `json:"batch_size,omitempty"`
	Concurrency    int     `json:"concurrency,omitempty"`
	BatchCooldown  string  `json:"batch_cooldown,omitempty"`
	RetryBudget    *int    `json:"retry_budget,omitempty"`
	ProgressStep   float64 `json:"progress_step,omitempty"`
	Cooldown       string  `json:"cooldown,omitempty"`
	Timezone       string  `json:"timezone,omitempty"`
	MaxUploadBytes int64   `json:"max_upload_bytes,omitempty"`
	InitialRate    float64 `json:"initial_rate,omitempty"`
	MinRate        float64 `json:"min_rate,omitempty"`
	MaxRate        float64 `json:"max_rate,omitempty"`
}

// CacheConfig selects the result cache backend. Changes require a restart.
//
// Example:
//
//	"cache": { "driver": "redis", "redis": { "addr": "127.0.0.1:6379" } }
type CacheConfig struct {
	Driver string      `json:"driver"` // "memory" (default) or "redis"
	TTL    CacheTTLs   `json:"ttl,omitempty"`
	Redis  RedisConfig `json:"redis,omitempty"`
}

type CacheTTLs struct {
	HasBio       string `json:"has_bio,omitempty"`
	NoBio        string `json:"no_bio,omitempty"`
	Unregistered string `json:"unregistered,omitempty"`
	RateLimit    string `json:"rate_limit,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/bioscout.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// OpsConfig controls the optional ops HTTP server (/metrics, /healthz and
// optionally /debug/pprof/).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:9090").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9090"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	Pprof       bool   `json:"pprof,omitempty"`
	PprofPrefix string `json:"pprof_prefix,omitempty"` // default: "/debug/pprof/"

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MemProfileRate       int `json:"mem_profile_rate,omitempty"`
}

// MaintenanceConfig holds cron specs (robfig/cron syntax, descriptors such as
// "@every 5m" allowed). An empty spec takes the default; "off" disables the job.
type MaintenanceConfig struct {
	Timezone      string `json:"timezone,omitempty"`
	CacheSweep    string `json:"cache_sweep,omitempty"`    // default "@every 5m"
	PairingSweep  string `json:"pairing_sweep,omitempty"`  // default "@every 1m"
	CooldownPrune string `json:"cooldown_prune,omitempty"` // default "@every 1h"
	SessionCheck  string `json:"session_check,omitempty"`  // default "@every 10m"
}
