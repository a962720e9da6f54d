package storage

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	logx "bioscout/pkg/logx"
)

// Store is the persistence API used by the session pool and the bot.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) error

	PutTenant(ctx context.Context, t Tenant) error
	GetTenant(ctx context.Context, id string) (Tenant, bool, error)
	DeleteTenant(ctx context.Context, id string) error
	ListTenants(ctx context.Context) ([]Tenant, error)

	// CheckCooldown reports whether actor is still cooling down from action;
	// when not, it starts a new window.
	CheckCooldown(ctx context.Context, actor int64, action string, window time.Duration) (Cooldown, error)
	// PruneCooldowns drops expired cooldown windows.
	PruneCooldowns(ctx context.Context) (int, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "file":
		return openFile(cfg, log)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
