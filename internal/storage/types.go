package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file": JSON lines + snapshots next to Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Tenant is one registered tenant and the handle of its paired device.
type Tenant struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Phone     string    `json:"phone"`
	PairedAt  time.Time `json:"paired_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cooldown is the answer of CheckCooldown.
type Cooldown struct {
	OnCooldown bool
	Remaining  time.Duration
}

// AuditEntry records an operator action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At            time.Time
	ActorID       int64
	ActorUsername string
	ChatID        int64
	ThreadID      int
	Tenant        string
	Action        string
	Target        string
	OK            int
	Fail          int
	Error         string
	TookMS        int64
	MetaJSON      string
}

func cooldownKey(actor int64, action string) string {
	return action + ":" + itoa(actor)
}
