package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "bioscout/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	now func() time.Time

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, now: time.Now, pruneEvery: 500}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(at, actor_id, actor_username, chat_id, thread_id, tenant, action, target, ok, fail, err, took_ms, meta)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.ActorID, nullStr(e.ActorUsername), e.ChatID, e.ThreadID,
		nullStr(e.Tenant), e.Action, e.Target, e.OK, e.Fail, nullStr(e.Error), e.TookMS, nullStr(e.MetaJSON),
	)
	return err
}

func (s *sqliteStore) PutTenant(ctx context.Context, t Tenant) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("tenant id is required")
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tenants(id, device_id, phone, paired_at, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET device_id=excluded.device_id, phone=excluded.phone,
		   paired_at=excluded.paired_at, updated_at=excluded.updated_at`,
		t.ID, t.DeviceID, t.Phone, t.PairedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetTenant(ctx context.Context, id string) (Tenant, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, phone, paired_at, updated_at FROM tenants WHERE id = ?`, id)
	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Tenant{}, false, nil
	}
	if err != nil {
		return Tenant{}, false, err
	}
	return t, true, nil
}

func (s *sqliteStore) DeleteTenant(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = ?`, id)
	return err
}

func (s *sqliteStore) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, device_id, phone, paired_at, updated_at FROM tenants ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(r rowScanner) (Tenant, error) {
	var (
		t                 Tenant
		paired, updatedAt int64
	)
	if err := r.Scan(&t.ID, &t.DeviceID, &t.Phone, &paired, &updatedAt); err != nil {
		return Tenant{}, err
	}
	t.PairedAt = time.UnixMilli(paired)
	t.UpdatedAt = time.UnixMilli(updatedAt)
	return t, nil
}

func (s *sqliteStore) CheckCooldown(ctx context.Context, actor int64, action string, window time.Duration) (Cooldown, error) {
	if window <= 0 {
		return Cooldown{}, nil
	}
	key := cooldownKey(actor, action)
	now := s.now()

	var until int64
	err := s.db.QueryRowContext(ctx, `SELECT until FROM cooldowns WHERE key = ?`, key).Scan(&until)
	switch {
	case err == nil:
		if left := time.UnixMilli(until).Sub(now); left > 0 {
			return Cooldown{OnCooldown: true, Remaining: left}, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return Cooldown{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cooldowns(key, until) VALUES(?,?)
		 ON CONFLICT(key) DO UPDATE SET until=excluded.until`,
		key, now.Add(window).UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_, _ = s.PruneCooldowns(pctx)
		cancel()
	}
	return Cooldown{}, err
}

func (s *sqliteStore) PruneCooldowns(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cooldowns WHERE until < ?`, s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
