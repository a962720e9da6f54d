// Package whatsapp implements network.Dialer on top of whatsmeow. Device keys
// live in whatsmeow's sqlstore, backed by the pure-Go sqlite driver.
package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	_ "modernc.org/sqlite"

	"bioscout/internal/network"
	logx "bioscout/pkg/logx"
)

// Config is the adapter part of the whatsapp config section.
type Config struct {
	SessionDB   string
	DisplayName string
}

// Dialer creates whatsmeow clients over a shared device store.
type Dialer struct {
	cfg       Config
	db        *sql.DB
	container *sqlstore.Container
	log       logx.Logger
}

// Open opens (and migrates) the device store at cfg.SessionDB.
func Open(cfg Config, log logx.Logger) (*Dialer, error) {
	if cfg.SessionDB == "" {
		cfg.SessionDB = "./data/whatsapp.db"
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = "Chrome (Linux)"
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SessionDB), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.SessionDB+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, "sqlite3", newWALogger(log.With(logx.String("wa", "store"))))
	if err := container.Upgrade(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("upgrade device store: %w", err)
	}
	return &Dialer{cfg: cfg, db: db, container: container, log: log}, nil
}

func (d *Dialer) Close() error { return d.db.Close() }

func (d *Dialer) Dial(ctx context.Context, tenant string, creds *network.Credentials, h network.EventHandler) (network.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var dev *store.Device
	if creds.Valid() {
		jid, err := types.ParseJID(creds.DeviceID)
		if err != nil {
			return nil, fmt.Errorf("parse device id: %w", err)
		}
		dev, err = d.container.GetDevice(jid)
		if err != nil {
			return nil, fmt.Errorf("load device: %w", err)
		}
		if dev == nil {
			return nil, fmt.Errorf("%w: device %s missing from store", network.ErrLoggedOut, creds.DeviceID)
		}
	} else {
		dev = d.container.NewDevice()
	}

	log := d.log.With(logx.String("tenant", tenant))
	cli := whatsmeow.NewClient(dev, newWALogger(log.With(logx.String("wa", "client"))))
	// Reconnects are driven by the session pool.
	cli.EnableAutoReconnect = false

	c := &client{
		cli:         cli,
		handler:     h,
		log:         log,
		displayName: d.cfg.DisplayName,
		qrReady:     make(chan struct{}),
	}
	if creds.Valid() {
		cp := *creds
		c.creds = &cp
	}
	cli.AddEventHandler(c.handle)
	return c, nil
}

// Forget deletes the device keys behind creds.
func (d *Dialer) Forget(ctx context.Context, creds *network.Credentials) error {
	if !creds.Valid() {
		return nil
	}
	jid, err := types.ParseJID(creds.DeviceID)
	if err != nil {
		return fmt.Errorf("parse device id: %w", err)
	}
	dev, err := d.container.GetDevice(jid)
	if err != nil {
		return fmt.Errorf("load device: %w", err)
	}
	if dev == nil {
		return nil
	}
	return dev.Delete()
}
