package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bioscout/internal/eventbus"
	"bioscout/internal/transport"
	logx "bioscout/pkg/logx"
)

// PairingRecord is a pending pairing handshake.
type PairingRecord struct {
	Tenant    string
	Code      string
	Phone     string
	CreatedAt time.Time
	Session   uint64
	Reply     transport.Replier
}

// Coordinator issues pairing codes and tells the requester once the session
// opens. Records expire after TTL.
type Coordinator struct {
	pool *Pool
	bus  eventbus.Bus
	log  logx.Logger
	ttl  time.Duration
	now  func() time.Time

	events <-chan eventbus.Event
	unsub  func()

	mu      sync.Mutex
	records map[string]PairingRecord
}

func NewCoordinator(pool *Pool, bus eventbus.Bus, ttl time.Duration, log logx.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	events, unsub := bus.Subscribe(64)
	return &Coordinator{
		events:  events,
		unsub:   unsub,
		pool:    pool,
		bus:     bus,
		log:     log,
		ttl:     ttl,
		now:     time.Now,
		records: map[string]PairingRecord{},
	}
}

// Run consumes session state changes until ctx is done. The subscription is
// taken in NewCoordinator, so no change published after that is missed.
func (c *Coordinator) Run(ctx context.Context) {
	defer c.unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			if ev.Type != EventStateChange {
				continue
			}
			if sc, ok := ev.Data.(StateChange); ok {
				c.handle(ctx, sc)
			}
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, sc StateChange) {
	c.mu.Lock()
	rec, ok := c.records[sc.Tenant]
	if !ok || rec.Session != sc.Session {
		c.mu.Unlock()
		return
	}
	switch sc.To {
	case StateOpen:
		delete(c.records, sc.Tenant)
	case StateDisconnected, StateLoggedOut:
		delete(c.records, sc.Tenant)
		c.mu.Unlock()
		c.log.Debug("pairing abandoned", logx.String("tenant", sc.Tenant), logx.String("state", string(sc.To)))
		return
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	Pairings.WithLabelValues("completed").Inc()
	c.log.Info("pairing completed", logx.String("tenant", sc.Tenant), logx.String("phone", sc.Phone))
	if rec.Reply == nil {
		return
	}
	num := sc.Phone
	if num == "" {
		num = rec.Phone
	}
	if err := rec.Reply.SendText(ctx, fmt.Sprintf("✅ WhatsApp linked (+%s). You can now run lookups.", num)); err != nil {
		c.log.Warn("pairing notify failed", logx.String("tenant", sc.Tenant), logx.Err(err))
	}
}

// Pair requests a code for tenant and remembers who to notify.
func (c *Coordinator) Pair(ctx context.Context, tenant, phone string, reply transport.Replier) (PairingRecord, error) {
	code, err := c.pool.RequestPairing(ctx, tenant, phone)
	if err != nil {
		return PairingRecord{}, err
	}
	rec := PairingRecord{
		Tenant:    tenant,
		Code:      code.Code,
		Phone:     code.Phone,
		CreatedAt: c.now(),
		Session:   code.Session,
		Reply:     reply,
	}
	c.mu.Lock()
	c.records[tenant] = rec
	c.mu.Unlock()
	return rec, nil
}

// Pending returns the live record for tenant, if any.
func (c *Coordinator) Pending(tenant string) (PairingRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[tenant]
	if ok && c.now().Sub(rec.CreatedAt) > c.ttl {
		delete(c.records, tenant)
		return PairingRecord{}, false
	}
	return rec, ok
}

// Cancel drops the pending record without touching the session.
func (c *Coordinator) Cancel(tenant string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.records[tenant]
	delete(c.records, tenant)
	return ok
}

// Sweep removes expired records and returns how many were dropped.
func (c *Coordinator) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for t, rec := range c.records {
		if now.Sub(rec.CreatedAt) > c.ttl {
			delete(c.records, t)
			n++
		}
	}
	if n > 0 {
		c.log.Debug("pairing records expired", logx.Int("count", n))
	}
	return n
}
