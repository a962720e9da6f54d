// Package session owns the per-tenant messaging sessions: creation, credential
// persistence, supervised reconnects, teardown, and the pairing handshake.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"bioscout/internal/eventbus"
	"bioscout/internal/network"
	"bioscout/internal/phone"
	rtsup "bioscout/internal/runtime/supervisor"
	logx "bioscout/pkg/logx"
)

// EventStateChange is published on the bus for every session transition.
const EventStateChange = "session.state"

// EventReconnectFailed is published when a tenant exhausts its reconnect attempts.
const EventReconnectFailed = "session.reconnect_failed"

// StateChange is the Data of EventStateChange events.
type StateChange struct {
	Tenant string
	// Session identifies the session instance; a re-paired tenant gets a new one.
	Session uint64
	From    State
	To      State
	Phone   string
	Err     error
}

// CredentialStore persists the credential handle of each tenant.
// Load returns (nil, nil) when the tenant has none.
type CredentialStore interface {
	Load(ctx context.Context, tenant string) (*network.Credentials, error)
	Save(ctx context.Context, tenant string, creds network.Credentials) error
	Delete(ctx context.Context, tenant string) error
	Tenants(ctx context.Context) ([]string, error)
}

type Config struct {
	// ReconnectDelay is the fixed pause before every reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts opens the circuit for a tenant; 0 disables auto-reconnect.
	MaxReconnectAttempts int
	ConnectTimeout       time.Duration
	CountryCode          string
}

func (c Config) withDefaults() Config {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 3 * time.Second
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.CountryCode == "" {
		c.CountryCode = phone.DefaultCountryCode
	}
	return c
}

// PairingCode is the result of a successful pairing request.
type PairingCode struct {
	Code    string
	Phone   string
	Session uint64
}

// Info is a read-only view of one tenant session.
type Info struct {
	Tenant       string
	State        State
	Since        time.Time
	Phone        string
	Reconnecting bool
}

type tenantSession struct {
	tenant       string
	gen          uint64
	machine      *Machine
	client       network.Client
	creds        *network.Credentials
	phone        string
	reconnecting bool
}

// Pool holds at most one live session per tenant.
type Pool struct {
	cfg    Config
	dialer network.Dialer
	creds  CredentialStore
	bus    eventbus.Bus
	log    logx.Logger
	sup    *rtsup.Supervisor

	mu       sync.Mutex
	sessions map[string]*tenantSession
	locks    map[string]*sync.Mutex
	gen      uint64
	closed   bool
}

func NewPool(cfg Config, dialer network.Dialer, creds CredentialStore, bus eventbus.Bus, log logx.Logger) *Pool {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Pool{
		cfg:      cfg.withDefaults(),
		dialer:   dialer,
		creds:    creds,
		bus:      bus,
		log:      log,
		sup:      rtsup.NewSupervisor(context.Background(), rtsup.WithLogger(log), rtsup.WithCancelOnError(false)),
		sessions: map[string]*tenantSession{},
		locks:    map[string]*sync.Mutex{},
	}
}

// Supervisor exposes the pool's reconnect supervisor for /status output.
func (p *Pool) Supervisor() *rtsup.Supervisor { return p.sup }

// Init reconnects every tenant with stored credentials.
func (p *Pool) Init(ctx context.Context) error {
	tenants, err := p.creds.Tenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	ok := 0
	for _, t := range tenants {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := p.GetOrCreate(ctx, t); err != nil {
			p.log.Warn("auto-connect failed", logx.String("tenant", t), logx.Err(err))
			continue
		}
		ok++
	}
	p.log.Info("auto-connect finished", logx.Int("tenants", len(tenants)), logx.Int("connected", ok))
	return nil
}

// Shutdown closes every session without logging out, so stored credentials
// survive a restart, and waits for reconnect loops to exit.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	sessions := make([]*tenantSession, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.sessions = map[string]*tenantSession{}
	p.mu.Unlock()

	p.sup.Cancel()
	for _, s := range sessions {
		p.mu.Lock()
		client, num := s.client, s.phone
		p.mu.Unlock()
		if client != nil {
			client.Close()
		}
		from, to, _ := s.machine.Transition(TriggerDisconnect)
		noteTransition(from, to)
		noteTransition(to, "")
		p.publish(StateChange{Tenant: s.tenant, Session: s.gen, From: from, To: to, Phone: num})
	}
	p.log.Info("sessions drained", logx.Int("count", len(sessions)))
	return p.sup.Wait(ctx)
}

// GetOrCreate returns the tenant's live client, reconnecting from stored
// credentials or creating an unpaired session when none exists.
func (p *Pool) GetOrCreate(ctx context.Context, tenant string) (network.Client, error) {
	mu := p.tenantLock(tenant)
	mu.Lock()
	defer mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	var (
		client    network.Client
		state     State
		gen       uint64
		resumable bool
	)
	if s := p.sessions[tenant]; s != nil && s.client != nil {
		client, state, gen = s.client, s.machine.State(), s.gen
		resumable = state == StateDisconnected && s.creds.Valid() && !s.reconnecting
	}
	p.mu.Unlock()

	switch {
	case client == nil:
	case state == StateOpen || state == StateConnecting:
		return client, nil
	case resumable:
		// The reconnect circuit gave up earlier; a caller asking for the
		// session is a reason to try again.
		if err := p.connect(ctx, tenant, gen, client); err != nil {
			if p.cfg.MaxReconnectAttempts > 0 {
				p.startReconnect(tenant, gen)
			}
			return nil, fmt.Errorf("%w: connect: %v", network.ErrConnection, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: reconnect in progress", network.ErrConnection)
	}

	creds, err := p.creds.Load(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if !creds.Valid() {
		creds = nil
	}
	c, _, err := p.open(ctx, tenant, creds)
	return c, err
}

// Client returns the tenant's client only while the session is open.
func (p *Pool) Client(tenant string) (network.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sessions[tenant]
	if s == nil {
		return nil, network.ErrNotConnected
	}
	switch s.machine.State() {
	case StateOpen:
		if s.client != nil {
			return s.client, nil
		}
	case StateLoggedOut:
		return nil, network.ErrLoggedOut
	}
	return nil, network.ErrNotConnected
}

// IsConnected is non-blocking.
func (p *Pool) IsConnected(tenant string) bool {
	_, err := p.Client(tenant)
	return err == nil
}

// State returns the tenant's state, StateDisconnected when unknown.
func (p *Pool) State(tenant string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.sessions[tenant]; s != nil {
		return s.machine.State()
	}
	return StateDisconnected
}

// Snapshot lists all known sessions sorted by tenant.
func (p *Pool) Snapshot() []Info {
	p.mu.Lock()
	out := make([]Info, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, Info{
			Tenant:       s.tenant,
			State:        s.machine.State(),
			Since:        s.machine.Since(),
			Phone:        s.phone,
			Reconnecting: s.reconnecting,
		})
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Tenant < out[j].Tenant })
	return out
}

// RequestPairing tears down whatever the tenant had, creates a fresh unpaired
// session and asks it for a linking code. An open, authenticated session is
// refused with ErrAlreadyPaired.
func (p *Pool) RequestPairing(ctx context.Context, tenant, rawPhone string) (PairingCode, error) {
	num, ok := phone.Normalize(rawPhone, p.cfg.CountryCode)
	if !ok {
		Pairings.WithLabelValues("error").Inc()
		return PairingCode{}, &PairingError{Tenant: tenant, Err: ErrInvalidPhone}
	}

	mu := p.tenantLock(tenant)
	mu.Lock()
	defer mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return PairingCode{}, &PairingError{Tenant: tenant, Err: ErrPoolClosed}
	}
	if s := p.sessions[tenant]; s != nil && s.machine.State() == StateOpen && s.client != nil && s.client.IsLoggedIn() {
		p.mu.Unlock()
		Pairings.WithLabelValues("error").Inc()
		return PairingCode{}, &PairingError{Tenant: tenant, Err: ErrAlreadyPaired}
	}
	p.mu.Unlock()

	p.teardown(ctx, tenant, false)

	client, gen, err := p.open(ctx, tenant, nil)
	if err != nil {
		Pairings.WithLabelValues("error").Inc()
		return PairingCode{}, &PairingError{Tenant: tenant, Err: err}
	}

	code, err := client.PairPhone(ctx, num)
	if err != nil {
		p.teardown(context.WithoutCancel(ctx), tenant, false)
		Pairings.WithLabelValues("error").Inc()
		return PairingCode{}, &PairingError{Tenant: tenant, Err: network.Normalize(err)}
	}

	p.mu.Lock()
	if s := p.sessions[tenant]; s != nil && s.gen == gen {
		s.phone = num
	}
	p.mu.Unlock()

	Pairings.WithLabelValues("issued").Inc()
	p.log.Info("pairing code issued", logx.String("tenant", tenant), logx.String("phone", num))
	return PairingCode{Code: code, Phone: num, Session: gen}, nil
}

// Disconnect logs the tenant out, clears its credentials and releases the
// slot. Unknown tenants are a no-op.
func (p *Pool) Disconnect(ctx context.Context, tenant string) error {
	mu := p.tenantLock(tenant)
	mu.Lock()
	defer mu.Unlock()
	return p.teardown(ctx, tenant, true)
}

// teardown removes the tenant's session; the caller holds the tenant lock.
func (p *Pool) teardown(ctx context.Context, tenant string, logout bool) error {
	p.mu.Lock()
	s := p.sessions[tenant]
	delete(p.sessions, tenant)
	var num string
	if s != nil {
		num = s.phone
	}
	p.mu.Unlock()

	var errs []error
	var creds *network.Credentials
	if s != nil {
		creds = s.creds
		if s.client != nil {
			if logout && s.client.IsLoggedIn() {
				if err := s.client.Logout(ctx); err != nil {
					errs = append(errs, fmt.Errorf("logout: %w", err))
				}
			}
			s.client.Close()
		}
		from, to, _ := s.machine.Transition(TriggerDisconnect)
		noteTransition(from, to)
		noteTransition(to, "")
		p.publish(StateChange{Tenant: tenant, Session: s.gen, From: from, To: to, Phone: num})
	}

	if creds == nil {
		if stored, err := p.creds.Load(ctx, tenant); err == nil && stored.Valid() {
			creds = stored
		}
	}
	if err := p.creds.Delete(ctx, tenant); err != nil {
		errs = append(errs, fmt.Errorf("delete credentials: %w", err))
	}
	if creds.Valid() {
		if err := p.dialer.Forget(ctx, creds); err != nil {
			errs = append(errs, fmt.Errorf("forget device: %w", err))
		}
	}
	if s != nil {
		p.log.Info("session torn down", logx.String("tenant", tenant), logx.Bool("logout", logout))
	}
	return errors.Join(errs...)
}

// open installs a new session for tenant and connects it. The caller holds
// the tenant lock and has ensured no session is installed.
func (p *Pool) open(ctx context.Context, tenant string, creds *network.Credentials) (network.Client, uint64, error) {
	p.mu.Lock()
	p.gen++
	s := &tenantSession{tenant: tenant, gen: p.gen, machine: NewMachine(), creds: creds}
	if creds != nil {
		s.phone = creds.Phone
	}
	p.sessions[tenant] = s
	p.mu.Unlock()
	noteTransition("", StateDisconnected)

	gen := s.gen
	client, err := p.dialer.Dial(ctx, tenant, creds, func(ev network.Event) { p.onEvent(tenant, gen, ev) })
	if err != nil {
		p.release(tenant, gen)
		return nil, 0, fmt.Errorf("%w: dial: %v", network.ErrConnection, err)
	}
	p.mu.Lock()
	s.client = client
	p.mu.Unlock()

	if err := p.connect(ctx, tenant, gen, client); err != nil {
		if creds == nil {
			client.Close()
			p.release(tenant, gen)
			return nil, 0, fmt.Errorf("%w: connect: %v", network.ErrConnection, err)
		}
		// Paired tenants keep their slot and retry in the background.
		p.startReconnect(tenant, gen)
		return nil, 0, fmt.Errorf("%w: connect: %v", network.ErrConnection, err)
	}
	return client, gen, nil
}

func (p *Pool) release(tenant string, gen uint64) {
	p.mu.Lock()
	s := p.sessions[tenant]
	if s == nil || s.gen != gen {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, tenant)
	p.mu.Unlock()
	noteTransition(s.machine.State(), "")
}

func (p *Pool) onEvent(tenant string, gen uint64, ev network.Event) {
	switch ev.Kind {
	case network.EventCredentials:
		p.saveCreds(tenant, gen, ev.Creds)
	case network.EventConnecting:
		p.transition(tenant, gen, TriggerConnect, nil, true)
	case network.EventOpen:
		p.saveCreds(tenant, gen, ev.Creds)
		p.transition(tenant, gen, TriggerOpen, nil, true)
	case network.EventClosed:
		p.transition(tenant, gen, TriggerClose, ev.Err, true)
	case network.EventLoggedOut:
		p.transition(tenant, gen, TriggerLogout, ev.Err, true)
	}
}

func (p *Pool) saveCreds(tenant string, gen uint64, creds *network.Credentials) {
	if !creds.Valid() {
		return
	}
	p.mu.Lock()
	s := p.sessions[tenant]
	if s == nil || s.gen != gen {
		p.mu.Unlock()
		return
	}
	changed := s.creds == nil || *s.creds != *creds
	cp := *creds
	s.creds = &cp
	if cp.Phone != "" {
		s.phone = cp.Phone
	}
	p.mu.Unlock()
	if !changed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.creds.Save(ctx, tenant, cp); err != nil {
		p.log.Error("save credentials failed", logx.String("tenant", tenant), logx.Err(err))
		return
	}
	p.log.Debug("credentials saved", logx.String("tenant", tenant), logx.String("phone", cp.Phone))
}

// transition feeds t into the tenant's machine. fromEvent marks triggers that
// came from the client rather than from the pool itself.
func (p *Pool) transition(tenant string, gen uint64, t Trigger, cause error, fromEvent bool) {
	p.mu.Lock()
	s := p.sessions[tenant]
	if s == nil || s.gen != gen {
		p.mu.Unlock()
		return
	}
	from, to, ok := s.machine.Transition(t)
	if !ok {
		p.mu.Unlock()
		p.log.Debug("transition ignored", logx.String("tenant", tenant), logx.String("state", string(from)), logx.String("trigger", string(t)))
		return
	}

	var (
		reconnect bool
		removed   bool
		drop      network.Client
		purge     *network.Credentials
	)
	switch {
	case to == StateLoggedOut && from != StateLoggedOut:
		drop = s.client
		purge = s.creds
		s.client = nil
		s.creds = nil
	case t == TriggerClose && fromEvent && to == StateDisconnected:
		if s.creds.Valid() {
			reconnect = !p.closed && !s.reconnecting && p.cfg.MaxReconnectAttempts > 0
		} else {
			// An unpaired session that closes has nothing to resume.
			drop = s.client
			removed = true
			delete(p.sessions, tenant)
		}
	}
	if t == TriggerOpen {
		s.reconnecting = false
	}
	change := StateChange{Tenant: tenant, Session: gen, From: from, To: to, Phone: s.phone, Err: cause}
	p.mu.Unlock()

	if from != to {
		noteTransition(from, to)
		p.publish(change)
		p.log.Info("session state", logx.String("tenant", tenant), logx.String("from", string(from)), logx.String("to", string(to)), logx.Err(cause))
	}
	if removed {
		noteTransition(to, "")
		if drop != nil {
			drop.Close()
		}
	}
	if to == StateLoggedOut && from != StateLoggedOut {
		p.purge(tenant, drop, purge)
	}
	if reconnect {
		p.startReconnect(tenant, gen)
	}
}

// purge removes the credentials of a tenant that was logged out remotely.
func (p *Pool) purge(tenant string, client network.Client, creds *network.Credentials) {
	p.sup.Go0("purge."+tenant, func(ctx context.Context) {
		if client != nil {
			client.Close()
		}
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := p.creds.Delete(cctx, tenant); err != nil {
			p.log.Warn("delete credentials failed", logx.String("tenant", tenant), logx.Err(err))
		}
		if creds.Valid() {
			if err := p.dialer.Forget(cctx, creds); err != nil {
				p.log.Warn("forget device failed", logx.String("tenant", tenant), logx.Err(err))
			}
		}
		p.log.Warn("tenant logged out; pairing required", logx.String("tenant", tenant))
	})
}

func (p *Pool) startReconnect(tenant string, gen uint64) {
	p.mu.Lock()
	s := p.sessions[tenant]
	if s == nil || s.gen != gen || p.closed {
		p.mu.Unlock()
		return
	}
	s.reconnecting = true
	p.mu.Unlock()

	p.sup.Go("reconnect."+tenant, func(ctx context.Context) error {
		p.reconnectLoop(ctx, tenant, gen)
		return nil
	})
}

// reconnectLoop retries with a fixed delay until the session opens, goes
// away, or MaxReconnectAttempts is reached.
func (p *Pool) reconnectLoop(ctx context.Context, tenant string, gen uint64) {
	defer func() {
		p.mu.Lock()
		if s := p.sessions[tenant]; s != nil && s.gen == gen {
			s.reconnecting = false
		}
		p.mu.Unlock()
	}()

	for attempt := 1; attempt <= p.cfg.MaxReconnectAttempts; attempt++ {
		t := time.NewTimer(p.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}

		err, done := p.reconnectOnce(ctx, tenant, gen)
		if done {
			return
		}
		if err == nil {
			Reconnects.WithLabelValues("ok").Inc()
			p.log.Info("session reconnected", logx.String("tenant", tenant), logx.Int("attempt", attempt))
			return
		}
		Reconnects.WithLabelValues("error").Inc()
		p.log.Warn("reconnect attempt failed", logx.String("tenant", tenant), logx.Int("attempt", attempt), logx.Int("max", p.cfg.MaxReconnectAttempts), logx.Err(err))
	}

	p.mu.Lock()
	if s := p.sessions[tenant]; s != nil && s.gen == gen {
		s.reconnecting = false
	}
	p.mu.Unlock()
	Reconnects.WithLabelValues("gave_up").Inc()
	p.log.Error("reconnect gave up", logx.String("tenant", tenant), logx.Int("attempts", p.cfg.MaxReconnectAttempts))
	p.bus.Publish(eventbus.Event{Type: EventReconnectFailed, Data: StateChange{Tenant: tenant, Session: gen, From: StateDisconnected, To: StateDisconnected}})
}

// reconnectOnce returns done=true when there is nothing left to reconnect.
func (p *Pool) reconnectOnce(ctx context.Context, tenant string, gen uint64) (error, bool) {
	mu := p.tenantLock(tenant)
	mu.Lock()
	defer mu.Unlock()

	p.mu.Lock()
	s := p.sessions[tenant]
	if s == nil || s.gen != gen || s.client == nil || p.closed {
		p.mu.Unlock()
		return nil, true
	}
	state := s.machine.State()
	client := s.client
	p.mu.Unlock()
	if state == StateOpen || state == StateLoggedOut {
		return nil, true
	}

	return p.connect(ctx, tenant, gen, client), false
}

// connect drives one connection attempt of an installed session through the
// state machine. The caller holds the tenant lock.
func (p *Pool) connect(ctx context.Context, tenant string, gen uint64, client network.Client) error {
	p.transition(tenant, gen, TriggerConnect, nil, false)
	cctx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
	err := client.Connect(cctx)
	cancel()
	if err != nil {
		err = network.Normalize(err)
		p.transition(tenant, gen, TriggerClose, err, false)
		return err
	}
	return nil
}

// publish takes a change built under p.mu so session fields are never read
// unlocked.
func (p *Pool) publish(ch StateChange) {
	p.bus.Publish(eventbus.Event{Type: EventStateChange, Data: ch})
}

func (p *Pool) tenantLock(tenant string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	mu := p.locks[tenant]
	if mu == nil {
		mu = &sync.Mutex{}
		p.locks[tenant] = mu
	}
	return mu
}
