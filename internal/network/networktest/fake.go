// Package networktest provides in-memory network clients for tests.
package networktest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"bioscout/internal/network"
)

// Responder answers the lookup calls of a fake client. Nil funcs answer with
// a registered target without status or business profile.
type Responder struct {
	Register func(target string) (network.Registration, error)
	Status   func(target string) (*network.Status, error)
	Business func(target string) (*network.BusinessProfile, error)
}

// Dialer hands out fake clients and remembers them per tenant.
type Dialer struct {
	Responder Responder
	// Gate, when set, blocks every lookup call until it is closed.
	Gate chan struct{}
	// ConnectErr, when set, is consulted by every Connect call.
	ConnectErr func(tenant string, attempt int) error
	PairCode   string

	mu        sync.Mutex
	clients   map[string][]*Client
	connects  map[string]int
	forgotten []string

	calls atomic.Int64
}

func NewDialer() *Dialer {
	return &Dialer{clients: map[string][]*Client{}, connects: map[string]int{}, PairCode: "ABCD-EFGH"}
}

func (d *Dialer) Dial(ctx context.Context, tenant string, creds *network.Credentials, h network.EventHandler) (network.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &Client{dialer: d, tenant: tenant, handler: h}
	if creds != nil {
		cp := *creds
		c.creds = &cp
	}
	d.mu.Lock()
	d.clients[tenant] = append(d.clients[tenant], c)
	d.mu.Unlock()
	return c, nil
}

func (d *Dialer) Forget(ctx context.Context, creds *network.Credentials) error {
	if creds == nil {
		return nil
	}
	d.mu.Lock()
	d.forgotten = append(d.forgotten, creds.DeviceID)
	d.mu.Unlock()
	return nil
}

// Last returns the most recently dialed client for tenant.
func (d *Dialer) Last(tenant string) *Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	cs := d.clients[tenant]
	if len(cs) == 0 {
		return nil
	}
	return cs[len(cs)-1]
}

// Dials returns how many clients were created for tenant.
func (d *Dialer) Dials(tenant string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.clients[tenant])
}

// Connects returns how many Connect calls were made for tenant.
func (d *Dialer) Connects(tenant string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects[tenant]
}

// Forgotten lists device ids passed to Forget.
func (d *Dialer) Forgotten() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.forgotten...)
}

// Calls is the number of registration checks issued across all clients.
func (d *Dialer) Calls() int64 { return d.calls.Load() }

func (d *Dialer) noteConnect(tenant string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects[tenant]++
	return d.connects[tenant]
}

// Client is a scriptable network.Client.
type Client struct {
	dialer  *Dialer
	tenant  string
	handler network.EventHandler

	mu        sync.Mutex
	creds     *network.Credentials
	connected bool
	loggedIn  bool
	loggedOut bool
}

func (c *Client) emit(ev network.Event) {
	if c.handler != nil {
		c.handler(ev)
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := c.dialer.noteConnect(c.tenant)
	if fn := c.dialer.ConnectErr; fn != nil {
		if err := fn(c.tenant, n); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.connected = true
	paired := c.creds.Valid()
	c.loggedIn = paired
	creds := c.creds
	c.mu.Unlock()

	c.emit(network.Event{Kind: network.EventConnecting})
	if paired {
		c.emit(network.Event{Kind: network.EventOpen, Creds: creds})
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.loggedIn = false
	c.loggedOut = true
	c.mu.Unlock()
	return nil
}

// LoggedOut reports whether Logout was called.
func (c *Client) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

// Connected reports whether the client is connected.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *Client) PairPhone(ctx context.Context, phone string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return "", network.ErrNotConnected
	}
	if c.loggedIn {
		return "", errors.New("already logged in")
	}
	return c.dialer.PairCode, nil
}

// CompletePairing simulates the phone accepting the code.
func (c *Client) CompletePairing(phone string) {
	creds := &network.Credentials{DeviceID: phone + ".0:1@s.whatsapp.net", Phone: phone, PairedAt: time.Now()}
	c.mu.Lock()
	c.creds = creds
	c.loggedIn = true
	c.mu.Unlock()
	c.emit(network.Event{Kind: network.EventCredentials, Creds: creds})
	c.emit(network.Event{Kind: network.EventOpen, Creds: creds})
}

// Drop simulates a transient network failure.
func (c *Client) Drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.emit(network.Event{Kind: network.EventClosed, Err: network.ErrConnection})
}

// Kick simulates the remote side logging the device out.
func (c *Client) Kick() {
	c.mu.Lock()
	c.connected = false
	c.loggedIn = false
	c.mu.Unlock()
	c.emit(network.Event{Kind: network.EventLoggedOut, Err: network.ErrLoggedOut})
}

func (c *Client) ready(ctx context.Context) error {
	if g := c.dialer.Gate; g != nil {
		select {
		case <-g:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedOut {
		return network.ErrLoggedOut
	}
	if !c.connected {
		return network.ErrNotConnected
	}
	return nil
}

func (c *Client) CheckRegistered(ctx context.Context, target string) (network.Registration, error) {
	c.dialer.calls.Add(1)
	if err := c.ready(ctx); err != nil {
		return network.Registration{}, err
	}
	if fn := c.dialer.Responder.Register; fn != nil {
		return fn(target)
	}
	return network.Registration{Exists: true, JID: target + "@s.whatsapp.net"}, nil
}

func (c *Client) FetchStatus(ctx context.Context, target string) (*network.Status, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	if fn := c.dialer.Responder.Status; fn != nil {
		return fn(target)
	}
	return nil, nil
}

func (c *Client) FetchBusinessProfile(ctx context.Context, target string) (*network.BusinessProfile, error) {
	if err := c.ready(ctx); err != nil {
		return nil, err
	}
	if fn := c.dialer.Responder.Business; fn != nil {
		return fn(target)
	}
	return nil, nil
}
