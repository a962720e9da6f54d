package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"bioscout/internal/network"
	logx "bioscout/pkg/logx"
)

type client struct {
	cli         *whatsmeow.Client
	handler     network.EventHandler
	log         logx.Logger
	displayName string

	mu      sync.Mutex
	creds   *network.Credentials
	qrOnce  sync.Once
	qrReady chan struct{}
}

func (c *client) emit(ev network.Event) {
	if c.handler != nil {
		c.handler(ev)
	}
}

func (c *client) handle(evt interface{}) {
	switch e := evt.(type) {
	case *events.QR:
		c.qrOnce.Do(func() { close(c.qrReady) })
	case *events.PairSuccess:
		creds := &network.Credentials{DeviceID: e.ID.String(), Phone: e.ID.User, PairedAt: time.Now()}
		c.mu.Lock()
		c.creds = creds
		c.mu.Unlock()
		c.log.Info("device paired", logx.String("jid", e.ID.String()), logx.String("platform", e.Platform))
		c.emit(network.Event{Kind: network.EventCredentials, Creds: creds})
	case *events.Connected:
		c.emit(network.Event{Kind: network.EventOpen, Creds: c.currentCreds()})
	case *events.Disconnected:
		c.emit(network.Event{Kind: network.EventClosed, Err: network.ErrConnection})
	case *events.KeepAliveTimeout:
		c.log.Debug("keepalive timeout", logx.Int("errors", e.ErrorCount))
	case *events.StreamReplaced:
		c.emit(network.Event{Kind: network.EventClosed, Err: fmt.Errorf("%w: stream replaced", network.ErrConnection)})
	case *events.LoggedOut:
		c.emit(network.Event{Kind: network.EventLoggedOut, Err: fmt.Errorf("%w: %s", network.ErrLoggedOut, e.Reason.String())})
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			c.emit(network.Event{Kind: network.EventLoggedOut, Err: fmt.Errorf("%w: %s", network.ErrLoggedOut, e.Reason.String())})
			return
		}
		c.emit(network.Event{Kind: network.EventClosed, Err: fmt.Errorf("%w: connect failure %s", network.ErrConnection, e.Reason.String())})
	case *events.TemporaryBan:
		c.emit(network.Event{Kind: network.EventClosed, Err: fmt.Errorf("%w: temporary ban %s", network.ErrThrottled, e.String())})
	}
}

// currentCreds prefers the live store id over the handle we were dialed with.
func (c *client) currentCreds() *network.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.cli.Store.ID
	if id == nil {
		return c.creds
	}
	creds := &network.Credentials{DeviceID: id.String(), Phone: id.User, PairedAt: time.Now()}
	if c.creds != nil && c.creds.DeviceID == creds.DeviceID {
		creds.PairedAt = c.creds.PairedAt
	}
	c.creds = creds
	return creds
}

func (c *client) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.emit(network.Event{Kind: network.EventConnecting})
	if err := c.cli.Connect(); err != nil {
		return mapErr(err)
	}
	return nil
}

func (c *client) Close() { c.cli.Disconnect() }

func (c *client) Logout(ctx context.Context) error {
	if !c.cli.IsLoggedIn() {
		return nil
	}
	return mapErr(c.cli.Logout())
}

func (c *client) IsLoggedIn() bool { return c.cli.IsLoggedIn() }

// PairPhone waits for the first QR event, which marks the point where the
// server accepts a phone pairing request.
func (c *client) PairPhone(ctx context.Context, phone string) (string, error) {
	if !c.cli.IsConnected() {
		return "", network.ErrNotConnected
	}
	select {
	case <-c.qrReady:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Second):
		return "", fmt.Errorf("%w: no pairing challenge from server", network.ErrConnection)
	}
	code, err := c.cli.PairPhone(phone, true, whatsmeow.PairClientChrome, c.displayName)
	if err != nil {
		return "", mapErr(err)
	}
	return code, nil
}

func (c *client) CheckRegistered(ctx context.Context, target string) (network.Registration, error) {
	if err := ctx.Err(); err != nil {
		return network.Registration{}, err
	}
	resp, err := c.cli.IsOnWhatsApp([]string{"+" + target})
	if err != nil {
		return network.Registration{}, mapErr(err)
	}
	return registrationFrom(resp, target)
}

// registrationFrom picks the answer for target out of an IsOnWhatsApp
// response. An answer that does not mention target says nothing about it.
func registrationFrom(resp []types.IsOnWhatsAppResponse, target string) (network.Registration, error) {
	for _, r := range resp {
		if r.Query != "+"+target && r.JID.User != target {
			continue
		}
		if !r.IsIn {
			return network.Registration{}, nil
		}
		return network.Registration{Exists: true, JID: r.JID.String()}, nil
	}
	return network.Registration{}, fmt.Errorf("%w: no registration entry for %s", network.ErrMalformed, target)
}

func (c *client) FetchStatus(ctx context.Context, target string) (*network.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	jid := types.NewJID(target, types.DefaultUserServer)
	info, err := c.cli.GetUserInfo([]types.JID{jid})
	if err != nil {
		return nil, mapErr(err)
	}
	ui, ok := info[jid]
	if !ok {
		return nil, nil
	}
	// The user info query does not carry the status timestamp.
	return &network.Status{Text: ui.Status}, nil
}

func (c *client) FetchBusinessProfile(ctx context.Context, target string) (*network.BusinessProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	bp, err := c.cli.GetBusinessProfile(types.NewJID(target, types.DefaultUserServer))
	if err != nil {
		if errors.Is(mapErr(err), network.ErrThrottled) {
			return nil, mapErr(err)
		}
		// Personal accounts answer with an error node; that is not a failure.
		return nil, nil
	}
	if bp == nil || bp.JID.IsEmpty() {
		return nil, nil
	}
	out := &network.BusinessProfile{
		ID:      bp.JID.String(),
		Email:   bp.Email,
		Address: bp.Address,
	}
	for _, cat := range bp.Categories {
		if out.Description != "" {
			out.Description += ", "
		}
		out.Description += cat.Name
	}
	for k, v := range bp.ProfileOptions {
		if strings.Contains(strings.ToLower(k), "website") && v != "" {
			out.Websites = append(out.Websites, v)
		}
	}
	return out, nil
}

// mapErr converts whatsmeow errors into network sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var iq *whatsmeow.IQError
	switch {
	case errors.As(err, &iq) && iq.Code == 429:
		return fmt.Errorf("%w: %v", network.ErrThrottled, err)
	case errors.Is(err, whatsmeow.ErrNotConnected):
		return fmt.Errorf("%w: %v", network.ErrNotConnected, err)
	case errors.Is(err, whatsmeow.ErrNotLoggedIn):
		return fmt.Errorf("%w: %v", network.ErrLoggedOut, err)
	}
	return network.Normalize(err)
}
