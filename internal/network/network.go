// Package network describes the messaging-network client used by the session
// pool and the lookup pipeline. The wire protocol lives in the concrete
// adapter (see network/whatsapp); everything above this package only sees the
// interfaces and typed errors declared here.
package network

import (
	"context"
	"time"
)

// EventKind is the kind of a connection event reported by a Client.
type EventKind string

const (
	EventConnecting  EventKind = "connecting"
	EventOpen        EventKind = "open"
	EventClosed      EventKind = "closed"
	EventLoggedOut   EventKind = "logged_out"
	EventCredentials EventKind = "credentials"
)

// Event is delivered by a Client to the handler registered at Dial time.
type Event struct {
	Kind EventKind
	// Creds is set for EventCredentials and EventOpen.
	Creds *Credentials
	Err   error
}

// Credentials is the opaque, persistable handle to a paired device.
// Key material itself stays with the adapter's own store.
type Credentials struct {
	DeviceID string    `json:"device_id"`
	Phone    string    `json:"phone"`
	PairedAt time.Time `json:"paired_at"`
}

// Valid reports whether the handle points at a paired device.
func (c *Credentials) Valid() bool { return c != nil && c.DeviceID != "" }

// EventHandler receives connection events. It is called from the adapter's
// goroutines and must not block.
type EventHandler func(Event)

// Client is one live session against the network.
type Client interface {
	Connect(ctx context.Context) error
	// Close drops the connection but keeps credentials.
	Close()
	// Logout unlinks the device and invalidates its credentials.
	Logout(ctx context.Context) error
	IsLoggedIn() bool
	// PairPhone requests a linking code for phone (digits only, with country code).
	PairPhone(ctx context.Context, phone string) (string, error)

	CheckRegistered(ctx context.Context, target string) (Registration, error)
	FetchStatus(ctx context.Context, target string) (*Status, error)
	FetchBusinessProfile(ctx context.Context, target string) (*BusinessProfile, error)
}

// Dialer creates clients. creds may be nil for a fresh, unpaired device.
type Dialer interface {
	Dial(ctx context.Context, tenant string, creds *Credentials, h EventHandler) (Client, error)
	// Forget drops any adapter-side key material behind creds.
	Forget(ctx context.Context, creds *Credentials) error
}

// Registration is the answer of a registration check.
type Registration struct {
	Exists bool
	JID    string
}

// Status is the profile "about" text of a target.
type Status struct {
	Text  string
	SetAt time.Time
}

// BusinessProfile is the subset of a business profile used for enrichment.
type BusinessProfile struct {
	Name        string
	ID          string
	Email       string
	Address     string
	Description string
	Websites    []string
}

// Bundle collects the raw responses for one target.
type Bundle struct {
	Target string

	Registered  bool // registration check completed
	Exists      bool
	RegisterErr error

	Status    *Status
	StatusErr error

	Business    *BusinessProfile
	BusinessErr error
}
