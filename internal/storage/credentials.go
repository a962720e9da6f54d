package storage

import (
	"context"

	"bioscout/internal/network"
)

// Credentials exposes the tenant registry as the session pool's credential
// store. A tenant row without a device id means "no credentials".
type Credentials struct {
	st Store
}

func NewCredentials(st Store) *Credentials { return &Credentials{st: st} }

func (c *Credentials) Load(ctx context.Context, tenant string) (*network.Credentials, error) {
	t, ok, err := c.st.GetTenant(ctx, tenant)
	if err != nil || !ok || t.DeviceID == "" {
		return nil, err
	}
	return &network.Credentials{DeviceID: t.DeviceID, Phone: t.Phone, PairedAt: t.PairedAt}, nil
}

func (c *Credentials) Save(ctx context.Context, tenant string, creds network.Credentials) error {
	return c.st.PutTenant(ctx, Tenant{
		ID:       tenant,
		DeviceID: creds.DeviceID,
		Phone:    creds.Phone,
		PairedAt: creds.PairedAt,
	})
}

func (c *Credentials) Delete(ctx context.Context, tenant string) error {
	return c.st.DeleteTenant(ctx, tenant)
}

// Tenants lists tenants that hold credentials.
func (c *Credentials) Tenants(ctx context.Context) ([]string, error) {
	ts, err := c.st.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		if t.DeviceID != "" {
			out = append(out, t.ID)
		}
	}
	return out, nil
}
