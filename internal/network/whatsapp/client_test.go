package whatsapp

import (
	"errors"
	"testing"

	"go.mau.fi/whatsmeow/types"

	"bioscout/internal/network"
)

func TestRegistrationFrom(t *testing.T) {
	const target = "6281234567890"
	jid := types.NewJID(target, types.DefaultUserServer)

	cases := []struct {
		name    string
		resp    []types.IsOnWhatsAppResponse
		exists  bool
		wantErr error
	}{
		{name: "registered", resp: []types.IsOnWhatsAppResponse{{Query: "+" + target, JID: jid, IsIn: true}}, exists: true},
		{name: "unregistered", resp: []types.IsOnWhatsAppResponse{{Query: "+" + target, JID: jid}}},
		{name: "matched by jid", resp: []types.IsOnWhatsAppResponse{{JID: jid, IsIn: true}}, exists: true},
		{name: "empty", wantErr: network.ErrMalformed},
		{name: "other number only", resp: []types.IsOnWhatsAppResponse{{
			Query: "+6289999999999", JID: types.NewJID("6289999999999", types.DefaultUserServer), IsIn: true,
		}}, wantErr: network.ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg, err := registrationFrom(tc.resp, target)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
			if reg.Exists != tc.exists {
				t.Fatalf("exists = %v, want %v", reg.Exists, tc.exists)
			}
			if tc.exists && reg.JID != jid.String() {
				t.Fatalf("jid = %q", reg.JID)
			}
		})
	}
}
