package lookup

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"bioscout/internal/network"
)

func TestClassify(t *testing.T) {
	setAt := time.Date(2024, 3, 9, 14, 30, 0, 0, time.UTC)
	tests := []struct {
		name   string
		bundle network.Bundle
		want   Category
		bio    string
		setAt  string
		reason string
	}{
		{
			name:   "unregistered",
			bundle: network.Bundle{Target: "1", Registered: true, Exists: false},
			want:   CategoryUnregistered,
		},
		{
			name: "status throttled",
			bundle: network.Bundle{Target: "1", Registered: true, Exists: true,
				StatusErr: errors.New("rate-overlimit 429")},
			want:   CategoryRateLimit,
			reason: network.ErrThrottled.Error(),
		},
		{
			name:   "registration throttled",
			bundle: network.Bundle{Target: "1", RegisterErr: network.ErrThrottled},
			want:   CategoryRateLimit,
			reason: network.ErrThrottled.Error(),
		},
		{
			name:   "registration failed",
			bundle: network.Bundle{Target: "1", RegisterErr: network.ErrMalformed},
			want:   CategoryError,
			reason: network.ErrMalformed.Error(),
		},
		{
			name:   "empty status",
			bundle: network.Bundle{Target: "1", Registered: true, Exists: true, Status: &network.Status{Text: "  "}},
			want:   CategoryNoBio,
		},
		{
			name:   "no status at all",
			bundle: network.Bundle{Target: "1", Registered: true, Exists: true, StatusErr: errors.New("item-not-found")},
			want:   CategoryNoBio,
		},
		{
			name:   "bio with time",
			bundle: network.Bundle{Target: "1", Registered: true, Exists: true, Status: &network.Status{Text: "Hi there", SetAt: setAt}},
			want:   CategoryHasBio,
			bio:    "Hi there",
			setAt:  "2024-03-09 14:30:00 UTC",
		},
		{
			name:   "bio with epoch time",
			bundle: network.Bundle{Target: "1", Registered: true, Exists: true, Status: &network.Status{Text: "x", SetAt: time.Unix(0, 0)}},
			want:   CategoryHasBio,
			bio:    "x",
			setAt:  "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.bundle, time.UTC)
			if got.Category != tt.want || got.Bio != tt.bio || got.SetAt != tt.setAt || got.Reason != tt.reason {
				t.Fatalf("Classify = %+v, want %s bio=%q setAt=%q reason=%q", got, tt.want, tt.bio, tt.setAt, tt.reason)
			}
			hasEnrichment := tt.want == CategoryHasBio || tt.want == CategoryNoBio
			if (got.Enrichment != nil) != hasEnrichment {
				t.Fatalf("enrichment = %+v, want present=%v", got.Enrichment, hasEnrichment)
			}
		})
	}
}

func TestClassifyUsesLocation(t *testing.T) {
	loc := time.FixedZone("WIB", 7*3600)
	b := network.Bundle{Registered: true, Exists: true, Status: &network.Status{Text: "a", SetAt: time.Date(2024, 1, 1, 20, 0, 0, 0, time.UTC)}}
	if got := Classify(b, loc).SetAt; got != "2024-01-02 03:00:00 WIB" {
		t.Fatalf("SetAt = %q", got)
	}
}

func TestBusinessEnrichment(t *testing.T) {
	tests := []struct {
		name     string
		profile  *network.BusinessProfile
		bio      string
		business bool
		websites []string
		email    string
	}{
		{
			name:     "personal with link",
			bio:      "see https://example.com",
			business: false,
		},
		{
			name:     "boilerplate bio with mojibake",
			bio:      "Hello. Iâ€™m using WhatsApp Business.",
			business: true,
		},
		{
			name: "profile",
			profile: &network.BusinessProfile{
				Name:        "Toko Maju",
				Email:       "cs@tokomaju.id",
				Websites:    []string{"https://tokomaju.id"},
				Description: "Order via https://wa.me/628123 or https://shop.tokomaju.id/katalog.",
				Address:     "Jl. Merdeka 1, https://tokomaju.id",
			},
			bio:      "Visit https://www.tokomaju.id/promo, chat https://api.whatsapp.com/send",
			business: true,
			websites: []string{"https://tokomaju.id", "https://www.tokomaju.id/promo", "https://shop.tokomaju.id/katalog"},
			email:    "cs@tokomaju.id",
		},
		{
			name: "profile websites drop messaging links",
			profile: &network.BusinessProfile{
				Name:     "Warung Sari",
				Websites: []string{"https://wa.me/6281234567890", "t.me/warungsari", "https://warungsari.com"},
			},
			business: true,
			websites: []string{"https://warungsari.com"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := enrich(tt.profile, tt.bio)
			if e.IsBusiness != tt.business {
				t.Fatalf("IsBusiness = %v, want %v", e.IsBusiness, tt.business)
			}
			wantType := AccountPersonal
			if tt.business {
				wantType = AccountBusiness
			}
			if e.AccountType != wantType {
				t.Fatalf("AccountType = %q", e.AccountType)
			}
			if !reflect.DeepEqual(e.Websites, tt.websites) {
				t.Fatalf("Websites = %q, want %q", e.Websites, tt.websites)
			}
			if e.Email != tt.email {
				t.Fatalf("Email = %q, want %q", e.Email, tt.email)
			}
		})
	}
}

func TestExtractWebsitesExcludesMessagingHosts(t *testing.T) {
	got := ExtractWebsites("https://t.me/x http://telegram.me/y https://chat.whatsapp.com/z https://getme.id/a) https://getme.id/a")
	want := []string{"https://getme.id/a"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ExtractWebsites = %q, want %q", got, want)
	}
}
