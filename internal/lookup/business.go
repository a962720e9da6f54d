package lookup

import (
	"net/url"
	"regexp"
	"strings"

	"bioscout/internal/network"
)

var businessBios = []string{
	"Hello. I'm using WhatsApp Business.",
	"Hola. Estoy usando WhatsApp Business.",
	"WhatsApp Business",
}

var apostrophes = strings.NewReplacer(
	"â€™", "'",
	"’", "'",
	"‘", "'",
	"`", "'",
	"´", "'",
	"?", "'",
)

var urlPattern = regexp.MustCompile(`(?i)https?://(?:www\.)?[\w-]+\.[\w.-]+(?:/[\w\-._~:/?#\[\]@!$&'()*+,;=]*)?`)

var excludedHosts = []string{"whatsapp.com", "whatsapp.net", "wa.me", "t.me", "telegram.me"}

// IsBusiness reports whether a profile or bio identifies a business account.
func IsBusiness(bp *network.BusinessProfile, bio string) bool {
	if bp != nil && (bp.Name != "" || bp.ID != "") {
		return true
	}
	if bio == "" {
		return false
	}
	norm := apostrophes.Replace(bio)
	for _, p := range businessBios {
		if strings.Contains(norm, p) {
			return true
		}
	}
	return false
}

// ExtractWebsites returns the URLs in text, minus messaging links, in order
// of first appearance.
func ExtractWebsites(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, m := range urlPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, ".,;:!?)]}'\"")
		if excludedURL(m) {
			continue
		}
		out = append(out, m)
	}
	return dedupe(out)
}

func excludedURL(raw string) bool {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, h := range excludedHosts {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}

// enrich builds the enrichment for a registered target with the given bio.
func enrich(bp *network.BusinessProfile, bio string) *Enrichment {
	e := &Enrichment{AccountType: AccountPersonal}
	if !IsBusiness(bp, bio) {
		return e
	}
	e.AccountType = AccountBusiness
	e.IsBusiness = true

	var sites []string
	if bp != nil {
		e.BusinessName = bp.Name
		e.Email = bp.Email
		for _, w := range bp.Websites {
			if w = strings.TrimSpace(w); w != "" && !excludedURL(w) {
				sites = append(sites, w)
			}
		}
	}
	sites = append(sites, ExtractWebsites(bio)...)
	if bp != nil {
		sites = append(sites, ExtractWebsites(strings.TrimSpace(bp.Description+" "+bp.Address))...)
	}
	e.Websites = dedupe(sites)
	return e
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
