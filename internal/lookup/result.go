// Package lookup runs profile-bio lookups for a tenant: a TTL cache in front
// of an in-flight deduplicator, an adaptive rate limiter pacing the network,
// the result classifier, and the bulk batch scheduler.
package lookup

// Category is the classification of one lookup.
type Category string

const (
	CategoryHasBio       Category = "hasBio"
	CategoryNoBio        Category = "noBio"
	CategoryUnregistered Category = "unregistered"
	CategoryRateLimit    Category = "rateLimit"
	CategoryError        Category = "error"
)

// Categories lists every category in report order.
var Categories = []Category{CategoryHasBio, CategoryNoBio, CategoryUnregistered, CategoryRateLimit, CategoryError}

// Result is the classified outcome for one target.
type Result struct {
	Target     string      `json:"target"`
	Category   Category    `json:"category"`
	Bio        string      `json:"bio,omitempty"`
	SetAt      string      `json:"set_at,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	Enrichment *Enrichment `json:"enrichment,omitempty"`
}

// Enrichment is attached to hasBio and noBio results.
type Enrichment struct {
	AccountType  string   `json:"account_type"`
	IsBusiness   bool     `json:"is_business"`
	BusinessName string   `json:"business_name,omitempty"`
	Websites     []string `json:"websites,omitempty"`
	Email        string   `json:"email,omitempty"`
}

const (
	AccountBusiness = "WhatsApp Business"
	AccountPersonal = "Personal"
)

// Counts is a per-category tally.
type Counts map[Category]int

func (c Counts) clone() Counts {
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Total sums all categories.
func (c Counts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
