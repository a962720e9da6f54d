// Package phone normalizes the phone numbers used as tenant pairing targets
// and lookup targets.
package phone

import (
	"regexp"
	"strings"
)

// DefaultCountryCode is prepended to national numbers ("08..." / "8...").
const DefaultCountryCode = "62"

const (
	minLen = 10
	maxLen = 15

	minListLen = 7
)

var listSep = regexp.MustCompile(`[\n,;\s]+`)

// Digits strips every non-digit rune.
func Digits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Normalize turns raw user input into international digits. National numbers
// starting with 0, or with 8 and longer than 9 digits, get cc prepended.
// ok is false when the result is not 10-15 digits long.
func Normalize(raw, cc string) (string, bool) {
	if cc == "" {
		cc = DefaultCountryCode
	}
	d := Digits(raw)
	switch {
	case strings.HasPrefix(d, "0"):
		d = cc + strings.TrimLeft(d, "0")
	case strings.HasPrefix(d, "8") && len(d) > 9 && !strings.HasPrefix(d, cc):
		d = cc + d
	}
	if len(d) < minLen || len(d) > maxLen {
		return d, false
	}
	return d, true
}

// ParseList extracts candidate numbers from free text or an uploaded file.
// Entries are split on whitespace, commas and semicolons, reduced to digits,
// kept when 7-15 digits long, and deduplicated in input order.
func ParseList(text string) []string {
	parts := listSep.Split(text, -1)
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		d := Digits(p)
		if len(d) < minListLen || len(d) > maxLen {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	return out
}
