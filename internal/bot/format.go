package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"bioscout/internal/lookup"
	"bioscout/internal/session"
)

const rule = "━━━━━━━━━━━━━━━━━━"

func failed(c lookup.Counts) int {
	return c[lookup.CategoryError] + c[lookup.CategoryRateLimit]
}

func progressText(p lookup.Progress) string {
	pct := 0
	if p.Total > 0 {
		pct = p.Processed * 100 / p.Total
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 Processing %d numbers...\n", p.Total)
	fmt.Fprintf(&b, "✅ With bio: %d\n", p.Counts[lookup.CategoryHasBio])
	fmt.Fprintf(&b, "⚪ No bio: %d\n", p.Counts[lookup.CategoryNoBio])
	fmt.Fprintf(&b, "🚫 Unregistered: %d\n", p.Counts[lookup.CategoryUnregistered])
	fmt.Fprintf(&b, "❌ Failed: %d\n", failed(p.Counts))
	fmt.Fprintf(&b, "📊 %d/%d (%d%%)\n", p.Processed, p.Total, pct)
	fmt.Fprintf(&b, "⚡ Rate: %.1f/sec | Speed: %.1f/sec\n", p.Rate, p.Speed)
	fmt.Fprintf(&b, "⏱️ Time: %.1fs", p.Elapsed.Seconds())
	return b.String()
}

// summaryText is the closing message of a bulk job. With inline set the
// per-number details are included instead of being sent as files.
func summaryText(rep *lookup.Report, inline bool) string {
	var b strings.Builder
	b.WriteString("📋 Bio check results\n\n")
	fmt.Fprintf(&b, "✅ With bio: %d\n", rep.Counts[lookup.CategoryHasBio])
	fmt.Fprintf(&b, "⚪ No bio: %d\n", rep.Counts[lookup.CategoryNoBio])
	fmt.Fprintf(&b, "🚫 Unregistered: %d\n", rep.Counts[lookup.CategoryUnregistered])
	if n := rep.Counts[lookup.CategoryRateLimit]; n > 0 {
		fmt.Fprintf(&b, "⏳ Rate limited: %d\n", n)
	}
	fmt.Fprintf(&b, "❌ Failed: %d\n", rep.Counts[lookup.CategoryError])
	fmt.Fprintf(&b, "📊 Processed: %d\n", rep.Processed)
	if n := len(rep.Unprocessed); n > 0 {
		fmt.Fprintf(&b, "📌 Remaining: %d numbers\n", n)
	}
	fmt.Fprintf(&b, "⏱️ Took: %s", rep.Duration.Round(100*time.Millisecond))
	if rep.Aborted != "" {
		fmt.Fprintf(&b, "\n\n⚠️ Stopped early: %s", rep.Aborted)
	}
	if !inline {
		return b.String()
	}

	if rs := rep.Details[lookup.CategoryHasBio]; len(rs) > 0 {
		b.WriteString("\n\n" + rule + "\n✅ With bio:\n")
		for i, r := range rs {
			fmt.Fprintf(&b, "\n%d. %s\n   📝 %s\n   📅 %s", i+1, r.Target, r.Bio, r.SetAt)
		}
	}
	if rs := rep.Details[lookup.CategoryNoBio]; len(rs) > 0 {
		b.WriteString("\n\n" + rule + "\n⚪ No bio:\n")
		b.WriteString(joinTargets(rs))
	}
	if rs := rep.Details[lookup.CategoryUnregistered]; len(rs) > 0 {
		b.WriteString("\n\n" + rule + "\n🚫 Unregistered:\n")
		b.WriteString(joinTargets(rs))
	}
	if rs := failures(rep); len(rs) > 0 {
		b.WriteString("\n\n" + rule + "\n❌ Failed:")
		for _, r := range rs {
			fmt.Fprintf(&b, "\n%s: %s", r.Target, reason(r))
		}
	}
	return b.String()
}

func failures(rep *lookup.Report) []lookup.Result {
	out := append([]lookup.Result(nil), rep.Details[lookup.CategoryRateLimit]...)
	return append(out, rep.Details[lookup.CategoryError]...)
}

func joinTargets(rs []lookup.Result) string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Target
	}
	return strings.Join(out, ", ")
}

func reason(r lookup.Result) string {
	if r.Reason != "" {
		return r.Reason
	}
	if r.Category == lookup.CategoryRateLimit {
		return "rate limited"
	}
	return string(r.Category)
}

func withBioFile(rep *lookup.Report) []byte {
	var b strings.Builder
	b.WriteString("=== NUMBERS WITH BIO ===\n\n")
	rs := rep.Details[lookup.CategoryHasBio]
	if len(rs) == 0 {
		b.WriteString("(no numbers with a bio)\n")
	}
	for _, r := range rs {
		fmt.Fprintf(&b, "%s\nBio: %s\nSet: %s\n", r.Target, r.Bio, r.SetAt)
		if e := r.Enrichment; e != nil {
			fmt.Fprintf(&b, "Type: %s\n", accountLine(e))
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func noBioFile(rep *lookup.Report) []byte {
	var b strings.Builder
	b.WriteString("=== NUMBERS WITHOUT BIO / FAILED ===\n\n")
	noBio := rep.Details[lookup.CategoryNoBio]
	unreg := rep.Details[lookup.CategoryUnregistered]
	bad := failures(rep)
	if len(noBio)+len(unreg)+len(bad) == 0 {
		b.WriteString("(every number has a bio)\n")
		return []byte(b.String())
	}
	section := func(title string, rs []lookup.Result, line func(lookup.Result) string) {
		if len(rs) == 0 {
			return
		}
		b.WriteString("--- " + title + " ---\n")
		for _, r := range rs {
			b.WriteString(r.Target + " - " + line(r) + "\n")
		}
		b.WriteString("\n")
	}
	section("NO BIO", noBio, func(lookup.Result) string { return "No Bio" })
	section("UNREGISTERED", unreg, func(lookup.Result) string { return "Not on WhatsApp" })
	section("FAILED", bad, reason)
	return []byte(b.String())
}

func remainingFile(nums []string) []byte {
	var b strings.Builder
	b.WriteString("=== NUMBERS NOT PROCESSED ===\n")
	fmt.Fprintf(&b, "Total: %d numbers\n\n", len(nums))
	b.WriteString("Send the numbers below again to continue:\n\n")
	for _, n := range nums {
		b.WriteString(n + "\n")
	}
	b.WriteString("\n--- COPY FROM HERE ---")
	return []byte(b.String())
}

func accountLine(e *lookup.Enrichment) string {
	if e.IsBusiness && e.BusinessName != "" {
		return e.AccountType + " (" + e.BusinessName + ")"
	}
	return e.AccountType
}

func singleText(r lookup.Result) string {
	switch r.Category {
	case lookup.CategoryHasBio, lookup.CategoryNoBio:
		var b strings.Builder
		b.WriteString("📋 Bio check\n\n")
		fmt.Fprintf(&b, "📱 Number: %s\n", r.Target)
		if r.Category == lookup.CategoryHasBio {
			fmt.Fprintf(&b, "📝 Bio: %s\n📅 Set: %s", r.Bio, r.SetAt)
		} else {
			b.WriteString("⚪ No bio set")
		}
		if e := r.Enrichment; e != nil {
			fmt.Fprintf(&b, "\n👤 Account: %s", accountLine(e))
			if len(e.Websites) > 0 {
				fmt.Fprintf(&b, "\n🌐 %s", strings.Join(e.Websites, ", "))
			}
			if e.Email != "" {
				fmt.Fprintf(&b, "\n✉️ %s", e.Email)
			}
		}
		return b.String()
	case lookup.CategoryUnregistered:
		return "🚫 " + r.Target + " is not registered on WhatsApp."
	case lookup.CategoryRateLimit:
		return "⏳ Rate limited while checking " + r.Target + ". Try again shortly."
	default:
		return "❌ " + r.Target + ": " + reason(r)
	}
}

func debugText(d lookup.DebugReport) string {
	bd := d.Bundle
	var b strings.Builder
	fmt.Fprintf(&b, "🔧 Debug %s\n\n", d.Target)
	fmt.Fprintf(&b, "registration: checked=%t exists=%t", bd.Registered, bd.Exists)
	writeErr(&b, bd.RegisterErr)
	b.WriteString("\nstatus: ")
	if s := bd.Status; s != nil {
		fmt.Fprintf(&b, "%q", s.Text)
		if !s.SetAt.IsZero() {
			b.WriteString(" set_at=" + s.SetAt.UTC().Format(time.RFC3339))
		}
	} else {
		b.WriteString("none")
	}
	writeErr(&b, bd.StatusErr)
	b.WriteString("\nbusiness: ")
	if p := bd.Business; p != nil {
		fmt.Fprintf(&b, "name=%q email=%q websites=%v", p.Name, p.Email, p.Websites)
	} else {
		b.WriteString("none")
	}
	writeErr(&b, bd.BusinessErr)
	fmt.Fprintf(&b, "\n\nclassified: %s", d.Result.Category)
	if d.Result.Reason != "" {
		b.WriteString(" (" + d.Result.Reason + ")")
	}
	return b.String()
}

func writeErr(b *strings.Builder, err error) {
	if err != nil {
		b.WriteString(" err=" + err.Error())
	}
}

func stateLine(in session.Info) string {
	var b strings.Builder
	switch in.State {
	case session.StateOpen:
		b.WriteString("🟢 connected")
	case session.StateConnecting:
		b.WriteString("🟡 connecting")
	case session.StateLoggedOut:
		b.WriteString("🔴 logged out")
	default:
		b.WriteString("⚪ disconnected")
	}
	if in.Phone != "" {
		b.WriteString(" (+" + in.Phone + ")")
	}
	if in.Reconnecting {
		b.WriteString(", reconnecting")
	}
	if !in.Since.IsZero() {
		b.WriteString(", since " + in.Since.UTC().Format("2006-01-02 15:04:05") + " UTC")
	}
	return b.String()
}

func fileName(prefix string, at time.Time) string {
	return prefix + "_" + strconv.FormatInt(at.UnixMilli(), 10) + ".txt"
}
