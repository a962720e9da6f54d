package router

import (
	"html"
	"sort"
	"strings"
	"unicode"

	kit "bioscout/internal/transport"
)

// sanitizeTelegramCommand converts a name into a Telegram-safe bot command
// ([a-z0-9_]{1,32}, starting with a letter).
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '/' || unicode.IsSpace(r):
			if b.Len() > 0 && !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_")
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "cmd_" + out
	}
	if len(out) > 32 {
		out = strings.TrimRight(out[:32], "_")
	}
	return out
}

func buildMenu(cmds []Command) []kit.BotCommand {
	sorted := append([]Command(nil), cmds...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	out := make([]kit.BotCommand, 0, len(sorted))
	for _, c := range sorted {
		desc := strings.ReplaceAll(strings.TrimSpace(c.Description), "\n", " ")
		if desc == "" {
			desc = c.Name
		}
		if c.Access == AccessOwnerOnly {
			desc = "🔒 " + desc
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
		if len(out) >= 100 {
			break
		}
	}
	return out
}

// helpText renders the command list in Telegram HTML parse mode. Owner-only
// commands are listed for owners only.
func (m *Router) helpText(owner bool) string {
	m.mu.RLock()
	cmds := append([]Command(nil), m.ordered...)
	m.mu.RUnlock()
	sort.SliceStable(cmds, func(i, j int) bool { return cmds[i].Name < cmds[j].Name })

	var b strings.Builder
	b.WriteString("📖 <b>Commands</b>\n")
	for _, c := range cmds {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString("\n<code>")
		b.WriteString(html.EscapeString(usage))
		b.WriteString("</code>")
		if c.Description != "" {
			b.WriteString(" - ")
			b.WriteString(html.EscapeString(c.Description))
		}
		if c.Access == AccessOwnerOnly {
			b.WriteString(" 🔒")
		}
	}
	return b.String()
}
