package adapter

import (
	"strings"
	"unicode/utf8"
)

// maxMessageRunes stays under Telegram's 4096 limit with room for entities.
const maxMessageRunes = 4000

// splitTelegramText packs whole lines into chunks of at most limit runes.
// A line that alone exceeds limit is cut hard; in HTML mode the cut backs off
// to before an unterminated tag.
func splitTelegramText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = maxMessageRunes
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if c := strings.Trim(cur.String(), "\n"); c != "" {
			chunks = append(chunks, c)
		}
		cur.Reset()
		n = 0
	}
	for _, line := range strings.Split(s, "\n") {
		ln := utf8.RuneCountInString(line)
		if n > 0 && n+1+ln > limit {
			flush()
		}
		for ln > limit {
			head, tail := cutLine(line, limit, html)
			chunks = append(chunks, head)
			line, ln = tail, utf8.RuneCountInString(tail)
		}
		if n > 0 {
			cur.WriteByte('\n')
			n++
		}
		cur.WriteString(line)
		n += ln
	}
	flush()
	return chunks
}

func cutLine(line string, limit int, html bool) (string, string) {
	rs := []rune(line)
	cut := limit
	if html {
		open, closed := -1, -1
		for i, r := range rs[:limit] {
			switch r {
			case '<':
				open = i
			case '>':
				closed = i
			}
		}
		if open > closed && open > 0 {
			cut = open
		}
	}
	return string(rs[:cut]), string(rs[cut:])
}
