package logx

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	maxChatText  = 3500
	maxChatValue = 600
	maxChatStack = 900
)

// Keys whose values never leave the process through the chat sink.
var redactedKeys = map[string]bool{
	"phone":        true,
	"pairing_code": true,
	"token":        true,
}

// Nine or more digits in a row look like a phone number.
var phoneRun = regexp.MustCompile(`\+?\d{9,}`)

// formatTelegramJSON renders one zerolog JSON line as a compact chat message:
// "[LEVEL] message" followed by sorted "- key=value" lines. Anything that is
// not JSON is sent trimmed as-is.
func formatTelegramJSON(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return truncate(redactText(raw), maxChatText)
	}

	level := strings.ToUpper(asString(m[zerolog.LevelFieldName]))
	msg := redactText(asString(m[zerolog.MessageFieldName]))
	delete(m, zerolog.LevelFieldName)
	delete(m, zerolog.MessageFieldName)
	delete(m, zerolog.TimestampFieldName)
	delete(m, zerolog.CallerFieldName)

	var b strings.Builder
	if level != "" {
		b.WriteString("[" + level + "] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var v string
		switch {
		case redactedKeys[k]:
			v = "[redacted]"
		case k == "stack":
			v = truncate(asString(m[k]), maxChatStack)
		default:
			v = truncate(redactText(asString(m[k])), maxChatValue)
		}
		fmt.Fprintf(&b, "\n- %s=%s", k, v)
	}
	return truncate(b.String(), maxChatText)
}

func redactText(s string) string {
	return phoneRun.ReplaceAllString(s, "[redacted]")
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
