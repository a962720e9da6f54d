package router

import (
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// newReqID tags one routed command in logs.
func newReqID() string {
	return uuid.NewString()[:8]
}

// tokenizeCommandLine splits a command's arguments on whitespace. Single or
// double quotes group words and a backslash escapes the next character:
//
//	/pair "0812 3456 7890"
func tokenizeCommandLine(s string) []string {
	var (
		args  []string
		tok   strings.Builder
		quote rune
		esc   bool
	)
	for _, r := range s {
		if esc {
			tok.WriteRune(r)
			esc = false
			continue
		}
		switch {
		case r == '\\':
			esc = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				tok.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
		case unicode.IsSpace(r):
			if tok.Len() > 0 {
				args = append(args, tok.String())
				tok.Reset()
			}
		default:
			tok.WriteRune(r)
		}
	}
	if tok.Len() > 0 {
		args = append(args, tok.String())
	}
	return args
}
