package token

import (
	"strings"
)

// Fragment keys recognized when a token travels inside a shareable URL.
// The fragment never reaches a web server, so the token stays between the
// two peers even when the link points at a hosted page.
const (
	HostKey   = "host"
	AnswerKey = "answer"
)

// HostURL embeds an offer token in the fragment of base.
func HostURL(base, tok string) string {
	return base + "#" + HostKey + "=" + tok
}

// AnswerURL embeds an answer token in the fragment of base.
func AnswerURL(base, tok string) string {
	return base + "#" + AnswerKey + "=" + tok
}

// FromURL extracts the token from s, which may be a full URL carrying a
// host= or answer= fragment, a bare key=value pair, or the token itself.
// It never fails; input that matches no carrier convention is returned
// trimmed, and Decode decides whether it is a token.
func FromURL(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '#'); i >= 0 {
		s = s[i+1:]
	}
	for _, key := range []string{HostKey + "=", AnswerKey + "="} {
		if strings.HasPrefix(s, key) {
			return s[len(key):]
		}
	}
	return s
}
