// Package wire implements the on-the-wire grammar described in spec.md
// §4.4 and §6: the `please:<verb> ...` request line, and the
// `key1="value1", key2="value2"` payload grammar nested inside it. Both are
// pure, allocation-light parsers over a byte slice; neither one talks to
// the session dispatcher or the data file directly.
package wire

import (
	"errors"
	"strings"
)

// Prefix is the literal, case-insensitive request marker every client
// message must begin with.
const Prefix = "please:"

// maxVerbLen bounds how many bytes ParseVerb will read as the verb token.
// It is sized to fit the longest verb the protocol defines ("transaction"),
// mirroring original_source/include/Database.h's fixed 11-byte verb window.
const maxVerbLen = 11

// ErrMalformedRequest is returned when the request does not begin with
// Prefix. Callers map this to the "parse error." sentinel response.
var ErrMalformedRequest = errors.New("wire: malformed request")

// ParseVerb splits data into its verb token (lower-cased) and the remaining
// bytes after it, with the whitespace separating the verb from the
// remainder trimmed; trailing whitespace is kept. It requires the literal, case-insensitive "please:" prefix
// from spec.md §6's wire protocol grammar.
func ParseVerb(data []byte) (verb string, rest []byte, err error) {
	if len(data) < len(Prefix) || !strings.EqualFold(string(data[:len(Prefix)]), Prefix) {
		return "", nil, ErrMalformedRequest
	}
	tail := data[len(Prefix):]

	i := 0
	for i < len(tail) && tail[i] == ' ' {
		i++
	}
	start := i
	for i < len(tail) && i-start < maxVerbLen && !isSpace(tail[i]) {
		i++
	}
	verb = strings.ToLower(string(tail[start:i]))
	rest = trimLeadingSpace(tail[i:])
	return verb, rest, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func trimLeadingSpace(b []byte) []byte {
	i := 0
	for i < len(b) && isSpace(b[i]) {
		i++
	}
	return b[i:]
}
