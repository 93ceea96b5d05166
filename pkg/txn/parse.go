package txn

import (
	"fmt"
	"strings"
)

// splitClause pulls a table name and its parenthesized value clause, plus
// an optional `where (...)` clause, out of a please: request's tail. It
// tracks double-quote state so a comma or paren inside a quoted value does
// not end the clause early; it does not special-case password columns'
// raw-byte values, which in practice never contain '(' or ')'.
func splitClause(rest []byte) (table string, body []byte, whereBody []byte, err error) {
	s := string(rest)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return "", nil, nil, fmt.Errorf("%w: no '(' found", ErrMalformedClause)
	}
	table = strings.TrimSpace(s[:open])
	if table == "" {
		return "", nil, nil, fmt.Errorf("%w: missing table name", ErrMalformedClause)
	}

	close, err := matchingParen(s, open)
	if err != nil {
		return "", nil, nil, err
	}
	body = []byte(s[open+1 : close])

	tail := strings.TrimSpace(s[close+1:])
	if tail == "" {
		return table, body, nil, nil
	}
	lower := strings.ToLower(tail)
	if !strings.HasPrefix(lower, "where") {
		return "", nil, nil, fmt.Errorf("%w: unexpected trailing text %q", ErrMalformedClause, tail)
	}
	tail = strings.TrimSpace(tail[len("where"):])
	wopen := strings.IndexByte(tail, '(')
	if wopen < 0 {
		return "", nil, nil, fmt.Errorf("%w: 'where' missing '('", ErrMalformedClause)
	}
	wclose, err := matchingParen(tail, wopen)
	if err != nil {
		return "", nil, nil, err
	}
	whereBody = []byte(tail[wopen+1 : wclose])
	return table, body, whereBody, nil
}

// matchingParen finds the index of the ')' matching the '(' at open,
// ignoring parens that appear inside an unescaped double-quoted span.
func matchingParen(s string, open int) (int, error) {
	depth := 0
	inQuote := false
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case inQuote:
			// ignore structural characters while inside a quoted value
		case c == '(':
			depth++
		case c == ')':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unbalanced parentheses", ErrMalformedClause)
}

// splitUserCommand parses the two space-separated tokens of a `user` verb:
// `<name> <password>`.
func splitUserCommand(rest []byte) (name, password string, err error) {
	fields := strings.Fields(string(rest))
	if len(fields) != 2 {
		return "", "", fmt.Errorf("%w: want exactly 2 fields, got %d", ErrMalformedClause, len(fields))
	}
	return fields[0], fields[1], nil
}
